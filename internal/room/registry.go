// Package room maintains named rooms and their member connections. Membership
// is stored as two independent indexes (room -> handles, handle -> room names)
// that the registry mutates in lock-step so neither side can dangle.
package room

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/relay-service/internal/connection"
)

// Stats is a read-only snapshot of one room for observability.
type Stats struct {
	Name      string         `json:"name"`
	Members   int            `json:"members"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type entry struct {
	name      string
	members   map[string]*connection.Handle
	createdAt time.Time
	metadata  map[string]any
}

// Registry owns room lifecycle: rooms are created on first join and deleted
// atomically with the last member's departure.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*entry

	maxConnsPerRoom int // 0 = unlimited
	maxRoomsPerConn int // 0 = unlimited

	logger *zap.SugaredLogger
}

// NewRegistry builds an empty registry with the given capacity caps.
// A cap of zero disables that limit.
func NewRegistry(maxConnsPerRoom, maxRoomsPerConn int, logger *zap.SugaredLogger) *Registry {
	return &Registry{
		rooms:           make(map[string]*entry),
		maxConnsPerRoom: maxConnsPerRoom,
		maxRoomsPerConn: maxRoomsPerConn,
		logger:          logger,
	}
}

// Join adds conn to the named room, creating the room on first use. It returns
// false without any state change when the room is at capacity or the
// connection already belongs to its maximum allowed room count. Joining a room
// the connection is already in is a no-op success.
func (r *Registry) Join(conn *connection.Handle, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.rooms[name]
	if exists {
		if _, member := e.members[conn.ID()]; member {
			return true
		}
		if r.maxConnsPerRoom > 0 && len(e.members) >= r.maxConnsPerRoom {
			r.logger.Debugw("join rejected: room full", "room", name, "connection_id", conn.ID())
			return false
		}
	}
	if r.maxRoomsPerConn > 0 && conn.RoomCount() >= r.maxRoomsPerConn {
		r.logger.Debugw("join rejected: connection at room cap", "room", name, "connection_id", conn.ID())
		return false
	}

	if !exists {
		e = &entry{
			name:      name,
			members:   make(map[string]*connection.Handle),
			createdAt: time.Now().UTC(),
			metadata:  make(map[string]any),
		}
		r.rooms[name] = e
	}

	e.members[conn.ID()] = conn
	conn.AddRoom(name)
	return true
}

// Leave removes conn from the named room, dropping the room entry if it
// becomes empty. Returns false when the connection was not a member.
func (r *Registry) Leave(conn *connection.Handle, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(conn, name)
}

func (r *Registry) leaveLocked(conn *connection.Handle, name string) bool {
	e, exists := r.rooms[name]
	if !exists {
		return false
	}
	if _, member := e.members[conn.ID()]; !member {
		return false
	}
	delete(e.members, conn.ID())
	conn.RemoveRoom(name)
	if len(e.members) == 0 {
		delete(r.rooms, name)
	}
	return true
}

// LeaveAll removes conn from every room it belongs to and returns the rooms it
// left, in join order. Used on disconnect.
func (r *Registry) LeaveAll(conn *connection.Handle) []string {
	rooms := conn.Rooms()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range rooms {
		r.leaveLocked(conn, name)
	}
	return rooms
}

// IsInRoom reports whether conn is a member of the named room.
func (r *Registry) IsInRoom(conn *connection.Handle, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, exists := r.rooms[name]
	if !exists {
		return false
	}
	_, member := e.members[conn.ID()]
	return member
}

// Connections returns the current members of the named room. The slice is a
// snapshot; fan-out over it is unaffected by concurrent joins and leaves.
func (r *Registry) Connections(name string) []*connection.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, exists := r.rooms[name]
	if !exists {
		return nil
	}
	out := make([]*connection.Handle, 0, len(e.members))
	for _, c := range e.members {
		out = append(out, c)
	}
	return out
}

// Exists reports whether the named room currently has members.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[name]
	return ok
}

// Size returns the member count of the named room, zero if absent.
func (r *Registry) Size(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.rooms[name]; ok {
		return len(e.members)
	}
	return 0
}

// Rooms lists the names of all live rooms.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		out = append(out, name)
	}
	return out
}

// SetMetadata attaches a key/value pair to the named room. Returns false when
// the room does not exist.
func (r *Registry) SetMetadata(name, key string, value any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rooms[name]
	if !ok {
		return false
	}
	e.metadata[key] = value
	return true
}

// Metadata returns a copy of the named room's metadata map, nil if absent.
func (r *Registry) Metadata(name string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rooms[name]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(e.metadata))
	for k, v := range e.metadata {
		out[k] = v
	}
	return out
}

// AllStats returns a per-room observability snapshot keyed by room name.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Stats, len(r.rooms))
	for name, e := range r.rooms {
		md := make(map[string]any, len(e.metadata))
		for k, v := range e.metadata {
			md[k] = v
		}
		out[name] = Stats{
			Name:      name,
			Members:   len(e.members),
			CreatedAt: e.createdAt,
			Metadata:  md,
		}
	}
	return out
}

// DeleteRoom force-evicts every member's room-set entry and removes the room.
// Returns false when the room does not exist.
func (r *Registry) DeleteRoom(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rooms[name]
	if !ok {
		return false
	}
	for _, c := range e.members {
		c.RemoveRoom(name)
	}
	delete(r.rooms, name)
	r.logger.Infow("room deleted", "room", name, "evicted", len(e.members))
	return true
}
