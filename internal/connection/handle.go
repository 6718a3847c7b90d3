// Package connection wraps a single live transport socket in a Handle that
// tracks liveness, activity timestamps, per-connection metadata, and room
// membership.
package connection

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport is the narrow surface the relay core needs from the underlying
// socket. The websocket adapter in internal/ws implements it; tests supply
// in-memory fakes.
type Transport interface {
	// Write pushes one wire frame to the peer.
	Write(data []byte) error
	// Close requests a transport-level close with the given code and reason.
	Close(code int, reason string) error
	// Alive reports whether the transport still considers the socket established.
	Alive() bool
}

// Close codes used by the relay core.
const (
	CloseNormal  = 1000
	CloseTimeout = 4000
)

// Handle represents one live client connection. All mutators are safe for
// concurrent use; the room set is maintained exclusively by the room registry.
type Handle struct {
	id        string
	transport Transport
	createdAt time.Time

	mu           sync.RWMutex
	alive        bool
	lastActivity time.Time
	metadata     map[string]any
	rooms        []string
}

// NewHandle wraps a transport in a fresh Handle with a generated id.
// Ids are never reused across connections.
func NewHandle(t Transport) *Handle {
	now := time.Now().UTC()
	return &Handle{
		id:           uuid.New().String(),
		transport:    t,
		createdAt:    now,
		alive:        true,
		lastActivity: now,
		metadata:     make(map[string]any),
	}
}

// ID returns the connection's opaque unique id.
func (h *Handle) ID() string { return h.id }

// CreatedAt returns when the handle was created.
func (h *Handle) CreatedAt() time.Time { return h.createdAt }

// LastActivity returns the time of the most recent inbound or outbound activity.
func (h *Handle) LastActivity() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastActivity
}

// Touch refreshes the last-activity timestamp to now.
func (h *Handle) Touch() {
	h.mu.Lock()
	h.lastActivity = time.Now().UTC()
	h.mu.Unlock()
}

// IsAlive reports whether the handle is marked live and the transport still
// reports an established socket.
func (h *Handle) IsAlive() bool {
	h.mu.RLock()
	alive := h.alive
	h.mu.RUnlock()
	return alive && h.transport.Alive()
}

// Send serializes payload (unless it is already raw bytes) and writes it to the
// transport. On success the activity clock is refreshed; on failure the handle
// is marked dead. Send never panics and never blocks on the peer.
func (h *Handle) Send(payload any) bool {
	h.mu.RLock()
	alive := h.alive
	h.mu.RUnlock()
	if !alive {
		return false
	}

	data, ok := payload.([]byte)
	if !ok {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return false
		}
	}

	if err := h.transport.Write(data); err != nil {
		h.mu.Lock()
		h.alive = false
		h.mu.Unlock()
		return false
	}

	h.Touch()
	return true
}

// WriteRaw writes a frame without refreshing the activity clock. The heartbeat
// monitor uses it so that probing an idle peer does not mask its silence.
func (h *Handle) WriteRaw(data []byte) bool {
	h.mu.RLock()
	alive := h.alive
	h.mu.RUnlock()
	if !alive {
		return false
	}
	if err := h.transport.Write(data); err != nil {
		h.mu.Lock()
		h.alive = false
		h.mu.Unlock()
		return false
	}
	return true
}

// Close marks the handle dead and requests a transport close. It is idempotent.
func (h *Handle) Close(code int, reason string) {
	h.mu.Lock()
	if !h.alive {
		h.mu.Unlock()
		return
	}
	h.alive = false
	h.mu.Unlock()

	_ = h.transport.Close(code, reason)
}

// SetMetadata stores an application-supplied key/value pair on the connection.
func (h *Handle) SetMetadata(key string, value any) {
	h.mu.Lock()
	h.metadata[key] = value
	h.mu.Unlock()
}

// Metadata returns a copy of the connection's metadata map.
func (h *Handle) Metadata() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]any, len(h.metadata))
	for k, v := range h.metadata {
		out[k] = v
	}
	return out
}

// MergeMetadata copies every entry of md onto the connection, overwriting
// existing keys. Used when restoring a reconnection snapshot.
func (h *Handle) MergeMetadata(md map[string]any) {
	h.mu.Lock()
	for k, v := range md {
		h.metadata[k] = v
	}
	h.mu.Unlock()
}

// AddRoom records room membership on the handle. Idempotent; called only by the
// room registry, which keeps the reverse index in lock-step.
func (h *Handle) AddRoom(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		if r == name {
			return
		}
	}
	h.rooms = append(h.rooms, name)
}

// RemoveRoom drops room membership from the handle. Idempotent; registry-only.
func (h *Handle) RemoveRoom(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, r := range h.rooms {
		if r == name {
			h.rooms = append(h.rooms[:i], h.rooms[i+1:]...)
			return
		}
	}
}

// Rooms returns the rooms the connection belongs to, in join order.
func (h *Handle) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, len(h.rooms))
	copy(out, h.rooms)
	return out
}

// InRoom reports whether the handle's room set contains name.
func (h *Handle) InRoom(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, r := range h.rooms {
		if r == name {
			return true
		}
	}
	return false
}

// RoomCount returns how many rooms the connection currently belongs to.
func (h *Handle) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
