// Package broadcast fans messages out to room members and ad-hoc connection
// sets. Each send is independent: a failing recipient is counted but never
// aborts delivery to its siblings.
package broadcast

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/fathima-sithara/relay-service/internal/connection"
	"github.com/fathima-sithara/relay-service/internal/room"
)

// Stats is a snapshot of the broadcaster's advisory counters.
type Stats struct {
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Broadcasts int64 `json:"broadcasts"`
	Queued     int64 `json:"queued"`
	Flushes    int64 `json:"flushes"`
}

type queuedMessage struct {
	roomName string
	message  any
	exclude  []string
}

// Broadcaster delivers messages to room members via the registry. Counts it
// returns are advisory statistics, not delivery guarantees.
type Broadcaster struct {
	registry *room.Registry
	logger   *zap.SugaredLogger

	sent       atomic.Int64
	failed     atomic.Int64
	broadcasts atomic.Int64
	queued     atomic.Int64
	flushes    atomic.Int64

	mu        sync.Mutex
	pending   []queuedMessage
	batchSize int
}

// NewBroadcaster builds a broadcaster over the given registry. batchSize sets
// how many queued messages accumulate before an automatic flush; zero or
// negative disables auto-flush.
func NewBroadcaster(registry *room.Registry, batchSize int, logger *zap.SugaredLogger) *Broadcaster {
	return &Broadcaster{
		registry:  registry,
		batchSize: batchSize,
		logger:    logger,
	}
}

func excludeSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (b *Broadcaster) deliver(conns []*connection.Handle, message any, skip map[string]struct{}) int {
	count := 0
	for _, c := range conns {
		if skip != nil {
			if _, excluded := skip[c.ID()]; excluded {
				continue
			}
		}
		if c.Send(message) {
			b.sent.Add(1)
			count++
		} else {
			b.failed.Add(1)
		}
	}
	return count
}

// ToRoom sends message to every member of the named room whose id is not in
// exclude, returning the number of successful deliveries.
func (b *Broadcaster) ToRoom(roomName string, message any, exclude ...string) int {
	b.broadcasts.Add(1)
	return b.deliver(b.registry.Connections(roomName), message, excludeSet(exclude))
}

// ToRooms sends message to the union of the named rooms' members, delivering at
// most once per connection even when it belongs to several target rooms.
func (b *Broadcaster) ToRooms(roomNames []string, message any, exclude ...string) int {
	b.broadcasts.Add(1)
	skip := excludeSet(exclude)
	seen := make(map[string]struct{})
	var targets []*connection.Handle
	for _, name := range roomNames {
		for _, c := range b.registry.Connections(name) {
			if _, dup := seen[c.ID()]; dup {
				continue
			}
			seen[c.ID()] = struct{}{}
			targets = append(targets, c)
		}
	}
	return b.deliver(targets, message, skip)
}

// ToAll sends message to every connection in conns not listed in exclude.
func (b *Broadcaster) ToAll(conns []*connection.Handle, message any, exclude ...string) int {
	b.broadcasts.Add(1)
	return b.deliver(conns, message, excludeSet(exclude))
}

// ToConnection sends message to a single connection.
func (b *Broadcaster) ToConnection(conn *connection.Handle, message any) bool {
	if conn == nil {
		return false
	}
	if conn.Send(message) {
		b.sent.Add(1)
		return true
	}
	b.failed.Add(1)
	return false
}

// ToFiltered sends message to every connection for which predicate returns true.
func (b *Broadcaster) ToFiltered(conns []*connection.Handle, message any, predicate func(*connection.Handle) bool) int {
	b.broadcasts.Add(1)
	count := 0
	for _, c := range conns {
		if predicate != nil && !predicate(c) {
			continue
		}
		if c.Send(message) {
			b.sent.Add(1)
			count++
		} else {
			b.failed.Add(1)
		}
	}
	return count
}

// Queue buffers a room broadcast for later delivery. Once the configured batch
// size is reached the pending queue is flushed automatically.
func (b *Broadcaster) Queue(roomName string, message any, exclude ...string) {
	b.mu.Lock()
	b.pending = append(b.pending, queuedMessage{roomName: roomName, message: message, exclude: exclude})
	b.queued.Add(1)
	shouldFlush := b.batchSize > 0 && len(b.pending) >= b.batchSize
	b.mu.Unlock()

	if shouldFlush {
		b.Flush()
	}
}

// Flush delivers every queued broadcast and returns the total successful sends.
func (b *Broadcaster) Flush() int {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(pending) == 0 {
		return 0
	}
	b.flushes.Add(1)

	total := 0
	for _, q := range pending {
		total += b.ToRoom(q.roomName, q.message, q.exclude...)
	}
	b.logger.Debugw("flushed broadcast queue", "batch", len(pending), "delivered", total)
	return total
}

// PendingCount returns how many broadcasts are queued and not yet flushed.
func (b *Broadcaster) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stats returns a snapshot of the broadcaster's counters.
func (b *Broadcaster) Stats() Stats {
	return Stats{
		Sent:       b.sent.Load(),
		Failed:     b.failed.Load(),
		Broadcasts: b.broadcasts.Load(),
		Queued:     b.queued.Load(),
		Flushes:    b.flushes.Load(),
	}
}
