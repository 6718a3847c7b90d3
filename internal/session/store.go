// Package session issues opaque resumption tokens for disconnected clients and
// lets a new connection reclaim the old one's room list and metadata within a
// bounded TTL and attempt budget.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/relay-service/internal/connection"
)

const tokenBytes = 16

// Session is the snapshot saved when a connection drops. Rooms and metadata
// are copies; mutating them after creation does not affect the store.
type Session struct {
	Token        string         `json:"token"`
	ConnectionID string         `json:"connection_id"`
	Rooms        []string       `json:"rooms"`
	Metadata     map[string]any `json:"metadata"`
	Extra        map[string]any `json:"extra,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
	Attempts     int            `json:"attempts"`
}

// Stats is a snapshot of the store's counters.
type Stats struct {
	Active  int   `json:"active"`
	Created int64 `json:"created"`
	Resumed int64 `json:"resumed"`
	Failed  int64 `json:"failed"`
	Expired int64 `json:"expired"`
}

// Store keeps reconnection sessions in memory, keyed by bearer token. Tokens
// are generated with crypto/rand and are single-use per successful
// reconnection, with up to maxAttempts tries before permanent invalidation.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	ttl         time.Duration
	maxAttempts int

	cleanupStop    chan struct{}
	cleanupRunning bool

	created atomic.Int64
	resumed atomic.Int64
	failed  atomic.Int64
	expired atomic.Int64

	logger *zap.SugaredLogger
}

// NewStore builds an empty session store. maxAttempts <= 0 means a single
// attempt.
func NewStore(ttl time.Duration, maxAttempts int, logger *zap.SugaredLogger) *Store {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Store{
		sessions:    make(map[string]*Session),
		ttl:         ttl,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

func newToken() string {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; treat it as fatal.
		panic(err)
	}
	return hex.EncodeToString(buf)
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Create snapshots conn's rooms and metadata under a fresh token and returns
// the token. extra carries application-supplied data returned on resumption.
func (s *Store) Create(conn *connection.Handle, extra map[string]any) string {
	now := time.Now().UTC()
	sess := &Session{
		Token:        newToken(),
		ConnectionID: conn.ID(),
		Rooms:        conn.Rooms(),
		Metadata:     conn.Metadata(),
		Extra:        copyMap(extra),
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}

	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()

	s.created.Add(1)
	s.logger.Debugw("reconnection session created",
		"connection_id", sess.ConnectionID, "rooms", len(sess.Rooms), "expires_at", sess.ExpiresAt)
	return sess.Token
}

// lookupLocked returns the live session for token, deleting it when expired or
// attempt-exhausted. Caller holds s.mu.
func (s *Store) lookupLocked(token string, now time.Time) *Session {
	sess, ok := s.sessions[token]
	if !ok {
		return nil
	}
	if now.After(sess.ExpiresAt) {
		delete(s.sessions, token)
		s.expired.Add(1)
		return nil
	}
	if sess.Attempts >= s.maxAttempts {
		delete(s.sessions, token)
		return nil
	}
	return sess
}

// Reconnect consumes one attempt on token and, if it is still valid, copies
// the saved metadata onto newConn and returns a copy of the session so the
// caller can replay room joins. It returns nil for unknown, expired, or
// attempt-exhausted tokens; stale entries are deleted as a side effect of the
// failed lookup. A token is accepted at most maxAttempts times; the attempt
// that exhausts the budget is the final one and deletes the session.
// Rejoining rooms is left to the caller; the store never touches the room
// registry.
func (s *Store) Reconnect(token string, newConn *connection.Handle) *Session {
	now := time.Now().UTC()

	s.mu.Lock()
	sess := s.lookupLocked(token, now)
	if sess == nil {
		s.mu.Unlock()
		s.failed.Add(1)
		return nil
	}
	sess.Attempts++
	out := s.snapshotLocked(sess)
	if sess.Attempts >= s.maxAttempts {
		delete(s.sessions, token)
	}
	s.mu.Unlock()

	newConn.MergeMetadata(out.Metadata)
	s.resumed.Add(1)
	s.logger.Infow("session resumed",
		"previous_connection_id", out.ConnectionID, "new_connection_id", newConn.ID(), "attempt", out.Attempts)
	return out
}

func (s *Store) snapshotLocked(sess *Session) *Session {
	rooms := make([]string, len(sess.Rooms))
	copy(rooms, sess.Rooms)
	return &Session{
		Token:        sess.Token,
		ConnectionID: sess.ConnectionID,
		Rooms:        rooms,
		Metadata:     copyMap(sess.Metadata),
		Extra:        copyMap(sess.Extra),
		CreatedAt:    sess.CreatedAt,
		ExpiresAt:    sess.ExpiresAt,
		Attempts:     sess.Attempts,
	}
}

// Validate reports whether token refers to a live, non-exhausted session. It
// deletes stale entries but does not consume an attempt.
func (s *Store) Validate(token string) bool {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(token, now) != nil
}

// Get returns a copy of the session for inspection, nil when absent or stale.
func (s *Store) Get(token string) *Session {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.lookupLocked(token, now)
	if sess == nil {
		return nil
	}
	return s.snapshotLocked(sess)
}

// Update replaces the session's extra data without consuming it.
func (s *Store) Update(token string, extra map[string]any) bool {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.lookupLocked(token, now)
	if sess == nil {
		return false
	}
	sess.Extra = copyMap(extra)
	return true
}

// Extend pushes the session's expiry out by d from now.
func (s *Store) Extend(token string, d time.Duration) bool {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.lookupLocked(token, now)
	if sess == nil {
		return false
	}
	sess.ExpiresAt = now.Add(d)
	return true
}

// Remove deletes a session outright, e.g. when the application revokes it.
func (s *Store) Remove(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[token]; !ok {
		return false
	}
	delete(s.sessions, token)
	return true
}

// Cleanup removes every session past its expiry and returns how many were
// dropped.
func (s *Store) Cleanup() int {
	now := time.Now().UTC()
	s.mu.Lock()
	removed := 0
	for token, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.expired.Add(int64(removed))
		s.logger.Debugw("expired sessions swept", "removed", removed)
	}
	return removed
}

// StartCleanup launches a periodic expiry sweep. Idempotent.
func (s *Store) StartCleanup(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleanupRunning {
		return
	}
	s.cleanupRunning = true
	s.cleanupStop = make(chan struct{})
	go func(stop <-chan struct{}) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}(s.cleanupStop)
}

// StopCleanup cancels the periodic sweep. Idempotent.
func (s *Store) StopCleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cleanupRunning {
		return
	}
	s.cleanupRunning = false
	close(s.cleanupStop)
}

// Active returns the number of live sessions.
func (s *Store) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Stats returns a snapshot of the store's counters.
func (s *Store) Stats() Stats {
	return Stats{
		Active:  s.Active(),
		Created: s.created.Load(),
		Resumed: s.resumed.Load(),
		Failed:  s.failed.Load(),
		Expired: s.expired.Load(),
	}
}
