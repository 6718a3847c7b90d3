package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/relay-service/internal/connection"
)

type nopTransport struct{}

func (nopTransport) Write([]byte) error      { return nil }
func (nopTransport) Close(int, string) error { return nil }
func (nopTransport) Alive() bool             { return true }

func newStore(ttl time.Duration, attempts int) *Store {
	return NewStore(ttl, attempts, zap.NewNop().Sugar())
}

func snapshotConn() *connection.Handle {
	h := connection.NewHandle(nopTransport{})
	h.AddRoom("lobby")
	h.AddRoom("game-1")
	h.SetMetadata("name", "alice")
	return h
}

func TestStore_CreateSnapshotsState(t *testing.T) {
	s := newStore(time.Minute, 3)
	old := snapshotConn()

	token := s.Create(old, map[string]any{"seat": 4})
	require.Len(t, token, 32, "token is 16 bytes of hex")

	sess := s.Get(token)
	require.NotNil(t, sess)
	assert.Equal(t, old.ID(), sess.ConnectionID)
	assert.Equal(t, []string{"lobby", "game-1"}, sess.Rooms)
	assert.Equal(t, "alice", sess.Metadata["name"])
	assert.Equal(t, 4, sess.Extra["seat"])
	assert.Equal(t, 0, sess.Attempts)
	assert.Equal(t, 1, s.Active())
}

func TestStore_TokensAreUnique(t *testing.T) {
	s := newStore(time.Minute, 3)
	old := snapshotConn()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token := s.Create(old, nil)
		require.False(t, seen[token])
		seen[token] = true
	}
}

func TestStore_SnapshotIsImmutable(t *testing.T) {
	s := newStore(time.Minute, 3)
	old := snapshotConn()
	token := s.Create(old, nil)

	// mutate the source connection after the snapshot
	old.AddRoom("late-room")
	old.SetMetadata("name", "mallory")

	sess := s.Get(token)
	assert.Equal(t, []string{"lobby", "game-1"}, sess.Rooms)
	assert.Equal(t, "alice", sess.Metadata["name"])
}

func TestStore_Reconnect(t *testing.T) {
	s := newStore(time.Minute, 3)
	old := snapshotConn()
	token := s.Create(old, map[string]any{"seat": 4})

	fresh := connection.NewHandle(nopTransport{})
	sess := s.Reconnect(token, fresh)
	require.NotNil(t, sess)
	assert.Equal(t, old.ID(), sess.ConnectionID)
	assert.Equal(t, []string{"lobby", "game-1"}, sess.Rooms)
	assert.Equal(t, 4, sess.Extra["seat"])
	assert.Equal(t, "alice", fresh.Metadata()["name"], "saved metadata copied onto new connection")
	assert.Equal(t, int64(1), s.Stats().Resumed)
}

func TestStore_ReconnectUnknownToken(t *testing.T) {
	s := newStore(time.Minute, 3)
	fresh := connection.NewHandle(nopTransport{})

	assert.Nil(t, s.Reconnect("deadbeef", fresh))
	assert.Equal(t, int64(1), s.Stats().Failed)
}

func TestStore_AttemptBudget(t *testing.T) {
	s := newStore(time.Minute, 2)
	token := s.Create(snapshotConn(), nil)

	require.NotNil(t, s.Reconnect(token, connection.NewHandle(nopTransport{})))
	require.NotNil(t, s.Reconnect(token, connection.NewHandle(nopTransport{})))

	// attempt N+1 after exhaustion: nil, and the session is gone
	assert.Nil(t, s.Reconnect(token, connection.NewHandle(nopTransport{})))
	assert.False(t, s.Validate(token))
	assert.Equal(t, 0, s.Active())
}

func TestStore_TTLExpiry(t *testing.T) {
	s := newStore(30*time.Millisecond, 3)
	token := s.Create(snapshotConn(), nil)

	time.Sleep(50 * time.Millisecond)

	assert.Nil(t, s.Reconnect(token, connection.NewHandle(nopTransport{})))
	assert.False(t, s.Validate(token), "expired token stays invalid")
	assert.Equal(t, 0, s.Active(), "expired session deleted on failed lookup")
	assert.Equal(t, int64(1), s.Stats().Expired)
}

func TestStore_ValidateDoesNotConsume(t *testing.T) {
	s := newStore(time.Minute, 1)
	token := s.Create(snapshotConn(), nil)

	for i := 0; i < 5; i++ {
		assert.True(t, s.Validate(token))
	}
	assert.NotNil(t, s.Reconnect(token, connection.NewHandle(nopTransport{})))
}

func TestStore_UpdateAndExtend(t *testing.T) {
	s := newStore(30*time.Millisecond, 3)
	token := s.Create(snapshotConn(), map[string]any{"v": 1})

	require.True(t, s.Update(token, map[string]any{"v": 2}))
	assert.Equal(t, 2, s.Get(token).Extra["v"])

	require.True(t, s.Extend(token, time.Minute))
	time.Sleep(50 * time.Millisecond)
	assert.True(t, s.Validate(token), "extended session outlives original TTL")

	assert.False(t, s.Update("missing", nil))
	assert.False(t, s.Extend("missing", time.Minute))
}

func TestStore_Remove(t *testing.T) {
	s := newStore(time.Minute, 3)
	token := s.Create(snapshotConn(), nil)

	require.True(t, s.Remove(token))
	assert.False(t, s.Remove(token))
	assert.False(t, s.Validate(token))
}

func TestStore_Cleanup(t *testing.T) {
	s := newStore(20*time.Millisecond, 3)
	s.Create(snapshotConn(), nil)
	s.Create(snapshotConn(), nil)

	time.Sleep(40 * time.Millisecond)
	keeper := s.Create(snapshotConn(), nil)

	removed := s.Cleanup()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, s.Active())
	assert.True(t, s.Validate(keeper))
}

func TestStore_CleanupLoop(t *testing.T) {
	s := newStore(20*time.Millisecond, 3)
	s.Create(snapshotConn(), nil)

	s.StartCleanup(10 * time.Millisecond)
	s.StartCleanup(10 * time.Millisecond) // idempotent
	defer s.StopCleanup()

	require.Eventually(t, func() bool {
		return s.Active() == 0
	}, time.Second, 10*time.Millisecond)

	s.StopCleanup()
	s.StopCleanup() // idempotent
}
