package room

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/relay-service/internal/connection"
)

type nopTransport struct{}

func (nopTransport) Write([]byte) error      { return nil }
func (nopTransport) Close(int, string) error { return nil }
func (nopTransport) Alive() bool             { return true }

func newRegistry(maxPerRoom, maxRooms int) *Registry {
	return NewRegistry(maxPerRoom, maxRooms, zap.NewNop().Sugar())
}

func newConn() *connection.Handle {
	return connection.NewHandle(nopTransport{})
}

func TestRegistry_JoinAndLeave(t *testing.T) {
	r := newRegistry(0, 0)
	c := newConn()

	require.True(t, r.Join(c, "lobby"))
	assert.True(t, r.IsInRoom(c, "lobby"))
	assert.True(t, c.InRoom("lobby"), "handle room set mirrors membership")
	assert.Equal(t, 1, r.Size("lobby"))
	assert.True(t, r.Exists("lobby"))

	require.True(t, r.Leave(c, "lobby"))
	assert.False(t, r.IsInRoom(c, "lobby"))
	assert.False(t, c.InRoom("lobby"))
	assert.False(t, r.Exists("lobby"), "empty room is deleted with last leave")
}

func TestRegistry_JoinIdempotent(t *testing.T) {
	r := newRegistry(0, 0)
	c := newConn()

	require.True(t, r.Join(c, "lobby"))
	require.True(t, r.Join(c, "lobby"))
	assert.Equal(t, 1, r.Size("lobby"))
	assert.Equal(t, 1, c.RoomCount())
}

func TestRegistry_RoomCapacity(t *testing.T) {
	r := newRegistry(1, 0)
	a, b := newConn(), newConn()

	require.True(t, r.Join(a, "duo"))
	assert.False(t, r.Join(b, "duo"), "join must fail at capacity")
	assert.Equal(t, 1, r.Size("duo"))
	assert.False(t, b.InRoom("duo"), "failed join leaves no state behind")
}

func TestRegistry_ConnectionRoomCap(t *testing.T) {
	r := newRegistry(0, 2)
	c := newConn()

	require.True(t, r.Join(c, "one"))
	require.True(t, r.Join(c, "two"))
	assert.False(t, r.Join(c, "three"))
	assert.False(t, r.Exists("three"), "rejected join must not create the room")
	assert.Equal(t, 2, c.RoomCount())
}

func TestRegistry_LeaveNonMember(t *testing.T) {
	r := newRegistry(0, 0)
	a, b := newConn(), newConn()

	require.True(t, r.Join(a, "lobby"))
	assert.False(t, r.Leave(b, "lobby"))
	assert.False(t, r.Leave(a, "nowhere"))
	assert.Equal(t, 1, r.Size("lobby"))
}

func TestRegistry_LeaveAll(t *testing.T) {
	r := newRegistry(0, 0)
	c := newConn()
	other := newConn()

	require.True(t, r.Join(c, "a"))
	require.True(t, r.Join(c, "b"))
	require.True(t, r.Join(other, "b"))

	left := r.LeaveAll(c)
	assert.Equal(t, []string{"a", "b"}, left)
	assert.Equal(t, 0, c.RoomCount())
	assert.False(t, r.Exists("a"))
	assert.True(t, r.Exists("b"), "room with remaining members survives")
	assert.Equal(t, 1, r.Size("b"))
}

func TestRegistry_Connections(t *testing.T) {
	r := newRegistry(0, 0)
	a, b := newConn(), newConn()
	require.True(t, r.Join(a, "lobby"))
	require.True(t, r.Join(b, "lobby"))

	conns := r.Connections("lobby")
	assert.Len(t, conns, 2)
	assert.Nil(t, r.Connections("nowhere"))
}

func TestRegistry_Rooms(t *testing.T) {
	r := newRegistry(0, 0)
	c := newConn()
	require.True(t, r.Join(c, "alpha"))
	require.True(t, r.Join(c, "beta"))

	assert.ElementsMatch(t, []string{"alpha", "beta"}, r.Rooms())

	r.Leave(c, "alpha")
	assert.ElementsMatch(t, []string{"beta"}, r.Rooms())
}

func TestRegistry_Metadata(t *testing.T) {
	r := newRegistry(0, 0)
	c := newConn()

	assert.False(t, r.SetMetadata("lobby", "topic", "x"), "no metadata on absent room")
	assert.Nil(t, r.Metadata("lobby"))

	require.True(t, r.Join(c, "lobby"))
	require.True(t, r.SetMetadata("lobby", "topic", "general"))
	assert.Equal(t, "general", r.Metadata("lobby")["topic"])
}

func TestRegistry_AllStats(t *testing.T) {
	r := newRegistry(0, 0)
	a, b := newConn(), newConn()
	require.True(t, r.Join(a, "lobby"))
	require.True(t, r.Join(b, "lobby"))
	require.True(t, r.SetMetadata("lobby", "topic", "general"))

	stats := r.AllStats()
	require.Contains(t, stats, "lobby")
	assert.Equal(t, 2, stats["lobby"].Members)
	assert.Equal(t, "general", stats["lobby"].Metadata["topic"])
	assert.False(t, stats["lobby"].CreatedAt.IsZero())
}

func TestRegistry_DeleteRoom(t *testing.T) {
	r := newRegistry(0, 0)
	a, b := newConn(), newConn()
	require.True(t, r.Join(a, "lobby"))
	require.True(t, r.Join(b, "lobby"))

	require.True(t, r.DeleteRoom("lobby"))
	assert.False(t, r.Exists("lobby"))
	assert.False(t, a.InRoom("lobby"), "force delete evicts member room sets")
	assert.False(t, b.InRoom("lobby"))

	assert.False(t, r.DeleteRoom("lobby"))
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	r := newRegistry(0, 0)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			c := newConn()
			name := fmt.Sprintf("room-%d", n%4)
			for j := 0; j < 100; j++ {
				r.Join(c, name)
				r.Leave(c, name)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	// every goroutine left its room; nothing should linger
	assert.Empty(t, r.Rooms())
}
