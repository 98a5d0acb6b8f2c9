package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-sre/argus/internal/session"
)

func TestTryDeliverRespectsCapacity(t *testing.T) {
	sub := New(1)
	assert.True(t, sub.TryDeliver(session.Event{Seq: 1}))
	assert.False(t, sub.TryDeliver(session.Event{Seq: 2}), "queue at capacity must reject, not block")
}

func TestCloseDeliversTerminalSentinel(t *testing.T) {
	sub := New(4)
	sub.Close(session.CloseTerminal)

	env, open := <-sub.Recv()
	require.True(t, open)
	assert.True(t, env.IsTerminal())

	_, open = <-sub.Recv()
	assert.False(t, open, "channel must be closed after the sentinel")
}

func TestCloseDeliversDroppedSentinelOnEviction(t *testing.T) {
	sub := New(4)
	sub.Close(session.CloseEvicted)

	env := <-sub.Recv()
	assert.True(t, env.IsDropped())
}

// TestCloseDeliversDroppedSentinelWhenQueueFull exercises the real eviction
// scenario: Append only evicts a subscriber once TryDeliver has already
// failed because the queue is full and nothing has drained it. The sentinel
// must still arrive even though every real-event slot is occupied.
func TestCloseDeliversDroppedSentinelWhenQueueFull(t *testing.T) {
	sub := New(4)
	for i := 0; i < 4; i++ {
		require.True(t, sub.TryDeliver(session.Event{Seq: int64(i)}), "queue should accept up to capacity")
	}
	require.False(t, sub.TryDeliver(session.Event{Seq: 99}), "queue at capacity must reject further real events")

	sub.Close(session.CloseEvicted)

	for i := 0; i < 4; i++ {
		env, open := <-sub.Recv()
		require.True(t, open)
		assert.False(t, env.IsDropped())
		assert.Equal(t, int64(i), env.Event.Seq)
	}

	env, open := <-sub.Recv()
	require.True(t, open, "the reserved slot must still deliver the dropped sentinel")
	assert.True(t, env.IsDropped())

	_, open = <-sub.Recv()
	assert.False(t, open, "channel must be closed after the sentinel")
}

func TestCloseIsIdempotent(t *testing.T) {
	sub := New(4)
	sub.Close(session.CloseTerminal)
	assert.NotPanics(t, func() { sub.Close(session.CloseTerminal) })
}

func TestIDsAreUnique(t *testing.T) {
	a := New(1)
	b := New(1)
	assert.NotEqual(t, a.ID(), b.ID())
}
