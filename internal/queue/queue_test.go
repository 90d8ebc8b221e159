package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/synaplabs/synap/internal/op"
)

func TestPublishConsumeAckOrdering(t *testing.T) {
	m := NewManager()
	m.CreateQueue("q", 2, 30)

	_, _, err := m.Publish(100, "q", []byte{0x01}, 1, 3)
	require.NoError(t, err)
	_, _, err = m.Publish(100, "q", []byte{0x02}, 9, 3)
	require.NoError(t, err)

	msg, ok, err := m.Consume(100, "q", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0x02}, msg.Payload) // higher priority first

	_, err = m.Ack(100, "q", msg.ID)
	require.NoError(t, err)

	msg2, ok, err := m.Consume(100, "q", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0x01}, msg2.Payload)

	_, err = m.Ack(100, "q", msg2.ID)
	require.NoError(t, err)

	_, _, err = m.Publish(100, "q", []byte{0x03}, 5, 3)
	require.NoError(t, err)

	_, _, err = m.Publish(100, "q", []byte{0x04}, 5, 3)
	require.NoError(t, err)
	_, _, err = m.Publish(100, "q", []byte{0x05}, 5, 3)
	require.ErrorIs(t, err, op.ErrQueueFull)
}

// TestPublishLimitTracksReadyDepthNotTotalOutstanding documents that
// max_depth gates the ready heap, not ready+pending: a message consumed
// into pending (awaiting ack) frees its slot for a new publish even though
// it hasn't been acked yet.
func TestPublishLimitTracksReadyDepthNotTotalOutstanding(t *testing.T) {
	m := NewManager()
	m.CreateQueue("q", 1, 30)

	_, _, err := m.Publish(100, "q", []byte{0x01}, 0, 3)
	require.NoError(t, err)

	_, _, err = m.Publish(100, "q", []byte{0x02}, 0, 3)
	require.ErrorIs(t, err, op.ErrQueueFull)

	msg, ok, err := m.Consume(100, "q", "c1")
	require.NoError(t, err)
	require.True(t, ok)

	// msg is now pending (unacked), but ready is empty, so a new publish
	// succeeds even though one message is still outstanding.
	_, _, err = m.Publish(100, "q", []byte{0x02}, 0, 3)
	require.NoError(t, err)

	_, err = m.Ack(100, "q", msg.ID)
	require.NoError(t, err)
}

func TestNackRequeueIncrementsRetryCount(t *testing.T) {
	m := NewManager()
	m.CreateQueue("q", 0, 30)
	m.Publish(100, "q", []byte("x"), 0, 3)

	msg, _, _ := m.Consume(100, "q", "c1")
	_, err := m.Nack(100, "q", msg.ID, true)
	require.NoError(t, err)

	msg2, ok, _ := m.Consume(100, "q", "c1")
	require.True(t, ok)
	require.Equal(t, 1, msg2.RetryCount)
}

func TestNackExceedingRetriesGoesToDLQ(t *testing.T) {
	m := NewManager()
	m.CreateQueue("q", 0, 30)
	m.Publish(100, "q", []byte("x"), 0, 0)

	msg, _, _ := m.Consume(100, "q", "c1")
	m.Nack(100, "q", msg.ID, true)

	stats, err := m.Stats("q")
	require.NoError(t, err)
	require.Equal(t, 1, stats.DLQCount)
	require.Equal(t, 0, stats.Depth)
}

func TestAckUnknownIDIsNoop(t *testing.T) {
	m := NewManager()
	m.CreateQueue("q", 0, 30)
	_, err := m.Ack(100, "q", "nonexistent")
	require.NoError(t, err)
}

func TestReclaimExpiredRequeues(t *testing.T) {
	m := NewManager()
	m.CreateQueue("q", 0, 10)
	m.Publish(100, "q", []byte("x"), 0, 3)
	m.Consume(100, "q", "c1")

	reclaimed, _, err := m.ReclaimExpired(200, "q")
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)

	stats, _ := m.Stats("q")
	require.Equal(t, 1, stats.Depth)
	require.Equal(t, 0, stats.Pending)
}

func TestQueueInvariant(t *testing.T) {
	m := NewManager()
	m.CreateQueue("q", 0, 30)
	m.Publish(100, "q", []byte("a"), 0, 3)
	m.Publish(100, "q", []byte("b"), 0, 3)
	msg, _, _ := m.Consume(100, "q", "c1")
	m.Ack(100, "q", msg.ID)

	stats, _ := m.Stats("q")
	require.Equal(t, stats.Depth, 1)
	require.Equal(t, stats.Published, stats.Acked+uint64(stats.DLQCount)+uint64(stats.Pending)+uint64(stats.Depth))
}
