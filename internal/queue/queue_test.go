package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenzoki/rfpflow/internal/coreerr"
	"github.com/tenzoki/rfpflow/internal/envelope"
)

func mustEnvelope(t *testing.T, priority envelope.Priority) *envelope.Envelope {
	t.Helper()
	env, err := envelope.NewRequest("sender", "recipient", map[string]any{}, envelope.Options{Priority: priority})
	require.NoError(t, err)
	// NewRequest reads a zero Priority (PriorityLow) as "unset" and
	// defaults it to normal; set it directly so every lane is reachable.
	env.Priority = priority
	return env
}

func TestDequeueDrainsHighestPriorityFirst(t *testing.T) {
	q := New("agent-1", 10)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, mustEnvelope(t, envelope.PriorityLow)))
	require.NoError(t, q.Enqueue(ctx, mustEnvelope(t, envelope.PriorityNormal)))
	require.NoError(t, q.Enqueue(ctx, mustEnvelope(t, envelope.PriorityUrgent)))
	require.NoError(t, q.Enqueue(ctx, mustEnvelope(t, envelope.PriorityHigh)))

	order := []envelope.Priority{}
	for i := 0; i < 4; i++ {
		e, err := q.Dequeue(ctx)
		require.NoError(t, err)
		order = append(order, e.Priority)
	}
	assert.Equal(t, []envelope.Priority{
		envelope.PriorityUrgent,
		envelope.PriorityHigh,
		envelope.PriorityNormal,
		envelope.PriorityLow,
	}, order)
}

func TestDequeueIsFIFOWithinLane(t *testing.T) {
	q := New("agent-1", 10)
	ctx := context.Background()

	first := mustEnvelope(t, envelope.PriorityNormal)
	second := mustEnvelope(t, envelope.PriorityNormal)
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	out1, err := q.Dequeue(ctx)
	require.NoError(t, err)
	out2, err := q.Dequeue(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.MessageID, out1.MessageID)
	assert.Equal(t, second.MessageID, out2.MessageID)
}

func TestEnqueueBlocksUntilSpaceThenTimesOut(t *testing.T) {
	q := New("agent-1", 1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, mustEnvelope(t, envelope.PriorityNormal)))

	deadlineCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	err := q.Enqueue(deadlineCtx, mustEnvelope(t, envelope.PriorityNormal))
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.KindQueueFull))
}

func TestEnqueueUnblocksWhenSpaceFrees(t *testing.T) {
	q := New("agent-1", 1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, mustEnvelope(t, envelope.PriorityNormal)))

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(ctx, mustEnvelope(t, envelope.PriorityHigh))
	}()

	time.Sleep(10 * time.Millisecond)
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("enqueue did not unblock after dequeue freed space")
	}
}

func TestDequeueDropsExpiredEnvelopes(t *testing.T) {
	q := New("agent-1", 10)
	ctx := context.Background()

	expired := mustEnvelope(t, envelope.PriorityUrgent)
	expired.TTLMs = 1
	expired.Timestamp = time.Now().Add(-time.Hour)

	live := mustEnvelope(t, envelope.PriorityNormal)

	require.NoError(t, q.Enqueue(ctx, expired))
	require.NoError(t, q.Enqueue(ctx, live))

	out, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, live.MessageID, out.MessageID)

	stats := q.Stats()
	assert.Equal(t, int64(1), stats.TotalDropped)
}

func TestStatsReportsHighWaterAndHealth(t *testing.T) {
	q := New("agent-1", 5)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, mustEnvelope(t, envelope.PriorityNormal)))
	require.NoError(t, q.Enqueue(ctx, mustEnvelope(t, envelope.PriorityNormal)))

	stats := q.Stats()
	assert.Equal(t, 2, stats.HighWaterMark)
	assert.Equal(t, HealthHealthy, stats.Health)
	assert.Equal(t, int64(2), stats.TotalEnqueued)
}

func TestCloseDiscardsQueuedAndRejectsFurtherUse(t *testing.T) {
	q := New("agent-1", 5)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, mustEnvelope(t, envelope.PriorityNormal)))

	q.Close()

	_, err := q.Dequeue(ctx)
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.KindUnavailable))

	err = q.Enqueue(ctx, mustEnvelope(t, envelope.PriorityNormal))
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.KindUnavailable))
}
