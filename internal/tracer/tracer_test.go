package tracer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHopsAreRecordedInOrder(t *testing.T) {
	tr := New("rfpflow-test", 16)
	defer tr.Shutdown(context.Background())

	ctx, span := tr.Start(context.Background(), "msg-1")
	_ = ctx
	tr.Hop(span, "engine", "enqueued")
	tr.Hop(span, "pricing-agent", "dequeued")
	tr.Hop(span, "pricing-agent", "processing_started")
	span.End()

	require.Eventually(t, func() bool {
		return len(tr.RecentHops("msg-1")) == 3
	}, time.Second, 5*time.Millisecond)

	hops := tr.RecentHops("msg-1")
	assert.Equal(t, "enqueued", hops[0].Action)
	assert.Equal(t, "dequeued", hops[1].Action)
	assert.Equal(t, "processing_started", hops[2].Action)
	assert.Equal(t, "pricing-agent", hops[2].AgentID)
}

func TestUnknownMessageHasNoHops(t *testing.T) {
	tr := New("rfpflow-test", 16)
	defer tr.Shutdown(context.Background())
	assert.Empty(t, tr.RecentHops("never-seen"))
}

func TestRingBufferBoundsPerMessageHistory(t *testing.T) {
	tr := New("rfpflow-test", 2)
	defer tr.Shutdown(context.Background())

	_, span := tr.Start(context.Background(), "msg-bounded")
	tr.Hop(span, "a", "one")
	tr.Hop(span, "a", "two")
	tr.Hop(span, "a", "three")
	span.End()

	require.Eventually(t, func() bool {
		return len(tr.RecentHops("msg-bounded")) == 2
	}, time.Second, 5*time.Millisecond)

	hops := tr.RecentHops("msg-bounded")
	assert.Equal(t, "two", hops[0].Action)
	assert.Equal(t, "three", hops[1].Action)
}
