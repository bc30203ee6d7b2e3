package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dto "github.com/prometheus/client_model/go"
)

func TestSentCounterIncrements(t *testing.T) {
	m := New()
	m.Sent.WithLabelValues("request", "normal").Inc()
	m.Sent.WithLabelValues("request", "normal").Inc()

	metric := &dto.Metric{}
	require.NoError(t, m.Sent.WithLabelValues("request", "normal").Write(metric))
	assert.Equal(t, float64(2), metric.GetCounter().GetValue())
}

func TestQueueSizeGaugeSetAndRead(t *testing.T) {
	m := New()
	m.QueueSize.WithLabelValues("agent-1", "urgent").Set(3)

	metric := &dto.Metric{}
	require.NoError(t, m.QueueSize.WithLabelValues("agent-1", "urgent").Write(metric))
	assert.Equal(t, float64(3), metric.GetGauge().GetValue())
}

func TestPercentilesReflectObservedSamples(t *testing.T) {
	m := New()
	for i := 1; i <= 100; i++ {
		m.ObserveLatency("request", time.Duration(i)*time.Millisecond)
	}

	p50, p95, p99 := m.Percentiles("request")
	assert.InDelta(t, 50, p50.Milliseconds(), 2)
	assert.InDelta(t, 95, p95.Milliseconds(), 2)
	assert.InDelta(t, 99, p99.Milliseconds(), 2)
}

func TestPercentilesEmptyForUnknownKind(t *testing.T) {
	m := New()
	p50, p95, p99 := m.Percentiles("nothing-observed")
	assert.Zero(t, p50)
	assert.Zero(t, p95)
	assert.Zero(t, p99)
}

func TestUptimeIsPositive(t *testing.T) {
	m := New()
	time.Sleep(2 * time.Millisecond)
	assert.Greater(t, m.Uptime(), time.Duration(0))
}
