package comm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenzoki/rfpflow/internal/breaker"
	"github.com/tenzoki/rfpflow/internal/envelope"
	"github.com/tenzoki/rfpflow/internal/metrics"
	"github.com/tenzoki/rfpflow/internal/registry"
	"github.com/tenzoki/rfpflow/internal/state"
	"github.com/tenzoki/rfpflow/internal/tracer"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	reg := registry.New(time.Minute)
	br := breaker.NewManager(breaker.DefaultConfig())
	tr := tracer.New("test", 32)
	t.Cleanup(func() { _ = tr.Shutdown(context.Background()) })
	m := metrics.New()
	store := state.NewMemoryStore()
	return New(DefaultConfig(), reg, br, tr, m, store)
}

func TestSendAndReceiveRoundTrip(t *testing.T) {
	m := newTestManager(t)
	m.RegisterAgent("pricing-agent", "pricing", []string{"price_rfp"}, nil)

	env, err := envelope.NewRequest("engine", "pricing-agent", map[string]any{"rfp_id": "RFP-1"}, envelope.Options{})
	require.NoError(t, err)
	env.Kind = envelope.KindNotification

	require.NoError(t, m.Send(context.Background(), env, time.Time{}))

	received, err := m.Receive(context.Background(), "pricing-agent", time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, env.MessageID, received.MessageID)
}

func TestSendToUnknownRecipientIsNoRoute(t *testing.T) {
	m := newTestManager(t)
	env, err := envelope.NewRequest("engine", "ghost-agent", map[string]any{}, envelope.Options{})
	require.NoError(t, err)

	err = m.Send(context.Background(), env, time.Time{})
	require.Error(t, err)
}

func TestRequestSucceedsWhenHandlerReplies(t *testing.T) {
	m := newTestManager(t)
	m.RegisterAgent("pricing-agent", "pricing", nil, nil)

	go func() {
		req, err := m.Receive(context.Background(), "pricing-agent", time.Now().Add(time.Second))
		if err != nil {
			return
		}
		resp, _ := envelope.NewResponse(req, "pricing-agent", map[string]any{"status": "success"})
		_ = m.Send(context.Background(), resp, time.Time{})
	}()

	req, err := envelope.NewRequest("engine", "pricing-agent", map[string]any{}, envelope.Options{})
	require.NoError(t, err)

	resp, err := m.Request(context.Background(), req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, req.MessageID, resp.CorrelationID)
}

func TestRequestExhaustsAndDeadLetters(t *testing.T) {
	m := newTestManager(t)
	m.RegisterAgent("slow-agent", "slow", nil, nil)

	go func() {
		for i := 0; i < 5; i++ {
			_, err := m.Receive(context.Background(), "slow-agent", time.Now().Add(2*time.Second))
			if err != nil {
				return
			}
			// never reply: attempts time out
		}
	}()

	req, err := envelope.NewRequest("engine", "slow-agent", map[string]any{}, envelope.Options{
		RetryPolicy: &envelope.RetryPolicy{Strategy: "immediate", MaxAttempts: 2},
	})
	require.NoError(t, err)

	_, err = m.Request(context.Background(), req, 30*time.Millisecond)
	require.Error(t, err)

	dlqData, dlqErr := m.store.Get(context.Background(), state.NamespaceDLQ, req.MessageID)
	require.NoError(t, dlqErr)
	assert.NotEmpty(t, dlqData)
}

func TestRequestStopsOnNonRetryableHandlerError(t *testing.T) {
	m := newTestManager(t)
	m.RegisterAgent("pricing-agent", "pricing", nil, nil)

	go func() {
		req, err := m.Receive(context.Background(), "pricing-agent", time.Now().Add(time.Second))
		if err != nil {
			return
		}
		errEnv, _ := envelope.NewErrorEnvelope(req, "pricing-agent", "invalid rfp", false)
		_ = m.Send(context.Background(), errEnv, time.Time{})
	}()

	req, err := envelope.NewRequest("engine", "pricing-agent", map[string]any{}, envelope.Options{
		RetryPolicy: &envelope.RetryPolicy{Strategy: "immediate", MaxAttempts: 5},
	})
	require.NoError(t, err)

	_, err = m.Request(context.Background(), req, time.Second)
	require.Error(t, err)

	// should not have been dead-lettered since it stopped on first attempt
	_, dlqErr := m.store.Get(context.Background(), state.NamespaceDLQ, req.MessageID)
	assert.ErrorIs(t, dlqErr, state.ErrNotFound)
}

func TestBroadcastFansOutToMatchingAgents(t *testing.T) {
	m := newTestManager(t)
	m.RegisterAgent("agent-a", "worker", []string{"x"}, nil)
	m.RegisterAgent("agent-b", "worker", []string{"x"}, nil)
	m.RegisterAgent("agent-c", "other", nil, nil)

	outcomes := m.Broadcast(context.Background(), "engine", map[string]any{"hello": true}, func(e registry.Entry) bool {
		return e.AgentType == "worker"
	})

	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, "delivered", o.Outcome)
	}
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	m := newTestManager(t)
	m.RegisterAgent("agent-a", "watcher", nil, nil)
	m.Subscribe("agent-a", "workflow/progress")

	require.NoError(t, m.Publish(context.Background(), "engine", "workflow/progress", map[string]any{"stage": "parse"}))

	env, err := m.Receive(context.Background(), "agent-a", time.Now().Add(time.Second))
	require.NoError(t, err)
	topic, ok := env.GetHeader("topic")
	require.True(t, ok)
	assert.Equal(t, "workflow/progress", topic)
}

func TestSetStateGetState(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.SetState(context.Background(), "pricing-agent", "last_rfp", []byte("RFP-1"), 0))

	v, err := m.GetState(context.Background(), "pricing-agent", "last_rfp")
	require.NoError(t, err)
	assert.Equal(t, "RFP-1", string(v))
}

func TestShutdownRejectsNewOperations(t *testing.T) {
	m := newTestManager(t)
	m.RegisterAgent("pricing-agent", "pricing", nil, nil)
	require.NoError(t, m.Shutdown(context.Background()))

	env, err := envelope.NewRequest("engine", "pricing-agent", map[string]any{}, envelope.Options{})
	require.NoError(t, err)

	err = m.Send(context.Background(), env, time.Time{})
	assert.Error(t, err)
}

func TestHealthReflectsShutdownState(t *testing.T) {
	m := newTestManager(t)
	status, _ := m.Health()
	assert.Equal(t, "healthy", status)

	require.NoError(t, m.Shutdown(context.Background()))
	status, components := m.Health()
	assert.Equal(t, "unhealthy", status)
	assert.Equal(t, "shutting_down", components["manager"])
}
