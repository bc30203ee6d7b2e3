package agent

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenzoki/rfpflow/internal/breaker"
	"github.com/tenzoki/rfpflow/internal/comm"
	"github.com/tenzoki/rfpflow/internal/envelope"
	"github.com/tenzoki/rfpflow/internal/metrics"
	"github.com/tenzoki/rfpflow/internal/registry"
	"github.com/tenzoki/rfpflow/internal/state"
	"github.com/tenzoki/rfpflow/internal/tracer"
)

func newTestManager(t *testing.T) *comm.Manager {
	t.Helper()
	reg := registry.New(time.Minute)
	br := breaker.NewManager(breaker.DefaultConfig())
	tr := tracer.New("test", 32)
	t.Cleanup(func() { _ = tr.Shutdown(context.Background()) })
	m := metrics.New()
	store := state.NewMemoryStore()
	return comm.New(comm.DefaultConfig(), reg, br, tr, m, store)
}

func TestRunnerRespondsToRequest(t *testing.T) {
	manager := newTestManager(t)
	handled := make(chan string, 1)

	handler := HandlerFunc(func(ctx context.Context, req *envelope.Envelope) (interface{}, error) {
		var body struct {
			RFPID string `json:"rfp_id"`
		}
		_ = req.UnmarshalPayload(&body)
		handled <- body.RFPID
		return map[string]string{"status": "priced"}, nil
	})

	runner := NewRunner(manager, "pricing-agent", "pricing", []string{"price_rfp"}, handler, zerolog.Nop()).
		WithHeartbeatInterval(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = runner.Run(ctx) }()

	// give the registration a moment to land before racing Request
	time.Sleep(10 * time.Millisecond)

	req, err := envelope.NewRequest("engine", "pricing-agent", map[string]string{"rfp_id": "RFP-1"}, envelope.Options{})
	require.NoError(t, err)

	resp, err := manager.Request(context.Background(), req, time.Second)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, resp.UnmarshalPayload(&out))
	assert.Equal(t, "priced", out["status"])

	select {
	case rfpID := <-handled:
		assert.Equal(t, "RFP-1", rfpID)
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestRunnerSendsRetryableErrorEnvelope(t *testing.T) {
	manager := newTestManager(t)

	handler := HandlerFunc(func(ctx context.Context, req *envelope.Envelope) (interface{}, error) {
		return nil, Retryable(assertError("transient failure"))
	})

	runner := NewRunner(manager, "flaky-agent", "pricing", nil, handler, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = runner.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)

	req, err := envelope.NewRequest("engine", "flaky-agent", map[string]string{}, envelope.Options{
		RetryPolicy: &envelope.RetryPolicy{Strategy: "immediate", MaxAttempts: 1},
	})
	require.NoError(t, err)

	_, err = manager.Request(context.Background(), req, 200*time.Millisecond)
	require.Error(t, err)
}

type testErr string

func (e testErr) Error() string { return string(e) }

func assertError(msg string) error { return testErr(msg) }
