package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenzoki/rfpflow/internal/coreerr"
)

func TestExecutePassesThroughWhenClosed(t *testing.T) {
	m := NewManager(DefaultConfig())
	called := false
	err := m.Execute(context.Background(), "pricing-agent", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, StateClosed, m.State("pricing-agent"))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsecutiveFailures = 3
	m := NewManager(cfg)

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := m.Execute(context.Background(), "flaky-agent", func(ctx context.Context) error {
			return boom
		})
		assert.Error(t, err)
	}

	assert.Equal(t, StateOpen, m.State("flaky-agent"))

	called := false
	err := m.Execute(context.Background(), "flaky-agent", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, coreerr.Is(err, coreerr.KindBreakerOpen))
}

func TestBreakerClosesAfterSuccessfulProbe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsecutiveFailures = 1
	cfg.OpenTimeout = 10 * time.Millisecond
	cfg.HalfOpenMaxRequests = 1
	m := NewManager(cfg)

	_ = m.Execute(context.Background(), "recovering-agent", func(ctx context.Context) error {
		return errors.New("fail once")
	})
	require.Equal(t, StateOpen, m.State("recovering-agent"))

	time.Sleep(20 * time.Millisecond)

	err := m.Execute(context.Background(), "recovering-agent", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, m.State("recovering-agent"))
}

func TestOnStateChangeCallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsecutiveFailures = 1

	var mu sync.Mutex
	var transitions []State
	cfg.OnStateChange = func(destination string, from, to State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	}
	m := NewManager(cfg)

	_ = m.Execute(context.Background(), "watched-agent", func(ctx context.Context) error {
		return errors.New("fail")
	})

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, transitions)
	assert.Equal(t, StateOpen, transitions[len(transitions)-1])
}

func TestCooldownGrowsAfterEachFailedProbeAndCaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsecutiveFailures = 1
	cfg.OpenTimeout = 40 * time.Millisecond
	cfg.CooldownCap = 140 * time.Millisecond
	cfg.HalfOpenMaxRequests = 1
	m := NewManager(cfg)

	boom := errors.New("boom")
	trip := func() {
		_ = m.Execute(context.Background(), "flapping-agent", func(ctx context.Context) error {
			return boom
		})
	}

	trip() // first trip: cooldown == OpenTimeout (40ms)
	require.Equal(t, StateOpen, m.State("flapping-agent"))

	time.Sleep(60 * time.Millisecond) // past the first 40ms cooldown
	trip()                            // probe runs and fails again: cooldown doubles to 80ms
	require.Equal(t, 1, m.breakers["flapping-agent"].reopens)

	time.Sleep(30 * time.Millisecond) // only 30ms of the new 80ms cooldown elapsed
	blockedErr := m.Execute(context.Background(), "flapping-agent", func(ctx context.Context) error {
		t.Fatal("fn must not run while still in extended cooldown")
		return nil
	})
	assert.True(t, coreerr.Is(blockedErr, coreerr.KindBreakerOpen))

	time.Sleep(70 * time.Millisecond) // now past the doubled 80ms cooldown
	trip()                            // probe fails again: cooldown would double to 160ms but caps at 140ms
	assert.Equal(t, 140*time.Millisecond, m.cooldownFor(m.breakers["flapping-agent"].reopens))
}

func TestEachDestinationHasIndependentBreaker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsecutiveFailures = 1
	m := NewManager(cfg)

	_ = m.Execute(context.Background(), "agent-a", func(ctx context.Context) error {
		return errors.New("fail")
	})
	assert.Equal(t, StateOpen, m.State("agent-a"))
	assert.Equal(t, StateClosed, m.State("agent-b"))
}
