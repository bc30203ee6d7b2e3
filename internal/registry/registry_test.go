package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New(time.Minute)
	r.Register("pricing-agent", "pricing", []string{"price_rfp"}, map[string]string{"region": "eu"})

	e, ok := r.Lookup("pricing-agent")
	require.True(t, ok)
	assert.Equal(t, "pricing", e.AgentType)
	assert.Equal(t, StatusReady, e.Status)
	assert.Contains(t, e.Capabilities, "price_rfp")
}

func TestReRegisterFiresCallback(t *testing.T) {
	r := New(time.Minute)
	r.Register("agent-1", "sales", nil, nil)

	var mu sync.Mutex
	var called string
	done := make(chan struct{})
	r.OnReregister(func(agentID string) {
		mu.Lock()
		called = agentID
		mu.Unlock()
		close(done)
	})

	r.Register("agent-1", "sales", []string{"x"}, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("re-register callback did not fire")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "agent-1", called)
}

func TestHeartbeatRestoresAvailability(t *testing.T) {
	r := New(10 * time.Millisecond)
	r.Register("agent-1", "sales", nil, nil)

	time.Sleep(20 * time.Millisecond)
	e, _ := r.Lookup("agent-1")
	assert.Equal(t, StatusUnavailable, e.Status)

	require.True(t, r.Heartbeat("agent-1"))
	e, _ = r.Lookup("agent-1")
	assert.Equal(t, StatusReady, e.Status)
}

func TestByCapabilityOnlyReturnsAvailable(t *testing.T) {
	r := New(time.Minute)
	r.Register("agent-1", "pricing", []string{"price_rfp"}, nil)
	r.Register("agent-2", "pricing", []string{"price_rfp"}, nil)
	r.SetStatus("agent-2", StatusBusy)

	matches := r.ByCapability("price_rfp")
	require.Len(t, matches, 1)
	assert.Equal(t, "agent-1", matches[0].AgentID)
}

func TestStartingAndDegradedAreExcludedFromSelection(t *testing.T) {
	r := New(time.Minute)
	r.Register("agent-1", "pricing", []string{"price_rfp"}, nil)
	r.Register("agent-2", "pricing", []string{"price_rfp"}, nil)
	r.Register("agent-3", "pricing", []string{"price_rfp"}, nil)
	r.SetStatus("agent-2", StatusStarting)
	r.SetStatus("agent-3", StatusDegraded)

	matches := r.ByCapability("price_rfp")
	require.Len(t, matches, 1)
	assert.Equal(t, "agent-1", matches[0].AgentID)
}

func TestHeartbeatPromotesStartingToReady(t *testing.T) {
	r := New(time.Minute)
	r.Register("agent-1", "sales", nil, nil)
	r.SetStatus("agent-1", StatusStarting)

	require.True(t, r.Heartbeat("agent-1"))
	e, _ := r.Lookup("agent-1")
	assert.Equal(t, StatusReady, e.Status)
}

func TestUnregisterRemovesEntry(t *testing.T) {
	r := New(time.Minute)
	r.Register("agent-1", "sales", nil, nil)
	r.Unregister("agent-1")

	_, ok := r.Lookup("agent-1")
	assert.False(t, ok)
}

func TestSweepAppliesStalenessAcrossDirectory(t *testing.T) {
	r := New(5 * time.Millisecond)
	r.Register("agent-1", "sales", nil, nil)
	time.Sleep(10 * time.Millisecond)

	r.Sweep()
	all := r.All()
	require.Len(t, all, 1)
	assert.Equal(t, StatusUnavailable, all[0].Status)
}
