package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenzoki/rfpflow/internal/audit"
	"github.com/tenzoki/rfpflow/internal/breaker"
	"github.com/tenzoki/rfpflow/internal/comm"
	"github.com/tenzoki/rfpflow/internal/envelope"
	"github.com/tenzoki/rfpflow/internal/metrics"
	"github.com/tenzoki/rfpflow/internal/progress"
	"github.com/tenzoki/rfpflow/internal/registry"
	"github.com/tenzoki/rfpflow/internal/state"
	"github.com/tenzoki/rfpflow/internal/tracer"
)

type testHarness struct {
	manager   *comm.Manager
	backend   state.Store
	templates *TemplateSet
	audit     *audit.Log
	progress  *progress.Publisher
}

func newHarness(t *testing.T, templateYAML ...string) *testHarness {
	t.Helper()
	reg := registry.New(time.Minute)
	br := breaker.NewManager(breaker.Config{ConsecutiveFailures: 3, OpenTimeout: 200 * time.Millisecond, HalfOpenMaxRequests: 1})
	tr := tracer.New("test", 32)
	t.Cleanup(func() { _ = tr.Shutdown(context.Background()) })
	backend := state.NewMemoryStore()
	m := comm.New(comm.DefaultConfig(), reg, br, tr, metrics.New(), backend)

	dir := t.TempDir()
	for i, content := range templateYAML {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "t"+string(rune('0'+i))+".yaml"), []byte(content), 0o644))
	}
	ts, err := LoadTemplates(dir, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ts.Close() })

	return &testHarness{
		manager:   m,
		backend:   backend,
		templates: ts,
		audit:     audit.NewLog(backend),
		progress:  progress.NewPublisher(m),
	}
}

func (h *testHarness) newEngine(cfg Config) *Engine {
	return NewEngine(cfg, h.manager, h.backend, h.templates, h.audit, h.progress, zerolog.Nop())
}

// respondOnce registers agentID and replies to exactly one request with payload.
func respondOnce(t *testing.T, m *comm.Manager, agentID string, payload map[string]interface{}) {
	t.Helper()
	m.RegisterAgent(agentID, agentID, nil, nil)
	go func() {
		req, err := m.Receive(context.Background(), agentID, time.Now().Add(5*time.Second))
		if err != nil {
			return
		}
		resp, _ := envelope.NewResponse(req, agentID, payload)
		_ = m.Send(context.Background(), resp, time.Time{})
	}()
}

const sequentialTemplate = `
template_id: standard
name: Sequential
stages:
  - name: parse
    handler_agent_type: parser
    timeout_ms: 2000
  - name: pricing
    handler_agent_type: pricing
    timeout_ms: 2000
`

func TestHappyPathSequentialCompletesAllStages(t *testing.T) {
	h := newHarness(t, sequentialTemplate)
	respondOnce(t, h.manager, "parser", map[string]interface{}{"status": "parsed"})
	respondOnce(t, h.manager, "pricing", map[string]interface{}{"status": "priced"})

	e := h.newEngine(DefaultConfig())
	workflowID, err := e.SubmitRFP(context.Background(), map[string]interface{}{"rfp_id": "RFP-1"}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		wf, err := e.Status(context.Background(), workflowID)
		return err == nil && wf.Status == StatusCompleted
	}, 2*time.Second, 20*time.Millisecond)

	wf, err := e.Status(context.Background(), workflowID)
	require.NoError(t, err)
	assert.Len(t, wf.CompletedStages, 2)
	assert.Contains(t, wf.StageResults, "parse")
	assert.Contains(t, wf.StageResults, "pricing")
}

const parallelTemplate = `
template_id: standard
name: Parallel
stages:
  - name: sales
    handler_agent_type: sales
    timeout_ms: 2000
    parallel_group: valpack
  - name: technical
    handler_agent_type: technical
    timeout_ms: 2000
    parallel_group: valpack
`

func TestParallelGroupRunsBothStagesConcurrently(t *testing.T) {
	h := newHarness(t, parallelTemplate)
	respondOnce(t, h.manager, "sales", map[string]interface{}{"status": "ok"})
	respondOnce(t, h.manager, "technical", map[string]interface{}{"status": "ok"})

	e := h.newEngine(DefaultConfig())
	workflowID, err := e.SubmitRFP(context.Background(), map[string]interface{}{"rfp_id": "RFP-2"}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		wf, err := e.Status(context.Background(), workflowID)
		return err == nil && wf.Status == StatusCompleted
	}, 2*time.Second, 20*time.Millisecond)

	wf, err := e.Status(context.Background(), workflowID)
	require.NoError(t, err)
	assert.Contains(t, wf.StageResults, "sales")
	assert.Contains(t, wf.StageResults, "technical")
}

const singleStageTemplate = `
template_id: standard
name: Single
stages:
  - name: parse
    handler_agent_type: parser
    timeout_ms: 300
`

func TestRetryThenSucceedEventuallyCompletes(t *testing.T) {
	h := newHarness(t, singleStageTemplate)
	h.manager.RegisterAgent("parser", "parser", nil, nil)

	go func() {
		// first delivery: let it time out unanswered.
		_, err := h.manager.Receive(context.Background(), "parser", time.Now().Add(2*time.Second))
		if err != nil {
			return
		}
		// redelivery on retry: respond this time.
		req, err := h.manager.Receive(context.Background(), "parser", time.Now().Add(2*time.Second))
		if err != nil {
			return
		}
		resp, _ := envelope.NewResponse(req, "parser", map[string]interface{}{"status": "parsed"})
		_ = h.manager.Send(context.Background(), resp, time.Time{})
	}()

	e := h.newEngine(DefaultConfig())
	workflowID, err := e.SubmitRFP(context.Background(), map[string]interface{}{"rfp_id": "RFP-3"}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		wf, err := e.Status(context.Background(), workflowID)
		return err == nil && wf.Status == StatusCompleted
	}, 3*time.Second, 20*time.Millisecond)
}

func TestStageFailureAfterExhaustionFailsWorkflow(t *testing.T) {
	h := newHarness(t, singleStageTemplate)
	h.manager.RegisterAgent("parser", "parser", nil, nil)
	// no responder at all: every attempt times out until retries exhaust.

	e := h.newEngine(DefaultConfig())
	workflowID, err := e.SubmitRFP(context.Background(), map[string]interface{}{"rfp_id": "RFP-4"}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		wf, err := e.Status(context.Background(), workflowID)
		return err == nil && wf.Status == StatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	wf, err := e.Status(context.Background(), workflowID)
	require.NoError(t, err)
	assert.NotEmpty(t, wf.Error)
}

const approvalTemplate = `
template_id: standard
name: Approval
stages:
  - name: pricing
    handler_agent_type: pricing
    timeout_ms: 2000
    requires_approval: true
    approver_roles: ["finance"]
  - name: respond
    handler_agent_type: responder
    timeout_ms: 2000
response_builder: respond
`

func TestApprovalWaitThenResumeAcrossRestartCompletes(t *testing.T) {
	h := newHarness(t, approvalTemplate)
	respondOnce(t, h.manager, "pricing", map[string]interface{}{"status": "priced"})

	e := h.newEngine(DefaultConfig())
	workflowID, err := e.SubmitRFP(context.Background(), map[string]interface{}{"rfp_id": "RFP-5"}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		wf, err := e.Status(context.Background(), workflowID)
		return err == nil && wf.Status == StatusWaitingApproval
	}, 2*time.Second, 20*time.Millisecond)

	// simulate a process restart: a fresh engine instance over the same
	// backend and templates.
	restarted := h.newEngine(DefaultConfig())
	require.NoError(t, restarted.Resume(context.Background()))

	wf, err := restarted.Status(context.Background(), workflowID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaitingApproval, wf.Status)

	respondOnce(t, h.manager, "responder", map[string]interface{}{"document": "final"})
	require.NoError(t, restarted.SubmitApproval(context.Background(), workflowID, "pricing", "approve", "alice", "looks good"))

	require.Eventually(t, func() bool {
		wf, err := restarted.Status(context.Background(), workflowID)
		return err == nil && wf.Status == StatusCompleted
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCancelStopsWorkflowAndMarksCancelled(t *testing.T) {
	h := newHarness(t, singleStageTemplate)
	h.manager.RegisterAgent("parser", "parser", nil, nil)
	// never respond: workflow would otherwise sit dispatching/retrying.

	e := h.newEngine(DefaultConfig())
	workflowID, err := e.SubmitRFP(context.Background(), map[string]interface{}{"rfp_id": "RFP-6"}, "")
	require.NoError(t, err)

	require.NoError(t, e.Cancel(context.Background(), workflowID, "customer withdrew"))

	wf, err := e.Status(context.Background(), workflowID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, wf.Status)
	assert.Equal(t, "customer withdrew", wf.CancelReason)
}
