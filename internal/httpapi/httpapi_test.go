package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenzoki/rfpflow/internal/comm"
	"github.com/tenzoki/rfpflow/internal/workflow"
)

type fakeHealth struct {
	status     string
	components map[string]string
}

func (f fakeHealth) Health() (string, map[string]string) { return f.status, f.components }

type fakeSnapshot struct{ snap Snapshot }

func (f fakeSnapshot) MetricsSnapshot() Snapshot { return f.snap }

type fakeOperator struct {
	submittedID string
	workflows   []*workflow.State
	approvals   int
	cancelled   string
	dlq         []comm.DeadLetterRecord
	requeued    string
}

func (f *fakeOperator) SubmitRFP(ctx context.Context, document map[string]interface{}, templateID string) (string, error) {
	return f.submittedID, nil
}
func (f *fakeOperator) GetWorkflow(ctx context.Context, workflowID string) (*workflow.State, error) {
	return &workflow.State{WorkflowID: workflowID, Status: workflow.StatusRunning}, nil
}
func (f *fakeOperator) CancelWorkflow(ctx context.Context, workflowID, reason string) error {
	f.cancelled = workflowID
	return nil
}
func (f *fakeOperator) ListWorkflows(ctx context.Context, filter workflow.Filter) ([]*workflow.State, error) {
	return f.workflows, nil
}
func (f *fakeOperator) SubmitApproval(ctx context.Context, workflowID, stage, decision, approver, comment string) error {
	f.approvals++
	return nil
}
func (f *fakeOperator) ListDeadLettered(ctx context.Context) ([]comm.DeadLetterRecord, error) {
	return f.dlq, nil
}
func (f *fakeOperator) RequeueDeadLettered(ctx context.Context, messageID string) error {
	f.requeued = messageID
	return nil
}

func TestHealthEndpointHealthy(t *testing.T) {
	h := New(fakeHealth{status: "healthy", components: map[string]string{"store": "ok"}}, fakeSnapshot{}, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHealthEndpointUnhealthyReturns503(t *testing.T) {
	h := New(fakeHealth{status: "degraded"}, fakeSnapshot{}, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpointRendersLineFormat(t *testing.T) {
	snap := Snapshot{
		MessagesTotal: map[[2]string]float64{{"request", "normal"}: 3},
		QueueSizes:    map[string]int{"pricing-agent": 2},
		LatencyMs:     map[string]float64{"p50": 12.5},
		UptimeSeconds: 42,
	}
	h := New(fakeHealth{status: "healthy"}, fakeSnapshot{snap: snap}, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	h.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, `core_messages_total{kind="request",priority="normal"} 3`)
	assert.Contains(t, body, `core_queue_size{agent_id="pricing-agent"} 2`)
	assert.Contains(t, body, `core_request_latency_ms{quantile="p50"} 12.5`)
	assert.Contains(t, body, "core_uptime_seconds 42")
}

func TestSubmitWorkflowRoute(t *testing.T) {
	op := &fakeOperator{submittedID: "wf-1"}
	h := New(fakeHealth{status: "healthy"}, fakeSnapshot{}, op, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/workflows", jsonBody(t, map[string]interface{}{
		"document":    map[string]interface{}{"rfp_id": "RFP-1"},
		"template_id": "standard",
	}))
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "wf-1", out["workflow_id"])
}

func TestCancelWorkflowRoute(t *testing.T) {
	op := &fakeOperator{}
	h := New(fakeHealth{status: "healthy"}, fakeSnapshot{}, op, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/workflows/wf-1", jsonBody(t, map[string]string{"reason": "duplicate"}))
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "wf-1", op.cancelled)
}

func TestRequeueDLQRoute(t *testing.T) {
	op := &fakeOperator{}
	h := New(fakeHealth{status: "healthy"}, fakeSnapshot{}, op, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/dlq/msg-1/requeue", nil)
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "msg-1", op.requeued)
}

func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}
