// Package httpapi exposes the fabric's HTTP surface: GET /health and
// GET /metrics (the line-oriented key/value form) plus a GET
// /metrics/prom for anyone scraping with a real Prometheus client, and
// the operator surface rfpctl drives (submit/status/cancel/list/approve/
// dlq) over JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tenzoki/rfpflow/internal/comm"
	"github.com/tenzoki/rfpflow/internal/workflow"
)

// healthResponder is the subset of comm.Manager the health handler needs.
type healthResponder interface {
	Health() (string, map[string]string)
}

// Snapshot is the line-oriented /metrics payload's source data. Callers
// (pkg/runtime) assemble it from internal/metrics and internal/comm.
type Snapshot struct {
	MessagesTotal map[[2]string]float64 // [kind, priority] -> count
	QueueSizes    map[string]int        // agent_id -> size
	LatencyMs     map[string]float64    // quantile label ("p50" etc) -> ms
	UptimeSeconds float64
}

// SnapshotSource is implemented by pkg/runtime's CoreRuntime.
type SnapshotSource interface {
	MetricsSnapshot() Snapshot
}

// OperatorAPI is the subset of pkg/runtime's CoreRuntime that rfpctl
// drives over JSON: submit_rfp, get_workflow, cancel_workflow,
// list_workflows, submit_approval, and DLQ inspection.
type OperatorAPI interface {
	SubmitRFP(ctx context.Context, document map[string]interface{}, templateID string) (string, error)
	GetWorkflow(ctx context.Context, workflowID string) (*workflow.State, error)
	CancelWorkflow(ctx context.Context, workflowID, reason string) error
	ListWorkflows(ctx context.Context, filter workflow.Filter) ([]*workflow.State, error)
	SubmitApproval(ctx context.Context, workflowID, stage, decision, approver, comment string) error
	ListDeadLettered(ctx context.Context) ([]comm.DeadLetterRecord, error)
	RequeueDeadLettered(ctx context.Context, messageID string) error
}

// New builds the chi router serving the health/metrics surface and, when
// operator is non-nil, the workflow/dlq operator surface.
func New(health healthResponder, metrics SnapshotSource, operator OperatorAPI, promHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status, components := health.Health()
		w.Header().Set("Content-Type", "application/json")
		if status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     status,
			"components": components,
		})
	})

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		snap := metrics.MetricsSnapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeLineMetrics(w, snap)
	})

	if promHandler == nil {
		promHandler = promhttp.Handler()
	}
	r.Handle("/metrics/prom", promHandler)

	if operator != nil {
		mountOperatorRoutes(r, operator)
	}

	return r
}

func mountOperatorRoutes(r chi.Router, op OperatorAPI) {
	r.Post("/workflows", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Document   map[string]interface{} `json:"document"`
			TemplateID string                  `json:"template_id"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		id, err := op.SubmitRFP(req.Context(), body.Document, body.TemplateID)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"workflow_id": id})
	})

	r.Get("/workflows", func(w http.ResponseWriter, req *http.Request) {
		filter := workflow.Filter{
			Status:     workflow.Status(req.URL.Query().Get("status")),
			TemplateID: req.URL.Query().Get("template_id"),
		}
		workflows, err := op.ListWorkflows(req.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, workflows)
	})

	r.Get("/workflows/{id}", func(w http.ResponseWriter, req *http.Request) {
		wf, err := op.GetWorkflow(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, wf)
	})

	r.Delete("/workflows/{id}", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		if err := op.CancelWorkflow(req.Context(), chi.URLParam(req, "id"), body.Reason); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/workflows/{id}/approval", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Stage    string `json:"stage"`
			Decision string `json:"decision"`
			Approver string `json:"approver"`
			Comment  string `json:"comment"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		id := chi.URLParam(req, "id")
		if err := op.SubmitApproval(req.Context(), id, body.Stage, body.Decision, body.Approver, body.Comment); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/dlq", func(w http.ResponseWriter, req *http.Request) {
		records, err := op.ListDeadLettered(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	})

	r.Post("/dlq/{messageID}/requeue", func(w http.ResponseWriter, req *http.Request) {
		if err := op.RequeueDeadLettered(req.Context(), chi.URLParam(req, "messageID")); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeLineMetrics renders snap in its line-oriented form:
//
//	core_messages_total{kind,priority} N
//	core_queue_size{agent_id} N
//	core_request_latency_ms{quantile} V
//	core_uptime_seconds N
func writeLineMetrics(w http.ResponseWriter, snap Snapshot) {
	type kv struct {
		k string
		v float64
	}

	messages := make([]kv, 0, len(snap.MessagesTotal))
	for pair, count := range snap.MessagesTotal {
		messages = append(messages, kv{fmt.Sprintf("core_messages_total{kind=%q,priority=%q}", pair[0], pair[1]), count})
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].k < messages[j].k })
	for _, m := range messages {
		fmt.Fprintf(w, "%s %g\n", m.k, m.v)
	}

	queues := make([]kv, 0, len(snap.QueueSizes))
	for agentID, size := range snap.QueueSizes {
		queues = append(queues, kv{fmt.Sprintf("core_queue_size{agent_id=%q}", agentID), float64(size)})
	}
	sort.Slice(queues, func(i, j int) bool { return queues[i].k < queues[j].k })
	for _, q := range queues {
		fmt.Fprintf(w, "%s %g\n", q.k, q.v)
	}

	latencies := make([]kv, 0, len(snap.LatencyMs))
	for quantile, ms := range snap.LatencyMs {
		latencies = append(latencies, kv{fmt.Sprintf("core_request_latency_ms{quantile=%q}", quantile), ms})
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i].k < latencies[j].k })
	for _, l := range latencies {
		fmt.Fprintf(w, "%s %g\n", l.k, l.v)
	}

	fmt.Fprintf(w, "core_uptime_seconds %g\n", snap.UptimeSeconds)
}
