// Package runtime is the explicit CoreRuntime value: every collaborator
// (envelope codec, queues, registry, retry/breaker, tracer, metrics, KV
// state, communication manager, workflow engine, progress, audit, blob
// store) is constructed once here and threaded through agents and the
// HTTP/CLI surfaces by value, in place of global registry/queue/manager
// singletons — the way cellorg/public/orchestrator.Embedded constructs
// its Gox framework once and drives it through public methods.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tenzoki/rfpflow/internal/audit"
	"github.com/tenzoki/rfpflow/internal/blobstore"
	"github.com/tenzoki/rfpflow/internal/breaker"
	"github.com/tenzoki/rfpflow/internal/comm"
	"github.com/tenzoki/rfpflow/internal/config"
	"github.com/tenzoki/rfpflow/internal/envelope"
	"github.com/tenzoki/rfpflow/internal/httpapi"
	"github.com/tenzoki/rfpflow/internal/metrics"
	"github.com/tenzoki/rfpflow/internal/progress"
	"github.com/tenzoki/rfpflow/internal/registry"
	"github.com/tenzoki/rfpflow/internal/state"
	"github.com/tenzoki/rfpflow/internal/tracer"
	"github.com/tenzoki/rfpflow/internal/workflow"

	"github.com/redis/go-redis/v9"
)

// CoreRuntime is the single constructed facade over the whole fabric
// and workflow engine for one process.
type CoreRuntime struct {
	cfg config.Config
	log zerolog.Logger

	registry  *registry.Registry
	breakers  *breaker.Manager
	tracer    *tracer.Tracer
	metrics   *metrics.Metrics
	store     state.Store
	manager   *comm.Manager
	templates *workflow.TemplateSet
	auditLog  *audit.Log
	progress  *progress.Publisher
	engine    *workflow.Engine
	blobs     *blobstore.Store

	httpServer *http.Server

	stopTickers chan struct{}
}

// New constructs every collaborator from cfg but starts nothing
// background yet; call Start to begin serving.
func New(cfg config.Config, log zerolog.Logger) (*CoreRuntime, error) {
	reg := registry.New(cfg.Registry.StaleAfter)

	breakerCfg := breaker.DefaultConfig()
	breakerCfg.ConsecutiveFailures = cfg.Breaker.FailureThreshold
	breakerCfg.OpenTimeout = cfg.Breaker.CooldownMs
	if cfg.Breaker.CooldownCapMs > 0 {
		breakerCfg.CooldownCap = cfg.Breaker.CooldownCapMs
	}

	m := metrics.New()
	breakerCfg.OnStateChange = func(destination string, from, to breaker.State) {
		if to == breaker.StateOpen {
			m.BreakerOpens.WithLabelValues(destination).Inc()
		}
		log.Info().Str("destination", destination).Str("from", string(from)).Str("to", string(to)).Msg("breaker state change")
	}
	breakers := breaker.NewManager(breakerCfg)

	tr := tracer.New(cfg.AppName, 1000)

	store, err := openStore(cfg.State)
	if err != nil {
		return nil, fmt.Errorf("runtime: open state store: %w", err)
	}

	commCfg := comm.DefaultConfig()
	commCfg.QueueCapacity = cfg.Queue.Capacity
	commCfg.DefaultTimeout = cfg.Queue.RequestTimeout
	commCfg.DefaultAttempts = cfg.Retry.MaxAttempts
	commCfg.DefaultRetryPolicy = envelope.RetryPolicy{
		Strategy:    cfg.Retry.Strategy,
		BaseMs:      cfg.Retry.BaseMs,
		Factor:      cfg.Retry.Factor,
		CapMs:       cfg.Retry.CapMs,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}
	manager := comm.New(commCfg, reg, breakers, tr, m, store)

	// Re-registration notifications ("emits a re-registration
	// notification on the internal topic system/registry").
	reg.OnReregister(func(agentID string) {
		_ = manager.Publish(context.Background(), "system", "system/registry", map[string]string{
			"event":    "re-registration",
			"agent_id": agentID,
		})
	})

	templates, err := workflow.LoadTemplates(cfg.TemplatesDir, log)
	if err != nil {
		return nil, fmt.Errorf("runtime: load templates: %w", err)
	}

	auditLog := audit.NewLog(store)
	prog := progress.NewPublisher(manager)

	engineCfg := workflow.DefaultConfig()
	engineCfg.DefaultStageTimeout = cfg.Workflow.DefaultStageTimeout
	engineCfg.DefaultApprovalTimeout = cfg.Workflow.ApprovalDefaultTimeout
	engineCfg.OnApprovalTimeout = workflow.ApprovalTimeoutPolicy(cfg.Workflow.OnApprovalTimeout)
	engine := workflow.NewEngine(engineCfg, manager, store, templates, auditLog, prog, log)

	blobs, err := blobstore.Open(cfg.State.BlobRoot)
	if err != nil {
		return nil, fmt.Errorf("runtime: open blob store: %w", err)
	}

	return &CoreRuntime{
		cfg:         cfg,
		log:         log,
		registry:    reg,
		breakers:    breakers,
		tracer:      tr,
		metrics:     m,
		store:       store,
		manager:     manager,
		templates:   templates,
		auditLog:    auditLog,
		progress:    prog,
		engine:      engine,
		blobs:       blobs,
		stopTickers: make(chan struct{}),
	}, nil
}

func openStore(cfg config.StateConfig) (state.Store, error) {
	switch cfg.Backend {
	case "badger":
		return state.NewBadgerStore(state.DefaultBadgerConfig(cfg.Path))
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("runtime: connect redis %s: %w", cfg.RedisAddr, err)
		}
		return state.NewRedisStore(client), nil
	default:
		return state.OpenMemoryStore(cfg.Path)
	}
}

// Manager exposes the Communication Manager for agent runners embedded
// in the same process.
func (r *CoreRuntime) Manager() *comm.Manager { return r.manager }

// Engine exposes the workflow engine for advanced callers (e.g. tests).
func (r *CoreRuntime) Engine() *workflow.Engine { return r.engine }

// BlobStore exposes the artifact store.
func (r *CoreRuntime) BlobStore() *blobstore.Store { return r.blobs }

// AuditLog exposes the audit trail for query surfaces.
func (r *CoreRuntime) AuditLog() *audit.Log { return r.auditLog }

// SubmitRFP begins a new workflow ("submit_rfp").
func (r *CoreRuntime) SubmitRFP(ctx context.Context, doc map[string]interface{}, templateID string) (string, error) {
	return r.engine.SubmitRFP(ctx, doc, templateID)
}

// GetWorkflow returns a workflow's current state record.
func (r *CoreRuntime) GetWorkflow(ctx context.Context, workflowID string) (*workflow.State, error) {
	return r.engine.Status(ctx, workflowID)
}

// CancelWorkflow transitions workflowID to cancelled.
func (r *CoreRuntime) CancelWorkflow(ctx context.Context, workflowID, reason string) error {
	return r.engine.Cancel(ctx, workflowID, reason)
}

// ListWorkflows returns every workflow matching filter.
func (r *CoreRuntime) ListWorkflows(ctx context.Context, filter workflow.Filter) ([]*workflow.State, error) {
	return r.engine.ListWorkflows(ctx, filter)
}

// SubmitApproval applies an approval decision ("submit_approval").
func (r *CoreRuntime) SubmitApproval(ctx context.Context, workflowID, stage, decision, approver, comment string) error {
	return r.engine.SubmitApproval(ctx, workflowID, stage, decision, approver, comment)
}

// ListDeadLettered returns every envelope parked in the dead letter queue.
func (r *CoreRuntime) ListDeadLettered(ctx context.Context) ([]comm.DeadLetterRecord, error) {
	return r.manager.ListDeadLettered(ctx)
}

// RequeueDeadLettered resends a dead-lettered envelope for another
// delivery attempt.
func (r *CoreRuntime) RequeueDeadLettered(ctx context.Context, messageID string) error {
	return r.manager.RequeueDeadLettered(ctx, messageID)
}

// Health reports the fabric's aggregate health ("GET /health").
func (r *CoreRuntime) Health() (string, map[string]string) {
	return r.manager.Health()
}

// MetricsSnapshot assembles the line-oriented /metrics payload.
func (r *CoreRuntime) MetricsSnapshot() httpapi.Snapshot {
	p50, p95, p99 := r.metrics.Percentiles(metrics.GlobalLatencyKey)
	stats := r.manager.Stats()
	queueSizes := make(map[string]int, len(stats.Queues))
	for agentID, qs := range stats.Queues {
		total := 0
		for _, n := range qs.SizeByLane {
			total += n
		}
		queueSizes[agentID] = total
	}
	return httpapi.Snapshot{
		MessagesTotal: r.metrics.MessagesByKindPriority(),
		QueueSizes:    queueSizes,
		LatencyMs: map[string]float64{
			"p50": float64(p50.Milliseconds()),
			"p95": float64(p95.Milliseconds()),
			"p99": float64(p99.Milliseconds()),
		},
		UptimeSeconds: stats.Uptime.Seconds(),
	}
}

// Start resumes any non-terminal workflows, begins the background
// sweeps (registry staleness, approval timeouts, state snapshot), and
// serves the HTTP health/metrics surface. It blocks until ctx is
// cancelled or a fatal HTTP error occurs.
func (r *CoreRuntime) Start(ctx context.Context) error {
	if err := r.engine.Resume(ctx); err != nil {
		r.log.Error().Err(err).Msg("workflow resumption failed")
	}

	go r.runTickers(ctx)

	handler := httpapi.New(r.manager, r, r, nil)
	r.httpServer = &http.Server{Addr: r.cfg.HTTP.Addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		r.log.Info().Str("addr", r.cfg.HTTP.Addr).Msg("http surface listening")
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return fmt.Errorf("runtime: http server: %w", err)
	}
}

func (r *CoreRuntime) runTickers(ctx context.Context) {
	registrySweep := time.NewTicker(r.cfg.Registry.HeartbeatInterval)
	approvalSweep := time.NewTicker(time.Minute)
	snapshotTicker := time.NewTicker(r.cfg.State.SnapshotInterval)
	defer registrySweep.Stop()
	defer approvalSweep.Stop()
	defer snapshotTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopTickers:
			return
		case <-registrySweep.C:
			r.registry.Sweep()
		case <-approvalSweep.C:
			if err := r.engine.SweepApprovalTimeouts(ctx); err != nil {
				r.log.Warn().Err(err).Msg("approval timeout sweep failed")
			}
		case <-snapshotTicker.C:
			if mem, ok := r.store.(*state.MemoryStore); ok {
				if err := mem.Snapshot(); err != nil {
					r.log.Warn().Err(err).Msg("state snapshot failed")
				}
			}
		}
	}
}

// Shutdown stops accepting new work and releases every collaborator's
// resources ("refuses operations when the process is shutting
// down").
func (r *CoreRuntime) Shutdown(ctx context.Context) error {
	close(r.stopTickers)

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(ctx); err != nil {
			r.log.Warn().Err(err).Msg("http server shutdown")
		}
	}
	if err := r.manager.Shutdown(ctx); err != nil {
		r.log.Warn().Err(err).Msg("manager shutdown")
	}
	if err := r.templates.Close(); err != nil {
		r.log.Warn().Err(err).Msg("template watcher shutdown")
	}
	if err := r.tracer.Shutdown(ctx); err != nil {
		r.log.Warn().Err(err).Msg("tracer shutdown")
	}
	if err := r.store.Close(); err != nil {
		r.log.Warn().Err(err).Msg("state store shutdown")
	}
	return nil
}
