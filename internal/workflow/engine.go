package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tenzoki/rfpflow/internal/audit"
	"github.com/tenzoki/rfpflow/internal/comm"
	"github.com/tenzoki/rfpflow/internal/coreerr"
	"github.com/tenzoki/rfpflow/internal/envelope"
	"github.com/tenzoki/rfpflow/internal/progress"
	"github.com/tenzoki/rfpflow/internal/state"
)

// Config tunes engine-wide defaults.
type Config struct {
	DefaultStageTimeout   time.Duration
	DefaultApprovalTimeout time.Duration
	OnApprovalTimeout     ApprovalTimeoutPolicy
}

// DefaultConfig matches its documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultStageTimeout:    30 * time.Second,
		DefaultApprovalTimeout: 24 * time.Hour,
		OnApprovalTimeout:      ApprovalTimeoutReject,
	}
}

// Engine drives workflows through their templates. It is constructed
// once in pkg/runtime and driven by its public methods from the HTTP
// API and CLI.
type Engine struct {
	cfg       Config
	manager   *comm.Manager
	store     *store
	templates *TemplateSet
	audit     *audit.Log
	progress  *progress.Publisher
	log       zerolog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewEngine wires the engine's collaborators.
func NewEngine(cfg Config, manager *comm.Manager, backend state.Store, templates *TemplateSet, auditLog *audit.Log, prog *progress.Publisher, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		manager:   manager,
		store:     newStateStore(backend),
		templates: templates,
		audit:     auditLog,
		progress:  prog,
		log:       log.With().Str("component", "workflow.engine").Logger(),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// SubmitRFP begins a new workflow for document ("submit_rfp").
func (e *Engine) SubmitRFP(ctx context.Context, document map[string]interface{}, templateID string) (string, error) {
	tmpl, err := e.templates.Select(templateID, document)
	if err != nil {
		return "", err
	}

	workflowID := uuid.New().String()
	wf := &State{
		WorkflowID:   workflowID,
		RFPID:        fmt.Sprint(document["rfp_id"]),
		TemplateID:   tmpl.TemplateID,
		Status:       StatusPending,
		Context:      cloneContext(document),
		StageResults: make(map[string]StageResult),
		StartedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := e.store.save(ctx, wf); err != nil {
		return "", err
	}
	e.auditEvent(ctx, wf.WorkflowID, audit.EventWorkflowStart, audit.SeverityInfo, "engine", "workflow submitted", nil)
	e.emitProgress(ctx, wf, "", "pending", 0, "submitted")

	e.spawn(wf, tmpl)
	return workflowID, nil
}

// Status returns the current persisted state of workflowID.
func (e *Engine) Status(ctx context.Context, workflowID string) (*State, error) {
	return e.store.load(ctx, workflowID)
}

// Filter narrows ListWorkflows to a subset of workflows. A zero-valued
// field is ignored.
type Filter struct {
	Status     Status
	TemplateID string
}

// ListWorkflows returns every workflow matching filter, unordered. An
// empty filter returns every known workflow.
func (e *Engine) ListWorkflows(ctx context.Context, filter Filter) ([]*State, error) {
	all, err := e.store.listAll(ctx)
	if err != nil {
		return nil, err
	}
	if filter.Status == "" && filter.TemplateID == "" {
		return all, nil
	}
	out := make([]*State, 0, len(all))
	for _, wf := range all {
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		if filter.TemplateID != "" && wf.TemplateID != filter.TemplateID {
			continue
		}
		out = append(out, wf)
	}
	return out, nil
}

// Cancel transitions workflowID to cancelled, aborting any in-flight
// stage; no compensating action runs on completed stages.
func (e *Engine) Cancel(ctx context.Context, workflowID, reason string) error {
	e.mu.Lock()
	cancel, ok := e.cancels[workflowID]
	e.mu.Unlock()
	if ok {
		cancel()
	}

	wf, err := e.store.load(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status.Terminal() {
		return nil
	}
	wf.CancelReason = reason
	wf.Error = reason
	wf.markTerminal(StatusCancelled)
	if err := e.store.save(ctx, wf); err != nil {
		return err
	}
	e.auditEvent(ctx, workflowID, audit.EventErrorOccurred, audit.SeverityWarn, "engine", "workflow cancelled: "+reason, nil)
	e.emitProgress(ctx, wf, wf.CurrentStage, "cancelled", 100, reason)
	return nil
}

// Resume scans the workflows namespace on process start and restarts
// every non-terminal workflow at its current stage. Workflows waiting on
// approval are left suspended; they hold no runtime resources until a
// decision arrives.
func (e *Engine) Resume(ctx context.Context) error {
	pending, err := e.store.listNonTerminal(ctx)
	if err != nil {
		return err
	}
	for _, wf := range pending {
		if wf.Status == StatusWaitingApproval {
			e.log.Info().Str("workflow_id", wf.WorkflowID).Msg("workflow resumed into suspended approval wait")
			continue
		}
		tmpl, ok := e.templates.Get(wf.TemplateID)
		if !ok {
			e.log.Error().Str("workflow_id", wf.WorkflowID).Str("template_id", wf.TemplateID).Msg("cannot resume: template missing")
			continue
		}
		e.log.Info().Str("workflow_id", wf.WorkflowID).Str("stage", wf.CurrentStage).Msg("resuming workflow")
		e.spawn(wf, tmpl)
	}
	return nil
}

// SubmitApproval applies an approval decision to a waiting workflow:
// submit_approval(workflow_id, stage, decision, approver, comment?) → ack.
func (e *Engine) SubmitApproval(ctx context.Context, workflowID, stageName, decision, approver, comment string) error {
	wf, err := e.store.load(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status != StatusWaitingApproval || wf.ApprovalPending == nil || wf.ApprovalPending.Stage != stageName {
		return fmt.Errorf("workflow: %s is not awaiting approval on stage %s", workflowID, stageName)
	}
	tmpl, ok := e.templates.Get(wf.TemplateID)
	if !ok {
		return fmt.Errorf("workflow: template %s no longer loaded", wf.TemplateID)
	}

	e.auditEvent(ctx, workflowID, audit.EventApprovalDecision, audit.SeverityInfo, "engine",
		fmt.Sprintf("approval %s by %s: %s", decision, approver, comment), map[string]interface{}{
			"stage": stageName, "decision": decision, "approver": approver,
		})

	wf.ApprovalPending = nil
	switch decision {
	case "approve":
		wf.touch()
		if err := e.store.save(ctx, wf); err != nil {
			return err
		}
		e.spawn(wf, tmpl)
	case "reject":
		wf.Error = fmt.Sprintf("stage %s rejected by %s", stageName, approver)
		wf.markTerminal(StatusFailed)
		if err := e.store.save(ctx, wf); err != nil {
			return err
		}
		e.emitProgress(ctx, wf, stageName, "failed", 100, wf.Error)
	case "request_revision":
		// re-dispatch the same stage rather than advancing past it.
		kept := wf.CompletedStages[:0]
		for _, c := range wf.CompletedStages {
			if c != stageName {
				kept = append(kept, c)
			}
		}
		wf.CompletedStages = kept
		wf.touch()
		if err := e.store.save(ctx, wf); err != nil {
			return err
		}
		e.spawn(wf, tmpl)
	default:
		return fmt.Errorf("workflow: unknown approval decision %q", decision)
	}
	return nil
}

// SweepApprovalTimeouts applies each waiting workflow's configured
// approval-timeout policy once its deadline has elapsed. pkg/runtime
// calls this on a periodic ticker.
func (e *Engine) SweepApprovalTimeouts(ctx context.Context) error {
	pending, err := e.store.listNonTerminal(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, wf := range pending {
		if wf.Status != StatusWaitingApproval || wf.ApprovalPending == nil {
			continue
		}
		if now.Before(wf.ApprovalPending.TimeoutAt) {
			continue
		}
		policy := ApprovalTimeoutPolicy(wf.ApprovalPending.TimeoutPolicy)
		stageName := wf.ApprovalPending.Stage
		switch policy {
		case ApprovalTimeoutAutoApprove:
			_ = e.SubmitApproval(ctx, wf.WorkflowID, stageName, "approve", "system:timeout", "auto-approved on timeout")
		case ApprovalTimeoutEscalate:
			wf.ApprovalPending.TimeoutAt = now.Add(e.cfg.DefaultApprovalTimeout)
			_ = e.store.save(ctx, wf)
			e.auditEvent(ctx, wf.WorkflowID, audit.EventApprovalRequest, audit.SeverityWarn, "engine", "approval escalated after timeout", nil)
		default: // reject
			_ = e.SubmitApproval(ctx, wf.WorkflowID, stageName, "reject", "system:timeout", "rejected on timeout")
		}
	}
	return nil
}

func (e *Engine) spawn(wf *State, tmpl *Template) {
	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[wf.WorkflowID] = cancel
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.cancels, wf.WorkflowID)
			e.mu.Unlock()
			cancel()
		}()
		e.run(runCtx, wf, tmpl)
	}()
}

func cloneContext(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (e *Engine) auditEvent(ctx context.Context, workflowID string, eventType audit.EventType, sev audit.Severity, component, description string, data map[string]interface{}) {
	if err := e.audit.Append(ctx, workflowID, eventType, sev, component, description, data); err != nil {
		e.log.Warn().Err(err).Str("workflow_id", workflowID).Msg("audit append failed")
	}
}

func (e *Engine) emitProgress(ctx context.Context, wf *State, stage, status string, percent int, message string) {
	if err := e.progress.Emit(ctx, progress.Event{
		WorkflowID: wf.WorkflowID, Stage: stage, Status: status, Percent: percent, Message: message,
	}); err != nil {
		e.log.Warn().Err(err).Str("workflow_id", wf.WorkflowID).Msg("progress emit failed")
	}
}

// run drives wf through tmpl's stage list from wf.CurrentStage onward.
func (e *Engine) run(ctx context.Context, wf *State, tmpl *Template) {
	wf.Status = StatusRunning
	wf.touch()
	_ = e.store.save(ctx, wf)

	startIdx := 0
	if wf.CurrentStage != "" {
		for i, s := range tmpl.Stages {
			if s.Name == wf.CurrentStage {
				startIdx = i
				break
			}
		}
	}

	visitedGroups := make(map[string]bool)
	total := len(tmpl.Stages)

	for i := startIdx; i < len(tmpl.Stages); i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		stage := tmpl.Stages[i]
		if wf.stageCompleted(stage.Name) {
			// already ran before an approval gate suspended the workflow;
			// resuming must continue past it, not redispatch it.
			continue
		}
		if stage.ParallelGroup != "" {
			if visitedGroups[stage.ParallelGroup] {
				continue
			}
			visitedGroups[stage.ParallelGroup] = true
			if !e.runParallelGroup(ctx, wf, tmpl, stage.ParallelGroup, i, total) {
				return
			}
			continue
		}

		if !e.runStage(ctx, wf, tmpl, stage, i, total) {
			return
		}
	}

	e.finish(ctx, wf, tmpl)
}

// runParallelGroup dispatches every stage sharing group concurrently and
// awaits the group as a whole before the next non-parallel stage begins.
func (e *Engine) runParallelGroup(ctx context.Context, wf *State, tmpl *Template, group string, idx, total int) bool {
	members := ParallelGroup(tmpl, group)
	groupTimeout := time.Duration(0)
	for _, s := range members {
		t := time.Duration(s.TimeoutMs) * time.Millisecond
		if t > groupTimeout {
			groupTimeout = t
		}
	}
	if groupTimeout == 0 {
		groupTimeout = e.cfg.DefaultStageTimeout
	}

	groupCtx, cancel := context.WithTimeout(ctx, groupTimeout)
	defer cancel()

	var wg sync.WaitGroup
	ok := true
	var mu sync.Mutex
	for _, s := range members {
		wg.Add(1)
		go func(s Stage) {
			defer wg.Done()
			if !e.runStage(groupCtx, wf, tmpl, s, idx, total) {
				mu.Lock()
				ok = false
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	return ok
}

// runStage executes one stage end to end: skip evaluation, dispatch,
// approval gate, and on_error handling. Returns false if the workflow
// has reached a terminal or suspended state and run() should stop.
func (e *Engine) runStage(ctx context.Context, wf *State, tmpl *Template, stage Stage, idx, total int) bool {
	wf.CurrentStage = stage.Name
	wf.touch()
	_ = e.store.save(ctx, wf)
	e.auditEvent(ctx, wf.WorkflowID, audit.EventStageStart, audit.SeverityInfo, stage.Name, "stage started", nil)
	e.emitProgress(ctx, wf, stage.Name, "running", percentFor(idx, total), "")

	if ShouldSkip(stage, wf.Context) {
		e.recordResult(wf, stage.Name, StageResult{Stage: stage.Name, Status: "skipped", Timing: StageTiming{}})
		e.auditEvent(ctx, wf.WorkflowID, audit.EventStageFinish, audit.SeverityInfo, stage.Name, "stage skipped", nil)
		return true
	}

	result, err := e.dispatchStage(ctx, wf, stage)
	if err != nil {
		return e.handleStageError(ctx, wf, tmpl, stage, idx, total, err)
	}

	e.recordResult(wf, stage.Name, result)
	e.mergeOutputs(wf, stage, result.Payload)
	e.auditEvent(ctx, wf.WorkflowID, audit.EventStageFinish, audit.SeverityInfo, stage.Name, "stage finished", nil)
	if tmpl.ResponseBuilds != "" && stage.Name == tmpl.ResponseBuilds {
		e.auditEvent(ctx, wf.WorkflowID, audit.EventDocumentGeneration, audit.SeverityInfo, stage.Name, "response document generated", nil)
	}
	e.emitProgress(ctx, wf, stage.Name, "running", percentFor(idx+1, total), "")

	if stage.RequiresApproval {
		return e.enterApprovalWait(ctx, wf, stage)
	}
	return true
}

func percentFor(completed, total int) int {
	if total == 0 {
		return 100
	}
	p := completed * 100 / total
	if p > 100 {
		p = 100
	}
	return p
}

// dispatchStage selects a handler agent and runs the request through the
// Retry & Breaker layer ( point 3).
func (e *Engine) dispatchStage(ctx context.Context, wf *State, stage Stage) (StageResult, error) {
	start := time.Now()
	attempts := 0

	agentID, err := selectAgent(e.manager, stage.HandlerAgentType)
	if err != nil {
		return StageResult{}, err
	}

	timeout := time.Duration(stage.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = e.cfg.DefaultStageTimeout
	}

	req, err := envelope.NewRequest("workflow-engine", agentID, stagePayload(wf, stage), envelope.Options{
		Priority: envelope.PriorityNormal,
	})
	if err != nil {
		return StageResult{}, err
	}

	resp, err := e.manager.Request(ctx, req, timeout)
	attempts++
	if exhausted, ok := err.(*coreerr.Error); ok && exhausted.Kind == coreerr.KindExhausted {
		attempts = exhausted.Attempts
	}
	finished := time.Now()
	if err != nil {
		return StageResult{
			Stage:  stage.Name,
			Status: "failed",
			Timing: StageTiming{StartedAt: start, FinishedAt: finished, Duration: finished.Sub(start), Attempts: attempts},
			Error:  err.Error(),
		}, err
	}

	var payload map[string]interface{}
	_ = resp.UnmarshalPayload(&payload)

	return StageResult{
		Stage:   stage.Name,
		Status:  "completed",
		Payload: payload,
		Timing:  StageTiming{StartedAt: start, FinishedAt: finished, Duration: finished.Sub(start), Attempts: attempts},
	}, nil
}

func stagePayload(wf *State, stage Stage) map[string]interface{} {
	payload := cloneContext(wf.Context)
	payload["workflow_id"] = wf.WorkflowID
	payload["stage"] = stage.Name
	return payload
}

func (e *Engine) recordResult(wf *State, stageName string, result StageResult) {
	wf.StageResults[stageName] = result
	wf.CompletedStages = append(wf.CompletedStages, stageName)
	wf.touch()
}

func (e *Engine) mergeOutputs(wf *State, stage Stage, payload map[string]interface{}) {
	if payload == nil {
		return
	}
	for _, m := range stage.OutputMappings {
		if v, ok := payload[m.From]; ok {
			wf.Context[m.To] = v
		}
	}
}

// handleStageError applies the stage's on_error policy ( point
// 6).
func (e *Engine) handleStageError(ctx context.Context, wf *State, tmpl *Template, stage Stage, idx, total int, stageErr error) bool {
	e.recordResult(wf, stage.Name, StageResult{Stage: stage.Name, Status: "failed", Error: stageErr.Error()})
	if coreerr.Is(stageErr, coreerr.KindMalformed) {
		e.auditEvent(ctx, wf.WorkflowID, audit.EventValidation, audit.SeverityError, stage.Name, stageErr.Error(), nil)
	}
	e.auditEvent(ctx, wf.WorkflowID, audit.EventErrorOccurred, audit.SeverityError, stage.Name, stageErr.Error(), nil)

	policy := stage.OnError
	if policy == "" {
		policy = OnErrorFailWorkflow
	}

	switch policy {
	case OnErrorSkipStage:
		return true
	case OnErrorRetryStage:
		// retry budget is exhausted via the Retry & Breaker layer before
		// dispatchStage returns an error at all; a second attempt here
		// would just repeat the same exhausted outcome, so this degrades
		// to fail_workflow, matching its "exhausted" terminal.
		wf.Error = stageErr.Error()
		wf.markTerminal(StatusFailed)
		_ = e.store.save(ctx, wf)
		e.auditEvent(ctx, wf.WorkflowID, audit.EventWorkflowComplete, audit.SeverityError, "engine", "workflow failed", nil)
		e.emitProgress(ctx, wf, stage.Name, "failed", percentFor(idx, total), stageErr.Error())
		return false
	case OnErrorRouteTo:
		for i, s := range tmpl.Stages {
			if s.Name == stage.RouteTo {
				return e.runStage(ctx, wf, tmpl, s, i, total)
			}
		}
		fallthrough
	default: // fail_workflow
		wf.Error = stageErr.Error()
		wf.markTerminal(StatusFailed)
		_ = e.store.save(ctx, wf)
		e.auditEvent(ctx, wf.WorkflowID, audit.EventWorkflowComplete, audit.SeverityError, "engine", "workflow failed", nil)
		e.emitProgress(ctx, wf, stage.Name, "failed", percentFor(idx, total), stageErr.Error())
		return false
	}
}

// enterApprovalWait suspends the workflow until an approval decision
// arrives or the timeout policy fires ("logical suspension").
func (e *Engine) enterApprovalWait(ctx context.Context, wf *State, stage Stage) bool {
	timeout := e.cfg.DefaultApprovalTimeout
	wf.Status = StatusWaitingApproval
	wf.ApprovalPending = &ApprovalPending{
		Stage:         stage.Name,
		ApproverRoles: stage.ApproverRoles,
		RequestedAt:   time.Now(),
		TimeoutAt:     time.Now().Add(timeout),
		TimeoutPolicy: string(coalescePolicy(stage.ApprovalTimeout, e.cfg.OnApprovalTimeout)),
	}
	wf.touch()
	_ = e.store.save(ctx, wf)
	e.auditEvent(ctx, wf.WorkflowID, audit.EventApprovalRequest, audit.SeverityInfo, stage.Name,
		fmt.Sprintf("approval requested for stage %s", stage.Name), map[string]interface{}{"approver_roles": stage.ApproverRoles})
	e.emitProgress(ctx, wf, stage.Name, "waiting_approval", 0, "awaiting approval")
	return false
}

func coalescePolicy(stagePolicy, fallback ApprovalTimeoutPolicy) ApprovalTimeoutPolicy {
	if stagePolicy != "" {
		return stagePolicy
	}
	return fallback
}

// finish runs the template's response_builder stage (if any) and marks
// the workflow terminal ("On completion").
func (e *Engine) finish(ctx context.Context, wf *State, tmpl *Template) {
	if tmpl.ResponseBuilds != "" && !wf.stageCompleted(tmpl.ResponseBuilds) {
		for i, s := range tmpl.Stages {
			if s.Name == tmpl.ResponseBuilds {
				if !e.runStage(ctx, wf, tmpl, s, i, len(tmpl.Stages)) {
					return
				}
				break
			}
		}
	}
	wf.markTerminal(StatusCompleted)
	_ = e.store.save(ctx, wf)
	e.auditEvent(ctx, wf.WorkflowID, audit.EventWorkflowComplete, audit.SeverityInfo, "engine", "workflow completed", nil)
	e.emitProgress(ctx, wf, wf.CurrentStage, "completed", 100, "")
}
