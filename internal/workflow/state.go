package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tenzoki/rfpflow/internal/state"
)

// Status is the workflow's coarse lifecycle state ("Workflow
// state").
type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusWaitingApproval Status = "waiting_approval"
	StatusPaused          Status = "paused"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// Terminal reports whether s is one of the workflow's terminal states.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StageTiming records timing telemetry for one stage execution.
type StageTiming struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
}

// StageResult is what a completed or skipped stage leaves behind.
type StageResult struct {
	Stage   string                 `json:"stage"`
	Status  string                 `json:"status"` // completed, skipped, failed
	Payload map[string]interface{} `json:"payload,omitempty"`
	Timing  StageTiming            `json:"timing"`
	Error   string                 `json:"error,omitempty"`
}

// ApprovalPending describes an in-flight approval gate.
type ApprovalPending struct {
	Stage          string    `json:"stage"`
	ApproverRoles  []string  `json:"approver_roles"`
	RequestedAt    time.Time `json:"requested_at"`
	TimeoutAt      time.Time `json:"timeout_at"`
	TimeoutPolicy  string    `json:"timeout_policy"`
}

// State is the persisted record of one workflow instance.
type State struct {
	WorkflowID      string                            `json:"workflow_id"`
	RFPID           string                            `json:"rfp_id"`
	TemplateID      string                            `json:"template_id"`
	Status          Status                            `json:"status"`
	CurrentStage    string                            `json:"current_stage"`
	CompletedStages []string                           `json:"completed_stages"`
	StageResults    map[string]StageResult             `json:"stage_results"`
	Context         map[string]interface{}             `json:"context"`
	StartedAt       time.Time                          `json:"started_at"`
	UpdatedAt       time.Time                          `json:"updated_at"`
	EndedAt         *time.Time                         `json:"ended_at,omitempty"`
	Error           string                             `json:"error,omitempty"`
	ApprovalPending *ApprovalPending                   `json:"approval_pending,omitempty"`
	CancelReason    string                             `json:"cancel_reason,omitempty"`
}

func (s *State) touch() { s.UpdatedAt = time.Now() }

// stageCompleted reports whether name has already recorded a result,
// so a resumed run doesn't redispatch a stage whose approval gate
// suspended it after it had already executed.
func (s *State) stageCompleted(name string) bool {
	for _, c := range s.CompletedStages {
		if c == name {
			return true
		}
	}
	return false
}

func (s *State) markTerminal(status Status) {
	s.Status = status
	now := time.Now()
	s.EndedAt = &now
	s.touch()
}

// store persists and loads workflow State in the workflows KV namespace,
// keyed by workflow_id, snapshotted after every stage transition.
type store struct {
	backend state.Store
}

func newStateStore(backend state.Store) *store { return &store{backend: backend} }

func (s *store) save(ctx context.Context, wf *State) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("workflow: marshal state: %w", err)
	}
	return s.backend.Set(ctx, state.NamespaceWorkflows, wf.WorkflowID, data)
}

func (s *store) load(ctx context.Context, workflowID string) (*State, error) {
	data, err := s.backend.Get(ctx, state.NamespaceWorkflows, workflowID)
	if err != nil {
		return nil, err
	}
	var wf State
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("workflow: unmarshal state: %w", err)
	}
	return &wf, nil
}

func (s *store) listNonTerminal(ctx context.Context) ([]*State, error) {
	keys, err := s.backend.Keys(ctx, state.NamespaceWorkflows, "")
	if err != nil {
		return nil, err
	}
	var out []*State
	for _, k := range keys {
		wf, err := s.load(ctx, k)
		if err != nil {
			continue
		}
		if !wf.Status.Terminal() {
			out = append(out, wf)
		}
	}
	return out, nil
}

// listAll returns every workflow record in the namespace, terminal or
// not ("list_workflows(filter) → [summary]").
func (s *store) listAll(ctx context.Context) ([]*State, error) {
	keys, err := s.backend.Keys(ctx, state.NamespaceWorkflows, "")
	if err != nil {
		return nil, err
	}
	out := make([]*State, 0, len(keys))
	for _, k := range keys {
		wf, err := s.load(ctx, k)
		if err != nil {
			continue
		}
		out = append(out, wf)
	}
	return out, nil
}
