// Package audit maintains the append-only audit trail persisted
// alongside workflow state, keyed by `workflow_id:seq` in the
// "workflows/audit/" namespace. Every engine transition that matters for
// a human reviewing a failed or completed RFP is logged here, not just
// metrics.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tenzoki/rfpflow/internal/state"
)

// EventType enumerates the audit vocabulary the engine must emit
// coverage for. Callers are not restricted to this set but these are the
// ones the engine itself is required to emit.
type EventType string

const (
	EventWorkflowStart      EventType = "workflow_start"
	EventStageStart         EventType = "stage_start"
	EventStageFinish        EventType = "stage_finish"
	EventValidation         EventType = "validation"
	EventApprovalRequest    EventType = "approval_request"
	EventApprovalDecision   EventType = "approval_decision"
	EventDocumentGeneration EventType = "document_generation"
	EventErrorOccurred      EventType = "error_occurred"
	EventWorkflowComplete   EventType = "workflow_complete"
	EventWorkflowPaused     EventType = "workflow_paused"
	EventWorkflowResumed    EventType = "workflow_resumed"
)

// Severity classifies an audit entry for filtering.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Entry is one append-only audit record.
type Entry struct {
	WorkflowID  string                 `json:"workflow_id"`
	Seq         int64                  `json:"seq"`
	EventType   EventType              `json:"event_type"`
	Severity    Severity               `json:"severity"`
	Component   string                 `json:"component"`
	Description string                 `json:"description"`
	At          time.Time              `json:"at"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Log appends entries to the KV-backed audit namespace and lists them
// back per workflow for status and review endpoints.
type Log struct {
	store state.Store
}

// NewLog wraps store for audit persistence.
func NewLog(store state.Store) *Log {
	return &Log{store: store}
}

// Append records a new audit entry for workflowID, assigning the next
// sequence number.
func (l *Log) Append(ctx context.Context, workflowID string, eventType EventType, severity Severity, component, description string, data map[string]interface{}) error {
	keys, err := l.store.Keys(ctx, state.NamespaceAudit, workflowID+":")
	if err != nil {
		return err
	}
	seq := int64(len(keys)) + 1

	entry := Entry{
		WorkflowID:  workflowID,
		Seq:         seq,
		EventType:   eventType,
		Severity:    severity,
		Component:   component,
		Description: description,
		At:          time.Now(),
		Data:        data,
	}
	blob, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s:%d", workflowID, seq)
	return l.store.Set(ctx, state.NamespaceAudit, key, blob)
}

// List returns every audit entry recorded for workflowID, ordered by
// sequence number.
func (l *Log) List(ctx context.Context, workflowID string) ([]Entry, error) {
	keys, err := l.store.Keys(ctx, state.NamespaceAudit, workflowID+":")
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		blob, err := l.store.Get(ctx, state.NamespaceAudit, key)
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(blob, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}

	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].Seq > entries[j].Seq; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
	return entries, nil
}
