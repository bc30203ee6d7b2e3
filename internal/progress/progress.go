// Package progress publishes the per-workflow progress stream the
// workflow engine emits on every state change, on the topic
// `workflow/progress`. It generalizes cellorg/public/orchestrator's
// Event/subscriber-channel bridge from Gox topic events to a fixed
// progress record shape, and keeps a latest-snapshot cache per workflow
// for query without replaying the whole stream.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/tenzoki/rfpflow/internal/comm"
)

// Topic is the well-known topic name progress events publish to.
const Topic = "workflow/progress"

// Event is one progress update.
type Event struct {
	WorkflowID string    `json:"workflow_id"`
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	Percent    int       `json:"percent"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// Publisher emits progress events through the Communication Manager and
// keeps the latest snapshot per workflow for direct query.
type Publisher struct {
	manager *comm.Manager

	mu        sync.RWMutex
	snapshots map[string]Event
}

// NewPublisher wraps manager for progress publication.
func NewPublisher(manager *comm.Manager) *Publisher {
	return &Publisher{manager: manager, snapshots: make(map[string]Event)}
}

// Emit publishes ev to the progress topic and updates the snapshot cache.
func (p *Publisher) Emit(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	p.mu.Lock()
	p.snapshots[ev.WorkflowID] = ev
	p.mu.Unlock()

	return p.manager.Publish(ctx, "workflow-engine", Topic, ev)
}

// Snapshot returns the latest known progress event for workflowID.
func (p *Publisher) Snapshot(workflowID string) (Event, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ev, ok := p.snapshots[workflowID]
	return ev, ok
}
