package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenzoki/rfpflow/internal/state"
)

func TestAppendAssignsIncreasingSequenceNumbers(t *testing.T) {
	log := NewLog(state.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, "wf-1", EventWorkflowStart, SeverityInfo, "engine", "workflow started", nil))
	require.NoError(t, log.Append(ctx, "wf-1", EventStageStart, SeverityInfo, "engine", "stage pricing started", nil))

	entries, err := log.List(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Seq)
	assert.Equal(t, int64(2), entries[1].Seq)
	assert.Equal(t, EventWorkflowStart, entries[0].EventType)
	assert.Equal(t, EventStageStart, entries[1].EventType)
}

func TestListIsScopedToOneWorkflow(t *testing.T) {
	log := NewLog(state.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, "wf-1", EventWorkflowStart, SeverityInfo, "engine", "started", nil))
	require.NoError(t, log.Append(ctx, "wf-2", EventWorkflowStart, SeverityInfo, "engine", "started", nil))

	entries, err := log.List(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "wf-1", entries[0].WorkflowID)
}

func TestListReturnsEmptyForUnknownWorkflow(t *testing.T) {
	log := NewLog(state.NewMemoryStore())
	entries, err := log.List(context.Background(), "never-submitted")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
