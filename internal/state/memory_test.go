package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetGetDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, NamespaceWorkflows, "wf-1", []byte("running")))

	v, err := s.Get(ctx, NamespaceWorkflows, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "running", string(v))

	require.NoError(t, s.Delete(ctx, NamespaceWorkflows, "wf-1"))
	_, err = s.Get(ctx, NamespaceWorkflows, "wf-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SetWithTTL(ctx, NamespaceDLQ, "k", []byte("v"), 10*time.Millisecond))

	exists, err := s.Exists(ctx, NamespaceDLQ, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	time.Sleep(20 * time.Millisecond)
	exists, err = s.Exists(ctx, NamespaceDLQ, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStoreKeysPrefix(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, NamespaceAgents, "pricing-agent:queue_size", []byte("3")))
	require.NoError(t, s.Set(ctx, NamespaceAgents, "pricing-agent:status", []byte("available")))
	require.NoError(t, s.Set(ctx, NamespaceAgents, "sales-agent:status", []byte("busy")))

	keys, err := s.Keys(ctx, NamespaceAgents, "pricing-agent:")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestMemoryStoreSnapshotRestore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.ndjson")
	ctx := context.Background()

	s1, err := OpenMemoryStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, NamespaceWorkflows, "wf-1", []byte("stage_2")))
	require.NoError(t, s1.Close())

	s2, err := OpenMemoryStore(path)
	require.NoError(t, err)
	v, err := s2.Get(ctx, NamespaceWorkflows, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "stage_2", string(v))
}

func TestMemoryStoreSnapshotOmitsExpiredEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.ndjson")
	ctx := context.Background()

	s1, err := OpenMemoryStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.SetWithTTL(ctx, NamespaceDLQ, "gone", []byte("x"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s1.Close())

	s2, err := OpenMemoryStore(path)
	require.NoError(t, err)
	_, err = s2.Get(ctx, NamespaceDLQ, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}
