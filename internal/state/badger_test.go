package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewBadgerStore(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStoreSetGetDelete(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, NamespaceDLQ, "env-1", []byte("payload")))
	v, err := s.Get(ctx, NamespaceDLQ, "env-1")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(v))

	require.NoError(t, s.Delete(ctx, NamespaceDLQ, "env-1"))
	_, err = s.Get(ctx, NamespaceDLQ, "env-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStoreKeysPrefix(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, NamespaceWorkflows, "wf-1:stage", []byte("parse")))
	require.NoError(t, s.Set(ctx, NamespaceWorkflows, "wf-2:stage", []byte("sales")))

	keys, err := s.Keys(ctx, NamespaceWorkflows, "wf-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "wf-1:stage", keys[0])
}

func TestBadgerStoreClosedRejectsOperations(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBadgerStore(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Get(context.Background(), NamespaceDLQ, "x")
	assert.Error(t, err)
}
