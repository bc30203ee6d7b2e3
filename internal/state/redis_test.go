package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(client)
}

func TestRedisStoreSetGetDelete(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, NamespaceAgents, "pricing-agent:status", []byte("available")))
	v, err := s.Get(ctx, NamespaceAgents, "pricing-agent:status")
	require.NoError(t, err)
	assert.Equal(t, "available", string(v))

	require.NoError(t, s.Delete(ctx, NamespaceAgents, "pricing-agent:status"))
	_, err = s.Get(ctx, NamespaceAgents, "pricing-agent:status")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreTTL(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.SetWithTTL(ctx, NamespaceDLQ, "k", []byte("v"), 50*time.Millisecond))

	exists, err := s.Exists(ctx, NamespaceDLQ, "k")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRedisStoreKeysPrefix(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, NamespaceWorkflows, "wf-1:stage", []byte("parse")))
	require.NoError(t, s.Set(ctx, NamespaceWorkflows, "wf-2:stage", []byte("sales")))

	keys, err := s.Keys(ctx, NamespaceWorkflows, "wf-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "wf-1:stage", keys[0])
}
