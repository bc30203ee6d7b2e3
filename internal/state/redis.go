package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the pluggable remote backend for deployments that share
// state across multiple coreserver processes ("pluggable remote
// backend"). It is exercised in tests against alicebob/miniredis/v2
// rather than a live redis server.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already-constructed redis client. Callers
// typically build client with redis.NewClient(&redis.Options{Addr: ...}).
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, namespacedKey(namespace, key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("state: redis get: %w", err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, namespace, key string, value []byte) error {
	return s.SetWithTTL(ctx, namespace, key, value, 0)
}

func (s *RedisStore) SetWithTTL(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, namespacedKey(namespace, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("state: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, namespace, key string) error {
	if err := s.client.Del(ctx, namespacedKey(namespace, key)).Err(); err != nil {
		return fmt.Errorf("state: redis delete: %w", err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, namespace, key string) (bool, error) {
	n, err := s.client.Exists(ctx, namespacedKey(namespace, key)).Result()
	if err != nil {
		return false, fmt.Errorf("state: redis exists: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Keys(ctx context.Context, namespace, prefix string) ([]string, error) {
	pattern := namespacedKey(namespace, prefix) + "*"
	var out []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		out = append(out, strings.TrimPrefix(full, namespace+"/"))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("state: redis scan: %w", err)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
