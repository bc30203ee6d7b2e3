package state

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig tunes the production KV backend, adapted from omni/
// internal/storage.Config with the graph/fulltext-oriented fields
// trimmed since this backend only ever stores opaque KV entries.
type BadgerConfig struct {
	Dir              string
	SyncWrites       bool
	ValueLogFileSize int64
	GCInterval       time.Duration
}

// DefaultBadgerConfig matches omni/internal/storage.DefaultConfig's
// conservative defaults.
func DefaultBadgerConfig(dir string) BadgerConfig {
	return BadgerConfig{
		Dir:              dir,
		SyncWrites:       false,
		ValueLogFileSize: 1 << 28,
		GCInterval:       5 * time.Minute,
	}
}

// BadgerStore is the durable, on-disk Store backend for production
// deployments ("durable state store").
type BadgerStore struct {
	db       *badger.DB
	mu       sync.RWMutex
	closed   bool
	gcCancel chan struct{}
}

// NewBadgerStore opens (creating if absent) a badger database at
// cfg.Dir and starts its periodic value-log garbage collector.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create badger dir: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.SyncWrites = cfg.SyncWrites
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("state: open badger: %w", err)
	}

	s := &BadgerStore{db: db, gcCancel: make(chan struct{})}
	if cfg.GCInterval > 0 {
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for s.db.RunValueLogGC(0.5) == nil {
			}
		case <-s.gcCancel:
			return
		}
	}
}

func (s *BadgerStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *BadgerStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if s.isClosed() {
		return nil, fmt.Errorf("state: store is closed")
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(namespacedKey(namespace, key)))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("state: get: %w", err)
	}
	return value, nil
}

func (s *BadgerStore) Set(ctx context.Context, namespace, key string, value []byte) error {
	if s.isClosed() {
		return fmt.Errorf("state: store is closed")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(namespacedKey(namespace, key)), value)
	})
}

func (s *BadgerStore) SetWithTTL(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if s.isClosed() {
		return fmt.Errorf("state: store is closed")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(namespacedKey(namespace, key)), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (s *BadgerStore) Delete(ctx context.Context, namespace, key string) error {
	if s.isClosed() {
		return fmt.Errorf("state: store is closed")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(namespacedKey(namespace, key)))
	})
}

func (s *BadgerStore) Exists(ctx context.Context, namespace, key string) (bool, error) {
	_, err := s.Get(ctx, namespace, key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *BadgerStore) Keys(ctx context.Context, namespace, prefix string) ([]string, error) {
	if s.isClosed() {
		return nil, fmt.Errorf("state: store is closed")
	}
	fullPrefix := namespacedKey(namespace, prefix)
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		fullPrefixBytes := []byte(fullPrefix)
		for it.Seek(fullPrefixBytes); it.ValidForPrefix(fullPrefixBytes); it.Next() {
			full := string(it.Item().Key())
			keys = append(keys, strings.TrimPrefix(full, namespace+"/"))
		}
		return nil
	})
	return keys, err
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.gcCancel)
	return s.db.Close()
}
