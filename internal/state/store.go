// Package state is the namespaced key/value contract backing workflow
// snapshots, agent-visible shared state, and the dead-letter queue, split
// into "workflows/", "workflows/audit/", "agents/state/", and "dlq/"
// namespaces. It generalizes omni/internal/kv.KVStore's
// Get/Set/Delete/Exists/SetWithTTL/Scan contract, keeping the same small
// surface but widening the namespace model from omni's fixed kv/graph/
// fulltext split to the four namespaces the fabric actually needs.
package state

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent (or expired).
var ErrNotFound = errors.New("state: key not found")

// Store is the namespaced KV contract every backend implements.
type Store interface {
	// Get retrieves value under namespace/key. Returns ErrNotFound if
	// absent or expired.
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	// Set writes value under namespace/key with no expiry.
	Set(ctx context.Context, namespace, key string, value []byte) error
	// SetWithTTL writes value under namespace/key, expiring after ttl.
	SetWithTTL(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
	// Delete removes namespace/key. Deleting an absent key is not an error.
	Delete(ctx context.Context, namespace, key string) error
	// Exists reports whether namespace/key is present and unexpired.
	Exists(ctx context.Context, namespace, key string) (bool, error)
	// Keys lists every key in namespace whose name has the given prefix.
	Keys(ctx context.Context, namespace, prefix string) ([]string, error)
	// Close releases any resources held by the backend.
	Close() error
}

// Namespace constants partition the KV store's keyspace.
const (
	NamespaceWorkflows = "workflows"
	NamespaceAudit     = "workflows/audit"
	NamespaceAgents    = "agents/state"
	NamespaceDLQ       = "dlq"
)

// namespacedKey joins a namespace and key the way omni/internal/common's
// KeyBuilder does, using '/' as the sole separator.
func namespacedKey(namespace, key string) string {
	return namespace + "/" + key
}
