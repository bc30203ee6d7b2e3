// Package comm implements the Communication Manager: the single facade
// uniting envelope, queue, registry, retry/breaker, tracer, metrics, and
// state that agents and the workflow engine use as an explicit
// collaborator in place of scattered globals, grounded on cellorg/
// public/agent/base.go's BaseAgent for the operation vocabulary and
// cellorg/internal/broker/service.go's topic/pipe duality for publish
// versus point-to-point delivery.
package comm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tenzoki/rfpflow/internal/breaker"
	"github.com/tenzoki/rfpflow/internal/coreerr"
	"github.com/tenzoki/rfpflow/internal/envelope"
	"github.com/tenzoki/rfpflow/internal/metrics"
	"github.com/tenzoki/rfpflow/internal/queue"
	"github.com/tenzoki/rfpflow/internal/registry"
	"github.com/tenzoki/rfpflow/internal/retry"
	"github.com/tenzoki/rfpflow/internal/state"
	"github.com/tenzoki/rfpflow/internal/tracer"
)

// Config tunes the manager's defaults.
type Config struct {
	QueueCapacity   int
	DefaultTimeout  time.Duration
	DefaultAttempts int
	// DefaultRetryPolicy governs requests that don't set their own
	// RetryPolicy: max_attempts defaults to 3, retry_strategy defaults
	// to exponential.
	DefaultRetryPolicy envelope.RetryPolicy
}

// DefaultConfig matches its documented defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:   10000,
		DefaultTimeout:  30 * time.Second,
		DefaultAttempts: 3,
		DefaultRetryPolicy: envelope.RetryPolicy{
			Strategy:    "exponential",
			BaseMs:      100,
			Factor:      2,
			CapMs:       5000,
			MaxAttempts: 3,
		},
	}
}

// handlerError distinguishes a retryable error envelope from a terminal
// one without widening the taxonomy Kind ("retried only if
// retryable: true").
type handlerError struct {
	retryable bool
	cause     *coreerr.Error
}

func (h *handlerError) Error() string { return h.cause.Error() }
func (h *handlerError) Unwrap() error { return h.cause }

// BroadcastOutcome is one recipient's result from a Broadcast fan-out.
// Broadcast is fire-and-forget with per-recipient observability, not an
// awaited ack from every recipient.
type BroadcastOutcome struct {
	AgentID string
	Outcome string
	Err     error
}

// Manager is the Communication Manager facade.
type Manager struct {
	cfg Config

	registry *registry.Registry
	breakers *breaker.Manager
	tracer   *tracer.Tracer
	metrics  *metrics.Metrics
	store    state.Store

	mu          sync.Mutex
	queues      map[string]*queue.Queue
	topics      map[string]map[string]struct{}
	pending     map[string]chan *envelope.Envelope
	shutdown    bool
}

// New constructs a Manager from its collaborators. All of them are
// normally built once per process and threaded in via pkg/runtime.
func New(cfg Config, reg *registry.Registry, breakers *breaker.Manager, tr *tracer.Tracer, m *metrics.Metrics, store state.Store) *Manager {
	return &Manager{
		cfg:      cfg,
		registry: reg,
		breakers: breakers,
		tracer:   tr,
		metrics:  m,
		store:    store,
		queues:   make(map[string]*queue.Queue),
		topics:   make(map[string]map[string]struct{}),
		pending:  make(map[string]chan *envelope.Envelope),
	}
}

// RegisterAgent delegates to the registry.
func (m *Manager) RegisterAgent(agentID, agentType string, capabilities []string, metadata map[string]string) registry.Entry {
	return *m.registry.Register(agentID, agentType, capabilities, metadata)
}

func (m *Manager) queueFor(agentID string) *queue.Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[agentID]
	if !ok {
		q = queue.New(agentID, m.cfg.QueueCapacity)
		m.queues[agentID] = q
	}
	return q
}

func (m *Manager) isShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// Send delivers env without awaiting a response: notifications,
// publishes already fanned out by Publish, and direct point-to-point
// sends where the caller does not need correlation ("send").
func (m *Manager) Send(ctx context.Context, env *envelope.Envelope, deadline time.Time) error {
	if m.isShuttingDown() {
		return coreerr.New(coreerr.KindUnavailable, "manager is shutting down")
	}
	if err := env.Validate(); err != nil {
		return coreerr.Wrap(coreerr.KindMalformed, err)
	}
	if env.IsExpired() {
		return coreerr.New(coreerr.KindExpired, "envelope expired before delivery")
	}

	// Responses and error replies correlate to a waiting Request() call and
	// bypass queue ordering entirely ( point 3), the same routing
	// Ack already uses.
	if env.CorrelationID != "" && (env.Kind == envelope.KindResponse || env.Kind == envelope.KindError || env.Kind == envelope.KindAck) {
		if m.deliverResponse(env) {
			m.metrics.Delivered.WithLabelValues(string(env.Kind), env.Priority.String()).Inc()
			return nil
		}
	}

	if _, ok := m.registry.Lookup(env.Recipient); !ok {
		return coreerr.New(coreerr.KindNoRoute, fmt.Sprintf("no route to %s", env.Recipient))
	}

	sendCtx := ctx
	var cancel context.CancelFunc
	if !deadline.IsZero() {
		sendCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	_, span := m.tracer.Start(sendCtx, env.MessageID)
	defer span.End()
	m.tracer.Hop(span, env.Sender, "sent")

	q := m.queueFor(env.Recipient)
	if err := q.Enqueue(sendCtx, env); err != nil {
		return err
	}
	m.tracer.Hop(span, env.Recipient, "enqueued")
	m.metrics.Sent.WithLabelValues(string(env.Kind), env.Priority.String()).Inc()
	return nil
}

// deliverResponse routes a response or ack envelope straight to its
// waiting Request() caller, bypassing queue ordering entirely: responses
// always reach the waiter regardless of how busy the recipient's queue is.
func (m *Manager) deliverResponse(env *envelope.Envelope) bool {
	m.mu.Lock()
	ch, ok := m.pending[env.CorrelationID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- env:
	default:
	}
	return true
}

// Request is the principal outbound primitive: send-and-await-response
// wrapped in retry and circuit-breaker policy.
func (m *Manager) Request(ctx context.Context, req *envelope.Envelope, timeout time.Duration) (*envelope.Envelope, error) {
	if m.isShuttingDown() {
		return nil, coreerr.New(coreerr.KindUnavailable, "manager is shutting down")
	}
	if err := req.Validate(); err != nil {
		return nil, coreerr.Wrap(coreerr.KindMalformed, err)
	}
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}

	ch := make(chan *envelope.Envelope, 1)
	m.mu.Lock()
	m.pending[req.MessageID] = ch
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, req.MessageID)
		m.mu.Unlock()
	}()

	tracedCtx, span := m.tracer.Start(ctx, req.MessageID)
	defer span.End()
	m.tracer.Hop(span, req.Sender, "processing_started")
	ctx = tracedCtx

	policy := req.RetryPolicy
	if policy == nil {
		policy = &m.cfg.DefaultRetryPolicy
	}
	strategy := retry.FromPolicy(policy)
	maxAttempts := retry.MaxAttempts(policy)

	var history []coreerr.AttemptRecord
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, coreerr.Wrap(coreerr.KindCancelled, ctx.Err())
		default:
		}

		resp, err := m.attempt(ctx, req, timeout, span)
		if err == nil {
			m.tracer.Hop(span, req.Recipient, "processing_finished")
			m.metrics.Delivered.WithLabelValues(string(req.Kind), req.Priority.String()).Inc()
			return resp, nil
		}

		if coreerr.Is(err, coreerr.KindBreakerOpen) {
			return nil, err
		}
		if coreerr.Is(err, coreerr.KindCancelled) || coreerr.Is(err, coreerr.KindMalformed) {
			return nil, err
		}
		if he, ok := err.(*handlerError); ok && !he.retryable {
			return nil, he.cause
		}

		kind := coreerr.KindHandlerError
		cause := err
		if he, ok := err.(*handlerError); ok {
			cause = he.cause
		}
		if ce, ok := cause.(*coreerr.Error); ok {
			kind = ce.Kind
		}
		history = append(history, coreerr.AttemptRecord{Attempt: attempt, Err: cause.Error(), Kind: kind})
		lastErr = cause

		if attempt < maxAttempts {
			m.tracer.Hop(span, req.Recipient, "retrying")
			m.metrics.Retried.WithLabelValues(string(req.Kind), fmt.Sprintf("%T", strategy)).Inc()
			delay := strategy.NextDelay(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, coreerr.Wrap(coreerr.KindCancelled, ctx.Err())
			}
		}
	}

	m.tracer.Hop(span, req.Recipient, "dead_lettered")
	m.deadLetter(ctx, req, lastErr, history, maxAttempts)
	m.metrics.DeadLettered.WithLabelValues(string(req.Kind)).Inc()
	m.metrics.Failed.WithLabelValues(string(req.Kind), "exhausted").Inc()
	return nil, &coreerr.Error{
		Kind:     coreerr.KindExhausted,
		Message:  "retries exhausted",
		Cause:    lastErr,
		Attempts: maxAttempts,
		History:  history,
	}
}

// attempt runs exactly one delivery-and-wait cycle through the
// destination's breaker.
func (m *Manager) attempt(ctx context.Context, req *envelope.Envelope, timeout time.Duration, span trace.Span) (*envelope.Envelope, error) {
	var resp *envelope.Envelope
	start := time.Now()
	err := m.breakers.Execute(ctx, req.Recipient, func(ctx context.Context) error {
		if _, ok := m.registry.Lookup(req.Recipient); !ok {
			return coreerr.New(coreerr.KindNoRoute, fmt.Sprintf("no route to %s", req.Recipient))
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		q := m.queueFor(req.Recipient)
		if err := q.Enqueue(attemptCtx, req); err != nil {
			return err
		}
		m.tracer.Hop(span, req.Recipient, "enqueued")
		m.metrics.Sent.WithLabelValues(string(req.Kind), req.Priority.String()).Inc()

		m.mu.Lock()
		ch := m.pending[req.MessageID]
		m.mu.Unlock()

		select {
		case r := <-ch:
			m.tracer.Hop(span, req.Recipient, "dequeued")
			if r.Kind == envelope.KindError {
				var body struct {
					Retryable bool   `json:"retryable"`
					Reason    string `json:"reason"`
				}
				_ = r.UnmarshalPayload(&body)
				return &handlerError{retryable: body.Retryable, cause: &coreerr.Error{Kind: coreerr.KindHandlerError, Message: body.Reason}}
			}
			resp = r
			return nil
		case <-attemptCtx.Done():
			return coreerr.New(coreerr.KindTimeout, "no response within timeout")
		}
	})
	if err == nil {
		// Keyed by recipient rather than message kind so the workflow
		// engine's agent-selection tie-break ("lowest recent
		// p95 latency") can read per-agent percentiles.
		m.metrics.ObserveLatency(req.Recipient, time.Since(start))
		m.metrics.ObserveLatency(metrics.GlobalLatencyKey, time.Since(start))
	}
	return resp, err
}

// RecipientPercentiles exposes per-agent latency percentiles for the
// workflow engine's agent-selection tie-break.
func (m *Manager) RecipientPercentiles(agentID string) (p50, p95, p99 time.Duration) {
	return m.metrics.Percentiles(agentID)
}

// QueueSize reports the current depth of agentID's queue, 0 if no queue
// has been created for it yet.
func (m *Manager) QueueSize(agentID string) int {
	m.mu.Lock()
	q, ok := m.queues[agentID]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return q.Size()
}

// AvailableByType returns every registered, available agent of agentType,
// ordered by registration time ("tie-break... registration
// order").
func (m *Manager) AvailableByType(agentType string) []registry.Entry {
	var out []registry.Entry
	for _, e := range m.registry.All() {
		if e.AgentType == agentType && e.Status == registry.StatusReady {
			out = append(out, e)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].RegisteredAt.After(out[j].RegisteredAt); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// deadLetter persists an exhausted request to the dlq namespace, keyed
// by the original message_id, recording reason, last_error, attempts,
// and the full retry history.
func (m *Manager) deadLetter(ctx context.Context, req *envelope.Envelope, lastErr error, history []coreerr.AttemptRecord, attempts int) {
	record := map[string]interface{}{
		"envelope":   req,
		"reason":     string(coreerr.KindExhausted),
		"last_error": fmt.Sprint(lastErr),
		"attempts":   attempts,
		"history":    history,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	_ = m.store.Set(ctx, state.NamespaceDLQ, req.MessageID, data)
}

// DeadLetterRecord is one persisted dlq entry.
type DeadLetterRecord struct {
	Envelope  *envelope.Envelope        `json:"envelope"`
	LastError string                    `json:"last_error"`
	Attempts  int                       `json:"attempts"`
	History   []coreerr.AttemptRecord   `json:"history"`
}

// ListDeadLettered returns every envelope currently parked in the dead
// letter queue (the "DLQ inspection CLI" supplemental feature).
func (m *Manager) ListDeadLettered(ctx context.Context) ([]DeadLetterRecord, error) {
	keys, err := m.store.Keys(ctx, state.NamespaceDLQ, "")
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetterRecord, 0, len(keys))
	for _, k := range keys {
		data, err := m.store.Get(ctx, state.NamespaceDLQ, k)
		if err != nil {
			continue
		}
		var rec DeadLetterRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// RequeueDeadLettered resends messageID's original envelope for another
// delivery attempt and removes it from the dead letter queue.
func (m *Manager) RequeueDeadLettered(ctx context.Context, messageID string) error {
	data, err := m.store.Get(ctx, state.NamespaceDLQ, messageID)
	if err != nil {
		return err
	}
	var rec DeadLetterRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("comm: decode dlq record %s: %w", messageID, err)
	}
	if rec.Envelope == nil {
		return fmt.Errorf("comm: dlq record %s has no envelope", messageID)
	}

	var payload interface{}
	if err := json.Unmarshal(rec.Envelope.Payload, &payload); err != nil {
		return fmt.Errorf("comm: decode dlq payload %s: %w", messageID, err)
	}
	requeued, err := envelope.NewRequest(rec.Envelope.Sender, rec.Envelope.Recipient, payload, envelope.Options{
		Priority:    rec.Envelope.Priority,
		TTLMs:       rec.Envelope.TTLMs,
		RequiresAck: rec.Envelope.RequiresAck,
		RetryPolicy: rec.Envelope.RetryPolicy,
	})
	if err != nil {
		return err
	}
	if err := m.Send(ctx, requeued, time.Time{}); err != nil {
		return err
	}
	return m.store.Delete(ctx, state.NamespaceDLQ, messageID)
}

// Broadcast fans a payload out to every registered agent matching
// filter, fire-and-forget, returning per-recipient outcomes (its
// resolved Open Question).
func (m *Manager) Broadcast(ctx context.Context, sender string, payload interface{}, filter func(registry.Entry) bool) []BroadcastOutcome {
	var targets []registry.Entry
	for _, e := range m.registry.All() {
		if e.Status != registry.StatusReady {
			continue
		}
		if filter == nil || filter(e) {
			targets = append(targets, e)
		}
	}

	outcomes := make([]BroadcastOutcome, 0, len(targets))
	for _, target := range targets {
		env, err := envelope.NewRequest(sender, target.AgentID, payload, envelope.Options{})
		if err != nil {
			outcomes = append(outcomes, BroadcastOutcome{AgentID: target.AgentID, Outcome: "error", Err: err})
			continue
		}
		env.Kind = envelope.KindBroadcast
		if err := m.Send(ctx, env, time.Time{}); err != nil {
			outcomes = append(outcomes, BroadcastOutcome{AgentID: target.AgentID, Outcome: "error", Err: err})
			continue
		}
		outcomes = append(outcomes, BroadcastOutcome{AgentID: target.AgentID, Outcome: "delivered"})
	}
	return outcomes
}

// Subscribe registers agentID as a subscriber of topic.
func (m *Manager) Subscribe(agentID, topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs, ok := m.topics[topic]
	if !ok {
		subs = make(map[string]struct{})
		m.topics[topic] = subs
	}
	subs[agentID] = struct{}{}
}

// Unsubscribe removes agentID from topic's subscriber set.
func (m *Manager) Unsubscribe(agentID, topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.topics[topic]; ok {
		delete(subs, agentID)
	}
}

// Publish fans payload out to every current subscriber of topic,
// best-effort, with each subscriber's own queue back-pressure applying
// independently ("Topic subscriptions").
func (m *Manager) Publish(ctx context.Context, sender, topic string, payload interface{}) error {
	if m.isShuttingDown() {
		return coreerr.New(coreerr.KindUnavailable, "manager is shutting down")
	}
	m.mu.Lock()
	subs := make([]string, 0, len(m.topics[topic]))
	for agentID := range m.topics[topic] {
		subs = append(subs, agentID)
	}
	m.mu.Unlock()

	for _, agentID := range subs {
		env, err := envelope.NewRequest(sender, agentID, payload, envelope.Options{})
		if err != nil {
			continue
		}
		env.Kind = envelope.KindPublish
		env.SetHeader("topic", topic)
		_ = m.Send(ctx, env, time.Time{})
	}
	return nil
}

// Receive pulls the next message from agentID's queue, respecting
// priority ("receive").
func (m *Manager) Receive(ctx context.Context, agentID string, deadline time.Time) (*envelope.Envelope, error) {
	if m.isShuttingDown() {
		return nil, coreerr.New(coreerr.KindUnavailable, "manager is shutting down")
	}
	recvCtx := ctx
	var cancel context.CancelFunc
	if !deadline.IsZero() {
		recvCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	q := m.queueFor(agentID)
	return q.Dequeue(recvCtx)
}

// Ack sends an acknowledgement for a processed requires_ack envelope
// back to its sender ("ack").
func (m *Manager) Ack(ctx context.Context, processed *envelope.Envelope, ackingAgent string) error {
	ack := envelope.NewAck(processed, ackingAgent)
	return m.Send(ctx, ack, time.Time{})
}

// SetState is a namespaced wrapper over the KV store for agent-owned
// state ("agents/state/").
func (m *Manager) SetState(ctx context.Context, agentID, key string, value []byte, ttl time.Duration) error {
	fullKey := agentID + ":" + key
	if ttl > 0 {
		return m.store.SetWithTTL(ctx, state.NamespaceAgents, fullKey, value, ttl)
	}
	return m.store.Set(ctx, state.NamespaceAgents, fullKey, value)
}

// GetState reads agentID's namespaced value for key.
func (m *Manager) GetState(ctx context.Context, agentID, key string) ([]byte, error) {
	return m.store.Get(ctx, state.NamespaceAgents, agentID+":"+key)
}

// Stats is a composite snapshot of every queue the manager has created.
type Stats struct {
	Queues  map[string]queue.Stats
	Uptime  time.Duration
}

// Stats returns a point-in-time composite read.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	queues := make(map[string]queue.Stats, len(m.queues))
	for id, q := range m.queues {
		queues[id] = q.Stats()
	}
	m.mu.Unlock()
	return Stats{Queues: queues, Uptime: m.metrics.Uptime()}
}

// Health classifies the manager's overall status from its queues' health
// and its shutdown state, for the /health endpoint. Breaker states are
// not consulted.
func (m *Manager) Health() (string, map[string]string) {
	components := make(map[string]string)
	worst := "healthy"

	m.mu.Lock()
	queues := make(map[string]*queue.Queue, len(m.queues))
	for id, q := range m.queues {
		queues[id] = q
	}
	m.mu.Unlock()

	for id, q := range queues {
		stats := q.Stats()
		components["queue:"+id] = string(stats.Health)
		if stats.Health == queue.HealthUnhealthy {
			worst = "unhealthy"
		} else if stats.Health == queue.HealthDegraded && worst == "healthy" {
			worst = "degraded"
		}
	}
	if m.isShuttingDown() {
		worst = "unhealthy"
		components["manager"] = "shutting_down"
	}
	return worst, components
}

// Shutdown stops accepting new operations and closes every queue. Once
// shutdown, further operations are refused with an unavailable error.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	queues := make([]*queue.Queue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	for _, q := range queues {
		q.Close()
	}
	return nil
}
