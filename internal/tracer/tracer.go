// Package tracer records the hop-by-hop trace of an envelope's transit
// through the fabric (enqueued, dequeued, processing_started,
// processing_finished, retrying, dead_lettered, expired). It is built
// on go.opentelemetry.io/otel/sdk as a custom trace.SpanProcessor so
// hops become spans without requiring a configured OTLP exporter or
// collector to run standalone.
package tracer

import (
	"container/ring"
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Hop is one recorded transit event for an envelope.
type Hop struct {
	MessageID string
	AgentID   string
	Action    string
	At        time.Time
}

// Tracer owns an OpenTelemetry TracerProvider wired to a ring-buffering
// SpanProcessor, plus a query surface over the recorded hops.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	proc     *ringProcessor
}

// New constructs a Tracer. ringSize bounds how many recent hops are kept
// in memory per message id before the oldest are evicted.
func New(serviceName string, ringSize int) *Tracer {
	proc := newRingProcessor(ringSize)
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(proc))
	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
		proc:     proc,
	}
}

// Start begins a span for an envelope's journey through the fabric,
// tagging it with the message id so hops can be queried back out.
func (t *Tracer) Start(ctx context.Context, messageID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "envelope.transit",
		trace.WithAttributes(attribute.String("message_id", messageID)))
	return ctx, span
}

// Hop records one transit event against an in-flight span (its
// hop vocabulary: enqueued, dequeued, processing_started,
// processing_finished, retrying, dead_lettered, expired).
func (t *Tracer) Hop(span trace.Span, agentID, action string) {
	span.AddEvent(action, trace.WithAttributes(attribute.String("agent_id", agentID)))
}

// RecentHops returns the hops recorded for messageID, oldest first.
func (t *Tracer) RecentHops(messageID string) []Hop {
	return t.proc.hopsFor(messageID)
}

// Shutdown flushes the underlying provider. Safe to call once at process
// exit.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// ringProcessor is a trace.SpanProcessor that, on span end, extracts the
// message_id attribute and each recorded event as a Hop, storing them in
// a per-message bounded ring buffer. Ingestion never blocks span
// completion: OnEnd hands off to a single worker goroutine over a
// buffered channel, dropping (not blocking) when that channel is full.
type ringProcessor struct {
	ringSize int
	incoming chan sdktrace.ReadOnlySpan

	mu     sync.Mutex
	byMsg  map[string]*ring.Ring
	closed chan struct{}
}

func newRingProcessor(ringSize int) *ringProcessor {
	if ringSize <= 0 {
		ringSize = 100
	}
	p := &ringProcessor{
		ringSize: ringSize,
		incoming: make(chan sdktrace.ReadOnlySpan, 1024),
		byMsg:    make(map[string]*ring.Ring),
		closed:   make(chan struct{}),
	}
	go p.worker()
	return p
}

func (p *ringProcessor) worker() {
	for {
		select {
		case span, ok := <-p.incoming:
			if !ok {
				return
			}
			p.ingest(span)
		case <-p.closed:
			return
		}
	}
}

func (p *ringProcessor) ingest(span sdktrace.ReadOnlySpan) {
	var messageID string
	for _, attr := range span.Attributes() {
		if attr.Key == "message_id" {
			messageID = attr.Value.AsString()
			break
		}
	}
	if messageID == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.byMsg[messageID]
	if !ok {
		r = ring.New(p.ringSize)
		p.byMsg[messageID] = r
	}
	for _, event := range span.Events() {
		agentID := ""
		for _, attr := range event.Attributes {
			if attr.Key == "agent_id" {
				agentID = attr.Value.AsString()
			}
		}
		r.Value = Hop{MessageID: messageID, AgentID: agentID, Action: event.Name, At: event.Time}
		r = r.Next()
	}
	p.byMsg[messageID] = r
}

func (p *ringProcessor) hopsFor(messageID string) []Hop {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.byMsg[messageID]
	if !ok {
		return nil
	}
	var hops []Hop
	r.Do(func(v interface{}) {
		if v == nil {
			return
		}
		hops = append(hops, v.(Hop))
	})
	return hops
}

// OnStart is a no-op; hops are attached as span events and extracted at
// OnEnd once the full event list is available.
func (p *ringProcessor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {}

// OnEnd hands the finished span to the ingestion worker without
// blocking the caller.
func (p *ringProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	select {
	case p.incoming <- s:
	default:
	}
}

// Shutdown stops the ingestion worker.
func (p *ringProcessor) Shutdown(ctx context.Context) error {
	close(p.closed)
	return nil
}

// ForceFlush is a no-op; there is no downstream exporter to flush.
func (p *ringProcessor) ForceFlush(ctx context.Context) error { return nil }
