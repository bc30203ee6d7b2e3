// Package metrics exposes the fabric's operational counters and
// histograms through a prometheus registry, grounded on the
// prometheus/client_golang registries used across the retrieval pack
// (NewCounterVec/NewGaugeVec/NewHistogramVec). Percentile convenience
// readers (p50/p95/p99) are layered on top for the line-oriented
// /metrics surface in internal/httpapi, which has no Prometheus scraper
// attached in its minimal deployment.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the fabric and workflow engine report
// to. It is safe for concurrent use; all fields are prometheus
// collectors with their own internal locking.
type Metrics struct {
	registry *prometheus.Registry
	start    time.Time

	Sent          *prometheus.CounterVec
	Delivered     *prometheus.CounterVec
	Failed        *prometheus.CounterVec
	Retried       *prometheus.CounterVec
	DeadLettered  *prometheus.CounterVec
	QueueSize     *prometheus.GaugeVec
	QueueDropped  *prometheus.CounterVec
	Latency       *prometheus.HistogramVec
	BreakerOpens  *prometheus.CounterVec

	windows   map[string]*latencyWindow
	windowsMu sync.Mutex
}

// latencyWindow keeps a bounded recent sample set per kind so the
// line-oriented /metrics endpoint can report p50/p95/p99
// without a PromQL engine attached; the Histogram collector above still
// carries the full-fidelity buckets for anyone scraping this registry.
type latencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	cap     int
	next    int
	filled  bool
}

const defaultWindowCap = 500

// GlobalLatencyKey aggregates end-to-end latency across every
// destination, for the line-oriented /metrics endpoint's
// core_request_latency_ms{quantile} series, distinct from the
// per-agent windows RecipientPercentiles reads for stage-agent
// selection tie-breaks.
const GlobalLatencyKey = "__global__"

func newLatencyWindow() *latencyWindow {
	return &latencyWindow{samples: make([]time.Duration, defaultWindowCap), cap: defaultWindowCap}
}

func (w *latencyWindow) add(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d
	w.next = (w.next + 1) % w.cap
	if w.next == 0 {
		w.filled = true
	}
}

func (w *latencyWindow) percentiles() (p50, p95, p99 time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.next
	if w.filled {
		n = w.cap
	}
	if n == 0 {
		return 0, 0, 0
	}
	sorted := append([]time.Duration(nil), w.samples[:n]...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	pick := func(pct float64) time.Duration {
		idx := int(pct * float64(len(sorted)))
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
	return pick(0.50), pick(0.95), pick(0.99)
}

// New constructs a Metrics bundle and registers every collector on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		start:    time.Now(),
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rfpflow_envelopes_sent_total",
			Help: "Envelopes accepted by the fabric, by kind and priority.",
		}, []string{"kind", "priority"}),
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rfpflow_envelopes_delivered_total",
			Help: "Envelopes successfully delivered to a recipient handler.",
		}, []string{"kind", "priority"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rfpflow_envelopes_failed_total",
			Help: "Envelope deliveries that returned a handler error.",
		}, []string{"kind", "reason"}),
		Retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rfpflow_envelopes_retried_total",
			Help: "Delivery attempts that were retried.",
		}, []string{"kind", "strategy"}),
		DeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rfpflow_envelopes_dead_lettered_total",
			Help: "Envelopes routed to the dead-letter queue after exhausting retries.",
		}, []string{"kind"}),
		QueueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rfpflow_queue_size",
			Help: "Current queued message count per recipient and priority lane.",
		}, []string{"agent_id", "priority"}),
		QueueDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rfpflow_queue_dropped_total",
			Help: "Messages dropped from a queue (full at deadline or expired).",
		}, []string{"agent_id", "reason"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rfpflow_delivery_latency_seconds",
			Help:    "End-to-end delivery latency from enqueue to processing finished.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		BreakerOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rfpflow_breaker_opens_total",
			Help: "Circuit breaker open transitions, by destination.",
		}, []string{"destination"}),
		windows: make(map[string]*latencyWindow),
	}

	m.registry.MustRegister(
		m.Sent, m.Delivered, m.Failed, m.Retried, m.DeadLettered,
		m.QueueSize, m.QueueDropped, m.Latency, m.BreakerOpens,
	)
	return m
}

// Registry exposes the underlying prometheus registry, e.g. for
// promhttp.HandlerFor in internal/httpapi.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Uptime reports how long this Metrics instance has been alive.
func (m *Metrics) Uptime() time.Duration { return time.Since(m.start) }

// ObserveLatency records one delivery's end-to-end latency, feeding both
// the Prometheus histogram and the percentile window for kind.
func (m *Metrics) ObserveLatency(kind string, d time.Duration) {
	m.Latency.WithLabelValues(kind).Observe(d.Seconds())

	m.windowsMu.Lock()
	w, ok := m.windows[kind]
	if !ok {
		w = newLatencyWindow()
		m.windows[kind] = w
	}
	m.windowsMu.Unlock()
	w.add(d)
}

// Percentiles reports p50/p95/p99 delivery latency observed for kind
// over the most recent window of samples.
func (m *Metrics) Percentiles(kind string) (p50, p95, p99 time.Duration) {
	m.windowsMu.Lock()
	w, ok := m.windows[kind]
	m.windowsMu.Unlock()
	if !ok {
		return 0, 0, 0
	}
	return w.percentiles()
}

// MessagesByKindPriority sums the Sent counter across its kind/priority
// label pairs, gathered straight from the registry rather than tracked
// separately, for the line-oriented /metrics endpoint's
// core_messages_total{kind,priority} series.
func (m *Metrics) MessagesByKindPriority() map[[2]string]float64 {
	out := make(map[[2]string]float64)
	families, err := m.registry.Gather()
	if err != nil {
		return out
	}
	for _, fam := range families {
		if fam.GetName() != "rfpflow_envelopes_sent_total" {
			continue
		}
		for _, mf := range fam.GetMetric() {
			var kind, priority string
			for _, lbl := range mf.GetLabel() {
				switch lbl.GetName() {
				case "kind":
					kind = lbl.GetValue()
				case "priority":
					priority = lbl.GetValue()
				}
			}
			out[[2]string{kind, priority}] += mf.GetCounter().GetValue()
		}
	}
	return out
}
