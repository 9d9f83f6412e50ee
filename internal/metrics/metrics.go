package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"Go2NetGuard/internal/firewall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "netguard"

// Cycle outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeRecovered = "recovered"
	OutcomeFailed    = "failed"
)

// Metrics holds the guard's collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	flowsClassified prometheus.Counter
	flowsMalicious  prometheus.Counter
	blockEvents     *prometheus.CounterVec
	activeBlocks    prometheus.GaugeFunc

	blockCount atomic.Pointer[func() int]
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Capture cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a capture cycle.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),
		flowsClassified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_classified_total",
			Help:      "Flows passed through the classifier.",
		}),
		flowsMalicious: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_malicious_total",
			Help:      "Flows classified malicious.",
		}),
		blockEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "firewall_events_total",
			Help:      "Firewall rule lifecycle events by type.",
		}, []string{"type"}),
	}
	m.activeBlocks = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_blocks",
		Help:      "Addresses currently blocked.",
	}, m.currentBlocks)
	m.registry.MustRegister(
		m.cycles, m.cycleDuration, m.flowsClassified, m.flowsMalicious, m.blockEvents, m.activeBlocks,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(outcome string, d time.Duration) {
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

// ObserveFlows records one cycle's classification volume.
func (m *Metrics) ObserveFlows(total, malicious int) {
	m.flowsClassified.Add(float64(total))
	m.flowsMalicious.Add(float64(malicious))
}

// WatchActiveBlocks makes the active block gauge report count() on every
// scrape.
func (m *Metrics) WatchActiveBlocks(count func() int) {
	m.blockCount.Store(&count)
}

func (m *Metrics) currentBlocks() float64 {
	count := m.blockCount.Load()
	if count == nil {
		return 0
	}
	return float64((*count)())
}

// Listener counts firewall events.
func (m *Metrics) Listener() firewall.Listener {
	return func(ev firewall.Event) {
		m.blockEvents.WithLabelValues(ev.Type.String()).Inc()
	}
}

// Registry exposes the registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
