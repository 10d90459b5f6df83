package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"hebledger/core/events"
)

// EngineMetrics exports operation and event counters for the ledger engines.
// Engines report outcomes through Observe via their metrics sink seam.
type EngineMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	events     *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *EngineMetrics
)

// LedgerMetrics returns the lazily-initialised metrics registry used to
// record engine activity.
func LedgerMetrics() *EngineMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "heb",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Total engine operations segmented by module, operation, and outcome.",
			}, []string{"module", "operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "heb",
				Subsystem: "ledger",
				Name:      "errors_total",
				Help:      "Total engine operation failures segmented by module and operation.",
			}, []string{"module", "operation"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "heb",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "operation"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "heb",
				Subsystem: "ledger",
				Name:      "events_total",
				Help:      "Total domain events emitted by the engines, by event type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.errors,
			ledgerRegistry.latency,
			ledgerRegistry.events,
		)
	})
	return ledgerRegistry
}

// Observe records the outcome of an engine operation.
func (m *EngineMetrics) Observe(module, operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(module, operation).Inc()
	}
	m.operations.WithLabelValues(module, operation, outcome).Inc()
	m.latency.WithLabelValues(module, operation).Observe(duration.Seconds())
}

// RecordEvent bumps the counter for an emitted event type.
func (m *EngineMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.events.WithLabelValues(eventType).Inc()
}

// MetricsEmitter forwards emitted events to a wrapped emitter while counting
// them by type. Wrapping a nil emitter just counts.
type MetricsEmitter struct {
	next events.Emitter
}

// NewMetricsEmitter wraps next with event counting.
func NewMetricsEmitter(next events.Emitter) *MetricsEmitter {
	return &MetricsEmitter{next: next}
}

// Emit implements events.Emitter.
func (m *MetricsEmitter) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	LedgerMetrics().RecordEvent(evt.EventType())
	if m.next != nil {
		m.next.Emit(evt)
	}
}
