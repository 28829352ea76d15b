package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	coprocessorMetricsOnce sync.Once
	coprocessorRegistry    *CoprocessorMetrics

	indexerMetricsOnce sync.Once
	indexerRegistry    *IndexerMetrics
)

// ModuleMetrics returns the lazily-initialised registry recording chain
// operations segmented by engine and method.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vchain",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total chain operations segmented by module, method, and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vchain",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total failed chain operations segmented by module, method, and error kind.",
			}, []string{"module", "method", "kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vchain",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for chain operations including coprocessor round trips.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vchain",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a chain operation. kind is empty on success
// and otherwise a stable error category such as "replay" or "timing".
func (m *moduleMetrics) Observe(module, method, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	module = labelOrUnknown(module)
	method = labelOrUnknown(method)
	outcome := "success"
	if kind != "" {
		outcome = "error"
		m.errors.WithLabelValues(module, method, kind).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(labelOrUnknown(module), reason).Inc()
}

// CoprocessorMetrics tracks homomorphic operations and decryption traffic.
type CoprocessorMetrics struct {
	ops         *prometheus.CounterVec
	decryptions *prometheus.CounterVec
	queueDepth  prometheus.Gauge
}

// Coprocessor returns the lazily-initialised coprocessor metrics registry.
func Coprocessor() *CoprocessorMetrics {
	coprocessorMetricsOnce.Do(func() {
		coprocessorRegistry = &CoprocessorMetrics{
			ops: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vchain",
				Subsystem: "fhe",
				Name:      "ops_total",
				Help:      "Homomorphic operations segmented by op and outcome.",
			}, []string{"op", "outcome"}),
			decryptions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vchain",
				Subsystem: "fhe",
				Name:      "decryptions_total",
				Help:      "Decryption requests segmented by stage.",
			}, []string{"stage"}),
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vchain",
				Subsystem: "fhe",
				Name:      "decrypt_queue_depth",
				Help:      "Decryption requests waiting for a worker.",
			}),
		}
		prometheus.MustRegister(
			coprocessorRegistry.ops,
			coprocessorRegistry.decryptions,
			coprocessorRegistry.queueDepth,
		)
	})
	return coprocessorRegistry
}

// RecordOp counts a homomorphic operation.
func (m *CoprocessorMetrics) RecordOp(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ops.WithLabelValues(labelOrUnknown(op), outcome).Inc()
}

// RecordDecryption counts a decryption request transition. Stages are
// "requested", "completed", "denied" and "throttled".
func (m *CoprocessorMetrics) RecordDecryption(stage string) {
	if m == nil {
		return
	}
	m.decryptions.WithLabelValues(labelOrUnknown(stage)).Inc()
}

// SetQueueDepth records the current decryption backlog.
func (m *CoprocessorMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// IndexerMetrics tracks the event audit log.
type IndexerMetrics struct {
	stored *prometheus.CounterVec
	failed prometheus.Counter
}

// Indexer returns the lazily-initialised indexer metrics registry.
func Indexer() *IndexerMetrics {
	indexerMetricsOnce.Do(func() {
		indexerRegistry = &IndexerMetrics{
			stored: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vchain",
				Subsystem: "indexer",
				Name:      "events_total",
				Help:      "Events persisted to the audit log segmented by type.",
			}, []string{"type"}),
			failed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vchain",
				Subsystem: "indexer",
				Name:      "failures_total",
				Help:      "Events that could not be persisted.",
			}),
		}
		prometheus.MustRegister(indexerRegistry.stored, indexerRegistry.failed)
	})
	return indexerRegistry
}

// RecordStored counts a persisted event.
func (m *IndexerMetrics) RecordStored(eventType string) {
	if m == nil {
		return
	}
	m.stored.WithLabelValues(labelOrUnknown(eventType)).Inc()
}

// RecordFailure counts an event that could not be persisted.
func (m *IndexerMetrics) RecordFailure() {
	if m == nil {
		return
	}
	m.failed.Inc()
}

func labelOrUnknown(v string) string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
