// Package observability provides Prometheus metrics and the /health and
// /metrics HTTP surfaces for the running process.
package observability

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric the core emits.
type Metrics struct {
	// Stream lifecycle
	StreamsStarted   prometheus.Counter
	StreamsStopped   *prometheus.CounterVec
	StreamsActive    prometheus.Gauge
	StreamStartRetries prometheus.Counter

	// Evaluator decisions
	EventsProcessed      prometheus.Counter
	EventsDropped        *prometheus.CounterVec
	SignerBreaks         prometheus.Counter
	ContractCompletions  *prometheus.CounterVec
	EvaluatorStepRetries *prometheus.CounterVec

	// Oracle latency
	OracleCallLatency *prometheus.HistogramVec
	OracleCallErrors  *prometheus.CounterVec

	// Persistence
	PersistenceErrors  *prometheus.CounterVec
	PersistenceLatency *prometheus.HistogramVec

	// Feed client
	FeedReconnects  prometheus.Counter
	FeedEventsDropped prometheus.Counter

	// Scoring
	ScoreUpdatesApplied prometheus.Counter
	ScoreUpdateFailures prometheus.Counter
}

// New creates a Metrics instance registered under the given namespace.
// Callers that need isolated registries for tests should use NewWithRegistry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "contractcore"
	}
	return newMetrics(namespace, prometheus.DefaultRegisterer)
}

// NewWithRegistry builds a Metrics instance against a caller-supplied
// registry, so unit tests do not collide on the global default registry.
func NewWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	return newMetrics(namespace, reg)
}

func newMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StreamsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "supervisor", Name: "streams_started_total",
			Help: "Total number of streams successfully started.",
		}),
		StreamsStopped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "supervisor", Name: "streams_stopped_total",
			Help: "Total number of streams stopped, labeled by final state.",
		}, []string{"final_state"}),
		StreamsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "supervisor", Name: "streams_active",
			Help: "Current number of actively supervised streams.",
		}),
		StreamStartRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "supervisor", Name: "start_retries_total",
			Help: "Total number of retried stream start attempts.",
		}),

		EventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "evaluator", Name: "events_processed_total",
			Help: "Total number of trade events handed to an Evaluator.",
		}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "evaluator", Name: "events_dropped_total",
			Help: "Total number of events dropped after retries were exhausted, by reason.",
		}, []string{"reason"}),
		SignerBreaks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "evaluator", Name: "signer_breaks_total",
			Help: "Total number of signers transitioned to Broken.",
		}),
		ContractCompletions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "evaluator", Name: "contract_completions_total",
			Help: "Total number of contracts completed, labeled by completion reason.",
		}, []string{"reason"}),
		EvaluatorStepRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "evaluator", Name: "step_retries_total",
			Help: "Total number of Transient-failure retries, labeled by step.",
		}, []string{"step"}),

		OracleCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "oracle", Name: "call_latency_seconds",
			Help: "Oracle call latency in seconds.", Buckets: prometheus.DefBuckets,
		}, []string{"oracle"}),
		OracleCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "oracle", Name: "call_errors_total",
			Help: "Total number of failed oracle calls, labeled by oracle.",
		}, []string{"oracle"}),

		PersistenceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "persistence", Name: "errors_total",
			Help: "Total number of Persistence call errors, labeled by operation and kind.",
		}, []string{"operation", "kind"}),
		PersistenceLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "persistence", Name: "call_latency_seconds",
			Help: "Persistence call latency in seconds.", Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		FeedReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "feed", Name: "reconnects_total",
			Help: "Total number of successful reconnects to the upstream feed.",
		}),
		FeedEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "feed", Name: "events_dropped_total",
			Help: "Total number of events dropped by the drop-oldest backpressure policy.",
		}),

		ScoreUpdatesApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scoring", Name: "updates_applied_total",
			Help: "Total number of successfully persisted score updates.",
		}),
		ScoreUpdateFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scoring", Name: "update_failures_total",
			Help: "Total number of score updates that permanently failed to persist.",
		}),
	}
}

// MetricsHandler returns an HTTP handler for the /metrics endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// HealthStatus is the JSON body served on /health.
type HealthStatus struct {
	Status        string `json:"status"`
	ActiveStreams int    `json:"active_streams"`
}

// HealthHandler serves a readiness probe. activeCount and ready are
// callbacks rather than stored dependencies so the handler stays decoupled
// from any particular registry implementation. ready reports false once the
// Supervisor has stopped everything after an unrecoverable Feed Client
// failure; the handler then reports "unhealthy" with a 503.
func HealthHandler(activeCount func() int, ready func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := HealthStatus{Status: "ok", ActiveStreams: activeCount()}
		if !ready() {
			status.Status = "unhealthy"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}
