package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// ClientRequestsTotal counts caption service calls by operation and outcome.
	ClientRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "caption",
		Subsystem: "client",
		Name:      "requests_total",
		Help:      "Total number of caption service calls, labeled by operation and result (ok or error kind).",
	}, []string{"op", "result"})

	ClientRequestDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "caption",
		Subsystem: "client",
		Name:      "request_duration_seconds",
		Help:      "Round-trip time of caption service calls.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60},
	}, []string{"op"})

	// WorkflowTransitionsTotal counts entries into each workflow phase.
	WorkflowTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "caption",
		Subsystem: "workflow",
		Name:      "transitions_total",
		Help:      "Total number of submission workflow transitions, labeled by the phase entered.",
	}, []string{"phase"})

	StaleDiscardsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "caption",
		Subsystem: "workflow",
		Name:      "stale_discards_total",
		Help:      "Total number of caption responses discarded because a newer generation superseded them.",
	})

	RatingFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "caption",
		Subsystem: "workflow",
		Name:      "rating_failures_total",
		Help:      "Total number of rating submissions that failed after the workflow entered Rated.",
	})
)

// Register registers caption metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ClientRequestsTotal,
			ClientRequestDurationSeconds,
			WorkflowTransitionsTotal,
			StaleDiscardsTotal,
			RatingFailuresTotal,
		)
	})
}

// ObserveRequest records one client call.
func ObserveRequest(op, result string, started time.Time) {
	ClientRequestsTotal.WithLabelValues(op, result).Inc()
	ClientRequestDurationSeconds.WithLabelValues(op).Observe(time.Since(started).Seconds())
}
