// Package metrics holds the Prometheus collectors exported on /metrics.
//
// Collectors are registered on the default registry at init through
// promauto, so importing the package is enough to expose them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "csvsplit"

// Run outcomes used as the "outcome" label.
const (
	OutcomeSingle    = "single"
	OutcomeSplit     = "split"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

var (
	// RunsTotal counts processing runs by outcome.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Processing runs by outcome.",
		},
		[]string{"outcome"},
	)

	// RowsProcessed counts data rows written to outputs.
	RowsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_processed_total",
		Help:      "Data rows loaded and written to outputs.",
	})

	// PartsWritten counts part files produced by splits.
	PartsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parts_written_total",
		Help:      "Part files produced by size-threshold splits.",
	})

	// RunDuration observes the wall time of processing runs.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of processing runs.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	})

	// SessionsActive is the number of open upload sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Open upload sessions.",
	})

	// HTTPRequests counts served requests by method and status code.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status.",
		},
		[]string{"method", "status"},
	)
)

// ObserveRun records a finished run.
func ObserveRun(outcome string, rows, parts int, elapsed time.Duration) {
	RunsTotal.WithLabelValues(outcome).Inc()
	RunDuration.Observe(elapsed.Seconds())
	if outcome == OutcomeSingle || outcome == OutcomeSplit {
		RowsProcessed.Add(float64(rows))
		PartsWritten.Add(float64(parts))
	}
}
