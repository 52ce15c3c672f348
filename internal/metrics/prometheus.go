package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Hedge lifecycle metrics
	HedgeOpens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basis_hedge_opens_total",
			Help: "Total number of hedge open attempts",
		},
		[]string{"status"}, // status: success|failed|rollback_failed
	)

	HedgeCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basis_hedge_closes_total",
			Help: "Total number of hedge close attempts",
		},
		[]string{"status"}, // status: success|partial|failed
	)

	Rollbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basis_hedge_rollbacks_total",
			Help: "Total number of compensating closes after single-leg open failures",
		},
		[]string{"status"}, // status: success|failed
	)

	LockConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "basis_lock_conflicts_total",
			Help: "Total number of open/close requests rejected due to lock conflicts",
		},
	)

	ManualInterventions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "basis_manual_interventions_total",
			Help: "Total number of positions flagged for manual operator action",
		},
	)

	// Leg execution metrics
	LegLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "basis_leg_latency_seconds",
			Help:    "Leg placement/close latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"exchange", "operation"}, // operation: open|close
	)

	LegFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basis_leg_failures_total",
			Help: "Total number of failed leg executions",
		},
		[]string{"exchange", "operation"},
	)

	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basis_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)
)

// Register registers all collectors with the default registry
func Register() {
	prometheus.MustRegister(
		HedgeOpens,
		HedgeCloses,
		Rollbacks,
		LockConflicts,
		ManualInterventions,
		LegLatency,
		LegFailures,
		WorkerExecutions,
	)
}

// Handler returns the HTTP handler exposing the metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
