package usage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AppendsTotal counts ledger appends by result.
	AppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meterline",
			Name:      "usage_appends_total",
			Help:      "Total ledger append attempts by result.",
		},
		[]string{"result"},
	)

	// OpDuration observes ledger operation latency by type.
	OpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meterline",
			Name:      "usage_operation_duration_seconds",
			Help:      "Usage ledger operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"type"},
	)

	// ReconciliationDiscrepancies counts cache/ledger divergences found by
	// the reconciliation sweep.
	ReconciliationDiscrepancies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meterline",
			Name:      "usage_reconciliation_discrepancies_total",
			Help:      "Aggregator cache totals that diverged from the ledger.",
		},
	)

	// ReconcileRunsTotal counts completed reconciliation sweeps.
	ReconcileRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meterline",
			Name:      "usage_reconcile_runs_total",
			Help:      "Completed aggregator reconciliation sweeps.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		AppendsTotal,
		OpDuration,
		ReconciliationDiscrepancies,
		ReconcileRunsTotal,
	)
}

// observeOp returns a function that records the operation's duration.
func observeOp(opType string) func() {
	start := time.Now()
	return func() {
		OpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
	}
}
