package enforcer

import "github.com/prometheus/client_golang/prometheus"

var (
	// DecisionsTotal counts admission decisions by outcome and reason.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meterline",
			Name:      "enforcer_decisions_total",
			Help:      "Admission decisions by outcome and reject reason.",
		},
		[]string{"outcome", "reason"},
	)

	// IngestTotal counts usage-event ingest requests by result.
	IngestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meterline",
			Name:      "enforcer_ingest_total",
			Help:      "Usage-event ingest requests by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(DecisionsTotal, IngestTotal)
}
