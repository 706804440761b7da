package billing

import "github.com/prometheus/client_golang/prometheus"

var (
	// EventsTotal counts processed provider events by type and result.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meterline",
			Name:      "billing_events_total",
			Help:      "Provider billing events by type and processing result.",
		},
		[]string{"type", "result"},
	)

	// InvoiceDiscrepancies counts finalized invoices whose billed quantity
	// diverged from the ledger recompute.
	InvoiceDiscrepancies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meterline",
			Name:      "billing_invoice_discrepancies_total",
			Help:      "Finalized invoices that did not match recomputed usage.",
		},
	)

	// WebhookVerifyFailures counts webhook deliveries that failed signature
	// verification.
	WebhookVerifyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meterline",
			Name:      "billing_webhook_verify_failures_total",
			Help:      "Webhook deliveries rejected for bad signatures.",
		},
	)

	// GraceCancellations counts subscriptions canceled by the grace sweep.
	GraceCancellations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meterline",
			Name:      "billing_grace_cancellations_total",
			Help:      "Subscriptions canceled after exhausting the past_due grace period.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EventsTotal,
		InvoiceDiscrepancies,
		WebhookVerifyFailures,
		GraceCancellations,
	)
}
