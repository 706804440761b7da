package billing

import (
	"context"
	"time"

	"github.com/meterline/meterline/internal/logging"
	"github.com/meterline/meterline/internal/subscription"
	"github.com/meterline/meterline/internal/traces"
)

// UsageSummer recomputes usage totals straight from the ledger for invoice
// snapshots.
type UsageSummer interface {
	SumRange(ctx context.Context, tenantID, metric string, start, end time.Time) (int64, error)
}

// Reconciler applies provider billing events to local state.
type Reconciler struct {
	events EventStore
	subs   subscription.Store
	usage  UsageSummer
}

// NewReconciler creates a billing reconciler.
func NewReconciler(events EventStore, subs subscription.Store, usage UsageSummer) *Reconciler {
	return &Reconciler{events: events, subs: subs, usage: usage}
}

// Process applies one provider event. The external event ID is checked
// before anything is mutated, so redelivered events are ignored wholesale.
func (r *Reconciler) Process(ctx context.Context, e *Event) (Result, error) {
	ctx, span := traces.StartSpan(ctx, "billing.Process",
		traces.BillingEventID(e.ExternalID), traces.TenantID(e.TenantID))
	defer span.End()

	seen, err := r.events.IsProcessed(ctx, e.ExternalID)
	if err != nil {
		return "", err
	}
	if seen {
		EventsTotal.WithLabelValues(string(e.Type), string(ResultDuplicate)).Inc()
		return ResultDuplicate, nil
	}

	result, err := r.apply(ctx, e)
	if err != nil {
		EventsTotal.WithLabelValues(string(e.Type), "error").Inc()
		return "", err
	}
	if err := r.events.MarkProcessed(ctx, e.ExternalID, result); err != nil {
		return "", err
	}
	EventsTotal.WithLabelValues(string(e.Type), string(result)).Inc()
	return result, nil
}

func (r *Reconciler) apply(ctx context.Context, e *Event) (Result, error) {
	switch e.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return r.applySubscription(ctx, e)
	case EventInvoiceFinalized:
		return r.applyInvoice(ctx, e)
	case EventPaymentFailed:
		return r.applyPaymentFailed(ctx, e)
	default:
		if err := r.events.Archive(ctx, e); err != nil {
			return "", err
		}
		logging.L(ctx).Info("archived unknown billing event",
			"external_id", e.ExternalID, "type", string(e.Type))
		return ResultArchived, nil
	}
}

func (r *Reconciler) applySubscription(ctx context.Context, e *Event) (Result, error) {
	if e.Subscription == nil || e.Subscription.TenantID == "" {
		return "", ErrUnknownTenant
	}
	_, err := r.subs.ApplyProviderUpdate(ctx, *e.Subscription)
	if err == subscription.ErrStaleUpdate {
		logging.L(ctx).Info("dropped stale subscription snapshot",
			"tenant", e.Subscription.TenantID,
			"external_id", e.ExternalID,
			"provider_ts", e.Subscription.ProviderTS.Format(time.RFC3339))
		return ResultStale, nil
	}
	if err != nil {
		return "", err
	}
	return ResultProcessed, nil
}

// applyInvoice recomputes the billed period from the ledger and compares it
// to what the provider billed. A mismatch is logged and counted; local state
// is never rewritten to match the invoice.
func (r *Reconciler) applyInvoice(ctx context.Context, e *Event) (Result, error) {
	if e.TenantID == "" {
		return "", ErrUnknownTenant
	}
	inv := e.Invoice
	if inv == nil {
		logging.L(ctx).Warn("invoice.finalized without invoice payload", "external_id", e.ExternalID)
		return ResultProcessed, nil
	}

	recomputed, err := r.usage.SumRange(ctx, e.TenantID, inv.Metric, inv.PeriodStart, inv.PeriodEnd)
	if err != nil {
		return "", err
	}
	if recomputed != inv.BilledQuantity {
		InvoiceDiscrepancies.Inc()
		logging.L(ctx).Error("invoice usage discrepancy",
			"tenant", e.TenantID,
			"external_id", e.ExternalID,
			"metric", inv.Metric,
			"period_start", inv.PeriodStart.Format(time.RFC3339),
			"period_end", inv.PeriodEnd.Format(time.RFC3339),
			"billed", inv.BilledQuantity,
			"recomputed", recomputed)
	}
	return ResultProcessed, nil
}

func (r *Reconciler) applyPaymentFailed(ctx context.Context, e *Event) (Result, error) {
	if e.TenantID == "" {
		return "", ErrUnknownTenant
	}
	_, err := r.subs.ApplyTransition(ctx, e.TenantID, subscription.StatusPastDue)
	switch err {
	case nil:
		logging.L(ctx).Warn("payment failed, subscription past_due",
			"tenant", e.TenantID, "external_id", e.ExternalID)
	case subscription.ErrInvalidTransition:
		// Already past_due or canceled; nothing further to do.
	case subscription.ErrNotFound:
		logging.L(ctx).Warn("payment failed for tenant without subscription",
			"tenant", e.TenantID, "external_id", e.ExternalID)
	default:
		return "", err
	}
	return ResultProcessed, nil
}
