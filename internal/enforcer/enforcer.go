// Package enforcer decides whether metered usage is admitted.
//
// Admit takes one snapshot of (subscription, quota rule, current total) and
// decides without holding any lock across storage reads. Under N concurrent
// admits for the same tenant and metric, at most (N-1) * max event quantity
// may land beyond the limit before totals catch up; that bounded overshoot is
// the deliberate trade against serializing every admit globally.
package enforcer

import (
	"context"
	"time"

	"github.com/meterline/meterline/internal/flags"
	"github.com/meterline/meterline/internal/plan"
	"github.com/meterline/meterline/internal/subscription"
	"github.com/meterline/meterline/internal/traces"
	"github.com/meterline/meterline/internal/usage"
)

// Outcome is the admission verdict.
type Outcome string

const (
	OutcomeAllow              Outcome = "allow"
	OutcomeAllowWithSurcharge Outcome = "allow_with_surcharge"
	OutcomeReject             Outcome = "reject"
)

// Reject reasons.
const (
	ReasonQuotaExceeded        = "quota_exceeded"
	ReasonNoActiveSubscription = "no_active_subscription"
)

// Decision is the result of an admission check.
type Decision struct {
	Outcome        Outcome `json:"decision"`
	Reason         string  `json:"reason,omitempty"`
	SurchargeCents int64   `json:"surchargeCents,omitempty"`
	Limit          int64   `json:"limit,omitempty"`
	Current        int64   `json:"current,omitempty"`
}

// Enforcer admits or rejects usage against the tenant's plan.
type Enforcer struct {
	subs       subscription.Store
	catalog    *plan.Catalog
	aggregator *usage.Aggregator
	flags      *flags.Service
}

// New creates an enforcer.
func New(subs subscription.Store, catalog *plan.Catalog, aggregator *usage.Aggregator, flagSvc *flags.Service) *Enforcer {
	return &Enforcer{subs: subs, catalog: catalog, aggregator: aggregator, flags: flagSvc}
}

// Admit decides whether quantity units of metric may be recorded for the
// tenant right now.
func (e *Enforcer) Admit(ctx context.Context, tenantID, metric string, quantity int64) (Decision, error) {
	ctx, span := traces.StartSpan(ctx, "enforcer.Admit",
		traces.TenantID(tenantID), traces.Metric(metric), traces.Quantity(quantity))
	defer span.End()

	d, err := e.admit(ctx, tenantID, metric, quantity)
	if err == nil {
		span.SetAttributes(traces.Decision(string(d.Outcome)))
		DecisionsTotal.WithLabelValues(string(d.Outcome), d.Reason).Inc()
	}
	return d, err
}

func (e *Enforcer) admit(ctx context.Context, tenantID, metric string, quantity int64) (Decision, error) {
	sub, err := e.subs.Get(ctx, tenantID)
	if err == subscription.ErrNotFound {
		return Decision{Outcome: OutcomeReject, Reason: ReasonNoActiveSubscription}, nil
	}
	if err != nil {
		return Decision{}, err
	}
	if !sub.Usable() {
		return Decision{Outcome: OutcomeReject, Reason: ReasonNoActiveSubscription}, nil
	}

	p, err := e.catalog.Get(ctx, sub.PlanID)
	if err != nil {
		return Decision{}, err
	}

	rule, ok := p.Rule(metric)
	if !ok {
		// Unmetered metric: nothing to enforce.
		return Decision{Outcome: OutcomeAllow}, nil
	}
	if rule.Limit == plan.Unlimited {
		return Decision{Outcome: OutcomeAllow, Limit: rule.Limit}, nil
	}

	total, err := e.aggregator.Total(ctx, tenantID, metric, rule.Period, time.Now())
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Limit: rule.Limit, Current: total}
	if total+quantity <= rule.Limit {
		d.Outcome = OutcomeAllow
		return d, nil
	}

	switch rule.Overage {
	case plan.OverageAllow:
		d.Outcome = OutcomeAllow
	case plan.OverageWithSurcharge:
		if !e.flags.Enabled(ctx, tenantID, flags.OverageBilling) {
			d.Outcome = OutcomeReject
			d.Reason = ReasonQuotaExceeded
			break
		}
		overage := total + quantity - rule.Limit
		if over := quantity; over < overage {
			overage = over
		}
		d.Outcome = OutcomeAllowWithSurcharge
		d.SurchargeCents = p.Surcharge.Compute(overage, p.PriceCents)
	default:
		d.Outcome = OutcomeReject
		d.Reason = ReasonQuotaExceeded
	}
	return d, nil
}
