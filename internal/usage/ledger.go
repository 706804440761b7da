package usage

import (
	"context"
	"time"

	"github.com/meterline/meterline/internal/logging"
	"github.com/meterline/meterline/internal/validation"
)

// Ledger validates and appends usage events.
type Ledger struct {
	store Store

	// acceptanceWindow bounds how old an event's occurred_at may be at
	// append time. Events older than the window, or more than clockSkew in
	// the future, are rejected as invalid.
	acceptanceWindow time.Duration
	clockSkew        time.Duration
}

// NewLedger creates a ledger over the given store.
func NewLedger(store Store, acceptanceWindow time.Duration) *Ledger {
	return &Ledger{
		store:            store,
		acceptanceWindow: acceptanceWindow,
		clockSkew:        5 * time.Minute,
	}
}

// Validate checks the event's shape without touching storage.
func (l *Ledger) Validate(e *Event, now time.Time) error {
	if e.TenantID == "" {
		return invalidf("tenant id is required")
	}
	if !validation.IsValidMetricName(e.Metric) {
		return invalidf("invalid metric name %q", e.Metric)
	}
	if e.Quantity < 0 {
		return invalidf("quantity must not be negative")
	}
	if e.IdempotencyKey == "" {
		return invalidf("idempotency key is required")
	}
	if len(e.IdempotencyKey) > validation.MaxStringLength {
		return invalidf("idempotency key too long")
	}
	if e.OccurredAt.IsZero() {
		return invalidf("occurred_at is required")
	}
	if e.OccurredAt.Before(now.Add(-l.acceptanceWindow)) {
		return invalidf("occurred_at older than acceptance window")
	}
	if e.OccurredAt.After(now.Add(l.clockSkew)) {
		return invalidf("occurred_at is in the future")
	}
	return nil
}

// Append validates and durably appends the event. A duplicate idempotency
// key returns the original sequence with Accepted=false.
func (l *Ledger) Append(ctx context.Context, e *Event) (AppendResult, error) {
	done := observeOp("append")
	defer done()

	now := time.Now()
	if err := l.Validate(e, now); err != nil {
		AppendsTotal.WithLabelValues("invalid").Inc()
		return AppendResult{}, err
	}
	e.RecordedAt = now

	res, err := l.store.Append(ctx, e)
	if err != nil {
		AppendsTotal.WithLabelValues("error").Inc()
		return AppendResult{}, err
	}
	if res.Accepted {
		AppendsTotal.WithLabelValues("accepted").Inc()
	} else {
		AppendsTotal.WithLabelValues("duplicate").Inc()
		logging.L(ctx).Debug("duplicate usage event",
			"tenant", e.TenantID, "idempotency_key", e.IdempotencyKey, "seq", res.Seq)
	}
	return res, nil
}

// GetByIdemKey returns the event previously appended under the key.
func (l *Ledger) GetByIdemKey(ctx context.Context, tenantID, key string) (*Event, error) {
	return l.store.GetByIdemKey(ctx, tenantID, key)
}

// Store exposes the underlying store for the aggregator.
func (l *Ledger) Store() Store {
	return l.store
}
