package usage

import (
	"context"
	"sync"
	"time"

	"github.com/meterline/meterline/internal/logging"
	"github.com/meterline/meterline/internal/plan"
	"github.com/meterline/meterline/internal/syncutil"
)

// bucketKey identifies one cached period total.
type bucketKey struct {
	Metric string
	Period plan.Period
	Start  int64 // unix seconds of the bucket start, UTC
}

// tenantTotals is one tenant's aggregation state. lastApplied is the highest
// ledger sequence folded into the buckets.
type tenantTotals struct {
	lastApplied int64
	buckets     map[bucketKey]int64
	dirty       map[bucketKey]struct{}
}

// Aggregator maintains per-tenant period totals derived from the ledger.
//
// Totals are a cache, never a second source of truth. Events are folded in
// strictly in sequence order; gaps (events appended by other replicas or
// missed notifications) are filled from the store before any read, which
// gives read-your-writes per tenant. Reconcile recomputes dirty buckets from
// the ledger and logs any divergence before resetting the cache to the
// recomputed value.
type Aggregator struct {
	store Store

	mu      sync.RWMutex
	tenants map[string]*tenantTotals
	locks   syncutil.ShardedMutex
}

// NewAggregator creates an aggregator over the ledger store.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{
		store:   store,
		tenants: make(map[string]*tenantTotals),
	}
}

// PeriodStart returns the UTC start of the period bucket containing at.
func PeriodStart(p plan.Period, at time.Time) time.Time {
	at = at.UTC()
	switch p {
	case plan.PeriodHour:
		return at.Truncate(time.Hour)
	case plan.PeriodDay:
		return time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	case plan.PeriodMonth:
		return time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return at.Truncate(time.Hour)
}

// PeriodEnd returns the exclusive end of the period bucket containing at.
func PeriodEnd(p plan.Period, at time.Time) time.Time {
	start := PeriodStart(p, at)
	switch p {
	case plan.PeriodHour:
		return start.Add(time.Hour)
	case plan.PeriodDay:
		return start.AddDate(0, 0, 1)
	case plan.PeriodMonth:
		return start.AddDate(0, 1, 0)
	}
	return start.Add(time.Hour)
}

var allPeriods = []plan.Period{plan.PeriodHour, plan.PeriodDay, plan.PeriodMonth}

func (a *Aggregator) totals(tenantID string) *tenantTotals {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tenants[tenantID]
	if !ok {
		t = &tenantTotals{
			buckets: make(map[bucketKey]int64),
			dirty:   make(map[bucketKey]struct{}),
		}
		a.tenants[tenantID] = t
	}
	return t
}

// fold applies one event into every period bucket. Caller holds the tenant
// lock.
func (t *tenantTotals) fold(e *Event) {
	for _, p := range allPeriods {
		k := bucketKey{Metric: e.Metric, Period: p, Start: PeriodStart(p, e.OccurredAt).Unix()}
		t.buckets[k] += e.Quantity
		t.dirty[k] = struct{}{}
	}
	t.lastApplied = e.Seq
}

// syncLocked folds ledger events after lastApplied, up to and including
// throughSeq (or the ledger head when throughSeq is 0). Caller holds the
// tenant lock.
func (a *Aggregator) syncLocked(ctx context.Context, tenantID string, t *tenantTotals, throughSeq int64) error {
	if throughSeq == 0 {
		head, err := a.store.LastSeq(ctx, tenantID)
		if err != nil {
			return err
		}
		throughSeq = head
	}
	for t.lastApplied < throughSeq {
		events, err := a.store.ListFrom(ctx, tenantID, t.lastApplied, 1000)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for _, e := range events {
			if e.Seq != t.lastApplied+1 {
				// Sequences are dense per tenant; a hole here means the
				// store is mid-append. Stop and let the next sync retry.
				return nil
			}
			t.fold(e)
		}
	}
	return nil
}

// Apply folds a freshly appended event into the cache, filling any gap from
// the store first so events are always applied in sequence order.
func (a *Aggregator) Apply(ctx context.Context, e *Event) error {
	unlock := a.locks.Lock(e.TenantID)
	defer unlock()

	t := a.totals(e.TenantID)
	if e.Seq <= t.lastApplied {
		return nil // already folded via gap fill
	}
	return a.syncLocked(ctx, e.TenantID, t, e.Seq)
}

// Total returns the tenant's usage for the metric in the period bucket
// containing at. The cache is synced to the ledger head first.
func (a *Aggregator) Total(ctx context.Context, tenantID, metric string, p plan.Period, at time.Time) (int64, error) {
	unlock := a.locks.Lock(tenantID)
	defer unlock()

	t := a.totals(tenantID)
	if err := a.syncLocked(ctx, tenantID, t, 0); err != nil {
		return 0, err
	}
	k := bucketKey{Metric: metric, Period: p, Start: PeriodStart(p, at).Unix()}
	return t.buckets[k], nil
}

// SumRange computes a total straight from the ledger, bypassing the cache.
// Used for billing snapshots.
func (a *Aggregator) SumRange(ctx context.Context, tenantID, metric string, start, end time.Time) (int64, error) {
	return a.store.SumRange(ctx, tenantID, metric, start, end)
}

// Reconcile recomputes every dirty bucket from the ledger and compares it to
// the cached total. Divergence is logged and counted, then the cache is reset
// to the recomputed value. Returns the number of discrepancies found.
func (a *Aggregator) Reconcile(ctx context.Context) (int, error) {
	a.mu.RLock()
	tenantIDs := make([]string, 0, len(a.tenants))
	for id := range a.tenants {
		tenantIDs = append(tenantIDs, id)
	}
	a.mu.RUnlock()

	discrepancies := 0
	for _, tenantID := range tenantIDs {
		n, err := a.reconcileTenant(ctx, tenantID)
		if err != nil {
			return discrepancies, err
		}
		discrepancies += n
	}
	ReconcileRunsTotal.Inc()
	return discrepancies, nil
}

func (a *Aggregator) reconcileTenant(ctx context.Context, tenantID string) (int, error) {
	unlock := a.locks.Lock(tenantID)
	defer unlock()

	t := a.totals(tenantID)
	if err := a.syncLocked(ctx, tenantID, t, 0); err != nil {
		return 0, err
	}

	discrepancies := 0
	for k := range t.dirty {
		start := time.Unix(k.Start, 0).UTC()
		end := PeriodEnd(k.Period, start)
		recomputed, err := a.store.SumRange(ctx, tenantID, k.Metric, start, end)
		if err != nil {
			return discrepancies, err
		}
		if cached := t.buckets[k]; cached != recomputed {
			discrepancies++
			ReconciliationDiscrepancies.Inc()
			logging.L(ctx).Error("aggregator reconciliation discrepancy",
				"tenant", tenantID,
				"metric", k.Metric,
				"period", string(k.Period),
				"bucket_start", start.Format(time.RFC3339),
				"cached", cached,
				"recomputed", recomputed)
			t.buckets[k] = recomputed
		}
		delete(t.dirty, k)
	}
	return discrepancies, nil
}
