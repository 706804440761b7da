package usage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterline/meterline/internal/plan"
)

func appendEvent(t *testing.T, store Store, tenantID, metric, key string, qty int64, at time.Time) *Event {
	t.Helper()
	e := &Event{
		TenantID: tenantID, Metric: metric, Quantity: qty,
		IdempotencyKey: key, OccurredAt: at, RecordedAt: at,
	}
	_, err := store.Append(context.Background(), e)
	require.NoError(t, err)
	return e
}

func TestPeriodBounds(t *testing.T) {
	at := time.Date(2026, 3, 10, 14, 35, 12, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), PeriodStart(plan.PeriodHour, at))
	assert.Equal(t, time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC), PeriodEnd(plan.PeriodHour, at))

	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), PeriodStart(plan.PeriodDay, at))
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), PeriodEnd(plan.PeriodDay, at))

	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), PeriodStart(plan.PeriodMonth, at))
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), PeriodEnd(plan.PeriodMonth, at))
}

func TestAggregator_TotalReadsYourWrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	agg := NewAggregator(store)

	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	e := appendEvent(t, store, "ten_1", "api_calls", "k1", 40, at)
	require.NoError(t, agg.Apply(ctx, e))

	total, err := agg.Total(ctx, "ten_1", "api_calls", plan.PeriodDay, at)
	require.NoError(t, err)
	assert.Equal(t, int64(40), total)
}

func TestAggregator_GapFill(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	agg := NewAggregator(store)

	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	// Events appended behind the aggregator's back (e.g. another replica).
	appendEvent(t, store, "ten_1", "api_calls", "k1", 10, at)
	appendEvent(t, store, "ten_1", "api_calls", "k2", 20, at)
	e3 := appendEvent(t, store, "ten_1", "api_calls", "k3", 30, at)

	// Applying only the last event must fold the earlier ones too.
	require.NoError(t, agg.Apply(ctx, e3))

	total, err := agg.Total(ctx, "ten_1", "api_calls", plan.PeriodDay, at)
	require.NoError(t, err)
	assert.Equal(t, int64(60), total)
}

func TestAggregator_TotalSyncsWithoutApply(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	agg := NewAggregator(store)

	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	appendEvent(t, store, "ten_1", "api_calls", "k1", 15, at)

	// No Apply at all; Total must still see the ledger head.
	total, err := agg.Total(ctx, "ten_1", "api_calls", plan.PeriodMonth, at)
	require.NoError(t, err)
	assert.Equal(t, int64(15), total)
}

func TestAggregator_BucketsSplitByPeriod(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	agg := NewAggregator(store)

	h1 := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	h2 := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	appendEvent(t, store, "ten_1", "api_calls", "k1", 10, h1)
	appendEvent(t, store, "ten_1", "api_calls", "k2", 20, h2)

	hour1, err := agg.Total(ctx, "ten_1", "api_calls", plan.PeriodHour, h1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), hour1)

	hour2, err := agg.Total(ctx, "ten_1", "api_calls", plan.PeriodHour, h2)
	require.NoError(t, err)
	assert.Equal(t, int64(20), hour2)

	day, err := agg.Total(ctx, "ten_1", "api_calls", plan.PeriodDay, h1)
	require.NoError(t, err)
	assert.Equal(t, int64(30), day)
}

func TestAggregator_TenantsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	agg := NewAggregator(store)

	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	appendEvent(t, store, "ten_a", "api_calls", "k1", 100, at)
	appendEvent(t, store, "ten_b", "api_calls", "k1", 7, at)

	totalA, err := agg.Total(ctx, "ten_a", "api_calls", plan.PeriodDay, at)
	require.NoError(t, err)
	totalB, err := agg.Total(ctx, "ten_b", "api_calls", plan.PeriodDay, at)
	require.NoError(t, err)

	assert.Equal(t, int64(100), totalA)
	assert.Equal(t, int64(7), totalB)
}

func TestAggregator_ApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	agg := NewAggregator(store)

	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	e := appendEvent(t, store, "ten_1", "api_calls", "k1", 25, at)

	require.NoError(t, agg.Apply(ctx, e))
	require.NoError(t, agg.Apply(ctx, e))
	require.NoError(t, agg.Apply(ctx, e))

	total, err := agg.Total(ctx, "ten_1", "api_calls", plan.PeriodDay, at)
	require.NoError(t, err)
	assert.Equal(t, int64(25), total)
}

func TestAggregator_ReconcileDetectsDivergence(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	agg := NewAggregator(store)

	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	e := appendEvent(t, store, "ten_1", "api_calls", "k1", 10, at)
	require.NoError(t, agg.Apply(ctx, e))

	// Corrupt the cache to simulate divergence.
	agg.mu.Lock()
	tt := agg.tenants["ten_1"]
	for k := range tt.buckets {
		tt.buckets[k] += 5
	}
	agg.mu.Unlock()

	n, err := agg.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n) // hour, day, month buckets all diverged

	// Cache was reset to the recomputed ledger truth.
	total, err := agg.Total(ctx, "ten_1", "api_calls", plan.PeriodDay, at)
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)
}

func TestAggregator_ReconcileCleanCache(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	agg := NewAggregator(store)

	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	e := appendEvent(t, store, "ten_1", "api_calls", "k1", 10, at)
	require.NoError(t, agg.Apply(ctx, e))

	n, err := agg.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Second run has nothing dirty left.
	n, err = agg.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAggregator_ConcurrentApplyConserves(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	agg := NewAggregator(store)

	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := &Event{
				TenantID: "ten_1", Metric: "api_calls", Quantity: 2,
				IdempotencyKey: fmt.Sprintf("k%d", i), OccurredAt: at, RecordedAt: at,
			}
			_, err := store.Append(ctx, e)
			require.NoError(t, err)
			require.NoError(t, agg.Apply(ctx, e))
		}(i)
	}
	wg.Wait()

	total, err := agg.Total(ctx, "ten_1", "api_calls", plan.PeriodDay, at)
	require.NoError(t, err)
	assert.Equal(t, int64(2*n), total)

	// And the cache agrees with a fresh recompute.
	discrepancies, err := agg.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, discrepancies)
}

func TestTimer_StartStop(t *testing.T) {
	store := NewMemoryStore()
	agg := NewAggregator(store)
	timer := NewTimer(agg, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go timer.Start(ctx)

	require.Eventually(t, timer.Running, time.Second, 5*time.Millisecond)
	timer.Stop()
	require.Eventually(t, func() bool { return !timer.Running() }, time.Second, 5*time.Millisecond)
}
