//go:build integration

package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterline/meterline/internal/testutil"
)

func TestPostgresAppend_AssignsDenseSequences(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now()

	for i, key := range []string{"a", "b", "c"} {
		res, err := store.Append(ctx, &Event{
			TenantID: "ten_pg", Metric: "api_calls", Quantity: int64(i + 1),
			IdempotencyKey: key, OccurredAt: now, RecordedAt: now,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), res.Seq)
		assert.True(t, res.Accepted)
	}

	last, err := store.LastSeq(ctx, "ten_pg")
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestPostgresAppend_DuplicateKeyReturnsOriginal(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now()

	first, err := store.Append(ctx, &Event{
		TenantID: "ten_pg", Metric: "api_calls", Quantity: 10,
		IdempotencyKey: "dup", OccurredAt: now, RecordedAt: now,
	})
	require.NoError(t, err)

	replay, err := store.Append(ctx, &Event{
		TenantID: "ten_pg", Metric: "api_calls", Quantity: 999,
		IdempotencyKey: "dup", OccurredAt: now, RecordedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, first.Seq, replay.Seq)
	assert.False(t, replay.Accepted)

	// Quantity of the original is preserved.
	e, err := store.GetByIdemKey(ctx, "ten_pg", "dup")
	require.NoError(t, err)
	assert.Equal(t, int64(10), e.Quantity)

	// The counter did not advance for the duplicate.
	last, err := store.LastSeq(ctx, "ten_pg")
	require.NoError(t, err)
	assert.Equal(t, first.Seq, last)
}

func TestPostgresAppend_ConcurrentWritersStayDense(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Append(ctx, &Event{
				TenantID: "ten_pg", Metric: "api_calls", Quantity: 1,
				IdempotencyKey: string(rune('a' + i)), OccurredAt: now, RecordedAt: now,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	events, err := store.ListFrom(ctx, "ten_pg", 0, 100)
	require.NoError(t, err)
	require.Len(t, events, n)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Seq)
	}
}

func TestPostgresSumRange_HalfOpen(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for i, qty := range []int64{5, 7, 11} {
		_, err := store.Append(ctx, &Event{
			TenantID: "ten_pg", Metric: "api_calls", Quantity: qty,
			IdempotencyKey: string(rune('a' + i)),
			OccurredAt:     start.Add(time.Duration(i) * time.Hour),
			RecordedAt:     start,
		})
		require.NoError(t, err)
	}

	// [start, start+2h) excludes the event at exactly start+2h.
	sum, err := store.SumRange(ctx, "ten_pg", "api_calls", start, start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(12), sum)
}
