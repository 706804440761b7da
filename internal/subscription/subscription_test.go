package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSub(tenantID string) *Subscription {
	now := time.Now()
	return &Subscription{
		ID:                 "sub_1",
		TenantID:           tenantID,
		PlanID:             "plan_1",
		Status:             StatusActive,
		CurrentPeriodStart: now.AddDate(0, 0, -1),
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusTrialing, StatusActive))
	assert.True(t, CanTransition(StatusTrialing, StatusCanceled))
	assert.True(t, CanTransition(StatusActive, StatusPastDue))
	assert.True(t, CanTransition(StatusActive, StatusCanceled))
	assert.True(t, CanTransition(StatusPastDue, StatusActive))
	assert.True(t, CanTransition(StatusPastDue, StatusCanceled))

	// canceled is terminal; no skipping straight to past_due from trialing
	assert.False(t, CanTransition(StatusCanceled, StatusActive))
	assert.False(t, CanTransition(StatusTrialing, StatusPastDue))
	assert.False(t, CanTransition(StatusActive, StatusTrialing))
}

func TestInCurrentPeriod_HalfOpen(t *testing.T) {
	s := &Subscription{
		CurrentPeriodStart: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	assert.True(t, s.InCurrentPeriod(s.CurrentPeriodStart))
	assert.True(t, s.InCurrentPeriod(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)))
	assert.False(t, s.InCurrentPeriod(s.CurrentPeriodEnd))
	assert.False(t, s.InCurrentPeriod(s.CurrentPeriodStart.Add(-time.Second)))
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Create(ctx, newSub("ten_1")))

	got, err := store.Get(ctx, "ten_1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	err = store.Create(ctx, newSub("ten_1"))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = store.Get(ctx, "ten_2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ApplyTransition(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newSub("ten_1")))

	s, err := store.ApplyTransition(ctx, "ten_1", StatusPastDue)
	require.NoError(t, err)
	assert.Equal(t, StatusPastDue, s.Status)
	assert.False(t, s.PastDueSince.IsZero())

	// Recovering clears the past_due stamp.
	s, err = store.ApplyTransition(ctx, "ten_1", StatusActive)
	require.NoError(t, err)
	assert.True(t, s.PastDueSince.IsZero())

	_, err = store.ApplyTransition(ctx, "ten_1", StatusTrialing)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = store.ApplyTransition(ctx, "ten_missing", StatusCanceled)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ProviderUpdate_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	// First update creates the subscription.
	s, err := store.ApplyProviderUpdate(ctx, ProviderUpdate{
		TenantID: "ten_1", PlanID: "plan_1", Status: StatusActive,
		PeriodStart: t1, PeriodEnd: t1.AddDate(0, 1, 0), ProviderTS: t2,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, s.Status)

	// An older snapshot must not roll state back.
	_, err = store.ApplyProviderUpdate(ctx, ProviderUpdate{
		TenantID: "ten_1", PlanID: "plan_1", Status: StatusCanceled,
		ProviderTS: t1,
	})
	assert.ErrorIs(t, err, ErrStaleUpdate)

	got, _ := store.Get(ctx, "ten_1")
	assert.Equal(t, StatusActive, got.Status)

	// Equal timestamps are also stale (at-most-once application).
	_, err = store.ApplyProviderUpdate(ctx, ProviderUpdate{
		TenantID: "ten_1", Status: StatusCanceled, ProviderTS: t2,
	})
	assert.ErrorIs(t, err, ErrStaleUpdate)

	// A newer snapshot wins.
	s, err = store.ApplyProviderUpdate(ctx, ProviderUpdate{
		TenantID: "ten_1", PlanID: "plan_2", Status: StatusCanceled,
		ProviderTS: t2.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, s.Status)
	assert.Equal(t, "plan_2", s.PlanID)
}

func TestMemoryStore_ListPastDue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	old := newSub("ten_old")
	require.NoError(t, store.Create(ctx, old))
	_, err := store.ApplyTransition(ctx, "ten_old", StatusPastDue)
	require.NoError(t, err)

	fresh := newSub("ten_fresh")
	fresh.ID = "sub_2"
	require.NoError(t, store.Create(ctx, fresh))

	due, err := store.ListPastDue(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "ten_old", due[0].TenantID)

	// Cutoff before the stamp excludes it.
	due, err = store.ListPastDue(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestUsable(t *testing.T) {
	for status, want := range map[Status]bool{
		StatusTrialing: true,
		StatusActive:   true,
		StatusPastDue:  true,
		StatusCanceled: false,
	} {
		s := &Subscription{Status: status}
		assert.Equal(t, want, s.Usable(), "status %s", status)
	}
}
