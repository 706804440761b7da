//go:build integration

package subscription

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterline/meterline/internal/testutil"
)

func seedTenantAndPlan(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx := context.Background()
	_, err := db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, slug) VALUES ('ten_pg', 'PG Test', 'pg-test')
		ON CONFLICT (id) DO NOTHING`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO plans (id, name, version) VALUES ('plan_pg', 'free', 1)
		ON CONFLICT (id) DO NOTHING`)
	require.NoError(t, err)
}

func TestPostgresSubscription_LifeCycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	seedTenantAndPlan(t, db)

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now()

	s := &Subscription{
		ID: "sub_pg", TenantID: "ten_pg", PlanID: "plan_pg",
		Status:             StatusActive,
		CurrentPeriodStart: now, CurrentPeriodEnd: now.AddDate(0, 1, 0),
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.Create(ctx, s))
	assert.ErrorIs(t, store.Create(ctx, s), ErrAlreadyExists)

	got, err := store.Get(ctx, "ten_pg")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.True(t, got.PastDueSince.IsZero())

	// active -> past_due stamps PastDueSince.
	got, err = store.ApplyTransition(ctx, "ten_pg", StatusPastDue)
	require.NoError(t, err)
	assert.False(t, got.PastDueSince.IsZero())

	// Recovery clears it.
	got, err = store.ApplyTransition(ctx, "ten_pg", StatusActive)
	require.NoError(t, err)
	assert.True(t, got.PastDueSince.IsZero())

	// canceled is terminal.
	_, err = store.ApplyTransition(ctx, "ten_pg", StatusCanceled)
	require.NoError(t, err)
	_, err = store.ApplyTransition(ctx, "ten_pg", StatusActive)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPostgresSubscription_ProviderUpdateLWW(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	seedTenantAndPlan(t, db)

	store := NewPostgresStore(db)
	ctx := context.Background()
	t1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	upd := ProviderUpdate{
		TenantID: "ten_pg", PlanID: "plan_pg", Status: StatusActive,
		PeriodStart: t1, PeriodEnd: t1.AddDate(0, 1, 0), ProviderTS: t1,
	}
	s, err := store.ApplyProviderUpdate(ctx, upd)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, s.Status)

	// Older snapshot is dropped.
	stale := upd
	stale.Status = StatusCanceled
	stale.ProviderTS = t1.Add(-time.Hour)
	_, err = store.ApplyProviderUpdate(ctx, stale)
	assert.ErrorIs(t, err, ErrStaleUpdate)

	// Newer snapshot wins.
	newer := upd
	newer.Status = StatusPastDue
	newer.ProviderTS = t1.Add(time.Hour)
	s, err = store.ApplyProviderUpdate(ctx, newer)
	require.NoError(t, err)
	assert.Equal(t, StatusPastDue, s.Status)

	pd, err := store.ListPastDue(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, pd, 1)
	assert.Equal(t, "ten_pg", pd[0].TenantID)
}
