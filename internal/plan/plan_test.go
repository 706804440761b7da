package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_PublishVersions(t *testing.T) {
	ctx := context.Background()
	catalog := NewCatalog(NewMemoryStore())

	v1, err := catalog.Publish(ctx, PublishRequest{
		Name: "starter",
		QuotaRules: []QuotaRule{
			{Metric: "api_calls", Limit: 1000, Period: PeriodDay, Overage: OverageReject},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	v2, err := catalog.Publish(ctx, PublishRequest{
		Name: "starter",
		QuotaRules: []QuotaRule{
			{Metric: "api_calls", Limit: 5000, Period: PeriodDay, Overage: OverageReject},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.NotEqual(t, v1.ID, v2.ID)

	// Latest resolves to v2; v1 stays readable and unchanged.
	latest, err := catalog.Latest(ctx, "starter")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	old, err := catalog.Get(ctx, v1.ID)
	require.NoError(t, err)
	rule, ok := old.Rule("api_calls")
	require.True(t, ok)
	assert.Equal(t, int64(1000), rule.Limit)
}

func TestCatalog_PublishValidation(t *testing.T) {
	ctx := context.Background()
	catalog := NewCatalog(NewMemoryStore())

	_, err := catalog.Publish(ctx, PublishRequest{Name: "bad"})
	assert.Error(t, err)

	_, err = catalog.Publish(ctx, PublishRequest{
		Name: "bad",
		QuotaRules: []QuotaRule{
			{Metric: "api_calls", Limit: -2, Period: PeriodDay, Overage: OverageReject},
		},
	})
	assert.Error(t, err)

	_, err = catalog.Publish(ctx, PublishRequest{
		Name: "bad",
		QuotaRules: []QuotaRule{
			{Metric: "api_calls", Limit: 10, Period: "fortnight", Overage: OverageReject},
		},
	})
	assert.Error(t, err)

	_, err = catalog.Publish(ctx, PublishRequest{
		Name: "bad",
		QuotaRules: []QuotaRule{
			{Metric: "api_calls", Limit: 10, Period: PeriodDay, Overage: "shrug"},
		},
	})
	assert.Error(t, err)
}

func TestCatalog_SeedDefaults(t *testing.T) {
	ctx := context.Background()
	catalog := NewCatalog(NewMemoryStore())

	require.NoError(t, catalog.SeedDefaults(ctx))

	free, err := catalog.Latest(ctx, "free")
	require.NoError(t, err)
	rule, ok := free.Rule("api_calls")
	require.True(t, ok)
	assert.Equal(t, int64(1000), rule.Limit)
	assert.True(t, free.HasFeature("basic_reports"))
	assert.False(t, free.HasFeature("sso"))

	ent, err := catalog.Latest(ctx, "enterprise")
	require.NoError(t, err)
	rule, _ = ent.Rule("api_calls")
	assert.Equal(t, Unlimited, rule.Limit)
	assert.True(t, ent.HasFeature("sso"))

	// Seeding again must not publish new versions.
	require.NoError(t, catalog.SeedDefaults(ctx))
	free2, _ := catalog.Latest(ctx, "free")
	assert.Equal(t, 1, free2.Version)
}

func TestSurchargeRule_Compute(t *testing.T) {
	flat := &SurchargeRule{Type: "flat", FlatCentsUnit: 3}
	assert.Equal(t, int64(30), flat.Compute(10, 9900))
	assert.Equal(t, int64(0), flat.Compute(0, 9900))

	pct := &SurchargeRule{Type: "percent", Percent: 10}
	assert.Equal(t, int64(990), pct.Compute(5, 9900))

	var none *SurchargeRule
	assert.Equal(t, int64(0), none.Compute(100, 9900))
}

func TestMemoryStore_VersionConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Create(ctx, &Plan{ID: "plan_1", Name: "starter", Version: 1}))
	err := store.Create(ctx, &Plan{ID: "plan_2", Name: "starter", Version: 1})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestMemoryStore_CopyOnRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Create(ctx, &Plan{
		ID: "plan_1", Name: "starter", Version: 1,
		QuotaRules: []QuotaRule{{Metric: "api_calls", Limit: 100, Period: PeriodDay, Overage: OverageReject}},
	}))

	got, _ := store.Get(ctx, "plan_1")
	got.QuotaRules[0].Limit = 999999

	got2, _ := store.Get(ctx, "plan_1")
	assert.Equal(t, int64(100), got2.QuotaRules[0].Limit)
}
