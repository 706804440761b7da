package plan

import "context"

// defaultTiers mirrors the built-in pricing tiers. Limits use -1 for
// unlimited. Daily api_calls caps alongside monthly seat and storage caps.
var defaultTiers = []PublishRequest{
	{
		Name: "free",
		QuotaRules: []QuotaRule{
			{Metric: "api_calls", Limit: 1000, Period: PeriodDay, Overage: OverageReject},
			{Metric: "users", Limit: 3, Period: PeriodMonth, Overage: OverageReject},
			{Metric: "storage_gb", Limit: 1, Period: PeriodMonth, Overage: OverageReject},
		},
		Features: []string{"basic_reports"},
	},
	{
		Name:       "starter",
		PriceCents: 2900,
		QuotaRules: []QuotaRule{
			{Metric: "api_calls", Limit: 10000, Period: PeriodDay, Overage: OverageReject},
			{Metric: "users", Limit: 10, Period: PeriodMonth, Overage: OverageReject},
			{Metric: "storage_gb", Limit: 10, Period: PeriodMonth, Overage: OverageReject},
		},
		Features: []string{"basic_reports", "api_access", "email_support"},
	},
	{
		Name:       "professional",
		PriceCents: 9900,
		QuotaRules: []QuotaRule{
			{Metric: "api_calls", Limit: 100000, Period: PeriodDay, Overage: OverageWithSurcharge},
			{Metric: "users", Limit: 50, Period: PeriodMonth, Overage: OverageReject},
			{Metric: "storage_gb", Limit: 100, Period: PeriodMonth, Overage: OverageAllow},
		},
		Features: []string{
			"basic_reports", "api_access", "email_support",
			"advanced_analytics", "integrations", "overage_billing",
		},
		Surcharge: &SurchargeRule{Type: "flat", FlatCentsUnit: 1},
	},
	{
		Name:       "enterprise",
		PriceCents: 49900,
		QuotaRules: []QuotaRule{
			{Metric: "api_calls", Limit: Unlimited, Period: PeriodDay, Overage: OverageAllow},
			{Metric: "users", Limit: Unlimited, Period: PeriodMonth, Overage: OverageAllow},
			{Metric: "storage_gb", Limit: Unlimited, Period: PeriodMonth, Overage: OverageAllow},
		},
		Features: []string{
			"basic_reports", "api_access", "email_support",
			"advanced_analytics", "integrations", "overage_billing",
			"sso", "audit_logs", "sla",
		},
	},
}

// SeedDefaults publishes version 1 of the built-in tiers. Tiers that already
// have a published version are left alone.
func (c *Catalog) SeedDefaults(ctx context.Context) error {
	for _, tier := range defaultTiers {
		if _, err := c.store.Latest(ctx, tier.Name); err == nil {
			continue
		} else if err != ErrPlanNotFound {
			return err
		}
		if _, err := c.Publish(ctx, tier); err != nil && err != ErrVersionConflict {
			return err
		}
	}
	return nil
}
