// Package flags answers "does this tenant have feature X" by combining the
// feature list on the tenant's plan with per-tenant overrides. Overrides win,
// so support can grant or revoke a single feature without republishing plans.
package flags

import (
	"context"
	"errors"

	"github.com/meterline/meterline/internal/plan"
	"github.com/meterline/meterline/internal/subscription"
)

// OverageBilling gates admission of overage with surcharge. Tenants without
// it fall back to hard rejection at the limit.
const OverageBilling = "overage_billing"

// ErrOverrideNotFound is returned when a tenant has no override for a flag.
var ErrOverrideNotFound = errors.New("flags: override not found")

// Store persists per-tenant flag overrides.
type Store interface {
	Set(ctx context.Context, tenantID, flag string, enabled bool) error
	// Get returns the override value, or ErrOverrideNotFound when the tenant
	// has none for this flag.
	Get(ctx context.Context, tenantID, flag string) (bool, error)
	List(ctx context.Context, tenantID string) (map[string]bool, error)
	Delete(ctx context.Context, tenantID, flag string) error
}

// Service resolves feature flags for tenants.
type Service struct {
	overrides Store
	subs      subscription.Store
	catalog   *plan.Catalog
}

// NewService creates a flag service.
func NewService(overrides Store, subs subscription.Store, catalog *plan.Catalog) *Service {
	return &Service{overrides: overrides, subs: subs, catalog: catalog}
}

// Overrides exposes the override store for the admin API.
func (s *Service) Overrides() Store {
	return s.overrides
}

// Enabled reports whether the tenant has the named feature. An override
// takes precedence; otherwise the feature list of the subscribed plan
// decides. Tenants without a subscription have no features.
func (s *Service) Enabled(ctx context.Context, tenantID, flag string) bool {
	if v, err := s.overrides.Get(ctx, tenantID, flag); err == nil {
		return v
	}

	sub, err := s.subs.Get(ctx, tenantID)
	if err != nil {
		return false
	}
	p, err := s.catalog.Get(ctx, sub.PlanID)
	if err != nil {
		return false
	}
	return p.HasFeature(flag)
}
