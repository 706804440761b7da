package plan

import (
	"context"
	"fmt"
	"time"

	"github.com/meterline/meterline/internal/idgen"
)

// Catalog publishes and serves plan versions.
type Catalog struct {
	store Store
}

// NewCatalog creates a catalog backed by the given store.
func NewCatalog(store Store) *Catalog {
	return &Catalog{store: store}
}

// PublishRequest describes a new plan version to publish.
type PublishRequest struct {
	Name       string         `json:"name"`
	PriceCents int64          `json:"priceCents"`
	QuotaRules []QuotaRule    `json:"quotaRules"`
	Features   []string       `json:"features,omitempty"`
	Surcharge  *SurchargeRule `json:"surcharge,omitempty"`
}

// Publish creates the next version of the named tier. Existing versions are
// never touched; subscriptions pinned to an older version keep their terms.
func (c *Catalog) Publish(ctx context.Context, req PublishRequest) (*Plan, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("plan: name is required")
	}
	if len(req.QuotaRules) == 0 {
		return nil, fmt.Errorf("plan: at least one quota rule is required")
	}
	if err := ValidateRules(req.QuotaRules); err != nil {
		return nil, err
	}
	if err := req.Surcharge.Validate(); err != nil {
		return nil, err
	}

	version := 1
	if latest, err := c.store.Latest(ctx, req.Name); err == nil {
		version = latest.Version + 1
	} else if err != ErrPlanNotFound {
		return nil, err
	}

	p := &Plan{
		ID:          idgen.WithPrefix("plan_"),
		Name:        req.Name,
		Version:     version,
		PriceCents:  req.PriceCents,
		QuotaRules:  append([]QuotaRule(nil), req.QuotaRules...),
		Features:    append([]string(nil), req.Features...),
		Surcharge:   req.Surcharge,
		PublishedAt: time.Now(),
	}
	if err := c.store.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a plan version by ID.
func (c *Catalog) Get(ctx context.Context, id string) (*Plan, error) {
	return c.store.Get(ctx, id)
}

// Latest returns the newest version of the named tier.
func (c *Catalog) Latest(ctx context.Context, name string) (*Plan, error) {
	return c.store.Latest(ctx, name)
}

// List returns the latest version of every tier.
func (c *Catalog) List(ctx context.Context) ([]*Plan, error) {
	return c.store.List(ctx)
}
