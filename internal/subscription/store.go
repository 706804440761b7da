package subscription

import (
	"context"
	"time"
)

// Store persists subscriptions, keyed by tenant ID.
type Store interface {
	// Create stores a new subscription. Returns ErrAlreadyExists if the
	// tenant already has one.
	Create(ctx context.Context, s *Subscription) error
	// Get returns the tenant's subscription.
	Get(ctx context.Context, tenantID string) (*Subscription, error)
	// ApplyTransition moves the subscription to a new status, enforcing the
	// lifecycle graph. Entering past_due stamps PastDueSince; leaving it
	// clears the stamp.
	ApplyTransition(ctx context.Context, tenantID string, to Status) (*Subscription, error)
	// ApplyProviderUpdate applies a provider snapshot last-write-wins by
	// ProviderTS. Returns ErrStaleUpdate when the snapshot is not newer than
	// the last applied one. Creates the subscription if the tenant has none.
	ApplyProviderUpdate(ctx context.Context, u ProviderUpdate) (*Subscription, error)
	// ListPastDue returns subscriptions that entered past_due before the
	// cutoff, for the grace-period sweep.
	ListPastDue(ctx context.Context, before time.Time) ([]*Subscription, error)
}
