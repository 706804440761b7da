package plan

import "context"

// Store persists published plans.
type Store interface {
	// Create stores a new plan version. Returns ErrVersionConflict if the
	// (name, version) pair already exists.
	Create(ctx context.Context, p *Plan) error
	Get(ctx context.Context, id string) (*Plan, error)
	// Latest returns the highest published version of the named tier.
	Latest(ctx context.Context, name string) (*Plan, error)
	// List returns the latest version of every tier.
	List(ctx context.Context) ([]*Plan, error)
}
