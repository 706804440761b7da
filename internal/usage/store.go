package usage

import (
	"context"
	"time"
)

// Store durably persists usage events.
type Store interface {
	// Append stores the event atomically, assigning the tenant's next
	// sequence number. When the (tenant, idempotency key) pair was already
	// appended, the original event's sequence is returned with
	// Accepted=false and nothing is written.
	Append(ctx context.Context, e *Event) (AppendResult, error)
	// GetByIdemKey returns the event previously appended under the key.
	GetByIdemKey(ctx context.Context, tenantID, key string) (*Event, error)
	// ListFrom returns up to limit events for the tenant with seq > afterSeq,
	// in ascending sequence order.
	ListFrom(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]*Event, error)
	// SumRange sums quantities for the tenant's metric with occurred_at in
	// the half-open range [start, end).
	SumRange(ctx context.Context, tenantID, metric string, start, end time.Time) (int64, error)
	// LastSeq returns the tenant's highest assigned sequence, 0 if none.
	LastSeq(ctx context.Context, tenantID string) (int64, error)
}
