// Package usage implements the metering core: an append-only, idempotent
// usage ledger plus a cached aggregator over it.
//
// The ledger is the source of truth. Every event gets a per-tenant, strictly
// increasing sequence number, and (tenant, idempotency key) is unique: a
// retried append returns the original sequence number with accepted=false and
// never double-counts. The aggregator maintains period totals by applying
// ledger events in sequence order and can always be rebuilt from the ledger.
package usage

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrInvalidEvent       = errors.New("usage: invalid event")
	ErrEventNotFound      = errors.New("usage: event not found")
	ErrStorageUnavailable = errors.New("usage: storage unavailable")
)

// Event is one metered usage record.
type Event struct {
	Seq            int64     `json:"seq"` // per-tenant, assigned on append
	TenantID       string    `json:"tenantId"`
	Metric         string    `json:"metric"`
	Quantity       int64     `json:"quantity"`
	IdempotencyKey string    `json:"idempotencyKey"`
	OccurredAt     time.Time `json:"occurredAt"`
	RecordedAt     time.Time `json:"recordedAt"`
}

// AppendResult reports the outcome of a ledger append.
type AppendResult struct {
	Seq      int64 `json:"seq"`
	Accepted bool  `json:"accepted"` // false when the idempotency key was seen before
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEvent, fmt.Sprintf(format, args...))
}
