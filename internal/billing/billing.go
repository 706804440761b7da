// Package billing reconciles provider billing events against local state.
//
// Events arrive over a signed webhook, get deduplicated by the provider's
// event ID, and are applied according to type. Subscription snapshots are
// last-write-wins by provider timestamp, finalized invoices are checked
// against a fresh usage recompute (discrepancies are logged, never silently
// corrected), failed payments move the tenant to past_due, and unknown event
// types are archived untouched for later inspection.
package billing

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/meterline/meterline/internal/subscription"
)

// Errors
var ErrUnknownTenant = errors.New("billing: event carries no tenant id")

// EventType classifies a provider event.
type EventType string

const (
	EventSubscriptionCreated EventType = "subscription.created"
	EventSubscriptionUpdated EventType = "subscription.updated"
	EventInvoiceFinalized    EventType = "invoice.finalized"
	EventPaymentFailed       EventType = "payment.failed"
)

// Invoice is the usage-relevant slice of a finalized provider invoice.
type Invoice struct {
	Metric         string    `json:"metric"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"` // exclusive
	BilledQuantity int64     `json:"billed_quantity"`
	AmountCents    int64     `json:"amount_cents"`
}

// Event is a normalized provider billing event.
type Event struct {
	ExternalID   string                       `json:"externalId"` // provider's event id, dedup key
	Type         EventType                    `json:"type"`
	TenantID     string                       `json:"tenantId"`
	OccurredAt   time.Time                    `json:"occurredAt"` // provider timestamp
	Subscription *subscription.ProviderUpdate `json:"-"`
	Invoice      *Invoice                     `json:"invoice,omitempty"`
	Raw          json.RawMessage              `json:"-"`
}

// Result is the outcome of processing one event.
type Result string

const (
	ResultProcessed Result = "processed"
	// ResultDuplicate means the external event ID was seen before; nothing
	// was mutated.
	ResultDuplicate Result = "duplicate_ignored"
	// ResultStale means a subscription snapshot older than the last applied
	// one was dropped by last-write-wins.
	ResultStale Result = "stale_ignored"
	// ResultArchived means the event type is unknown and the payload was
	// stored untouched.
	ResultArchived Result = "archived"
)
