// Package tenant provides multi-tenancy for the Meterline service.
//
// Tenants are the unit of data partitioning and billing. Every store in the
// system is keyed by tenant ID, and the request-scoped tenant ID travels on
// the context (see WithID / FromContext) so that no operation can touch
// another tenant's rows.
package tenant

import (
	"errors"
	"time"
)

// Errors
var (
	ErrTenantNotFound = errors.New("tenant: not found")
	ErrSlugTaken      = errors.New("tenant: slug already taken")
	ErrNoTenant       = errors.New("tenant: no tenant in context")
)

// Status represents a tenant's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Settings stores configurable per-tenant knobs.
type Settings struct {
	RateLimitRPM   int      `json:"rateLimitRpm"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// Tenant represents an organisation using the platform.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Status    Status    `json:"status"`
	Settings  Settings  `json:"settings"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
