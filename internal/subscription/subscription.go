// Package subscription tracks the single billing subscription each tenant
// holds: which plan version it is on, its lifecycle status, and the current
// billing period.
//
// Status changes arrive from two directions. Admin transitions go through
// ApplyTransition, which enforces the lifecycle graph. Provider events go
// through ApplyProviderUpdate, which is last-write-wins by the provider's own
// timestamp so that out-of-order webhook delivery cannot roll state back.
package subscription

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound          = errors.New("subscription: not found")
	ErrAlreadyExists     = errors.New("subscription: tenant already has a subscription")
	ErrInvalidTransition = errors.New("subscription: invalid status transition")
	ErrStaleUpdate       = errors.New("subscription: provider update older than last applied")
)

// Status is a subscription's lifecycle state.
type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled" // terminal
)

// ValidStatus returns true if the status is recognised.
func ValidStatus(s Status) bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCanceled:
		return true
	}
	return false
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusTrialing:
		return to == StatusActive || to == StatusCanceled
	case StatusActive:
		return to == StatusPastDue || to == StatusCanceled
	case StatusPastDue:
		return to == StatusActive || to == StatusCanceled
	}
	return false
}

// Subscription is a tenant's billing subscription. Each tenant holds at most
// one, so lookups are keyed by tenant ID.
type Subscription struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenantId"`
	PlanID             string    `json:"planId"`
	Status             Status    `json:"status"`
	CurrentPeriodStart time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time `json:"currentPeriodEnd"` // exclusive
	PastDueSince       time.Time `json:"pastDueSince,omitempty"`
	LastProviderTS     time.Time `json:"lastProviderTs,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// InCurrentPeriod reports whether t falls in the half-open billing period
// [CurrentPeriodStart, CurrentPeriodEnd).
func (s *Subscription) InCurrentPeriod(t time.Time) bool {
	return !t.Before(s.CurrentPeriodStart) && t.Before(s.CurrentPeriodEnd)
}

// Usable reports whether the subscription admits usage at all. past_due
// tenants keep access until the grace timer cancels them.
func (s *Subscription) Usable() bool {
	switch s.Status {
	case StatusTrialing, StatusActive, StatusPastDue:
		return true
	}
	return false
}

// ProviderUpdate is a subscription state snapshot carried by a billing
// provider event.
type ProviderUpdate struct {
	TenantID    string
	PlanID      string
	Status      Status
	PeriodStart time.Time
	PeriodEnd   time.Time
	ProviderTS  time.Time
}
