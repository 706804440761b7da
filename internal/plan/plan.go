// Package plan provides the versioned plan catalog.
//
// A plan is a named pricing tier carrying an ordered list of quota rules, a
// feature list, and an optional surcharge rule for overage billing. Published
// plans are immutable: changing a tier means publishing a new version under
// the same name, and subscriptions keep pointing at the version they were
// sold on.
package plan

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrPlanNotFound    = errors.New("plan: not found")
	ErrVersionConflict = errors.New("plan: version already published")
)

// Unlimited marks a quota rule with no cap.
const Unlimited int64 = -1

// Period is the aggregation window a quota rule applies to.
type Period string

const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// ValidPeriod returns true if the period is recognised.
func ValidPeriod(p Period) bool {
	switch p {
	case PeriodHour, PeriodDay, PeriodMonth:
		return true
	}
	return false
}

// OveragePolicy decides what happens when a quota rule's limit is exceeded.
type OveragePolicy string

const (
	OverageReject        OveragePolicy = "reject"
	OverageAllow         OveragePolicy = "allow_overage"
	OverageWithSurcharge OveragePolicy = "allow_with_surcharge"
)

// QuotaRule caps a single metric over a period. Rules are ordered; the first
// rule matching a metric wins.
type QuotaRule struct {
	Metric  string        `json:"metric"`
	Limit   int64         `json:"limit"` // -1 = unlimited
	Period  Period        `json:"period"`
	Overage OveragePolicy `json:"overage"`
}

// SurchargeRule computes the fee applied to overage units admitted under
// allow_with_surcharge.
type SurchargeRule struct {
	Type          string  `json:"type"`                    // "percent" or "flat"
	Percent       float64 `json:"percent,omitempty"`       // of the plan's base price
	FlatCentsUnit int64   `json:"flatCentsUnit,omitempty"` // cents per overage unit
}

// Compute returns the surcharge in cents for the given overage units.
// baseCents is the plan's base price, used as the percent basis.
func (s *SurchargeRule) Compute(overageUnits, baseCents int64) int64 {
	if s == nil || overageUnits <= 0 {
		return 0
	}
	switch s.Type {
	case "percent":
		return int64(float64(baseCents) * s.Percent / 100.0)
	case "flat":
		return overageUnits * s.FlatCentsUnit
	}
	return 0
}

// Validate checks the rule's shape.
func (s *SurchargeRule) Validate() error {
	if s == nil {
		return nil
	}
	switch s.Type {
	case "percent":
		if s.Percent < 0 {
			return fmt.Errorf("surcharge: percent must not be negative")
		}
	case "flat":
		if s.FlatCentsUnit < 0 {
			return fmt.Errorf("surcharge: flatCentsUnit must not be negative")
		}
	default:
		return fmt.Errorf("surcharge: unknown type %q", s.Type)
	}
	return nil
}

// Plan is one published version of a pricing tier.
type Plan struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Version     int            `json:"version"`
	PriceCents  int64          `json:"priceCents"` // base price per month
	QuotaRules  []QuotaRule    `json:"quotaRules"`
	Features    []string       `json:"features,omitempty"`
	Surcharge   *SurchargeRule `json:"surcharge,omitempty"`
	PublishedAt time.Time      `json:"publishedAt"`
}

// Rule returns the first quota rule matching the metric.
func (p *Plan) Rule(metric string) (QuotaRule, bool) {
	for _, r := range p.QuotaRules {
		if r.Metric == metric {
			return r, true
		}
	}
	return QuotaRule{}, false
}

// HasFeature reports whether the plan includes the named feature.
func (p *Plan) HasFeature(feature string) bool {
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// ValidateRules checks that all quota rules are well formed.
func ValidateRules(rules []QuotaRule) error {
	for i, r := range rules {
		if r.Metric == "" {
			return fmt.Errorf("rule[%d]: metric is required", i)
		}
		if r.Limit < Unlimited {
			return fmt.Errorf("rule[%d]: limit must be -1 (unlimited) or non-negative", i)
		}
		if !ValidPeriod(r.Period) {
			return fmt.Errorf("rule[%d]: unknown period %q", i, r.Period)
		}
		switch r.Overage {
		case OverageReject, OverageAllow, OverageWithSurcharge:
		default:
			return fmt.Errorf("rule[%d]: unknown overage policy %q", i, r.Overage)
		}
	}
	return nil
}
