package models

import (
	"github.com/google/uuid"
)

// Plan represents a billable plan that bundles feature entitlements.
type Plan struct {
	ID       uuid.UUID     `json:"id"`
	Name     string        `json:"name"`
	IsActive bool          `json:"is_active"`
	Features []PlanFeature `json:"features,omitempty"`
}

// PlanFeature grants a feature to a plan, optionally bounded by quotas.
// A nil quota means unlimited.
type PlanFeature struct {
	ID           uuid.UUID `json:"id"`
	PlanID       uuid.UUID `json:"plan_id"`
	FeatureKey   string    `json:"feature_key"`
	UserQuota    *int      `json:"user_quota,omitempty"`
	MonthlyQuota *int      `json:"monthly_quota,omitempty"`
	Enabled      bool      `json:"enabled"`
}
