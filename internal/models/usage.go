package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageCounter tracks consumed quota for a tenant/feature within a
// billing period. Rows are created lazily on first use and only ever
// incremented by the check-and-increment operation.
type UsageCounter struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	FeatureKey string    `json:"feature_key"`
	Period     string    `json:"period"` // "2025-09"
	Used       int       `json:"used"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PeriodKey returns the calendar-month period key for t in UTC.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// FeatureUsage is the per-feature reporting view combining entitlement
// limits with live active-user counts.
type FeatureUsage struct {
	FeatureKey  string `json:"featureKey"`
	UserLimit   *int   `json:"userLimit"`
	ActiveUsers int    `json:"activeUsers"`
	Remaining   *int   `json:"remaining"`
	Enabled     bool   `json:"enabled"`
}
