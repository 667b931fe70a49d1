package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the state of a tenant subscription.
type SubscriptionStatus string

const (
	// SubscriptionActive is a subscription currently in force.
	SubscriptionActive SubscriptionStatus = "active"
	// SubscriptionPending is a subscription not yet started.
	SubscriptionPending SubscriptionStatus = "pending"
	// SubscriptionCanceled is a subscription that has been terminated.
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// IsValid checks if the status is a recognized value.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionActive, SubscriptionPending, SubscriptionCanceled:
		return true
	}
	return false
}

// TenantSubscription assigns a plan to a tenant over a half-open period
// [PeriodStart, PeriodEnd). A nil PeriodEnd means the subscription runs
// forever. For any tenant, non-canceled subscription periods never overlap.
type TenantSubscription struct {
	ID          uuid.UUID          `json:"id"`
	TenantID    uuid.UUID          `json:"tenant_id"`
	PlanID      uuid.UUID          `json:"plan_id"`
	Status      SubscriptionStatus `json:"status"`
	PeriodStart time.Time          `json:"period_start"`
	PeriodEnd   *time.Time         `json:"period_end,omitempty"`
}

// SubscriptionDetail is a subscription joined with its plan.
type SubscriptionDetail struct {
	TenantSubscription
	PlanName string        `json:"plan_name"`
	Features []PlanFeature `json:"features,omitempty"`
}

// Overlaps reports whether the subscription period intersects
// [start, end). A nil end means the candidate period is open-ended.
func (s *TenantSubscription) Overlaps(start time.Time, end *time.Time) bool {
	if s.PeriodEnd != nil && !s.PeriodEnd.After(start) {
		return false
	}
	if end != nil && !s.PeriodStart.Before(*end) {
		return false
	}
	return true
}
