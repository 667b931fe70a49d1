// Package subscription manages tenant plan assignments and their
// non-overlap invariant.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vantagehr/entitled/internal/license"
	"github.com/vantagehr/entitled/internal/metrics"
	"github.com/vantagehr/entitled/internal/models"
)

var (
	// ErrOnPremNotSupported rejects subscription operations under an
	// on-prem license; subscriptions are a cloud-only concept.
	ErrOnPremNotSupported = errors.New("subscriptions are not supported in onprem mode")
	// ErrTenantOrPlanNotFound indicates the tenant or plan does not exist.
	ErrTenantOrPlanNotFound = errors.New("tenant or plan not found")
	// ErrInvalidPeriod indicates periodEnd is not after periodStart.
	ErrInvalidPeriod = errors.New("subscription period end must be after start")
	// ErrPeriodOverlap indicates the requested period intersects an
	// existing non-canceled subscription for the tenant.
	ErrPeriodOverlap = errors.New("subscription period overlaps an existing subscription")
	// ErrSubscriptionNotFound indicates no subscription with that ID.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Store defines the persistence operations the manager needs.
type Store interface {
	TenantExists(ctx context.Context, id uuid.UUID) (bool, error)
	PlanExists(ctx context.Context, id uuid.UUID) (bool, error)
	InsertSubscriptionIfNoOverlap(ctx context.Context, sub *models.TenantSubscription) (bool, error)
	GetSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.TenantSubscription, error)
	CancelSubscription(ctx context.Context, id uuid.UUID, endAt time.Time) (bool, error)
	ListSubscriptionsByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.SubscriptionDetail, error)
	CountActiveUsers(ctx context.Context, tenantID uuid.UUID) (int, error)
}

// AssignRequest describes a plan assignment.
type AssignRequest struct {
	TenantID    uuid.UUID
	PlanID      uuid.UUID
	PeriodStart *time.Time // nil means today (UTC)
	PeriodEnd   *time.Time // nil means open-ended
	Status      models.SubscriptionStatus
}

// Manager enforces the subscription invariants: non-overlapping periods
// per tenant, and cloud-mode-only operation.
type Manager struct {
	store   Store
	license *license.Cache
	logger  zerolog.Logger
}

// NewManager creates a subscription Manager.
func NewManager(store Store, licenseCache *license.Cache, logger zerolog.Logger) *Manager {
	return &Manager{
		store:   store,
		license: licenseCache,
		logger:  logger.With().Str("component", "subscription_manager").Logger(),
	}
}

// Assign creates a subscription for a tenant.
//
// Rejected with ErrOnPremNotSupported under an on-prem license,
// ErrTenantOrPlanNotFound when either side is missing, ErrInvalidPeriod
// when the end does not follow the start, and ErrPeriodOverlap when the
// period intersects any non-canceled subscription of the tenant.
func (m *Manager) Assign(ctx context.Context, req AssignRequest) (*models.TenantSubscription, error) {
	snap := m.license.Current()
	if snap == nil || snap.Mode != license.ModeCloud {
		return nil, ErrOnPremNotSupported
	}

	start := truncateToDate(time.Now().UTC())
	if req.PeriodStart != nil {
		start = truncateToDate(req.PeriodStart.UTC())
	}
	var end *time.Time
	if req.PeriodEnd != nil {
		e := truncateToDate(req.PeriodEnd.UTC())
		end = &e
	}

	if end != nil && !end.After(start) {
		return nil, ErrInvalidPeriod
	}

	tenantOK, err := m.store.TenantExists(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("check tenant: %w", err)
	}
	planOK, err := m.store.PlanExists(ctx, req.PlanID)
	if err != nil {
		return nil, fmt.Errorf("check plan: %w", err)
	}
	if !tenantOK || !planOK {
		return nil, ErrTenantOrPlanNotFound
	}

	status := req.Status
	if status == "" {
		status = models.SubscriptionActive
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("invalid subscription status %q", status)
	}

	sub := &models.TenantSubscription{
		ID:          uuid.New(),
		TenantID:    req.TenantID,
		PlanID:      req.PlanID,
		Status:      status,
		PeriodStart: start,
		PeriodEnd:   end,
	}

	inserted, err := m.store.InsertSubscriptionIfNoOverlap(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("assign subscription: %w", err)
	}
	if !inserted {
		metrics.SubscriptionConflicts.Inc()
		return nil, ErrPeriodOverlap
	}

	m.logger.Info().
		Str("subscription_id", sub.ID.String()).
		Str("tenant_id", sub.TenantID.String()).
		Str("plan_id", sub.PlanID.String()).
		Time("period_start", sub.PeriodStart).
		Msg("subscription assigned")

	return sub, nil
}

// Cancel marks a subscription canceled, backfilling an open-ended period
// with the current time. Canceling an already-canceled subscription is
// idempotent and never fabricates a new cancellation time.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) error {
	sub, err := m.store.GetSubscriptionByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil {
		return ErrSubscriptionNotFound
	}
	if sub.Status == models.SubscriptionCanceled {
		return nil
	}

	if _, err := m.store.CancelSubscription(ctx, id, truncateToDate(time.Now().UTC())); err != nil {
		return err
	}

	m.logger.Info().Str("subscription_id", id.String()).Msg("subscription canceled")
	return nil
}

// TenantReport is the per-tenant entitlement and usage view.
type TenantReport struct {
	Mode          license.Mode                 `json:"mode"`
	TenantID      uuid.UUID                    `json:"tenantId"`
	Features      []models.FeatureUsage        `json:"features,omitempty"`
	Subscriptions []*models.SubscriptionDetail `json:"subscriptions,omitempty"`
}

// Report combines the entitlement source with a live active-user count.
// On-prem the features come from the license snapshot; cloud, from the
// tenant's subscriptions and their plan features.
func (m *Manager) Report(ctx context.Context, tenantID uuid.UUID) (*TenantReport, error) {
	snap := m.license.Current()
	if snap == nil {
		return nil, fmt.Errorf("no license snapshot published")
	}

	activeUsers, err := m.store.CountActiveUsers(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count active users: %w", err)
	}

	report := &TenantReport{Mode: snap.Mode, TenantID: tenantID}

	switch snap.Mode {
	case license.ModeOnPrem:
		for _, grant := range snap.Features {
			report.Features = append(report.Features, featureUsage(grant.Key, grant.UserLimit, activeUsers))
		}
		return report, nil

	case license.ModeCloud:
		subs, err := m.store.ListSubscriptionsByTenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		report.Subscriptions = subs
		for _, sub := range subs {
			if sub.Status != models.SubscriptionActive {
				continue
			}
			for _, f := range sub.Features {
				report.Features = append(report.Features, featureUsage(f.FeatureKey, f.UserQuota, activeUsers))
			}
		}
		return report, nil

	default:
		return nil, fmt.Errorf("indeterminate license mode %q", snap.Mode)
	}
}

func featureUsage(key string, limit *int, activeUsers int) models.FeatureUsage {
	fu := models.FeatureUsage{
		FeatureKey:  key,
		UserLimit:   limit,
		ActiveUsers: activeUsers,
		Enabled:     true,
	}
	if limit != nil {
		remaining := *limit - activeUsers
		if remaining < 0 {
			remaining = 0
		}
		fu.Remaining = &remaining
	}
	return fu
}

// truncateToDate drops the time-of-day component, matching the DATE
// columns subscriptions are stored in.
func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
