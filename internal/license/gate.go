package license

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vantagehr/entitled/internal/metrics"
	"github.com/vantagehr/entitled/internal/models"
)

// EntitlementStore resolves cloud-mode entitlements from the
// subscription/plan tables. Lookups always take the tenant ID
// explicitly; there is no ambient tenant context.
type EntitlementStore interface {
	// FindActivePlanFeature returns the enabled PlanFeature for
	// featureKey on a plan the tenant holds an active subscription to,
	// or nil when the tenant has no such entitlement.
	FindActivePlanFeature(ctx context.Context, tenantID uuid.UUID, featureKey string) (*models.PlanFeature, error)
}

// Ledger is the usage-counter collaborator. TryIncrement atomically
// tests and commits an increment for one (tenant, feature, period) key;
// implementations must guarantee concurrent callers can never jointly
// exceed the quota.
type Ledger interface {
	TryIncrement(ctx context.Context, tenantID uuid.UUID, featureKey, period string, increment, quota int) (bool, error)
}

// Decision is the feature-gate answer for a (tenant, feature) pair.
type Decision struct {
	Enabled   bool `json:"enabled"`
	UserQuota *int `json:"userQuota"`
}

// Gate decides feature access per tenant, branching on the license mode:
// on-prem entitlements come from the license snapshot, cloud
// entitlements from the subscription store. If the mode cannot be
// determined no feature is ever enabled.
type Gate struct {
	cache        *Cache
	store        EntitlementStore
	cloudLedger  Ledger
	onpremLedger Ledger
	logger       zerolog.Logger
}

// NewGate creates a feature gate. The cloud ledger is backed by the
// database; the on-prem ledger by local storage.
func NewGate(cache *Cache, store EntitlementStore, cloudLedger, onpremLedger Ledger, logger zerolog.Logger) *Gate {
	return &Gate{
		cache:        cache,
		store:        store,
		cloudLedger:  cloudLedger,
		onpremLedger: onpremLedger,
		logger:       logger.With().Str("component", "feature_gate").Logger(),
	}
}

// IsEnabled reports whether the tenant may use the feature, and the
// per-user quota if one applies.
func (g *Gate) IsEnabled(ctx context.Context, tenantID uuid.UUID, featureKey string) (Decision, error) {
	snap := g.cache.Current()
	if snap == nil {
		// Fail closed: without a validated snapshot nothing is enabled.
		return Decision{}, fmt.Errorf("no license snapshot published")
	}

	switch snap.Mode {
	case ModeOnPrem:
		grant, ok := snap.Grant(featureKey)
		if !ok {
			metrics.FeatureDecisions.WithLabelValues("denied").Inc()
			return Decision{Enabled: false}, nil
		}
		metrics.FeatureDecisions.WithLabelValues("allowed").Inc()
		return Decision{Enabled: true, UserQuota: grant.UserLimit}, nil

	case ModeCloud:
		pf, err := g.store.FindActivePlanFeature(ctx, tenantID, featureKey)
		if err != nil {
			return Decision{}, fmt.Errorf("lookup plan feature: %w", err)
		}
		if pf == nil {
			metrics.FeatureDecisions.WithLabelValues("denied").Inc()
			return Decision{Enabled: false}, nil
		}
		metrics.FeatureDecisions.WithLabelValues("allowed").Inc()
		return Decision{Enabled: true, UserQuota: pf.UserQuota}, nil

	default:
		return Decision{}, fmt.Errorf("indeterminate license mode %q", snap.Mode)
	}
}

// CheckQuota atomically tests whether used+increment stays within the
// feature's monthly quota and commits the increment only if so. Features
// without a finite quota always pass without touching the ledger. The
// period key is the current UTC calendar month.
func (g *Gate) CheckQuota(ctx context.Context, tenantID uuid.UUID, featureKey string, increment int) (bool, error) {
	snap := g.cache.Current()
	if snap == nil {
		return false, fmt.Errorf("no license snapshot published")
	}
	if increment <= 0 {
		increment = 1
	}
	period := models.PeriodKey(time.Now())

	switch snap.Mode {
	case ModeOnPrem:
		grant, ok := snap.Grant(featureKey)
		if !ok {
			return false, nil
		}
		if grant.UserLimit == nil {
			return true, nil
		}
		if g.onpremLedger == nil {
			// A reload may have switched the license to on-prem mode after
			// startup. Fail closed rather than dereference a missing ledger.
			return false, fmt.Errorf("no usage ledger configured for on-prem metering")
		}
		// On-prem quotas are enforced against the local ledger using the
		// grant's limit as the per-period cap.
		ok, err := g.onpremLedger.TryIncrement(ctx, tenantID, featureKey, period, increment, *grant.UserLimit)
		if err != nil {
			return false, fmt.Errorf("onprem usage ledger: %w", err)
		}
		if !ok {
			metrics.QuotaDenials.Inc()
		}
		return ok, nil

	case ModeCloud:
		pf, err := g.store.FindActivePlanFeature(ctx, tenantID, featureKey)
		if err != nil {
			return false, fmt.Errorf("lookup plan feature: %w", err)
		}
		if pf == nil {
			return false, nil
		}
		if pf.MonthlyQuota == nil {
			return true, nil
		}
		if g.cloudLedger == nil {
			return false, fmt.Errorf("no usage ledger configured for cloud metering")
		}
		ok, err := g.cloudLedger.TryIncrement(ctx, tenantID, featureKey, period, increment, *pf.MonthlyQuota)
		if err != nil {
			return false, fmt.Errorf("usage ledger: %w", err)
		}
		if !ok {
			metrics.QuotaDenials.Inc()
		}
		return ok, nil

	default:
		return false, fmt.Errorf("indeterminate license mode %q", snap.Mode)
	}
}
