package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vantagehr/entitled/internal/models"
)

// Tenant methods

// GetTenantByID returns a tenant by its ID, or nil when it does not exist.
func (db *DB) GetTenantByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	var statusStr string
	err := db.Pool.QueryRow(ctx, `
		SELECT id, name, slug, status, created_at
		FROM tenants
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Slug, &statusStr, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tenant by ID: %w", err)
	}
	t.Status = models.TenantStatus(statusStr)
	return &t, nil
}

// CreateTenant creates a new tenant.
func (db *DB) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO tenants (id, name, slug, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, tenant.ID, tenant.Name, tenant.Slug, string(tenant.Status), tenant.CreatedAt)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

// TenantExists reports whether a tenant with the given ID exists.
func (db *DB) TenantExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM tenants WHERE id = $1)", id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check tenant exists: %w", err)
	}
	return exists, nil
}

// User methods

// CreateUser creates a new user.
func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO users (id, email, name, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Email, user.Name, user.IsActive, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// AddUserToTenant creates a tenant membership for a user.
func (db *DB) AddUserToTenant(ctx context.Context, userID, tenantID uuid.UUID, role string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO user_tenants (user_id, tenant_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, tenant_id) DO UPDATE SET role = EXCLUDED.role
	`, userID, tenantID, role)
	if err != nil {
		return fmt.Errorf("add user to tenant: %w", err)
	}
	return nil
}

// CountActiveUsers returns the number of active users belonging to a
// tenant. Used by the reporting view and the enforcement endpoint.
func (db *DB) CountActiveUsers(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM user_tenants ut
		JOIN users u ON u.id = ut.user_id
		WHERE ut.tenant_id = $1 AND u.is_active
	`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active users: %w", err)
	}
	return count, nil
}

// Plan methods

// CreatePlan creates a plan along with its features.
func (db *DB) CreatePlan(ctx context.Context, plan *models.Plan) error {
	return db.ExecTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO plans (id, name, is_active)
			VALUES ($1, $2, $3)
		`, plan.ID, plan.Name, plan.IsActive)
		if err != nil {
			return fmt.Errorf("create plan: %w", err)
		}
		for _, f := range plan.Features {
			_, err := tx.Exec(ctx, `
				INSERT INTO plan_features (id, plan_id, feature_key, user_quota, monthly_quota, enabled)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, f.ID, plan.ID, f.FeatureKey, f.UserQuota, f.MonthlyQuota, f.Enabled)
			if err != nil {
				return fmt.Errorf("create plan feature %s: %w", f.FeatureKey, err)
			}
		}
		return nil
	})
}

// PlanExists reports whether a plan with the given ID exists.
func (db *DB) PlanExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM plans WHERE id = $1)", id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check plan exists: %w", err)
	}
	return exists, nil
}

// GetPlanFeatures returns the enabled features of a plan.
func (db *DB) GetPlanFeatures(ctx context.Context, planID uuid.UUID) ([]models.PlanFeature, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, plan_id, feature_key, user_quota, monthly_quota, enabled
		FROM plan_features
		WHERE plan_id = $1 AND enabled
		ORDER BY feature_key
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("get plan features: %w", err)
	}
	defer rows.Close()

	var features []models.PlanFeature
	for rows.Next() {
		var f models.PlanFeature
		if err := rows.Scan(&f.ID, &f.PlanID, &f.FeatureKey, &f.UserQuota, &f.MonthlyQuota, &f.Enabled); err != nil {
			return nil, fmt.Errorf("scan plan feature: %w", err)
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

// FindActivePlanFeature returns the enabled PlanFeature for featureKey on
// a plan the tenant currently holds an active subscription to, or nil
// when no such entitlement exists. The tenant filter is applied here, in
// one visible place, rather than through any implicit scoping.
func (db *DB) FindActivePlanFeature(ctx context.Context, tenantID uuid.UUID, featureKey string) (*models.PlanFeature, error) {
	var f models.PlanFeature
	err := db.Pool.QueryRow(ctx, `
		SELECT pf.id, pf.plan_id, pf.feature_key, pf.user_quota, pf.monthly_quota, pf.enabled
		FROM plan_features pf
		JOIN tenant_subscriptions s ON s.plan_id = pf.plan_id
		WHERE pf.feature_key = $2
		  AND pf.enabled
		  AND s.tenant_id = $1
		  AND s.status = 'active'
		LIMIT 1
	`, tenantID, featureKey).Scan(&f.ID, &f.PlanID, &f.FeatureKey, &f.UserQuota, &f.MonthlyQuota, &f.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active plan feature: %w", err)
	}
	return &f, nil
}
