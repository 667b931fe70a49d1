package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vantagehr/entitled/internal/models"
)

// TryIncrement atomically checks and commits a usage increment for one
// (tenant, feature, period) counter.
//
// The counter row is created lazily on first use. The increment is a
// single conditional UPDATE whose WHERE clause asserts the quota, so two
// concurrent callers can never both pass the check and jointly exceed
// it; there is no read-then-write window. Returns false, with no side
// effect, when the increment would exceed the quota.
func (db *DB) TryIncrement(ctx context.Context, tenantID uuid.UUID, featureKey, period string, increment, quota int) (bool, error) {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO usage_counters (id, tenant_id, feature_key, period, used)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (tenant_id, feature_key, period) DO NOTHING
	`, uuid.New(), tenantID, featureKey, period)
	if err != nil {
		return false, fmt.Errorf("ensure usage counter: %w", err)
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE usage_counters
		SET used = used + $4, updated_at = NOW()
		WHERE tenant_id = $1 AND feature_key = $2 AND period = $3
		  AND used + $4 <= $5
	`, tenantID, featureKey, period, increment, quota)
	if err != nil {
		return false, fmt.Errorf("increment usage counter: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// GetUsageCounter returns the counter for a (tenant, feature, period)
// key, or nil when no usage has been recorded yet.
func (db *DB) GetUsageCounter(ctx context.Context, tenantID uuid.UUID, featureKey, period string) (*models.UsageCounter, error) {
	var c models.UsageCounter
	err := db.Pool.QueryRow(ctx, `
		SELECT id, tenant_id, feature_key, period, used, updated_at
		FROM usage_counters
		WHERE tenant_id = $1 AND feature_key = $2 AND period = $3
	`, tenantID, featureKey, period).Scan(&c.ID, &c.TenantID, &c.FeatureKey, &c.Period, &c.Used, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get usage counter: %w", err)
	}
	return &c, nil
}

// PurgeUsageCountersBefore deletes counters for billing periods strictly
// before the given period key. Period keys sort lexicographically, so a
// plain string comparison is a date comparison.
func (db *DB) PurgeUsageCountersBefore(ctx context.Context, period string) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		"DELETE FROM usage_counters WHERE period < $1", period,
	)
	if err != nil {
		return 0, fmt.Errorf("purge usage counters: %w", err)
	}
	return tag.RowsAffected(), nil
}
