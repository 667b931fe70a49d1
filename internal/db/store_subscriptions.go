package db

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vantagehr/entitled/internal/models"
)

// tenantLockKey maps a tenant ID onto a 64-bit advisory lock key.
func tenantLockKey(tenantID uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(tenantID[:8]))
}

// InsertSubscriptionIfNoOverlap inserts a subscription after verifying
// that no non-canceled subscription for the same tenant intersects the
// requested [PeriodStart, PeriodEnd) interval.
//
// The check and insert run in one transaction holding a per-tenant
// advisory lock, so two concurrent assignments for the same tenant
// serialize and cannot both pass the overlap check. Returns false when
// an overlap was found; nothing is inserted in that case.
func (db *DB) InsertSubscriptionIfNoOverlap(ctx context.Context, sub *models.TenantSubscription) (bool, error) {
	inserted := false
	err := db.ExecTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			"SELECT pg_advisory_xact_lock($1)", tenantLockKey(sub.TenantID),
		); err != nil {
			return fmt.Errorf("acquire tenant advisory lock: %w", err)
		}

		var overlaps bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM tenant_subscriptions
				WHERE tenant_id = $1
				  AND status <> 'canceled'
				  AND (period_end IS NULL OR period_end > $2)
				  AND ($3::date IS NULL OR period_start < $3)
			)
		`, sub.TenantID, sub.PeriodStart, sub.PeriodEnd).Scan(&overlaps)
		if err != nil {
			return fmt.Errorf("check subscription overlap: %w", err)
		}
		if overlaps {
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO tenant_subscriptions (id, tenant_id, plan_id, status, period_start, period_end)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, sub.ID, sub.TenantID, sub.PlanID, string(sub.Status), sub.PeriodStart, sub.PeriodEnd)
		if err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// GetSubscriptionByID returns a subscription by ID, or nil when missing.
func (db *DB) GetSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.TenantSubscription, error) {
	var s models.TenantSubscription
	var statusStr string
	err := db.Pool.QueryRow(ctx, `
		SELECT id, tenant_id, plan_id, status, period_start, period_end
		FROM tenant_subscriptions
		WHERE id = $1
	`, id).Scan(&s.ID, &s.TenantID, &s.PlanID, &statusStr, &s.PeriodStart, &s.PeriodEnd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscription by ID: %w", err)
	}
	s.Status = models.SubscriptionStatus(statusStr)
	return &s, nil
}

// CancelSubscription marks a subscription canceled, backfilling the
// period end with endAt only when it was open-ended. Re-canceling an
// already-canceled subscription is a no-op: the original cancellation
// time is never moved.
func (db *DB) CancelSubscription(ctx context.Context, id uuid.UUID, endAt time.Time) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE tenant_subscriptions
		SET status = 'canceled',
		    period_end = COALESCE(period_end, $2)
		WHERE id = $1 AND status <> 'canceled'
	`, id, endAt)
	if err != nil {
		return false, fmt.Errorf("cancel subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListSubscriptionsByTenant returns all subscriptions for a tenant with
// their plan names and enabled plan features, newest period first.
func (db *DB) ListSubscriptionsByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.SubscriptionDetail, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT s.id, s.tenant_id, s.plan_id, s.status, s.period_start, s.period_end, p.name
		FROM tenant_subscriptions s
		JOIN plans p ON p.id = s.plan_id
		WHERE s.tenant_id = $1
		ORDER BY s.period_start DESC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.SubscriptionDetail
	for rows.Next() {
		var d models.SubscriptionDetail
		var statusStr string
		if err := rows.Scan(&d.ID, &d.TenantID, &d.PlanID, &statusStr, &d.PeriodStart, &d.PeriodEnd, &d.PlanName); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		d.Status = models.SubscriptionStatus(statusStr)
		subs = append(subs, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, d := range subs {
		features, err := db.GetPlanFeatures(ctx, d.PlanID)
		if err != nil {
			return nil, err
		}
		d.Features = features
	}

	return subs, nil
}
