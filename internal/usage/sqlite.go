// Package usage provides usage-counter ledgers with atomic
// check-and-increment semantics.
package usage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteLedger persists usage counters in a local SQLite file. It backs
// quota enforcement for on-prem deployments, where the license file is
// the entitlement source and no Postgres counter tables apply; counters
// survive process restarts.
type SQLiteLedger struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenSQLiteLedger opens (and initializes) a ledger at the given path.
func OpenSQLiteLedger(path string, logger zerolog.Logger) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}

	// Writes are serialized through a single connection; the conditional
	// UPDATE below is the critical section.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_counters (
			tenant_id TEXT NOT NULL,
			feature_key TEXT NOT NULL,
			period TEXT NOT NULL,
			used INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, feature_key, period)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize usage ledger schema: %w", err)
	}

	return &SQLiteLedger{
		db:     db,
		logger: logger.With().Str("component", "usage_ledger").Logger(),
	}, nil
}

// Close closes the underlying database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// TryIncrement atomically checks and commits a usage increment. The
// quota assertion lives in the UPDATE's WHERE clause, mirroring the
// Postgres ledger, so concurrent callers cannot jointly exceed quota.
func (l *SQLiteLedger) TryIncrement(ctx context.Context, tenantID uuid.UUID, featureKey, period string, increment, quota int) (bool, error) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO usage_counters (tenant_id, feature_key, period, used)
		VALUES (?, ?, ?, 0)
		ON CONFLICT (tenant_id, feature_key, period) DO NOTHING
	`, tenantID.String(), featureKey, period)
	if err != nil {
		return false, fmt.Errorf("ensure usage counter: %w", err)
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE usage_counters
		SET used = used + ?
		WHERE tenant_id = ? AND feature_key = ? AND period = ?
		  AND used + ? <= ?
	`, increment, tenantID.String(), featureKey, period, increment, quota)
	if err != nil {
		return false, fmt.Errorf("increment usage counter: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment usage counter: %w", err)
	}
	return n > 0, nil
}

// Used returns the committed usage for a counter key, zero when the
// counter does not exist yet.
func (l *SQLiteLedger) Used(ctx context.Context, tenantID uuid.UUID, featureKey, period string) (int, error) {
	var used int
	err := l.db.QueryRowContext(ctx, `
		SELECT used FROM usage_counters
		WHERE tenant_id = ? AND feature_key = ? AND period = ?
	`, tenantID.String(), featureKey, period).Scan(&used)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("read usage counter: %w", err)
	}
	return used, nil
}

// PurgeUsageCountersBefore deletes counters for billing periods strictly
// before the given period key.
func (l *SQLiteLedger) PurgeUsageCountersBefore(ctx context.Context, period string) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		"DELETE FROM usage_counters WHERE period < ?", period,
	)
	if err != nil {
		return 0, fmt.Errorf("purge usage counters: %w", err)
	}
	return res.RowsAffected()
}
