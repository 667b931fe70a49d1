package maintenance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/vantagehr/entitled/internal/models"
)

// RetentionStore defines the interface for usage-counter retention.
type RetentionStore interface {
	PurgeUsageCountersBefore(ctx context.Context, period string) (int64, error)
}

// RetentionScheduler runs periodic cleanup of usage counters from closed
// billing periods. Counters from the current period and the configured
// number of trailing months are kept for reporting.
type RetentionScheduler struct {
	store           RetentionStore
	retentionMonths int
	cron            *cron.Cron
	logger          zerolog.Logger
	mu              sync.Mutex
	running         bool
}

// NewRetentionScheduler creates a usage retention scheduler.
func NewRetentionScheduler(store RetentionStore, retentionMonths int, logger zerolog.Logger) *RetentionScheduler {
	if retentionMonths < 1 {
		retentionMonths = 12
	}
	return &RetentionScheduler{
		store:           store,
		retentionMonths: retentionMonths,
		cron:            cron.New(),
		logger:          logger.With().Str("component", "usage_retention").Logger(),
	}
}

// Start begins the daily cleanup schedule at 3:00 AM UTC.
func (s *RetentionScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("retention scheduler already running")
	}

	if _, err := s.cron.AddFunc("0 3 * * *", s.runCleanup); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Int("retention_months", s.retentionMonths).
		Msg("usage retention scheduler started (daily at 03:00 UTC)")

	return nil
}

// Stop stops the retention scheduler gracefully.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	s.logger.Info().Msg("stopping usage retention scheduler")
	<-s.cron.Stop().Done()
}

func (s *RetentionScheduler) runCleanup() {
	ctx := context.Background()
	cutoff := models.PeriodKey(time.Now().UTC().AddDate(0, -s.retentionMonths, 0))

	deleted, err := s.store.PurgeUsageCountersBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("usage counter cleanup failed")
		return
	}

	s.logger.Info().
		Int64("deleted_rows", deleted).
		Str("cutoff_period", cutoff).
		Msg("usage counter cleanup completed")
}

// RunNow triggers an immediate cleanup (useful for testing).
func (s *RetentionScheduler) RunNow() {
	s.runCleanup()
}
