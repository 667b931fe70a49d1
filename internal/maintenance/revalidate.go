// Package maintenance runs the server's periodic background jobs.
package maintenance

import (
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/vantagehr/entitled/internal/license"
	"github.com/vantagehr/entitled/internal/metrics"
)

// expiryWarningWindow is how far ahead of license expiry the scheduler
// starts logging warnings.
const expiryWarningWindow = 14 * 24 * time.Hour

// RevalidationScheduler periodically re-reads and re-verifies the
// license file so expiry and replaced licenses take effect without a
// restart. A failed revalidation keeps the previous snapshot serving.
type RevalidationScheduler struct {
	cache    *license.Cache
	schedule string
	cron     *cron.Cron
	logger   zerolog.Logger
	mu       sync.Mutex
	running  bool
}

// NewRevalidationScheduler creates a license revalidation scheduler.
// The schedule is a cron spec; "@hourly" is typical.
func NewRevalidationScheduler(cache *license.Cache, schedule string, logger zerolog.Logger) *RevalidationScheduler {
	return &RevalidationScheduler{
		cache:    cache,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With().Str("component", "license_revalidation").Logger(),
	}
}

// Start begins the revalidation schedule.
func (s *RevalidationScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("revalidation scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, s.runRevalidation); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Msg("license revalidation scheduler started")

	return nil
}

// Stop stops the scheduler, waiting for any in-flight revalidation to
// finish.
func (s *RevalidationScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	s.logger.Info().Msg("stopping license revalidation scheduler")
	<-s.cron.Stop().Done()
}

func (s *RevalidationScheduler) runRevalidation() {
	snap, err := s.cache.Reload()
	if err != nil {
		metrics.LicenseReloads.WithLabelValues("failure").Inc()
		s.logger.Error().Err(err).Msg("scheduled license revalidation failed, previous snapshot retained")
		return
	}

	metrics.LicenseReloads.WithLabelValues("success").Inc()

	if remaining := time.Until(snap.NotAfter); remaining < expiryWarningWindow {
		s.logger.Warn().
			Time("not_after", snap.NotAfter).
			Dur("remaining", remaining).
			Msg("license approaching expiry")
	}

	s.logger.Info().
		Str("mode", string(snap.Mode)).
		Time("not_after", snap.NotAfter).
		Msg("scheduled license revalidation succeeded")
}

// RunNow triggers an immediate revalidation (useful for testing).
func (s *RevalidationScheduler) RunNow() {
	s.runRevalidation()
}
