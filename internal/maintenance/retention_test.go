package maintenance

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type mockRetentionStore struct {
	gotCutoff string
	deleted   int64
	err       error
}

func (m *mockRetentionStore) PurgeUsageCountersBefore(_ context.Context, period string) (int64, error) {
	m.gotCutoff = period
	return m.deleted, m.err
}

func TestRetentionSchedulerRunNow(t *testing.T) {
	store := &mockRetentionStore{deleted: 42}
	s := NewRetentionScheduler(store, 6, zerolog.Nop())

	s.RunNow()

	if store.gotCutoff == "" {
		t.Fatal("cleanup never reached the store")
	}
	if len(store.gotCutoff) != len("2006-01") {
		t.Errorf("cutoff = %q, want a YYYY-MM period key", store.gotCutoff)
	}
}

func TestRetentionSchedulerSurvivesStoreError(t *testing.T) {
	store := &mockRetentionStore{err: errors.New("db down")}
	s := NewRetentionScheduler(store, 6, zerolog.Nop())

	// Must not panic; the next scheduled run will retry.
	s.RunNow()
}

func TestRetentionSchedulerStartStop(t *testing.T) {
	s := NewRetentionScheduler(&mockRetentionStore{}, 0, zerolog.Nop())
	if s.retentionMonths != 12 {
		t.Errorf("retentionMonths = %d, want default 12", s.retentionMonths)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("second Start() must fail while running")
	}
	s.Stop()
	s.Stop()
}
