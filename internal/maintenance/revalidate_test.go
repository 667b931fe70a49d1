package maintenance

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantagehr/entitled/internal/license"
)

var testMasterKey = []byte("revalidation-test-master-key")

type flipSource struct{ data []byte }

func (s *flipSource) Read() ([]byte, error) { return s.data, nil }

func testCache(t *testing.T) (*license.Cache, *flipSource) {
	t.Helper()
	envelope, err := license.Encode(&license.Plaintext{
		Mode:      license.ModeCloud,
		Issuer:    "VantageHR Test",
		IssuedAt:  time.Now().UTC().Add(-time.Hour),
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
		LicenseID: "lic-revalidation-test",
	}, testMasterKey)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	source := &flipSource{data: envelope}
	cache, err := license.NewCache(source, testMasterKey, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	return cache, source
}

func TestRevalidationSchedulerStartStop(t *testing.T) {
	cache, _ := testCache(t)
	s := NewRevalidationScheduler(cache, "@hourly", zerolog.Nop())

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("second Start() must fail while running")
	}
	s.Stop()

	// Stopping again is a no-op.
	s.Stop()
}

func TestRevalidationSchedulerRejectsBadSchedule(t *testing.T) {
	cache, _ := testCache(t)
	s := NewRevalidationScheduler(cache, "every hour or so", zerolog.Nop())

	if err := s.Start(); err == nil {
		t.Fatal("Start() with an invalid cron spec must fail")
	}
}

func TestRunNowKeepsSnapshotOnFailure(t *testing.T) {
	cache, source := testCache(t)
	s := NewRevalidationScheduler(cache, "@hourly", zerolog.Nop())

	before := cache.Current()
	source.data = []byte("rotated to garbage")

	s.RunNow()

	if cache.Current() != before {
		t.Error("failed revalidation must keep the previous snapshot published")
	}
}
