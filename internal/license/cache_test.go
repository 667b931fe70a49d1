package license

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// stubSource serves whatever bytes (or error) the test sets.
type stubSource struct {
	data []byte
	err  error
}

func (s *stubSource) Read() ([]byte, error) {
	return s.data, s.err
}

func validEnvelope(t *testing.T, mode Mode) []byte {
	t.Helper()
	envelope, err := Encode(testLicense(mode, time.Now().UTC().Add(24*time.Hour)), testMasterKey)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return envelope
}

func TestNewCacheInitialLoad(t *testing.T) {
	source := &stubSource{data: validEnvelope(t, ModeOnPrem)}

	cache, err := NewCache(source, testMasterKey, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	snap := cache.Current()
	if snap == nil {
		t.Fatal("Current() = nil after successful initial load")
	}
	if snap.Mode != ModeOnPrem {
		t.Errorf("Mode = %q, want %q", snap.Mode, ModeOnPrem)
	}
	if !cache.HasSnapshot() {
		t.Error("HasSnapshot() = false after successful initial load")
	}
}

func TestNewCacheFailsWithoutValidLicense(t *testing.T) {
	source := &stubSource{data: []byte("garbage")}

	if _, err := NewCache(source, testMasterKey, zerolog.Nop()); err == nil {
		t.Fatal("NewCache() succeeded with an invalid license")
	}
}

func TestReloadFailureKeepsPreviousSnapshot(t *testing.T) {
	source := &stubSource{data: validEnvelope(t, ModeCloud)}
	cache, err := NewCache(source, testMasterKey, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	before := cache.Current()

	source.data = []byte("corrupted on disk")
	if _, err := cache.Reload(); !errors.Is(err, ErrLicenseInvalid) {
		t.Fatalf("Reload() error = %v, want ErrLicenseInvalid", err)
	}

	if got := cache.Current(); got != before {
		t.Error("failed reload must not replace the published snapshot")
	}
}

func TestReloadPicksUpReplacedLicense(t *testing.T) {
	source := &stubSource{data: validEnvelope(t, ModeCloud)}
	cache, err := NewCache(source, testMasterKey, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	source.data = validEnvelope(t, ModeOnPrem)
	snap, err := cache.Reload()
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if snap.Mode != ModeOnPrem {
		t.Errorf("Mode = %q, want %q", snap.Mode, ModeOnPrem)
	}
	if cache.Current() != snap {
		t.Error("Current() must return the newly published snapshot")
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "license.lic")
	envelope := validEnvelope(t, ModeCloud)
	if err := os.WriteFile(path, envelope, 0o600); err != nil {
		t.Fatal(err)
	}

	data, err := FileSource{Path: path}.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != string(envelope) {
		t.Error("Read() returned different bytes than written")
	}

	_, err = FileSource{Path: filepath.Join(dir, "missing.lic")}.Read()
	if !errors.Is(err, ErrFileMissing) {
		t.Fatalf("Read(missing) error = %v, want ErrFileMissing", err)
	}
}
