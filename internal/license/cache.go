package license

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Source supplies raw license envelope bytes. The default source reads a
// file from disk so every reload picks up a replaced license file.
type Source interface {
	Read() ([]byte, error)
}

// FileSource reads the license envelope from a filesystem path.
type FileSource struct {
	Path string
}

// Read returns the license file contents.
func (s FileSource) Read() ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileMissing, s.Path)
		}
		return nil, fmt.Errorf("read license file: %w", err)
	}
	return data, nil
}

// Cache is the process-wide holder of the current license snapshot.
//
// Reads are lock-free: Current loads an atomic pointer so no reader ever
// observes a torn snapshot. Reload revalidates from the source and
// publishes atomically only on success; concurrent reloads race
// last-writer-wins, which is safe because each one independently
// revalidated against the same authoritative source.
type Cache struct {
	source    Source
	masterKey []byte
	logger    zerolog.Logger

	current atomic.Pointer[Snapshot]
}

// NewCache creates a Cache and performs the initial load. Failing the
// initial load is fatal to the caller: no feature-gated traffic may be
// served without a validated license.
func NewCache(source Source, masterKey []byte, logger zerolog.Logger) (*Cache, error) {
	c := &Cache{
		source:    source,
		masterKey: masterKey,
		logger:    logger.With().Str("component", "license_cache").Logger(),
	}
	if _, err := c.Reload(); err != nil {
		return nil, fmt.Errorf("initial license load: %w", err)
	}
	return c, nil
}

// Current returns the last successfully validated snapshot. Non-blocking.
func (c *Cache) Current() *Snapshot {
	return c.current.Load()
}

// HasSnapshot reports whether a validated snapshot is published.
func (c *Cache) HasSnapshot() bool {
	return c.current.Load() != nil
}

// Reload re-reads the license source, revalidates it, and atomically
// swaps in the new snapshot. On failure the previously published
// snapshot stays in effect and the error is returned.
func (c *Cache) Reload() (*Snapshot, error) {
	data, err := c.source.Read()
	if err != nil {
		c.logger.Error().Err(err).Msg("license source read failed")
		if errors.Is(err, ErrFileMissing) {
			return nil, fmt.Errorf("%w: %w", ErrLicenseInvalid, err)
		}
		return nil, err
	}

	lic, err := Decode(data, c.masterKey)
	if err != nil {
		// Internal log keeps the specific cause; callers only see
		// ErrLicenseInvalid.
		c.logger.Error().Err(err).Msg("license validation failed")
		return nil, err
	}

	snap := newSnapshot(lic)
	c.current.Store(snap)

	c.logger.Info().
		Str("mode", string(snap.Mode)).
		Str("license_id", lic.LicenseID).
		Time("expires_at", snap.NotAfter).
		Int("features", len(snap.Features)).
		Msg("license snapshot published")

	return snap, nil
}
