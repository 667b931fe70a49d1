package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vantagehr/entitled/internal/license"
)

type mockLicenseCache struct {
	snapshot  *license.Snapshot
	reloadErr error
	reloads   int
}

func (m *mockLicenseCache) Current() *license.Snapshot {
	return m.snapshot
}

func (m *mockLicenseCache) Reload() (*license.Snapshot, error) {
	m.reloads++
	if m.reloadErr != nil {
		return nil, m.reloadErr
	}
	return m.snapshot, nil
}

func testSnapshot() *license.Snapshot {
	now := time.Now().UTC()
	return &license.Snapshot{
		Mode:        license.ModeOnPrem,
		Fingerprint: "fp-1234",
		Features:    []license.FeatureGrant{{Key: "perf"}, {Key: "comp"}},
		LoadedAt:    now,
		NotBefore:   now.Add(-time.Hour),
		NotAfter:    now.Add(24 * time.Hour),
	}
}

func setupLicenseRouter(cache LicenseCache) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewLicenseHandler(cache, zerolog.Nop())
	h.RegisterRoutes(router.Group("/admin"))
	return router
}

func TestLicenseStatus(t *testing.T) {
	router := setupLicenseRouter(&mockLicenseCache{snapshot: testSnapshot()})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/license/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp LicenseStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Mode != license.ModeOnPrem {
		t.Errorf("mode = %q, want onprem", resp.Mode)
	}
	if resp.Fingerprint != "fp-1234" {
		t.Errorf("fingerprint = %q, want fp-1234", resp.Fingerprint)
	}
	if len(resp.Features) != 2 {
		t.Errorf("len(features) = %d, want 2", len(resp.Features))
	}
}

func TestLicenseStatusWithoutSnapshot(t *testing.T) {
	router := setupLicenseRouter(&mockLicenseCache{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/license/status", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestLicenseReload(t *testing.T) {
	cache := &mockLicenseCache{snapshot: testSnapshot()}
	router := setupLicenseRouter(cache)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/license/reload", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if cache.reloads != 1 {
		t.Errorf("reloads = %d, want 1", cache.reloads)
	}
}

func TestLicenseReloadFailure(t *testing.T) {
	cache := &mockLicenseCache{
		snapshot:  testSnapshot(),
		reloadErr: errors.New("tampered file"),
	}
	router := setupLicenseRouter(cache)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/license/reload", nil))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}
