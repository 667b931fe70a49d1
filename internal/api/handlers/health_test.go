package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type mockDBChecker struct {
	pingErr error
}

func (m *mockDBChecker) Ping(_ context.Context) error {
	return m.pingErr
}

func (m *mockDBChecker) Health() map[string]any {
	return map[string]any{"total_conns": 5}
}

type mockLicenseChecker struct {
	hasSnapshot bool
}

func (m *mockLicenseChecker) HasSnapshot() bool {
	return m.hasSnapshot
}

func setupHealthRouter(db DatabaseHealthChecker, lic LicenseHealthChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHealthHandler(db, lic, zerolog.Nop()).RegisterPublicRoutes(router)
	return router
}

func TestHealthOverall(t *testing.T) {
	tests := []struct {
		name       string
		db         DatabaseHealthChecker
		lic        LicenseHealthChecker
		wantStatus int
		want       HealthStatus
	}{
		{
			name:       "all healthy",
			db:         &mockDBChecker{},
			lic:        &mockLicenseChecker{hasSnapshot: true},
			wantStatus: http.StatusOK,
			want:       HealthStatusHealthy,
		},
		{
			name:       "database down",
			db:         &mockDBChecker{pingErr: errors.New("connection refused")},
			lic:        &mockLicenseChecker{hasSnapshot: true},
			wantStatus: http.StatusServiceUnavailable,
			want:       HealthStatusUnhealthy,
		},
		{
			name:       "no license snapshot",
			db:         &mockDBChecker{},
			lic:        &mockLicenseChecker{hasSnapshot: false},
			wantStatus: http.StatusServiceUnavailable,
			want:       HealthStatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupHealthRouter(tt.db, tt.lic)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp HealthResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal response: %v", err)
			}
			if resp.Status != tt.want {
				t.Errorf("overall status = %q, want %q", resp.Status, tt.want)
			}
		})
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		db         DatabaseHealthChecker
		lic        LicenseHealthChecker
		wantStatus int
	}{
		{
			name:       "ready",
			db:         &mockDBChecker{},
			lic:        &mockLicenseChecker{hasSnapshot: true},
			wantStatus: http.StatusOK,
		},
		{
			name:       "database down",
			db:         &mockDBChecker{pingErr: errors.New("connection refused")},
			lic:        &mockLicenseChecker{hasSnapshot: true},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "no license snapshot",
			db:         &mockDBChecker{},
			lic:        &mockLicenseChecker{hasSnapshot: false},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupHealthRouter(tt.db, tt.lic)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHealthDatabase(t *testing.T) {
	router := setupHealthRouter(&mockDBChecker{}, &mockLicenseChecker{hasSnapshot: true})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/db", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	check, ok := resp.Checks["database"]
	if !ok {
		t.Fatal("response missing database check")
	}
	if check.Status != HealthStatusHealthy {
		t.Errorf("database status = %q, want healthy", check.Status)
	}
}
