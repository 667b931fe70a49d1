// Package handlers implements the HTTP handlers for the Entitled API.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Status   HealthStatus   `json:"status"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status HealthStatus                  `json:"status"`
	Checks map[string]*HealthCheckResult `json:"checks,omitempty"`
}

// DatabaseHealthChecker defines the interface for database health checking.
type DatabaseHealthChecker interface {
	Ping(ctx context.Context) error
	Health() map[string]any
}

// LicenseHealthChecker reports whether a validated license snapshot is
// currently published.
type LicenseHealthChecker interface {
	HasSnapshot() bool
}

// HealthHandler handles health-related HTTP endpoints.
type HealthHandler struct {
	db      DatabaseHealthChecker
	license LicenseHealthChecker
	logger  zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db DatabaseHealthChecker, license LicenseHealthChecker, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		license: license,
		logger:  logger.With().Str("component", "health_handler").Logger(),
	}
}

// RegisterPublicRoutes registers health check routes that don't require authentication.
func (h *HealthHandler) RegisterPublicRoutes(r *gin.Engine) {
	health := r.Group("/health")
	{
		health.GET("", h.Overall)
		health.GET("/ready", h.Ready)
		health.GET("/db", h.Database)
	}
}

// Overall returns the overall server health status.
// GET /health
func (h *HealthHandler) Overall(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := &HealthResponse{
		Status: HealthStatusHealthy,
		Checks: make(map[string]*HealthCheckResult),
	}

	dbResult := h.checkDatabase(ctx)
	response.Checks["database"] = dbResult

	licResult := &HealthCheckResult{Status: HealthStatusHealthy}
	if h.license == nil || !h.license.HasSnapshot() {
		licResult.Status = HealthStatusUnhealthy
		licResult.Error = "no license snapshot published"
	}
	response.Checks["license"] = licResult

	if dbResult.Status == HealthStatusUnhealthy || licResult.Status == HealthStatusUnhealthy {
		response.Status = HealthStatusUnhealthy
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// Ready reports whether the server can make entitlement decisions. It
// requires both a reachable database and a published license snapshot,
// making it suitable as a readiness probe.
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ready := h.checkDatabase(ctx).Status == HealthStatusHealthy &&
		h.license != nil && h.license.HasSnapshot()

	if !ready {
		c.JSON(http.StatusServiceUnavailable, &HealthResponse{Status: HealthStatusUnhealthy})
		return
	}
	c.JSON(http.StatusOK, &HealthResponse{Status: HealthStatusHealthy})
}

// Database returns the database health status.
// GET /health/db
func (h *HealthHandler) Database(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	result := h.checkDatabase(ctx)

	status := http.StatusOK
	if result.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, &HealthResponse{
		Status: result.Status,
		Checks: map[string]*HealthCheckResult{"database": result},
	})
}

func (h *HealthHandler) checkDatabase(ctx context.Context) *HealthCheckResult {
	result := &HealthCheckResult{Status: HealthStatusHealthy}
	if h.db == nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "database not configured"
		return result
	}

	start := time.Now()
	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("database health check failed")
		result.Status = HealthStatusUnhealthy
		result.Error = err.Error()
		return result
	}
	result.Duration = time.Since(start).String()
	result.Details = h.db.Health()
	return result
}
