package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vantagehr/entitled/internal/license"
)

// FeatureGate defines the decision engine consulted by the enforcement
// endpoints.
type FeatureGate interface {
	IsEnabled(ctx context.Context, tenantID uuid.UUID, featureKey string) (license.Decision, error)
	CheckQuota(ctx context.Context, tenantID uuid.UUID, featureKey string, increment int) (bool, error)
}

// ActiveUserCounter counts a tenant's active users.
type ActiveUserCounter interface {
	CountActiveUsers(ctx context.Context, tenantID uuid.UUID) (int, error)
}

// FeatureHandler handles the internal feature enforcement endpoints
// called by the licensed product services.
type FeatureHandler struct {
	gate   FeatureGate
	users  ActiveUserCounter
	logger zerolog.Logger
}

// NewFeatureHandler creates a new FeatureHandler.
func NewFeatureHandler(gate FeatureGate, users ActiveUserCounter, logger zerolog.Logger) *FeatureHandler {
	return &FeatureHandler{
		gate:   gate,
		users:  users,
		logger: logger.With().Str("component", "feature_handler").Logger(),
	}
}

// RegisterRoutes registers the internal feature routes.
func (h *FeatureHandler) RegisterRoutes(r *gin.RouterGroup) {
	feature := r.Group("/feature")
	{
		feature.POST("/enforce", h.Enforce)
		feature.GET("/check", h.Check)
		feature.POST("/consume", h.Consume)
	}
}

// EnforceRequest asks whether a tenant may use a feature right now.
type EnforceRequest struct {
	TenantID uuid.UUID `json:"tenantId" binding:"required"`
	Feature  string    `json:"feature" binding:"required"`
}

// EnforceResponse is the enforcement decision. Denials are decision
// values, not errors: Error carries "feature_not_enabled" or
// "quota_exceeded" and the caller maps them to its own user-facing
// response.
type EnforceResponse struct {
	Enabled     bool    `json:"enabled"`
	UserLimit   *int    `json:"userLimit"`
	ActiveUsers int     `json:"activeUsers"`
	Allowed     bool    `json:"allowed"`
	Error       *string `json:"error"`
}

const (
	enforceErrNotEnabled    = "feature_not_enabled"
	enforceErrQuotaExceeded = "quota_exceeded"
)

// Enforce decides whether a tenant may use a feature, combining the
// entitlement decision with the live active-user count.
// POST /internal/feature/enforce
func (h *FeatureHandler) Enforce(c *gin.Context) {
	var req EnforceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	decision, err := h.gate.IsEnabled(c.Request.Context(), req.TenantID, req.Feature)
	if err != nil {
		h.logger.Error().Err(err).
			Str("tenant_id", req.TenantID.String()).
			Str("feature", req.Feature).
			Msg("feature decision failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "feature decision failed"})
		return
	}

	if !decision.Enabled {
		reason := enforceErrNotEnabled
		c.JSON(http.StatusOK, EnforceResponse{Error: &reason})
		return
	}

	activeUsers, err := h.users.CountActiveUsers(c.Request.Context(), req.TenantID)
	if err != nil {
		h.logger.Error().Err(err).
			Str("tenant_id", req.TenantID.String()).
			Msg("active user count failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "active user count failed"})
		return
	}

	resp := EnforceResponse{
		Enabled:     true,
		UserLimit:   decision.UserQuota,
		ActiveUsers: activeUsers,
		Allowed:     decision.UserQuota == nil || activeUsers <= *decision.UserQuota,
	}
	if !resp.Allowed {
		reason := enforceErrQuotaExceeded
		resp.Error = &reason
	}

	c.JSON(http.StatusOK, resp)
}

// CheckResponse is the plain entitlement decision for a feature.
type CheckResponse struct {
	Enabled   bool `json:"enabled"`
	UserQuota *int `json:"userQuota"`
}

// Check returns the entitlement decision without usage accounting.
// GET /internal/feature/check?tenantId=...&featureKey=...
func (h *FeatureHandler) Check(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Query("tenantId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenantId"})
		return
	}
	featureKey := c.Query("featureKey")
	if featureKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "featureKey is required"})
		return
	}

	decision, err := h.gate.IsEnabled(c.Request.Context(), tenantID, featureKey)
	if err != nil {
		h.logger.Error().Err(err).
			Str("tenant_id", tenantID.String()).
			Str("feature", featureKey).
			Msg("feature decision failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "feature decision failed"})
		return
	}

	c.JSON(http.StatusOK, CheckResponse{Enabled: decision.Enabled, UserQuota: decision.UserQuota})
}

// ConsumeRequest reserves quota units for a metered feature.
type ConsumeRequest struct {
	TenantID  uuid.UUID `json:"tenantId" binding:"required"`
	Feature   string    `json:"feature" binding:"required"`
	Increment int       `json:"increment"`
}

// Consume atomically checks and commits a usage increment against the
// feature's monthly quota.
// POST /internal/feature/consume
func (h *FeatureHandler) Consume(c *gin.Context) {
	var req ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Increment <= 0 {
		req.Increment = 1
	}

	ok, err := h.gate.CheckQuota(c.Request.Context(), req.TenantID, req.Feature, req.Increment)
	if err != nil {
		h.logger.Error().Err(err).
			Str("tenant_id", req.TenantID.String()).
			Str("feature", req.Feature).
			Msg("quota check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota check failed"})
		return
	}

	if !ok {
		reason := enforceErrQuotaExceeded
		c.JSON(http.StatusOK, gin.H{"allowed": false, "error": reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": true})
}
