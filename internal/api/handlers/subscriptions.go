package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vantagehr/entitled/internal/models"
	"github.com/vantagehr/entitled/internal/subscription"
)

// SubscriptionManager is the admin-facing subscription lifecycle API.
type SubscriptionManager interface {
	Assign(ctx context.Context, req subscription.AssignRequest) (*models.TenantSubscription, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Report(ctx context.Context, tenantID uuid.UUID) (*subscription.TenantReport, error)
}

// SubscriptionHandler handles the admin subscription endpoints.
type SubscriptionHandler struct {
	manager SubscriptionManager
	logger  zerolog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(manager SubscriptionManager, logger zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		manager: manager,
		logger:  logger.With().Str("component", "subscription_handler").Logger(),
	}
}

// RegisterRoutes registers the admin subscription routes.
func (h *SubscriptionHandler) RegisterRoutes(r *gin.RouterGroup) {
	subs := r.Group("/subscriptions")
	{
		subs.POST("/assign", h.Assign)
		subs.GET("/:tenantId", h.Report)
		subs.POST("/:id/cancel", h.Cancel)
	}
}

// AssignSubscriptionRequest is the admin request to put a tenant on a plan.
// Period values use the YYYY-MM-DD date form; an omitted start means
// today and an omitted end means open-ended.
type AssignSubscriptionRequest struct {
	TenantID    uuid.UUID `json:"tenantId" binding:"required"`
	PlanID      uuid.UUID `json:"planId" binding:"required"`
	PeriodStart *string   `json:"periodStart"`
	PeriodEnd   *string   `json:"periodEnd"`
	Status      string    `json:"status"`
}

func parseDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", *s, time.UTC)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Assign creates a subscription for a tenant if it does not overlap an
// existing one.
// POST /admin/subscriptions/assign
func (h *SubscriptionHandler) Assign(c *gin.Context) {
	var req AssignSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	start, err := parseDate(req.PeriodStart)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid periodStart, expected YYYY-MM-DD"})
		return
	}
	end, err := parseDate(req.PeriodEnd)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid periodEnd, expected YYYY-MM-DD"})
		return
	}
	status := strings.ToLower(req.Status)
	if status != "" && !models.SubscriptionStatus(status).IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	sub, err := h.manager.Assign(c.Request.Context(), subscription.AssignRequest{
		TenantID:    req.TenantID,
		PlanID:      req.PlanID,
		PeriodStart: start,
		PeriodEnd:   end,
		Status:      models.SubscriptionStatus(status),
	})
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrInvalidPeriod):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, subscription.ErrTenantOrPlanNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, subscription.ErrPeriodOverlap),
			errors.Is(err, subscription.ErrOnPremNotSupported):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.logger.Error().Err(err).
				Str("tenant_id", req.TenantID.String()).
				Msg("subscription assignment failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "subscription assignment failed"})
		}
		return
	}

	c.JSON(http.StatusOK, sub)
}

// Report returns a tenant's subscriptions and effective feature limits.
// GET /admin/subscriptions/:tenantId
func (h *SubscriptionHandler) Report(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("tenantId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
		return
	}

	report, err := h.manager.Report(c.Request.Context(), tenantID)
	if err != nil {
		if errors.Is(err, subscription.ErrTenantOrPlanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error().Err(err).
			Str("tenant_id", tenantID.String()).
			Msg("tenant report failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant report failed"})
		return
	}

	c.JSON(http.StatusOK, report)
}

// Cancel cancels a subscription. Canceling an already-canceled
// subscription is a no-op.
// POST /admin/subscriptions/:id/cancel
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}

	if err := h.manager.Cancel(c.Request.Context(), id); err != nil {
		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error().Err(err).
			Str("subscription_id", id.String()).
			Msg("subscription cancel failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscription cancel failed"})
		return
	}

	c.Status(http.StatusNoContent)
}
