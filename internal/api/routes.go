// Package api provides the HTTP API for the Entitled server.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vantagehr/entitled/internal/api/handlers"
	"github.com/vantagehr/entitled/internal/api/middleware"
	"github.com/vantagehr/entitled/internal/config"
	"github.com/vantagehr/entitled/internal/db"
	"github.com/vantagehr/entitled/internal/license"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Config holds configuration for the API router.
type Config struct {
	// Environment the server runs in; production tightens CORS.
	Environment config.Environment
	// AllowedOrigins for CORS. Empty means all origins allowed in dev mode.
	AllowedOrigins []string
	// AdminToken authenticates the /admin endpoints.
	AdminToken string
	// RateLimitRequests is the number of requests allowed per period.
	RateLimitRequests int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m", "1h").
	RateLimitPeriod string
	// RedisURL backs the rate limiter store when set; empty falls back
	// to an in-memory store.
	RedisURL string
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(
	cfg Config,
	database *db.DB,
	licenseCache *license.Cache,
	gate *license.Gate,
	manager handlers.SubscriptionManager,
	logger zerolog.Logger,
) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.CORS(cfg.AllowedOrigins, cfg.Environment))
	r.Engine.Use(middleware.BodyLimit(maxRequestBody))

	// Rate limiting
	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	// Health check endpoints (no auth required)
	healthHandler := handlers.NewHealthHandler(database, licenseCache, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	// Prometheus metrics endpoint (no auth required)
	handlers.NewMetricsHandler().RegisterPublicRoutes(r.Engine)

	// Internal enforcement routes, called service-to-service by the
	// product backends.
	internal := r.Engine.Group("/internal")
	featureHandler := handlers.NewFeatureHandler(gate, database, logger)
	featureHandler.RegisterRoutes(internal)

	// Admin routes (bearer token required)
	admin := r.Engine.Group("/admin")
	admin.Use(middleware.AdminAuth(cfg.AdminToken, logger))

	subscriptionHandler := handlers.NewSubscriptionHandler(manager, logger)
	subscriptionHandler.RegisterRoutes(admin)

	licenseHandler := handlers.NewLicenseHandler(licenseCache, logger)
	licenseHandler.RegisterRoutes(admin)

	return r, nil
}
