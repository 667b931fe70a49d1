package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vantagehr/entitled/internal/license"
	"github.com/vantagehr/entitled/internal/metrics"
)

// LicenseCache is the snapshot source for the admin license endpoints.
type LicenseCache interface {
	Current() *license.Snapshot
	Reload() (*license.Snapshot, error)
}

// LicenseHandler handles the admin license endpoints.
type LicenseHandler struct {
	cache  LicenseCache
	logger zerolog.Logger
}

// NewLicenseHandler creates a new LicenseHandler.
func NewLicenseHandler(cache LicenseCache, logger zerolog.Logger) *LicenseHandler {
	return &LicenseHandler{
		cache:  cache,
		logger: logger.With().Str("component", "license_handler").Logger(),
	}
}

// RegisterRoutes registers the admin license routes.
func (h *LicenseHandler) RegisterRoutes(r *gin.RouterGroup) {
	lic := r.Group("/license")
	{
		lic.POST("/reload", h.Reload)
		lic.GET("/status", h.Status)
	}
}

// LicenseStatusResponse describes the currently published snapshot.
type LicenseStatusResponse struct {
	Mode        license.Mode `json:"mode"`
	Fingerprint string       `json:"fingerprint,omitempty"`
	LoadedAt    time.Time    `json:"loadedAt"`
	NotBefore   time.Time    `json:"notBefore"`
	NotAfter    time.Time    `json:"notAfter"`
	Features    []string     `json:"features"`
}

func statusResponse(snap *license.Snapshot) LicenseStatusResponse {
	features := make([]string, 0, len(snap.Features))
	for _, g := range snap.Features {
		features = append(features, g.Key)
	}
	return LicenseStatusResponse{
		Mode:        snap.Mode,
		Fingerprint: snap.Fingerprint,
		LoadedAt:    snap.LoadedAt,
		NotBefore:   snap.NotBefore,
		NotAfter:    snap.NotAfter,
		Features:    features,
	}
}

// Reload re-reads and re-verifies the license file, swapping the
// published snapshot only on success. On failure the previous snapshot
// keeps serving.
// POST /admin/license/reload
func (h *LicenseHandler) Reload(c *gin.Context) {
	snap, err := h.cache.Reload()
	if err != nil {
		metrics.LicenseReloads.WithLabelValues("failure").Inc()
		h.logger.Error().Err(err).Msg("license reload failed, previous snapshot retained")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "license reload failed, previous snapshot retained"})
		return
	}

	metrics.LicenseReloads.WithLabelValues("success").Inc()
	h.logger.Info().
		Str("mode", string(snap.Mode)).
		Time("not_after", snap.NotAfter).
		Msg("license reloaded")

	c.JSON(http.StatusOK, statusResponse(snap))
}

// Status reports the currently published license snapshot.
// GET /admin/license/status
func (h *LicenseHandler) Status(c *gin.Context) {
	snap := h.cache.Current()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no license snapshot published"})
		return
	}
	c.JSON(http.StatusOK, statusResponse(snap))
}
