// Package handlers provides HTTP request handlers for the presentation layer.
package handlers

import (
	"net/http"

	"github.com/anasirfan/limi-sub004/internal/application/services"
	"github.com/anasirfan/limi-sub004/internal/domain/visitor"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/observability/logging"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/observability/performance"
	"github.com/gin-gonic/gin"
)

// TrackingHandlers contains the control-surface handlers the hosting site
// calls: pageview, activity, consent, and session introspection.
type TrackingHandlers struct {
	trackingService *services.TrackingService
	logger          *logging.ChanneledLogger
	perfTracker     *performance.Tracker
}

// NewTrackingHandlers creates tracking handlers with injected dependencies
func NewTrackingHandlers(trackingService *services.TrackingService, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *TrackingHandlers {
	return &TrackingHandlers{
		trackingService: trackingService,
		logger:          logger,
		perfTracker:     perfTracker,
	}
}

// PageViewRequest is the hosting page's pageview report.
type PageViewRequest struct {
	Path     string `json:"path" binding:"required"`
	Referrer string `json:"referrer"`
}

// ConsentRequest carries the visitor's explicit decision from the cookie
// banner. The page must never call tracking operations before sending it.
type ConsentRequest struct {
	Granted *bool `json:"granted" binding:"required"`
}

// PostPageView handles POST /api/v1/track/pageview
func (h *TrackingHandlers) PostPageView(c *gin.Context) {
	marker := h.perfTracker.StartOperation("post_pageview")
	defer marker.Complete()

	var req PageViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path required"})
		return
	}

	h.trackingService.SetClientContext(c.Request.UserAgent(), req.Referrer)
	h.trackingService.RecordPageView(req.Path)
	h.trackingService.Activity()

	c.JSON(http.StatusOK, gin.H{"success": true, "category": visitor.CategorizePath(req.Path)})
}

// PostActivity handles POST /api/v1/track/activity - interaction signals
// that keep the idle monitor armed.
func (h *TrackingHandlers) PostActivity(c *gin.Context) {
	h.trackingService.Activity()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// PostConsent handles POST /api/v1/consent
func (h *TrackingHandlers) PostConsent(c *gin.Context) {
	var req ConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "granted required"})
		return
	}

	if *req.Granted {
		h.trackingService.GrantConsent()
	} else {
		h.trackingService.RevokeConsent()
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetSession handles GET /api/v1/session - read-only session introspection.
func (h *TrackingHandlers) GetSession(c *gin.Context) {
	session := h.trackingService.SessionSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"sessionId":                 session.SessionID,
		"cumulativeDurationSeconds": session.CumulativeDuration,
		"pagesVisited":              session.PathList(),
		"hasFlushedAtLeastOnce":     session.HasFlushed,
		"createdAt":                 session.CreatedAt,
	})
}

// GetHealth handles GET /api/v1/health
func (h *TrackingHandlers) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": h.perfTracker.Uptime().String(),
	})
}
