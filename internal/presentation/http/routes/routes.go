// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"github.com/anasirfan/limi-sub004/internal/application/container"
	"github.com/anasirfan/limi-sub004/internal/presentation/http/handlers"
	"github.com/anasirfan/limi-sub004/internal/presentation/http/middleware"
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(appContainer *container.Container) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	trackingHandlers := handlers.NewTrackingHandlers(
		appContainer.TrackingService,
		appContainer.Logger,
		appContainer.PerfTracker,
	)
	streamHandlers := handlers.NewStreamHandlers(
		appContainer.Broadcaster,
		appContainer.Logger,
	)

	v1 := r.Group("/api/v1")
	{
		track := v1.Group("/track")
		{
			track.POST("/pageview", trackingHandlers.PostPageView)
			track.POST("/activity", trackingHandlers.PostActivity)
		}

		v1.POST("/consent", trackingHandlers.PostConsent)
		v1.GET("/session", trackingHandlers.GetSession)
		v1.GET("/health", trackingHandlers.GetHealth)

		v1.GET("/debug/stream", func(c *gin.Context) {
			streamHandlers.StreamEnvelopes(c.Writer, c.Request)
		})
	}

	return r
}
