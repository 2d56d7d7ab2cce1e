// Package startup prepares the visit agent
package startup

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anasirfan/limi-sub004/internal/application/container"
	"github.com/anasirfan/limi-sub004/internal/presentation/http/server"
	"github.com/anasirfan/limi-sub004/pkg/config"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

// Initialize performs the complete agent startup sequence and blocks until
// shutdown. The teardown flush runs on every exit path: SIGINT, SIGTERM, and
// the post-server-stop hook are all registered because no single signal is
// guaranteed to be the one that fires.
func Initialize() error {
	setupLogging()

	start := time.Now().UTC()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found -- config defaults will be used")
	}

	log.Println("Initializing Limi visit agent...")
	appContainer, err := container.NewContainer()
	if err != nil {
		return fmt.Errorf("container initialization failed: %w", err)
	}
	defer appContainer.Close()

	logger := appContainer.Logger
	logger.Startup().Info("Container initialized, switching to channeled logging")

	// Tracking starts on the site's entry page; pageviews stream in over the
	// control surface from here on.
	appContainer.TrackingService.Init("/")
	// The teardown flush below is the last in the chain of redundant
	// registrations; Teardown is idempotent across all of them.
	defer appContainer.TrackingService.Teardown()

	logger.Startup().Info("Starting control surface...")
	httpServer := server.New(config.Port, appContainer)

	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.System().Info("Control surface listening", "address", ":"+config.Port)
		if err := httpServer.Start(); err != nil {
			logger.System().Error("Control surface failed", "error", err.Error())
		}
	}()

	logger.Startup().Info("Agent startup complete",
		"totalDuration", time.Since(start),
		"port", config.Port,
		"collector", config.CollectorURL)

	// Wait for shutdown signal
	<-gracefulShutdown
	logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")

	shutdownStart := time.Now()

	// The teardown flush first: it is the last chance to record data and
	// must not lose the race against process exit.
	appContainer.TrackingService.Teardown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Shutdown().Info("Stopping control surface...")
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	} else {
		logger.Shutdown().Info("Control surface stopped")
	}

	logger.Shutdown().Info("Agent shutdown complete",
		"totalUptime", time.Since(start),
		"shutdownDuration", time.Since(shutdownStart))

	return nil
}

// setupLogging configures agent logging
func setupLogging() {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
