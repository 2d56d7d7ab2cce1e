// Package container provides dependency injection for all singleton services
package container

import (
	"fmt"

	"github.com/anasirfan/limi-sub004/internal/application/services"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/geo"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/messaging"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/observability/logging"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/observability/performance"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/persistence/state"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/transport"
	"github.com/anasirfan/limi-sub004/pkg/config"
)

// Container holds all singleton services and infrastructure dependencies.
// It is the composition root: the one TrackingService lives here, which is
// what makes "init exactly once" hold across every entry point that might
// try to start tracking.
type Container struct {
	TrackingService *services.TrackingService
	IdleMonitor     *services.IdleMonitor
	SessionStore    *state.SessionStore
	GeoResolver     *geo.Resolver
	Broadcaster     *messaging.EnvelopeBroadcaster
	StateStore      state.Store

	Logger      *logging.ChanneledLogger
	PerfTracker *performance.Tracker
}

// NewContainer creates and wires all singleton services
func NewContainer() (*Container, error) {
	logger, err := logging.NewChanneledLogger(logging.DefaultLoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	perfTracker := performance.NewTracker()

	stateStore, err := state.NewSQLiteStore(config.StateDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	sessionStore := state.NewSessionStore(stateStore, logger)

	resolver := geo.NewResolver(
		geo.DefaultProviders(config.GeoProviderURLs, config.GeoFallbackURL),
		sessionStore,
		config.GeoCacheTTL,
		config.GeoProviderTimeout,
		logger,
		perfTracker,
	)

	broadcaster := messaging.NewEnvelopeBroadcaster(logger)
	idleMonitor := services.NewIdleMonitor(logger)

	trackingService := services.NewTrackingService(
		sessionStore,
		resolver,
		transport.NewObservableTransport(config.CollectorURL, config.DispatchTimeout, logger),
		transport.NewBestEffortTransport(config.CollectorURL, config.TeardownDispatchTimeout),
		idleMonitor,
		broadcaster,
		services.TrackingConfig{
			IdleThreshold: config.IdleThreshold,
			FlushInterval: config.FlushInterval,
		},
		logger,
		perfTracker,
	)

	return &Container{
		TrackingService: trackingService,
		IdleMonitor:     idleMonitor,
		SessionStore:    sessionStore,
		GeoResolver:     resolver,
		Broadcaster:     broadcaster,
		StateStore:      stateStore,
		Logger:          logger,
		PerfTracker:     perfTracker,
	}, nil
}

// Close releases infrastructure handles.
func (c *Container) Close() error {
	return c.StateStore.Close()
}
