package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anasirfan/limi-sub004/internal/domain/visitor"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/messaging"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/observability/logging"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/observability/performance"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/persistence/state"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/transport"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/useragent"
)

// GeoResolver is the location-metadata capability the tracking service
// composes into envelopes. Resolution is best-effort and never fails.
type GeoResolver interface {
	Resolve(ctx context.Context) *visitor.GeoInfo
}

// TrackingConfig carries the timing knobs for one tracking session.
type TrackingConfig struct {
	IdleThreshold time.Duration
	FlushInterval time.Duration
}

// TrackingService owns the session lifecycle: it decides when to flush
// (periodic tick, idle timeout, consent grant, teardown), composes the
// outbound envelope, and selects the delivery mechanism. The container owns
// the single instance; Init is a no-op after the first call.
type TrackingService struct {
	sessions    *state.SessionStore
	resolver    GeoResolver
	observable  transport.Transport
	bestEffort  transport.Transport
	idle        *IdleMonitor
	broadcaster *messaging.EnvelopeBroadcaster
	config      TrackingConfig
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker

	initialized   atomic.Bool
	flushInFlight atomic.Bool
	teardownOnce  sync.Once

	// flushMu serializes checkpoint-then-build so close triggers cannot
	// double count elapsed time.
	flushMu        sync.Mutex
	lastCheckpoint time.Time

	stateMu          sync.Mutex
	currentPath      string
	reportedReferrer string
	userAgent        string

	cancelIdle func()
	stopTicker chan struct{}
}

// NewTrackingService wires the orchestrator. Broadcaster may be nil when the
// debug stream is disabled.
func NewTrackingService(
	sessions *state.SessionStore,
	resolver GeoResolver,
	observable transport.Transport,
	bestEffort transport.Transport,
	idle *IdleMonitor,
	broadcaster *messaging.EnvelopeBroadcaster,
	config TrackingConfig,
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
) *TrackingService {
	return &TrackingService{
		sessions:    sessions,
		resolver:    resolver,
		observable:  observable,
		bestEffort:  bestEffort,
		idle:        idle,
		broadcaster: broadcaster,
		config:      config,
		logger:      logger,
		perfTracker: perfTracker,
		stopTicker:  make(chan struct{}),
	}
}

// Init starts the tracking session: restore-or-create, record the entry
// page, arm the idle monitor, and start the periodic flush timer. Runs at
// most once per process; a second call is a logged no-op.
func (s *TrackingService) Init(entryPath string) {
	if !s.initialized.CompareAndSwap(false, true) {
		s.logger.Tracking().Debug("Tracking already initialized, ignoring")
		return
	}

	session := s.sessions.RestoreOrCreate()
	s.RecordPageView(entryPath)

	s.flushMu.Lock()
	s.lastCheckpoint = time.Now()
	s.flushMu.Unlock()

	s.cancelIdle = s.idle.Start(func() {
		s.logger.Tracking().Info("Visitor idle, flushing")
		s.Flush(false)
	}, s.config.IdleThreshold)

	go s.runPeriodicFlush()

	s.logger.Tracking().Info("Tracking session initialized",
		"sessionId", session.SessionID,
		"restored", session.HasFlushed,
		"idleThreshold", s.config.IdleThreshold,
		"flushInterval", s.config.FlushInterval)
}

func (s *TrackingService) runPeriodicFlush() {
	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Consent is checked at fire time, not at start time.
			if s.sessions.Consent() == visitor.ConsentGranted {
				s.Flush(false)
			}
		case <-s.stopTicker:
			return
		}
	}
}

// RecordPageView records the coarse category of a visited page. Customer
// pages also persist the customer-id hint and the attribution fallback
// value for sessions that arrive without an external referrer.
func (s *TrackingService) RecordPageView(path string) {
	category := visitor.CategorizePath(path)
	s.sessions.RecordPath(category)

	s.stateMu.Lock()
	s.currentPath = path
	s.stateMu.Unlock()

	if customerID := visitor.ExtractCustomerID(path); customerID != "" {
		s.sessions.SetCustomerID(customerID)
		s.sessions.SetCustomerReferrer(path)
	}

	s.logger.Tracking().Debug("Pageview recorded", "path", path, "category", category)
}

// SetClientContext records the visitor's user agent and browser-reported
// referrer, both supplied by the hosting page alongside pageviews.
func (s *TrackingService) SetClientContext(userAgent, referrer string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if userAgent != "" {
		s.userAgent = userAgent
	}
	s.reportedReferrer = referrer
}

// Activity reports a user-interaction signal to the idle monitor.
func (s *TrackingService) Activity() {
	s.idle.Touch()
}

// GrantConsent records the opt-in and triggers an immediate flush so the
// collector learns about the session right away.
func (s *TrackingService) GrantConsent() {
	s.sessions.SetConsent(true)
	s.logger.Tracking().Info("Consent granted")
	go s.Flush(false)
}

// RevokeConsent records the opt-out. Every later flush path re-checks
// consent and silently aborts.
func (s *TrackingService) RevokeConsent() {
	s.sessions.SetConsent(false)
	s.logger.Tracking().Info("Consent revoked")
}

// SessionSnapshot returns a read-only copy of the current session.
func (s *TrackingService) SessionSnapshot() *visitor.Session {
	return s.sessions.Snapshot()
}

// Flush checkpoints the session and dispatches an envelope to the collector.
// Consent is re-checked here, under racing timers, not only at init. A
// teardown flush bypasses the in-flight guard: it is the last chance to
// record data and must not be skipped over an unlucky race with a periodic
// flush.
func (s *TrackingService) Flush(isTeardown bool) {
	// Nothing in this subsystem may propagate into the hosting page.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Tracking().Error("Flush panicked, suppressed", "panic", r)
		}
	}()

	if s.sessions.Consent() != visitor.ConsentGranted {
		return
	}

	if !isTeardown {
		if !s.flushInFlight.CompareAndSwap(false, true) {
			s.logger.Tracking().Debug("Flush already in flight, skipping")
			return
		}
		defer s.flushInFlight.Store(false)
	}

	marker := s.perfTracker.StartOperation("flush")
	defer marker.Complete()

	// Checkpoint before building the envelope: the duration must reflect
	// the interval up to this flush.
	s.flushMu.Lock()
	now := time.Now()
	elapsed := 0
	if !s.lastCheckpoint.IsZero() {
		elapsed = int(now.Sub(s.lastCheckpoint).Seconds())
	}
	s.lastCheckpoint = now
	snapshot := s.sessions.Checkpoint(elapsed)
	referrer := s.resolveReferrer(snapshot.HasFlushed)
	s.flushMu.Unlock()

	geo := s.resolver.Resolve(context.Background())
	envelope := s.buildEnvelope(snapshot, geo, referrer)

	carrier := s.observable
	if isTeardown {
		carrier = s.bestEffort
	}

	if err := carrier.Deliver(context.Background(), envelope); err != nil {
		// No immediate retry; the next periodic tick or teardown tries again.
		s.logger.Tracking().Warn("Flush dispatch failed",
			"sessionId", envelope.SessionID, "isUpdate", envelope.IsUpdate, "error", err.Error())
		return
	}

	s.sessions.MarkFlushed()
	if s.broadcaster != nil {
		s.broadcaster.Publish(envelope, isTeardown)
	}
	s.logger.Tracking().Info("Flush dispatched",
		"sessionId", envelope.SessionID,
		"isUpdate", envelope.IsUpdate,
		"isTeardown", isTeardown,
		"durationSeconds", envelope.SessionDuration)
}

// resolveReferrer picks the attribution referrer for this flush and persists
// it for the next one. Stateful across flushes so a later internal
// navigation cannot overwrite how the visitor originally arrived.
func (s *TrackingService) resolveReferrer(isUpdate bool) string {
	if isUpdate {
		if stored := s.sessions.SessionReferrer(); stored != "" {
			return stored
		}
	}

	s.stateMu.Lock()
	reported := s.reportedReferrer
	currentPath := s.currentPath
	s.stateMu.Unlock()

	var chosen string
	switch {
	case reported != "":
		s.sessions.SetInitialReferrer(reported)
		chosen = reported
	case !visitor.IsCustomerPath(currentPath) && s.sessions.CustomerReferrer() != "":
		chosen = s.sessions.CustomerReferrer()
	default:
		chosen = s.sessions.InitialReferrer()
	}

	if chosen != "" {
		s.sessions.SetSessionReferrer(chosen)
	}
	return chosen
}

func (s *TrackingService) buildEnvelope(session *visitor.Session, geo *visitor.GeoInfo, referrer string) *visitor.TrackingEnvelope {
	s.stateMu.Lock()
	ua := s.userAgent
	s.stateMu.Unlock()

	method := "POST"
	if session.HasFlushed {
		method = "PATCH"
	}

	return &visitor.TrackingEnvelope{
		SessionID:       session.SessionID,
		CustomerID:      optional(s.sessions.CustomerID()),
		IPAddress:       optional(geo.IP),
		Country:         optional(geo.Country),
		City:            optional(geo.City),
		Region:          optional(geo.Region),
		Org:             optional(geo.Org),
		Postal:          optional(geo.Postal),
		Timezone:        optional(geo.Timezone),
		Referrer:        optional(referrer),
		UserAgent:       ua,
		SessionDuration: session.CumulativeDuration,
		PagesVisited:    session.PathList(),
		Consent:         true,
		IsUpdate:        session.HasFlushed,
		Browser:         useragent.BrowserFamily(ua),
		Device:          useragent.DeviceClass(ua),
		Method:          method,
	}
}

// Teardown runs the final flush and releases timers. Registered on every
// shutdown signal; idempotent so redundant triggers are safe.
func (s *TrackingService) Teardown() {
	s.teardownOnce.Do(func() {
		s.logger.Shutdown().Info("Tracking teardown starting")

		if s.cancelIdle != nil {
			s.cancelIdle()
		}
		close(s.stopTicker)

		s.Flush(true)

		if drainer, ok := s.bestEffort.(*transport.BestEffortTransport); ok {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			drainer.Drain(ctx)
		}

		s.logger.Shutdown().Info("Tracking teardown complete")
	})
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
