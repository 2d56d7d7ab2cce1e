package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/anasirfan/limi-sub004/internal/domain/visitor"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/observability/performance"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/persistence/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureTransport struct {
	mu        sync.Mutex
	delivered []*visitor.TrackingEnvelope
	err       error
}

func (c *captureTransport) Deliver(_ context.Context, envelope *visitor.TrackingEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.delivered = append(c.delivered, envelope)
	return nil
}

func (c *captureTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.delivered)
}

func (c *captureTransport) last() *visitor.TrackingEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.delivered) == 0 {
		return nil
	}
	return c.delivered[len(c.delivered)-1]
}

func (c *captureTransport) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

type stubResolver struct {
	geo *visitor.GeoInfo
}

func (r *stubResolver) Resolve(_ context.Context) *visitor.GeoInfo {
	return r.geo
}

type trackingFixture struct {
	service    *TrackingService
	sessions   *state.SessionStore
	observable *captureTransport
	bestEffort *captureTransport
}

func newTrackingFixture(t *testing.T) *trackingFixture {
	t.Helper()
	logger := newTestLogger(t)
	sessions := state.NewSessionStore(state.NewMemoryStore(), logger)
	observable := &captureTransport{}
	bestEffort := &captureTransport{}

	resolver := &stubResolver{geo: &visitor.GeoInfo{
		IP:       "203.0.113.9",
		Country:  "Denmark",
		City:     "Copenhagen",
		Region:   "Capital",
		Postal:   "1050",
		Timezone: "Europe/Copenhagen",
		Org:      "Example ISP",
	}}

	service := NewTrackingService(
		sessions,
		resolver,
		observable,
		bestEffort,
		NewIdleMonitor(logger),
		nil,
		TrackingConfig{IdleThreshold: time.Hour, FlushInterval: time.Hour},
		logger,
		performance.NewTracker(),
	)
	t.Cleanup(service.Teardown)

	return &trackingFixture{
		service:    service,
		sessions:   sessions,
		observable: observable,
		bestEffort: bestEffort,
	}
}

func TestFlushWithoutConsentSendsNothing(t *testing.T) {
	f := newTrackingFixture(t)
	f.service.Init("/")

	f.service.Flush(false)
	f.service.Flush(true)

	assert.Equal(t, 0, f.observable.count())
	assert.Equal(t, 0, f.bestEffort.count())
	assert.False(t, f.service.SessionSnapshot().HasFlushed)
}

func TestRevokedConsentBlocksEvenTeardownFlush(t *testing.T) {
	f := newTrackingFixture(t)
	f.service.Init("/")
	f.service.RevokeConsent()

	f.service.Flush(true)

	assert.Equal(t, 0, f.bestEffort.count())
}

func TestFlushDiscriminatesCreateThenUpdate(t *testing.T) {
	f := newTrackingFixture(t)
	f.service.Init("/")
	f.sessions.SetConsent(true)

	f.service.Flush(false)
	require.Equal(t, 1, f.observable.count())
	first := f.observable.last()
	assert.False(t, first.IsUpdate)
	assert.Equal(t, "POST", first.Method)

	f.service.Flush(false)
	require.Equal(t, 2, f.observable.count())
	second := f.observable.last()
	assert.True(t, second.IsUpdate)
	assert.Equal(t, "PATCH", second.Method)
	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestGrantConsentTriggersImmediateFlush(t *testing.T) {
	f := newTrackingFixture(t)
	f.service.Init("/")

	f.service.GrantConsent()

	assert.Eventually(t, func() bool { return f.observable.count() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestFreshVisitorEnvelope(t *testing.T) {
	f := newTrackingFixture(t)
	f.service.Init("/")
	f.service.SetClientContext(
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
		"https://www.google.com/")
	f.service.RecordPageView("/customer/lumen-hotel")
	f.sessions.SetConsent(true)

	f.service.Flush(false)

	require.Equal(t, 1, f.observable.count())
	envelope := f.observable.last()
	assert.NotEmpty(t, envelope.SessionID)
	assert.True(t, envelope.Consent)
	assert.ElementsMatch(t, []string{"home", "customer"}, envelope.PagesVisited)
	require.NotNil(t, envelope.CustomerID)
	assert.Equal(t, "lumen-hotel", *envelope.CustomerID)
	require.NotNil(t, envelope.Referrer)
	assert.Equal(t, "https://www.google.com/", *envelope.Referrer)
	require.NotNil(t, envelope.Country)
	assert.Equal(t, "Denmark", *envelope.Country)
	assert.Equal(t, "chrome", envelope.Browser)
	assert.Equal(t, visitor.DeviceDesktop, envelope.Device)
}

func TestSessionReferrerSurvivesLaterNavigation(t *testing.T) {
	f := newTrackingFixture(t)
	f.service.Init("/")
	f.service.SetClientContext("Mozilla/5.0", "https://www.google.com/")
	f.sessions.SetConsent(true)

	f.service.Flush(false)

	// Internal navigation clears the browser-reported referrer; the session
	// referrer chosen on the first flush must stick.
	f.service.SetClientContext("Mozilla/5.0", "")
	f.service.RecordPageView("/about")
	f.service.Flush(false)

	require.Equal(t, 2, f.observable.count())
	require.NotNil(t, f.observable.last().Referrer)
	assert.Equal(t, "https://www.google.com/", *f.observable.last().Referrer)
}

func TestCustomerPageActsAsReferrerFallback(t *testing.T) {
	f := newTrackingFixture(t)
	f.service.Init("/customer/lumen-hotel")
	f.sessions.SetConsent(true)

	// Visitor arrived directly on a customer page, then moved on. With no
	// external referrer, the customer page is the best attribution signal.
	f.service.RecordPageView("/about")
	f.service.Flush(false)

	require.Equal(t, 1, f.observable.count())
	require.NotNil(t, f.observable.last().Referrer)
	assert.Equal(t, "/customer/lumen-hotel", *f.observable.last().Referrer)
}

func TestInitRunsOnce(t *testing.T) {
	f := newTrackingFixture(t)
	f.service.Init("/")
	f.service.Init("/pricing")

	snapshot := f.service.SessionSnapshot()
	assert.Equal(t, map[string]bool{"home": true}, snapshot.VisitedPaths)
}

func TestFailedDeliveryLeavesSessionUnflushed(t *testing.T) {
	f := newTrackingFixture(t)
	f.service.Init("/")
	f.sessions.SetConsent(true)

	f.observable.setErr(errors.New("collector unreachable"))
	f.service.Flush(false)
	assert.Equal(t, 0, f.observable.count())
	assert.False(t, f.service.SessionSnapshot().HasFlushed)

	// Next flush still sends a create, not an update.
	f.observable.setErr(nil)
	f.service.Flush(false)
	require.Equal(t, 1, f.observable.count())
	assert.False(t, f.observable.last().IsUpdate)
}

func TestTeardownUsesBestEffortDelivery(t *testing.T) {
	f := newTrackingFixture(t)
	f.service.Init("/")
	f.sessions.SetConsent(true)

	f.service.Teardown()

	assert.Equal(t, 0, f.observable.count())
	assert.Equal(t, 1, f.bestEffort.count())

	// Redundant teardown triggers collapse to one flush.
	f.service.Teardown()
	assert.Equal(t, 1, f.bestEffort.count())
}

func TestRecordPageViewIsIdempotentPerCategory(t *testing.T) {
	f := newTrackingFixture(t)
	f.service.Init("/")

	for i := 0; i < 5; i++ {
		f.service.RecordPageView("/products/orb")
	}

	snapshot := f.service.SessionSnapshot()
	assert.Equal(t, map[string]bool{"home": true, "products": true}, snapshot.VisitedPaths)
}
