package state

import (
	"log/slog"
	"testing"

	"github.com/anasirfan/limi-sub004/internal/domain/visitor"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/observability/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logging.ChanneledLogger {
	t.Helper()
	cfg := logging.DefaultLoggerConfig()
	cfg.DefaultLevel = slog.LevelError
	logger, err := logging.NewChanneledLogger(cfg)
	require.NoError(t, err)
	return logger
}

func TestRestoreOrCreateFreshSession(t *testing.T) {
	store := NewSessionStore(NewMemoryStore(), newTestLogger(t))

	session := store.RestoreOrCreate()
	require.NotNil(t, session)
	assert.NotEmpty(t, session.SessionID)
	assert.Zero(t, session.CumulativeDuration)
	assert.False(t, session.HasFlushed)
	assert.Empty(t, session.VisitedPaths)
}

func TestRestoreOrCreateSurvivesReload(t *testing.T) {
	kv := NewMemoryStore()
	logger := newTestLogger(t)

	first := NewSessionStore(kv, logger)
	created := first.RestoreOrCreate()
	first.RecordPath("home")
	first.Checkpoint(42)

	// A fresh store over the same storage simulates a page reload.
	second := NewSessionStore(kv, logger)
	restored := second.RestoreOrCreate()

	assert.Equal(t, created.SessionID, restored.SessionID)
	assert.Equal(t, 42, restored.CumulativeDuration)
	assert.True(t, restored.VisitedPaths["home"])
}

func TestRestoreOrCreateTreatsCorruptionAsFresh(t *testing.T) {
	kv := NewMemoryStore()
	require.NoError(t, kv.Set("session", "{not json"))

	store := NewSessionStore(kv, newTestLogger(t))
	session := store.RestoreOrCreate()

	require.NotNil(t, session)
	assert.NotEmpty(t, session.SessionID)
	assert.Zero(t, session.CumulativeDuration)
}

func TestRecordPathIsIdempotent(t *testing.T) {
	store := NewSessionStore(NewMemoryStore(), newTestLogger(t))
	store.RestoreOrCreate()

	for i := 0; i < 10; i++ {
		store.RecordPath("home")
	}

	snapshot := store.Snapshot()
	assert.Len(t, snapshot.VisitedPaths, 1)
	assert.True(t, snapshot.VisitedPaths["home"])
}

func TestCheckpointAccumulatesExactly(t *testing.T) {
	store := NewSessionStore(NewMemoryStore(), newTestLogger(t))
	store.RestoreOrCreate()

	elapsed := []int{5, 0, 17, 3, 120}
	total := 0
	for _, e := range elapsed {
		snapshot := store.Checkpoint(e)
		total += e
		assert.Equal(t, total, snapshot.CumulativeDuration)
	}
}

func TestCheckpointIgnoresNegativeElapsed(t *testing.T) {
	store := NewSessionStore(NewMemoryStore(), newTestLogger(t))
	store.RestoreOrCreate()
	store.Checkpoint(10)

	snapshot := store.Checkpoint(-5)
	assert.Equal(t, 10, snapshot.CumulativeDuration)
}

func TestMarkFlushedIsIrreversible(t *testing.T) {
	store := NewSessionStore(NewMemoryStore(), newTestLogger(t))
	store.RestoreOrCreate()

	assert.False(t, store.Snapshot().HasFlushed)
	store.MarkFlushed()
	assert.True(t, store.Snapshot().HasFlushed)
	store.MarkFlushed()
	assert.True(t, store.Snapshot().HasFlushed)
}

func TestConsentTriState(t *testing.T) {
	store := NewSessionStore(NewMemoryStore(), newTestLogger(t))

	assert.Equal(t, visitor.ConsentUndecided, store.Consent())

	store.SetConsent(true)
	assert.Equal(t, visitor.ConsentGranted, store.Consent())

	store.SetConsent(false)
	assert.Equal(t, visitor.ConsentDenied, store.Consent())
}

func TestGeoCacheRoundTrip(t *testing.T) {
	store := NewSessionStore(NewMemoryStore(), newTestLogger(t))

	assert.Nil(t, store.CachedGeo())

	geo := &visitor.GeoInfo{IP: "203.0.113.9", Country: "Denmark", City: "Copenhagen"}
	store.SaveGeo(geo)

	cached := store.CachedGeo()
	require.NotNil(t, cached)
	assert.Equal(t, "203.0.113.9", cached.IP)
	assert.Equal(t, "Denmark", cached.Country)
}

func TestReferrerChainPersistence(t *testing.T) {
	kv := NewMemoryStore()
	logger := newTestLogger(t)

	first := NewSessionStore(kv, logger)
	first.SetInitialReferrer("https://google.com/search")
	first.SetSessionReferrer("https://google.com/search")
	first.SetCustomerID("cust-42")

	second := NewSessionStore(kv, logger)
	assert.Equal(t, "https://google.com/search", second.InitialReferrer())
	assert.Equal(t, "https://google.com/search", second.SessionReferrer())
	assert.Equal(t, "cust-42", second.CustomerID())
}

func TestSnapshotIsACopy(t *testing.T) {
	store := NewSessionStore(NewMemoryStore(), newTestLogger(t))
	store.RestoreOrCreate()
	store.RecordPath("home")

	snapshot := store.Snapshot()
	snapshot.VisitedPaths["mutated"] = true
	snapshot.CumulativeDuration = 999

	fresh := store.Snapshot()
	assert.False(t, fresh.VisitedPaths["mutated"])
	assert.Zero(t, fresh.CumulativeDuration)
}
