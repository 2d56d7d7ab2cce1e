package state

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/anasirfan/limi-sub004/internal/domain/visitor"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/observability/logging"
	"github.com/anasirfan/limi-sub004/internal/infrastructure/security"
)

// Storage keys. The session record, consent decision, geo cache, and
// attribution chain are the only durable state this subsystem owns.
const (
	keySession          = "session"
	keyConsent          = "consent"
	keyGeoCache         = "geo"
	keyInitialReferrer  = "referrer:initial"
	keySessionReferrer  = "referrer:session"
	keyCustomerReferrer = "referrer:customer"
	keyCustomerID       = "customer:id"
)

// SessionStore owns the durable Session record. It is the only component
// allowed to mutate it; everything else goes through these methods so close
// flush triggers cannot lose updates to each other.
type SessionStore struct {
	store   Store
	logger  *logging.ChanneledLogger
	session *visitor.Session
	mu      sync.Mutex
}

// NewSessionStore creates a session store over the given KV store.
func NewSessionStore(store Store, logger *logging.ChanneledLogger) *SessionStore {
	return &SessionStore{
		store:  store,
		logger: logger,
	}
}

// RestoreOrCreate loads the persisted session, or fabricates a fresh one when
// none exists or the stored record fails to parse. It never returns an error;
// corruption is treated as "no session found".
func (s *SessionStore) RestoreOrCreate() *visitor.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureSessionLocked()
	return s.snapshotLocked()
}

func (s *SessionStore) restoreLocked() {
	raw, found, err := s.store.Get(keySession)
	if err != nil {
		s.logger.Storage().Warn("Session read failed, starting fresh", "error", err.Error())
	}
	if found && err == nil {
		var restored visitor.Session
		if err := json.Unmarshal([]byte(raw), &restored); err == nil && restored.SessionID != "" {
			if restored.VisitedPaths == nil {
				restored.VisitedPaths = make(map[string]bool)
			}
			s.session = &restored
			s.logger.Storage().Info("Session restored",
				"sessionId", restored.SessionID,
				"durationSeconds", restored.CumulativeDuration,
				"pagesVisited", len(restored.VisitedPaths))
			return
		}
		s.logger.Storage().Warn("Stored session unreadable, starting fresh")
	}

	s.session = &visitor.Session{
		SessionID:    security.GenerateULID(),
		VisitedPaths: make(map[string]bool),
		CreatedAt:    time.Now().UTC(),
	}
	s.persistLocked()
	s.logger.Storage().Info("New session created", "sessionId", s.session.SessionID)
}

// RecordPath adds a page category to the visited set. Idempotent.
func (s *SessionStore) RecordPath(category string) {
	if category == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureSessionLocked()
	if s.session.VisitedPaths[category] {
		return
	}
	s.session.VisitedPaths[category] = true
	s.persistLocked()
}

// Checkpoint adds elapsed seconds to the cumulative duration, persists the
// snapshot, and returns it. This is the only place duration accumulates.
func (s *SessionStore) Checkpoint(elapsedSeconds int) *visitor.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureSessionLocked()
	if elapsedSeconds > 0 {
		s.session.CumulativeDuration += elapsedSeconds
	}
	s.session.LastCheckpoint = time.Now().UTC()
	s.persistLocked()
	return s.snapshotLocked()
}

// MarkFlushed records that at least one envelope reached dispatch. This is
// irreversible for the session's lifetime; it flips the collector operation
// from create to update.
func (s *SessionStore) MarkFlushed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureSessionLocked()
	if s.session.HasFlushed {
		return
	}
	s.session.HasFlushed = true
	s.persistLocked()
}

// Consent returns the stored tri-state consent decision.
func (s *SessionStore) Consent() visitor.Consent {
	raw, found, err := s.store.Get(keyConsent)
	if err != nil {
		s.logger.Storage().Warn("Consent read failed, treating as undecided", "error", err.Error())
		return visitor.ConsentUndecided
	}
	if !found {
		return visitor.ConsentUndecided
	}
	switch raw {
	case string(visitor.ConsentGranted):
		return visitor.ConsentGranted
	case string(visitor.ConsentDenied):
		return visitor.ConsentDenied
	default:
		return visitor.ConsentUndecided
	}
}

// SetConsent persists the visitor's decision.
func (s *SessionStore) SetConsent(granted bool) {
	value := visitor.ConsentDenied
	if granted {
		value = visitor.ConsentGranted
	}
	if err := s.store.Set(keyConsent, string(value)); err != nil {
		s.logger.Storage().Warn("Consent write failed", "error", err.Error())
	}
}

// CachedGeo returns the persisted GeoInfo when one exists and parses.
func (s *SessionStore) CachedGeo() *visitor.GeoInfo {
	raw, found, err := s.store.Get(keyGeoCache)
	if err != nil || !found {
		return nil
	}
	var geo visitor.GeoInfo
	if err := json.Unmarshal([]byte(raw), &geo); err != nil {
		return nil
	}
	return &geo
}

// SaveGeo persists a successful resolution for the cache window. Sentinel
// values are the caller's responsibility to withhold.
func (s *SessionStore) SaveGeo(geo *visitor.GeoInfo) {
	raw, err := json.Marshal(geo)
	if err != nil {
		return
	}
	if err := s.store.Set(keyGeoCache, string(raw)); err != nil {
		s.logger.Storage().Warn("Geo cache write failed", "error", err.Error())
	}
}

// Referrer attribution chain. Values persist across flushes so internal
// navigation cannot overwrite how the visitor actually arrived.

func (s *SessionStore) InitialReferrer() string  { return s.readString(keyInitialReferrer) }
func (s *SessionStore) SessionReferrer() string  { return s.readString(keySessionReferrer) }
func (s *SessionStore) CustomerReferrer() string { return s.readString(keyCustomerReferrer) }
func (s *SessionStore) CustomerID() string       { return s.readString(keyCustomerID) }

func (s *SessionStore) SetInitialReferrer(v string)  { s.writeString(keyInitialReferrer, v) }
func (s *SessionStore) SetSessionReferrer(v string)  { s.writeString(keySessionReferrer, v) }
func (s *SessionStore) SetCustomerReferrer(v string) { s.writeString(keyCustomerReferrer, v) }
func (s *SessionStore) SetCustomerID(v string)       { s.writeString(keyCustomerID, v) }

// Snapshot returns a copy of the current session without mutating it.
func (s *SessionStore) Snapshot() *visitor.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureSessionLocked()
	return s.snapshotLocked()
}

func (s *SessionStore) readString(key string) string {
	raw, found, err := s.store.Get(key)
	if err != nil || !found {
		return ""
	}
	return raw
}

func (s *SessionStore) writeString(key, value string) {
	if value == "" {
		return
	}
	if err := s.store.Set(key, value); err != nil {
		s.logger.Storage().Warn("State write failed", "key", key, "error", err.Error())
	}
}

// ensureSessionLocked lazily restores when a mutation lands before
// RestoreOrCreate has been called. Callers must hold the lock.
func (s *SessionStore) ensureSessionLocked() {
	if s.session == nil {
		s.restoreLocked()
	}
}

func (s *SessionStore) persistLocked() {
	raw, err := json.Marshal(s.session)
	if err != nil {
		s.logger.Storage().Warn("Session marshal failed", "error", err.Error())
		return
	}
	if err := s.store.Set(keySession, string(raw)); err != nil {
		s.logger.Storage().Warn("Session write failed", "error", err.Error())
	}
}

func (s *SessionStore) snapshotLocked() *visitor.Session {
	copied := *s.session
	copied.VisitedPaths = make(map[string]bool, len(s.session.VisitedPaths))
	for k, v := range s.session.VisitedPaths {
		copied.VisitedPaths[k] = v
	}
	return &copied
}
