// Package state provides the durable, profile-local key-value store backing
// the visit session, consent decision, geo cache, and attribution chain.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/anasirfan/limi-sub004/pkg/config"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the persistence capability the session store is built on. All
// failures are returned, never panicked; callers degrade to fresh-session
// semantics on error.
type Store interface {
	Get(key string) (value string, found bool, err error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

// SQLiteStore is the production Store, one local database file per profile.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the state database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open state db: %w", err)
	}

	db.SetMaxOpenConns(config.DBMaxOpenConns)
	db.SetMaxIdleConns(config.DBMaxIdleConns)
	db.SetConnMaxIdleTime(time.Duration(config.DBConnMaxIdleMinutes) * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), config.StorageTimeout)
	defer cancel()

	const schema = `
		CREATE TABLE IF NOT EXISTS visit_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create state table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get retrieves a value by key.
func (s *SQLiteStore) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), config.StorageTimeout)
	defer cancel()

	const query = `SELECT value FROM visit_state WHERE key = ?`

	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read state key %s: %w", key, err)
	}
	return value, true, nil
}

// Set writes a value, replacing any prior value for the key.
func (s *SQLiteStore) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.StorageTimeout)
	defer cancel()

	const query = `
		INSERT INTO visit_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write state key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *SQLiteStore) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.StorageTimeout)
	defer cancel()

	const query = `DELETE FROM visit_state WHERE key = ?`

	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete state key %s: %w", key, err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MemoryStore is an in-memory Store used by tests and ephemeral profiles.
type MemoryStore struct {
	values map[string]string
	mu     sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, found := s.values[key]
	return value, found, nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
