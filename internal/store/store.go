// Package store provides storage backends for Enkidu.
//
// User contexts are kept as opaque serialized values under a per-user key. Every value carries a
// version so that two turns racing on the same user cannot silently overwrite each other.
// Backends: in-memory (tests and ephemeral runs), SQLite and PostgreSQL.
package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned by Get when no value exists for the key.
	ErrNotFound = errors.New("store: key not found")
	// ErrVersionConflict is returned by Put when the stored version differs from the expected one.
	ErrVersionConflict = errors.New("store: version conflict")
)

// Store is a versioned key/value store for serialized user contexts.
type Store interface {
	// Get returns the value and its version. It returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, int64, error)

	// Put writes value if the stored version equals expectedVersion (0 means the key must not
	// exist yet) and returns the new version. It returns ErrVersionConflict otherwise.
	Put(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error)

	// Close releases backend resources.
	Close() error
}

// DedupRepo records transport message ids so a redelivered webhook is processed once.
type DedupRepo interface {
	// RecordInbound inserts a message id. It returns false if the id was already recorded.
	RecordInbound(ctx context.Context, messageID, userID string) (bool, error)

	// MarkProcessed sets the processed timestamp for a message id.
	MarkProcessed(ctx context.Context, messageID string) error

	// ReleaseInbound forgets a recorded id that was never processed, so a redelivery is handled again.
	ReleaseInbound(ctx context.Context, messageID string) error
}

// Backend is a store that also deduplicates inbound messages.
type Backend interface {
	Store
	DedupRepo
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // database connection string or file path
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DSN types returned by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite3"
)

// DetectDSNType reports whether dsn addresses PostgreSQL or a SQLite file.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DSNTypePostgres
	}
	// key=value connection strings ("host=localhost user=postgres")
	if strings.Contains(dsn, "host=") || (strings.Contains(dsn, "=") && strings.Contains(dsn, " ")) {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

// Open builds a backend for dsn. An empty dsn yields an in-memory store.
func Open(dsn string) (Backend, error) {
	switch {
	case dsn == "":
		slog.Warn("store.Open: no DSN configured, user contexts will not survive a restart")
		return NewInMemoryStore(), nil
	case DetectDSNType(dsn) == DSNTypePostgres:
		slog.Debug("store.Open: using PostgreSQL backend")
		return NewPostgresStore(WithPostgresDSN(dsn))
	default:
		slog.Debug("store.Open: using SQLite backend", "path", dsn)
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}

type memoryEntry struct {
	value   []byte
	version int64
}

// InMemoryStore is a mutex-guarded map implementation of Backend.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	inbound map[string]time.Time
	handled map[string]time.Time
}

// NewInMemoryStore creates an empty in-memory backend.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]memoryEntry),
		inbound: make(map[string]time.Time),
		handled: make(map[string]time.Time),
	}
}

// Get returns a copy of the stored value.
func (s *InMemoryStore) Get(ctx context.Context, key string) ([]byte, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return append([]byte(nil), e.value...), e.version, nil
}

// Put stores a copy of value when expectedVersion matches.
func (s *InMemoryStore) Put(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.entries[key].version
	if current != expectedVersion {
		slog.Debug("InMemoryStore.Put: version conflict", "key", key, "expected", expectedVersion, "current", current)
		return 0, ErrVersionConflict
	}
	next := current + 1
	s.entries[key] = memoryEntry{value: append([]byte(nil), value...), version: next}
	return next, nil
}

// RecordInbound implements DedupRepo.
func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.inbound[messageID]; seen {
		return false, nil
	}
	s.inbound[messageID] = time.Now()
	return true, nil
}

// MarkProcessed implements DedupRepo.
func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handled[messageID] = time.Now()
	return nil
}

// ReleaseInbound implements DedupRepo.
func (s *InMemoryStore) ReleaseInbound(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.handled[messageID]; !done {
		delete(s.inbound, messageID)
	}
	return nil
}

// IsProcessed reports whether MarkProcessed was called for messageID.
func (s *InMemoryStore) IsProcessed(messageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.handled[messageID]
	return ok
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
