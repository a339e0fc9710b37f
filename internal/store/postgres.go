// Package store provides storage backends for Enkidu.
//
// This file implements a PostgreSQL-backed store for user contexts and inbound deduplication.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Backend.
var _ Backend = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Get returns the payload and version stored under key.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, int64, error) {
	var payload []byte
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, version FROM user_contexts WHERE context_key = $1`, key,
	).Scan(&payload, &version)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore Get not found", "key", key)
		return nil, 0, ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore Get failed", "error", err, "key", key)
		return nil, 0, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return payload, version, nil
}

// Put inserts (expectedVersion 0) or conditionally updates the payload under key.
func (s *PostgresStore) Put(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	now := time.Now().UTC()

	var (
		result sql.Result
		err    error
	)
	if expectedVersion == 0 {
		result, err = s.db.ExecContext(ctx,
			`INSERT INTO user_contexts (context_key, payload, version, updated_at) VALUES ($1, $2::jsonb, 1, $3)
			 ON CONFLICT (context_key) DO NOTHING`,
			key, string(value), now)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE user_contexts SET payload = $1::jsonb, version = version + 1, updated_at = $2
			 WHERE context_key = $3 AND version = $4`,
			string(value), now, key, expectedVersion)
	}
	if err != nil {
		slog.Error("PostgresStore Put failed", "error", err, "key", key)
		return 0, fmt.Errorf("failed to save %s: %w", key, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check saved rows for %s: %w", key, err)
	}
	if n == 0 {
		slog.Warn("PostgresStore Put version conflict", "key", key, "expectedVersion", expectedVersion)
		return 0, ErrVersionConflict
	}
	slog.Debug("PostgresStore Put succeeded", "key", key, "version", expectedVersion+1)
	return expectedVersion + 1, nil
}

// RecordInbound implements DedupRepo.
func (s *PostgresStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_dedup (message_id, user_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (message_id) DO NOTHING`,
		messageID, userID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed implements DedupRepo.
func (s *PostgresStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2`,
		time.Now().UTC(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// ReleaseInbound implements DedupRepo.
func (s *PostgresStore) ReleaseInbound(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM inbound_dedup WHERE message_id = $1 AND processed_at IS NULL`,
		messageID,
	)
	if err != nil {
		return fmt.Errorf("release inbound failed: %w", err)
	}
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
