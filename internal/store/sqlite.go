// Package store provides storage backends for Enkidu.
//
// This file implements an SQLite-backed store for user contexts and inbound deduplication.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Backend.
var _ Backend = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single writer connection keeps SQLite from returning SQLITE_BUSY under concurrent turns.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", dsn)

	return &SQLiteStore{db: db}, nil
}

// Get returns the payload and version stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, int64, error) {
	var payload string
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, version FROM user_contexts WHERE context_key = ?`, key,
	).Scan(&payload, &version)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore Get not found", "key", key)
		return nil, 0, ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore Get failed", "error", err, "key", key)
		return nil, 0, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return []byte(payload), version, nil
}

// Put inserts (expectedVersion 0) or conditionally updates the payload under key.
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	now := time.Now().UTC()

	var (
		result sql.Result
		err    error
	)
	if expectedVersion == 0 {
		result, err = s.db.ExecContext(ctx,
			`INSERT INTO user_contexts (context_key, payload, version, updated_at) VALUES (?, ?, 1, ?)
			 ON CONFLICT(context_key) DO NOTHING`,
			key, string(value), now)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE user_contexts SET payload = ?, version = version + 1, updated_at = ?
			 WHERE context_key = ? AND version = ?`,
			string(value), now, key, expectedVersion)
	}
	if err != nil {
		slog.Error("SQLiteStore Put failed", "error", err, "key", key)
		return 0, fmt.Errorf("failed to save %s: %w", key, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check saved rows for %s: %w", key, err)
	}
	if n == 0 {
		slog.Warn("SQLiteStore Put version conflict", "key", key, "expectedVersion", expectedVersion)
		return 0, ErrVersionConflict
	}
	slog.Debug("SQLiteStore Put succeeded", "key", key, "version", expectedVersion+1)
	return expectedVersion + 1, nil
}

// RecordInbound implements DedupRepo.
func (s *SQLiteStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO inbound_dedup (message_id, user_id, received_at) VALUES (?, ?, ?)`,
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
func (s *SQLiteStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`,
		time.Now().UTC(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// ReleaseInbound implements DedupRepo.
func (s *SQLiteStore) ReleaseInbound(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM inbound_dedup WHERE message_id = ? AND processed_at IS NULL`,
		messageID,
	)
	if err != nil {
		return fmt.Errorf("release inbound failed: %w", err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
