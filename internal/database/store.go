// Package database persists sessions, segments and offline retry records in SQLite.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/sjzar/voicelog/internal/errors"
)

// ArtifactRemover deletes a session's encrypted artifact.
type ArtifactRemover interface {
	Remove(name string) error
}

// Store serializes every read and write through one connection and a writer
// mutex, so callers never observe a half-applied multi-row mutation.
type Store struct {
	db        *sql.DB
	mu        sync.Mutex
	artifacts ArtifactRemover
	now       func() time.Time
}

// DefaultDBPath returns the database path inside dataDir.
func DefaultDBPath(dataDir string) string {
	return filepath.Join(dataDir, "voicelog.sqlite")
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string, artifacts ArtifactRemover) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set schema version: %w", err)
	}

	return &Store{db: db, artifacts: artifacts, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction under the writer lock.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Persistence(err, "%s: begin", op)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Debug().Err(rbErr).Str("op", op).Msg("rollback failed")
		}
		var e *errors.Error
		if errors.As(err, &e) {
			return e
		}
		return errors.Persistence(err, "%s", op)
	}
	if err := tx.Commit(); err != nil {
		return errors.Persistence(err, "%s: commit", op)
	}
	return nil
}

// read runs fn under the writer lock so reads are ordered with writes.
func (s *Store) read(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
