package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
	"swarmd/internal/config"
)

// ErrStaleWrite is returned when an optimistic version check fails: another
// writer updated the row first. Callers should re-read and retry.
var ErrStaleWrite = errors.New("stale write: record version changed")

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Enable WAL mode for concurrent read/write access and set a busy
	// timeout so writers retry instead of immediately returning SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS swarms (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			state       TEXT NOT NULL DEFAULT 'UNINITIALIZED',
			user_id     TEXT NOT NULL,
			config      TEXT NOT NULL,
			strategy    TEXT,
			team        TEXT,
			resources   TEXT,
			metrics     TEXT,
			metadata    TEXT,
			version     INTEGER NOT NULL DEFAULT 1,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_swarms_state ON swarms(state)`,
		`CREATE INDEX IF NOT EXISTS idx_swarms_user ON swarms(user_id)`,
		`CREATE TABLE IF NOT EXISTS routine_versions (
			id          TEXT PRIMARY KEY,
			routine_id  TEXT NOT NULL,
			version     TEXT NOT NULL,
			definition  TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id                 TEXT PRIMARY KEY,
			swarm_id           TEXT,
			routine_version_id TEXT NOT NULL REFERENCES routine_versions(id),
			user_id            TEXT NOT NULL,
			status             TEXT NOT NULL DEFAULT 'Scheduled',
			inputs             TEXT,
			outputs            TEXT,
			error              TEXT,
			started_at         DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at       DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_swarm ON runs(swarm_id)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id          TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'Scheduled',
			payload     TEXT NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0,
			error       TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_kind ON tasks(kind, status)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			channel     TEXT NOT NULL,
			title       TEXT,
			body        TEXT NOT NULL,
			delivered   BOOLEAN DEFAULT FALSE,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			name        TEXT PRIMARY KEY,
			value       BLOB NOT NULL,
			nonce       BLOB NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}
