// Package store implements the Session Store (spec §4.3): a durable,
// secondary-indexed record of AgentSessions, TeammateTasks, GMProjects
// and pending Decisions, plus an append-only log table. Log rows are
// only stored here; nothing publishes them on the Event Hub.
//
// Grounded directly on internal/state/db.go + internal/state/session.go:
// same modernc.org/sqlite driver, same WAL + foreign_keys pragmas, same
// additive numbered-migration list, same sql.NullString nullable-field
// handling, same Transaction(func(tx *sql.Tx) error) helper used here to
// make Decision resolution atomic (spec §4.3/§4.5).
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite connection with the General Manager's schema.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens (creating if necessary) a Store at path and applies all
// pending migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if path == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	if err := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1GMProjects},
		{2, migrationV2AgentSessions},
		{3, migrationV3TeammateTasks},
		{4, migrationV4Decisions},
		{5, migrationV5Logs},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Migrations are additive and nullable-by-default so re-applying an
// already-current schema is a no-op (IF NOT EXISTS everywhere).
const migrationV1GMProjects = `
CREATE TABLE IF NOT EXISTS gm_projects (
	project_id      TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	repo_path       TEXT NOT NULL,
	build_command   TEXT,
	test_command    TEXT,
	phase           TEXT NOT NULL,
	agent_count     INTEGER NOT NULL DEFAULT 0,
	merged_count    INTEGER NOT NULL DEFAULT 0,
	build_attempts  INTEGER NOT NULL DEFAULT 0,
	test_attempts   INTEGER NOT NULL DEFAULT 0,
	merge_order     TEXT,
	error_message   TEXT,
	started_at      DATETIME NOT NULL,
	completed_at    DATETIME
);
CREATE INDEX IF NOT EXISTS idx_gm_projects_started_at ON gm_projects(started_at DESC);
`

const migrationV2AgentSessions = `
CREATE TABLE IF NOT EXISTS agent_sessions (
	session_id     TEXT PRIMARY KEY,
	project_id     TEXT NOT NULL,
	team_name      TEXT NOT NULL,
	task           TEXT NOT NULL,
	branch         TEXT,
	worktree_path  TEXT,
	status         TEXT NOT NULL DEFAULT 'pending',
	files_changed  TEXT,
	merge_result   TEXT NOT NULL DEFAULT 'unset',
	started_at     DATETIME NOT NULL,
	completed_at   DATETIME,
	FOREIGN KEY (project_id) REFERENCES gm_projects(project_id)
);
CREATE INDEX IF NOT EXISTS idx_agent_sessions_project_started ON agent_sessions(project_id, started_at);
`

const migrationV3TeammateTasks = `
CREATE TABLE IF NOT EXISTS teammate_tasks (
	task_id      TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	teammate     TEXT NOT NULL,
	role         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	output       TEXT,
	error        TEXT,
	started_at   DATETIME,
	completed_at DATETIME,
	FOREIGN KEY (session_id) REFERENCES agent_sessions(session_id)
);
CREATE INDEX IF NOT EXISTS idx_teammate_tasks_session_id ON teammate_tasks(session_id);
`

const migrationV4Decisions = `
CREATE TABLE IF NOT EXISTS gm_decisions (
	decision_id     TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL,
	kind            TEXT NOT NULL,
	description     TEXT NOT NULL,
	proposed_action TEXT,
	context         TEXT,
	status          TEXT NOT NULL DEFAULT 'pending',
	created_at      DATETIME NOT NULL,
	resolved_at     DATETIME,
	FOREIGN KEY (project_id) REFERENCES gm_projects(project_id)
);
CREATE INDEX IF NOT EXISTS idx_gm_decisions_project_status ON gm_decisions(project_id, status);
`

const migrationV5Logs = `
CREATE TABLE IF NOT EXISTS logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT,
	session_id TEXT,
	level      TEXT NOT NULL DEFAULT 'info',
	message    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_project_id ON logs(project_id);
`

// Transaction runs fn within a transaction, rolling back on error.
// Used by ResolveDecision to make the pending→terminal transition
// atomic (spec §3 "resolution wakes it at most once").
func (s *Store) Transaction(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}
