package store

import (
	"database/sql"
	"fmt"
	"time"
)

// LogEntry is one append-only structured log row (spec §4.3). Rows are
// written to the store only; they are not published on the Event Hub.
type LogEntry struct {
	ID        int64
	ProjectID string
	SessionID string
	Level     string
	Message   string
	CreatedAt time.Time
}

// AppendLog appends a structured log entry. Logs are append-only: there
// is no update or delete path.
func (s *Store) AppendLog(entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	level := entry.Level
	if level == "" {
		level = "info"
	}
	_, err := s.conn.Exec(`
		INSERT INTO logs (project_id, session_id, level, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, nullIfEmpty(entry.ProjectID), nullIfEmpty(entry.SessionID), level, entry.Message, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// ListLogsByProject returns a project's log entries in insertion order.
func (s *Store) ListLogsByProject(projectID string) ([]LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT id, project_id, session_id, level, message, created_at
		FROM logs WHERE project_id = ? ORDER BY id ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list logs for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		var projID, sessID sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &projID, &sessID, &e.Level, &e.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		e.ProjectID = projID.String
		e.SessionID = sessID.String
		if t, err := parseTime(createdAt); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
