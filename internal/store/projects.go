package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/ShayCichocki/gm/pkg/types"
)

func encodeOrder(order []string) sql.NullString {
	if len(order) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: strings.Join(order, "\x1f"), Valid: true}
}

func decodeOrder(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return strings.Split(ns.String, "\x1f")
}

// UpsertProject inserts or updates a GMProject by ProjectID.
func (s *Store) UpsertProject(p *types.GMProject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO gm_projects
			(project_id, name, repo_path, build_command, test_command, phase,
			 agent_count, merged_count, build_attempts, test_attempts,
			 merge_order, error_message, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			phase=excluded.phase,
			agent_count=excluded.agent_count,
			merged_count=excluded.merged_count,
			build_attempts=excluded.build_attempts,
			test_attempts=excluded.test_attempts,
			merge_order=excluded.merge_order,
			error_message=excluded.error_message,
			completed_at=excluded.completed_at
	`,
		p.ProjectID, p.Name, p.RepoPath, p.BuildCommand, p.TestCommand, string(p.Phase),
		p.AgentCount, p.MergedCount, p.BuildAttempts, p.TestAttempts,
		encodeOrder(p.MergeOrder), p.ErrorMessage, formatTime(p.StartedAt), nullableTime(p.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert project %s: %w", p.ProjectID, err)
	}
	return nil
}

func scanProject(row interface{ Scan(dest ...any) error }) (*types.GMProject, error) {
	var p types.GMProject
	var buildCmd, testCmd, mergeOrder, errMsg, completedAt sql.NullString
	var phase, startedAt string

	if err := row.Scan(
		&p.ProjectID, &p.Name, &p.RepoPath, &buildCmd, &testCmd, &phase,
		&p.AgentCount, &p.MergedCount, &p.BuildAttempts, &p.TestAttempts,
		&mergeOrder, &errMsg, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	p.BuildCommand = buildCmd.String
	p.TestCommand = testCmd.String
	p.Phase = types.Phase(phase)
	p.MergeOrder = decodeOrder(mergeOrder)
	p.ErrorMessage = errMsg.String
	if t, err := parseTime(startedAt); err == nil {
		p.StartedAt = t
	}
	p.CompletedAt = parseNullableTime(completedAt)
	return &p, nil
}

const projectColumns = `project_id, name, repo_path, build_command, test_command, phase,
		       agent_count, merged_count, build_attempts, test_attempts,
		       merge_order, error_message, started_at, completed_at`

// GetProject fetches one GMProject by id.
func (s *Store) GetProject(projectID string) (*types.GMProject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRow(`SELECT `+projectColumns+` FROM gm_projects WHERE project_id = ?`, projectID)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}
	return p, nil
}

// ListProjects returns GMProjects ordered by StartedAt descending with
// offset/limit pagination (spec §4.3 "list by started_at descending with pagination").
func (s *Store) ListProjects(limit, offset int) ([]*types.GMProject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(`SELECT `+projectColumns+`
		FROM gm_projects ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*types.GMProject
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
