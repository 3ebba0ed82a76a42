package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/ShayCichocki/gm/pkg/types"
)

func encodeFiles(files []string) sql.NullString {
	if len(files) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: strings.Join(files, "\x1f"), Valid: true}
}

func decodeFiles(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return strings.Split(ns.String, "\x1f")
}

// UpsertSession inserts or updates an AgentSession by SessionID.
func (s *Store) UpsertSession(sess *types.AgentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO agent_sessions
			(session_id, project_id, team_name, task, branch, worktree_path,
			 status, files_changed, merge_result, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			team_name=excluded.team_name,
			task=excluded.task,
			branch=excluded.branch,
			worktree_path=excluded.worktree_path,
			status=excluded.status,
			files_changed=excluded.files_changed,
			merge_result=excluded.merge_result,
			completed_at=excluded.completed_at
	`,
		sess.SessionID, sess.ProjectID, sess.TeamName, sess.Task, sess.Branch, sess.WorktreePath,
		string(sess.Status), encodeFiles(sess.FilesChanged), string(sess.MergeResult),
		formatTime(sess.StartedAt), nullableTime(sess.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sess.SessionID, err)
	}
	return nil
}

func scanSession(row interface {
	Scan(dest ...any) error
}) (*types.AgentSession, error) {
	var sess types.AgentSession
	var files, completedAt, startedAt sql.NullString
	var branch, worktreePath sql.NullString
	var status, mergeResult string

	if err := row.Scan(
		&sess.SessionID, &sess.ProjectID, &sess.TeamName, &sess.Task, &branch, &worktreePath,
		&status, &files, &mergeResult, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	sess.Branch = branch.String
	sess.WorktreePath = worktreePath.String
	sess.Status = types.SessionStatus(status)
	sess.FilesChanged = decodeFiles(files)
	sess.MergeResult = types.MergeResult(mergeResult)
	if startedAt.Valid {
		t, err := parseTime(startedAt.String)
		if err == nil {
			sess.StartedAt = t
		}
	}
	sess.CompletedAt = parseNullableTime(completedAt)
	return &sess, nil
}

// GetSession fetches one AgentSession by id.
func (s *Store) GetSession(sessionID string) (*types.AgentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRow(`
		SELECT session_id, project_id, team_name, task, branch, worktree_path,
		       status, files_changed, merge_result, started_at, completed_at
		FROM agent_sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return sess, nil
}

// ListSessionsByProject returns a project's sessions ordered by StartedAt ascending.
func (s *Store) ListSessionsByProject(projectID string) ([]*types.AgentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT session_id, project_id, team_name, task, branch, worktree_path,
		       status, files_changed, merge_result, started_at, completed_at
		FROM agent_sessions WHERE project_id = ? ORDER BY started_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list sessions for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []*types.AgentSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// InsertTask inserts a TeammateTask, owned by exactly one AgentSession.
func (s *Store) InsertTask(task *types.TeammateTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO teammate_tasks
			(task_id, session_id, teammate, role, status, output, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status=excluded.status, output=excluded.output, error=excluded.error,
			completed_at=excluded.completed_at
	`,
		task.TaskID, task.SessionID, task.Teammate, task.Role, string(task.Status),
		task.Output, task.Error, nullableTime(task.StartedAt), nullableTime(task.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", task.TaskID, err)
	}
	return nil
}

// ListTasksBySession returns all TeammateTasks owned by a session.
func (s *Store) ListTasksBySession(sessionID string) ([]*types.TeammateTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT task_id, session_id, teammate, role, status, output, error, started_at, completed_at
		FROM teammate_tasks WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*types.TeammateTask
	for rows.Next() {
		var t types.TeammateTask
		var status string
		var output, errMsg sql.NullString
		var startedAt, completedAt sql.NullString
		if err := rows.Scan(&t.TaskID, &t.SessionID, &t.Teammate, &t.Role, &status,
			&output, &errMsg, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Status = types.TaskStatus(status)
		t.Output = output.String
		t.Error = errMsg.String
		t.StartedAt = parseNullableTime(startedAt)
		t.CompletedAt = parseNullableTime(completedAt)
		out = append(out, &t)
	}
	return out, rows.Err()
}
