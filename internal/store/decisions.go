package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/gm/internal/gmerr"
	"github.com/ShayCichocki/gm/pkg/types"
)

// InsertDecision inserts a pending Decision row.
func (s *Store) InsertDecision(d *types.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO gm_decisions
			(decision_id, project_id, kind, description, proposed_action, context,
			 status, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.DecisionID, d.ProjectID, string(d.Kind), d.Description, d.ProposedAction, d.Context,
		string(d.Status), formatTime(d.CreatedAt), nullableTime(d.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", d.DecisionID, err)
	}
	return nil
}

func scanDecision(row interface{ Scan(dest ...any) error }) (*types.Decision, error) {
	var d types.Decision
	var proposedAction, ctx, resolvedAt sql.NullString
	var kind, status, createdAt string

	if err := row.Scan(
		&d.DecisionID, &d.ProjectID, &kind, &d.Description, &proposedAction, &ctx,
		&status, &createdAt, &resolvedAt,
	); err != nil {
		return nil, err
	}
	d.Kind = types.DecisionKind(kind)
	d.ProposedAction = proposedAction.String
	d.Context = ctx.String
	d.Status = types.DecisionStatus(status)
	if t, err := parseTime(createdAt); err == nil {
		d.CreatedAt = t
	}
	d.ResolvedAt = parseNullableTime(resolvedAt)
	return &d, nil
}

const decisionColumns = `decision_id, project_id, kind, description, proposed_action, context,
		       status, created_at, resolved_at`

// GetDecision fetches one Decision by id.
func (s *Store) GetDecision(decisionID string) (*types.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRow(`SELECT `+decisionColumns+` FROM gm_decisions WHERE decision_id = ?`, decisionID)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get decision %s: %w", decisionID, err)
	}
	return d, nil
}

// PendingDecisionsForProject lists still-pending decisions for a project (spec §4.5 pending_for).
func (s *Store) PendingDecisionsForProject(projectID string) ([]*types.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`SELECT `+decisionColumns+`
		FROM gm_decisions WHERE project_id = ? AND status = ? ORDER BY created_at ASC`,
		projectID, string(types.DecisionPending))
	if err != nil {
		return nil, fmt.Errorf("list pending decisions for %s: %w", projectID, err)
	}
	defer rows.Close()

	var out []*types.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ResolveDecision atomically transitions a Decision from pending to a
// terminal status. It is idempotent: resolving an already-resolved
// decision a second time returns its existing terminal status without
// side effect (spec §4.5 "idempotent after resolution").
func (s *Store) ResolveDecision(decisionID string, action types.DecisionAction) (types.DecisionStatus, error) {
	var finalStatus types.DecisionStatus

	err := s.Transaction(func(tx *sql.Tx) error {
		var currentStatus string
		if err := tx.QueryRow(`SELECT status FROM gm_decisions WHERE decision_id = ?`, decisionID).
			Scan(&currentStatus); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("resolve decision %s: %w", decisionID, gmerr.ErrStoreIO)
			}
			return fmt.Errorf("read decision %s: %w", decisionID, err)
		}

		if currentStatus != string(types.DecisionPending) {
			finalStatus = types.DecisionStatus(currentStatus)
			return nil
		}

		newStatus := types.DecisionApproved
		if action == types.ActionReject {
			newStatus = types.DecisionRejected
		}

		now := time.Now()
		if _, err := tx.Exec(`UPDATE gm_decisions SET status = ?, resolved_at = ? WHERE decision_id = ?`,
			string(newStatus), formatTime(now), decisionID); err != nil {
			return fmt.Errorf("update decision %s: %w", decisionID, err)
		}
		finalStatus = newStatus
		return nil
	})
	if err != nil {
		return "", err
	}
	return finalStatus, nil
}
