// Package decision implements the Decision Gate (spec §4.5): registers
// a pending human-approval decision and blocks a single waiter until it
// resolves.
//
// Grounded on internal/orchestrator/approval.go's ApprovalManager: a
// mutex-guarded map of pending-request channels keyed by id, generalized
// from per-task single-outcome approval (ApprovalRequest/ApprovalResponse)
// to the spec's request/resolve pair returning a decision id plus a
// future, with idempotent resolution backed by the Session Store's
// atomic ResolveDecision transaction.
package decision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/gm/internal/gmerr"
	"github.com/ShayCichocki/gm/internal/store"
	"github.com/ShayCichocki/gm/pkg/types"
)

// Future is returned by Request; Wait blocks until the decision
// resolves or the context is cancelled.
type Future struct {
	ch <-chan types.DecisionAction
}

// Wait blocks until a human resolves the decision or ctx is cancelled. A
// cancelled wait is reported as gmerr.ErrDecisionInterrupted, the spec's
// "decision cannot be resumed" outcome, not the bare context error.
func (f Future) Wait(ctx context.Context) (types.DecisionAction, error) {
	select {
	case action := <-f.ch:
		return action, nil
	case <-ctx.Done():
		return "", fmt.Errorf("wait for decision: %w: %w", gmerr.ErrDecisionInterrupted, ctx.Err())
	}
}

// Gate is the process-wide Decision Gate for one Session Store.
type Gate struct {
	store *store.Store

	mu      sync.Mutex
	waiters map[string]chan types.DecisionAction
}

// New builds a Decision Gate backed by st.
func New(st *store.Store) *Gate {
	return &Gate{store: st, waiters: make(map[string]chan types.DecisionAction)}
}

// Request atomically inserts a pending Decision row and returns a wait
// handle for its eventual resolution (spec §4.5 "request").
func (g *Gate) Request(projectID string, kind types.DecisionKind, description, proposedAction, contextText string) (*types.Decision, Future, error) {
	d := &types.Decision{
		DecisionID:     uuid.NewString(),
		ProjectID:      projectID,
		Kind:           kind,
		Description:    description,
		ProposedAction: proposedAction,
		Context:        contextText,
		Status:         types.DecisionPending,
		CreatedAt:      time.Now(),
	}
	if err := g.store.InsertDecision(d); err != nil {
		return nil, Future{}, fmt.Errorf("request decision: %w", err)
	}

	ch := make(chan types.DecisionAction, 1)
	g.mu.Lock()
	g.waiters[d.DecisionID] = ch
	g.mu.Unlock()

	return d, Future{ch: ch}, nil
}

// Resolve atomically transitions the decision to its terminal status and
// wakes the waiter exactly once. A second call on an already-resolved
// decision is a no-op that returns the original outcome (spec §4.5
// "idempotent after resolution").
func (g *Gate) Resolve(decisionID string, action types.DecisionAction) (types.DecisionStatus, error) {
	status, err := g.store.ResolveDecision(decisionID, action)
	if err != nil {
		return "", fmt.Errorf("resolve decision %s: %w", decisionID, err)
	}

	g.mu.Lock()
	ch, ok := g.waiters[decisionID]
	if ok {
		delete(g.waiters, decisionID)
	}
	g.mu.Unlock()

	if ok {
		resolvedAction := types.ActionApprove
		if status == types.DecisionRejected {
			resolvedAction = types.ActionReject
		}
		select {
		case ch <- resolvedAction:
		default:
		}
	}
	return status, nil
}

// PendingFor lists still-pending decisions for a project (spec §4.5 pending_for).
func (g *Gate) PendingFor(projectID string) ([]*types.Decision, error) {
	return g.store.PendingDecisionsForProject(projectID)
}
