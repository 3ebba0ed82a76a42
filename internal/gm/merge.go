package gm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/gm/internal/gmerr"
	"github.com/ShayCichocki/gm/internal/store"
	"github.com/ShayCichocki/gm/internal/worktree"
	"github.com/ShayCichocki/gm/pkg/types"
)

// runMergePhase processes merge_order sequentially (spec §4.6 Merging).
// The repo merge-lock is already held by the caller for the whole of
// this project's merge/build/test span.
func (p *pipeline) runMergePhase(ctx context.Context, order []string) error {
	for i, sessionID := range order {
		p.publishMergeStarted(sessionID, i)

		sess, err := p.store.GetSession(sessionID)
		if err != nil || sess == nil {
			return fmt.Errorf("load session %s: %w", sessionID, err)
		}

		outcome := p.worktree.Merge(sess.Branch, fmt.Sprintf("gm: merge %s (%s)", sess.TeamName, sessionID))
		if outcome.Success {
			sess.MergeResult = types.MergeMerged
			p.project.MergedCount++
			_ = p.store.UpsertSession(sess)
			_ = p.store.UpsertProject(p.project)
			p.publishMergeCompleted(sessionID, false, types.MergeMerged)
			continue
		}

		if !errors.Is(outcome.Err, gmerr.ErrMergeConflict) {
			// Any other merge failure is treated as a rejection outright
			// (spec §4.6 Merging step 5).
			sess.MergeResult = types.MergeFailed
			_ = p.store.UpsertSession(sess)
			p.publishMergeCompleted(sessionID, true, types.MergeFailed)
			continue
		}

		p.publishMergeConflict(sessionID, outcome.ConflictedFiles, outcome.Stderr)
		resolved, err := p.resolveMergeConflict(ctx, sessionID, sess, outcome)
		if err != nil {
			return err
		}
		if resolved {
			p.project.MergedCount++
		}
		_ = p.store.UpsertProject(p.project)
	}
	return nil
}

// resolveMergeConflict requests a merge_conflict decision and acts on
// its resolution (spec §4.6 Merging step 4).
func (p *pipeline) resolveMergeConflict(ctx context.Context, sessionID string, sess *types.AgentSession, outcome worktree.MergeOutcome) (bool, error) {
	d, future, err := p.gate.Request(
		p.project.ProjectID,
		types.DecisionMergeConflict,
		fmt.Sprintf("merge conflict on session %s", sessionID),
		"repair",
		strings.Join(outcome.ConflictedFiles, ", "),
	)
	if err != nil {
		return false, fmt.Errorf("request merge conflict decision: %w", err)
	}
	p.project.Decisions = append(p.project.Decisions, d.DecisionID)
	p.publishDecisionRequired(d)

	action, err := future.Wait(ctx)
	if err != nil {
		_ = p.worktree.AbortMerge()
		sess.MergeResult = types.MergeSkipped
		_ = p.store.UpsertSession(sess)
		p.publishMergeCompleted(sessionID, true, types.MergeSkipped)
		return false, nil
	}

	if action == types.ActionReject {
		if err := p.worktree.AbortMerge(); err != nil {
			return false, fmt.Errorf("abort merge for %s: %w", sessionID, err)
		}
		sess.MergeResult = types.MergeSkipped
		_ = p.store.UpsertSession(sess)
		p.publishMergeCompleted(sessionID, true, types.MergeSkipped)
		return false, nil
	}

	tail, repairErr := p.runRepairAgent(ctx, p.project.RepoPath, mergeRepairPrompt)
	_ = p.store.AppendLog(store.LogEntry{ProjectID: p.project.ProjectID, SessionID: sessionID, Message: tail})
	clean, cleanErr := p.worktree.HostClean()
	if repairErr != nil || cleanErr != nil || !clean {
		_ = p.worktree.AbortMerge()
		sess.MergeResult = types.MergeSkipped
		_ = p.store.UpsertSession(sess)
		p.publishMergeCompleted(sessionID, true, types.MergeSkipped)
		return false, nil
	}

	if err := p.worktree.CommitHost(fmt.Sprintf("gm: repair merge conflict for %s", sessionID)); err != nil {
		_ = p.worktree.AbortMerge()
		sess.MergeResult = types.MergeSkipped
		_ = p.store.UpsertSession(sess)
		p.publishMergeCompleted(sessionID, true, types.MergeSkipped)
		return false, nil
	}

	sess.MergeResult = types.MergeMergedResolved
	_ = p.store.UpsertSession(sess)
	p.publishConflictResolved(sessionID)
	p.publishMergeCompleted(sessionID, false, types.MergeMergedResolved)
	return true, nil
}
