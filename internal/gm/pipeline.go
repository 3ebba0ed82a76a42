package gm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/gm/internal/decision"
	execrunner "github.com/ShayCichocki/gm/internal/exec"
	"github.com/ShayCichocki/gm/internal/eventhub"
	"github.com/ShayCichocki/gm/internal/launcher"
	"github.com/ShayCichocki/gm/internal/store"
	"github.com/ShayCichocki/gm/internal/worktree"
	"github.com/ShayCichocki/gm/pkg/types"
)

// pipeline drives one GMProject through the phase state machine of
// spec §4.6: launching -> waiting -> analyzing -> merging -> building
// -> testing -> completed|failed, with recursive repair cycles on
// merge conflicts and build/test failures.
//
// Grounded on internal/orchestrator/orchestrator.go's phase-driving
// coroutine: one goroutine per project, advancing a typed phase field
// and publishing an event on every transition.
type pipeline struct {
	project  *types.GMProject
	req      types.LaunchRequest
	store    *store.Store
	hub      *eventhub.Hub
	gate     *decision.Gate
	launcher *launcher.Launcher
	backend  launcher.Backend
	worktree *worktree.Manager
	repoLock *sync.Mutex
	cmd      execrunner.CommandRunner

	cancelFn context.CancelFunc
}

func newPipeline(projectID string, req types.LaunchRequest, st *store.Store, hub *eventhub.Hub, gate *decision.Gate, l *launcher.Launcher, backend launcher.Backend, wt *worktree.Manager, repoLock *sync.Mutex) *pipeline {
	return &pipeline{
		project: &types.GMProject{
			ProjectID:    projectID,
			Name:         req.ProjectName,
			RepoPath:     req.RepoPath,
			BuildCommand: req.BuildCommand,
			TestCommand:  req.TestCommand,
			Phase:        types.PhaseLaunching,
			AgentCount:   len(req.Agents),
			StartedAt:    time.Now(),
		},
		req: req, store: st, hub: hub, gate: gate, launcher: l, backend: backend, worktree: wt,
		repoLock: repoLock, cmd: execrunner.NewRunner(),
	}
}

// cancel stops this project's run. Safe to call before run has started
// its own context (a no-op in that narrow race: the launched goroutine
// checks ctx.Err() at its first opportunity).
func (p *pipeline) cancel() {
	if p.cancelFn != nil {
		p.cancelFn()
	}
	if pending, err := p.gate.PendingFor(p.project.ProjectID); err == nil {
		for _, d := range pending {
			_, _ = p.gate.Resolve(d.DecisionID, types.ActionReject)
		}
	}
}

func (p *pipeline) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.cancelFn = cancel
	defer cancel()

	sessionIDs, err := p.launchAgents(ctx)
	if err != nil {
		p.fail(fmt.Sprintf("launch: %v", err))
		return
	}

	if err := p.setPhase(types.PhaseWaiting); err != nil {
		p.fail(fmt.Sprintf("persist phase: %v", err))
		return
	}
	sessions, err := p.waitForAgents(ctx, sessionIDs)
	if err != nil {
		p.fail(fmt.Sprintf("wait: %v", err))
		return
	}
	if p.cancelled(ctx) {
		return
	}

	if err := p.setPhase(types.PhaseAnalyzing); err != nil {
		p.fail(fmt.Sprintf("persist phase: %v", err))
		return
	}
	order := p.analyze(sessions)
	p.project.MergeOrder = order
	if err := p.store.UpsertProject(p.project); err != nil {
		p.fail(fmt.Sprintf("persist merge order: %v", err))
		return
	}
	p.publishMergeOrder(order)

	p.repoLock.Lock()
	defer p.repoLock.Unlock()

	if err := p.setPhase(types.PhaseMerging); err != nil {
		p.fail(fmt.Sprintf("persist phase: %v", err))
		return
	}
	if err := p.runMergePhase(ctx, order); err != nil {
		p.fail(fmt.Sprintf("merging: %v", err))
		return
	}
	if p.cancelled(ctx) {
		return
	}

	if err := p.setPhase(types.PhaseBuilding); err != nil {
		p.fail(fmt.Sprintf("persist phase: %v", err))
		return
	}
	if _, err := p.runBuildPhase(ctx); err != nil {
		p.fail(fmt.Sprintf("building: %v", err))
		return
	}
	if p.cancelled(ctx) {
		return
	}

	if err := p.setPhase(types.PhaseTesting); err != nil {
		p.fail(fmt.Sprintf("persist phase: %v", err))
		return
	}
	if _, err := p.runTestPhase(ctx); err != nil {
		p.fail(fmt.Sprintf("testing: %v", err))
		return
	}

	p.complete()
}

// launchAgents spawns every requested agent via the Team Launcher
// (spec §4.6 Launching) and returns their session ids.
func (p *pipeline) launchAgents(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(p.req.Agents))
	for _, spec := range p.req.Agents {
		sessionID, err := p.launcher.Launch(ctx, p.project.ProjectID, spec.Team, spec.Task)
		if err != nil {
			return nil, fmt.Errorf("launch %s: %w", spec.Team, err)
		}
		ids = append(ids, sessionID)
		p.project.Sessions = append(p.project.Sessions, sessionID)
		p.publishAgentLaunched(sessionID, spec.Team)
	}
	if err := p.store.UpsertProject(p.project); err != nil {
		return nil, err
	}
	return ids, nil
}

// waitForAgents blocks until every launched session reaches a terminal
// status, fanning the waits out concurrently with errgroup (spec §4.6
// Waiting: "wait on every session concurrently, never sequentially").
//
// Grounded on internal/orchestrator/orchestrator.go's sync.WaitGroup
// session fan-out, generalized to errgroup.Group so a cancelled
// context unblocks every waiter at once.
func (p *pipeline) waitForAgents(ctx context.Context, sessionIDs []string) ([]*types.AgentSession, error) {
	results := make([]*types.AgentSession, len(sessionIDs))

	g, gctx := errgroup.WithContext(ctx)
	for i, sessionID := range sessionIDs {
		i, sessionID := i, sessionID
		g.Go(func() error {
			sess, err := p.awaitSession(gctx, sessionID)
			if err != nil {
				return err
			}
			results[i] = sess
			p.publishAgentCompleted(sessionID, sess.Status)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// awaitSession blocks on the launcher's completion channel for one
// session, falling back to the persisted row once closed -- no polling.
func (p *pipeline) awaitSession(ctx context.Context, sessionID string) (*types.AgentSession, error) {
	done := p.launcher.Done(sessionID)
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			p.launcher.Cancel(sessionID)
			<-done
		}
	}
	sess, err := p.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s vanished", sessionID)
	}
	return sess, nil
}

// analyze computes the merge order from every successfully completed
// session's changed files (spec §4.6 Analyzing). Failed or cancelled
// sessions are excluded from merging entirely.
func (p *pipeline) analyze(sessions []*types.AgentSession) []string {
	candidates := make([]sessionFiles, 0, len(sessions))
	for _, s := range sessions {
		if s.Status != types.SessionCompleted {
			continue
		}
		candidates = append(candidates, sessionFiles{
			SessionID: s.SessionID, StartedAt: s.StartedAt.UnixNano(), Files: s.FilesChanged,
		})
	}
	return overlapScores(candidates)
}

// cancelled checks for an already-cancelled context and, if so, fails
// the project with the cancellation reason spec §4.6 mandates. Returns
// true iff the pipeline should stop.
func (p *pipeline) cancelled(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	p.fail("cancelled")
	return true
}

func (p *pipeline) fail(reason string) {
	p.project.Phase = types.PhaseFailed
	p.project.ErrorMessage = reason
	now := time.Now()
	p.project.CompletedAt = &now
	_ = p.store.UpsertProject(p.project)
	p.publishFailed(reason)
}

func (p *pipeline) complete() {
	p.project.Phase = types.PhaseCompleted
	now := time.Now()
	p.project.CompletedAt = &now
	_ = p.store.UpsertProject(p.project)
	p.publishCompleted()
}
