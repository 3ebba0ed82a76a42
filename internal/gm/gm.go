// Package gm implements the GM Pipeline (spec §4.6), the General
// Manager's core state machine: launch N agents, wait for them
// concurrently, compute a merge order from file-overlap analysis, drive
// merge -> build -> test with a recursive repair agent, and pause on
// human approval gates broadcast over the Event Hub.
//
// Grounded on internal/orchestrator/orchestrator.go (phase-driving
// coroutine + event channel + sync.WaitGroup session fan-out) and
// internal/orchestrator/merge_queue.go (serial merge worker,
// checkpoint-before-merge, fallback-on-conflict idiom).
package gm

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ShayCichocki/gm/internal/decision"
	"github.com/ShayCichocki/gm/internal/eventhub"
	"github.com/ShayCichocki/gm/internal/launcher"
	"github.com/ShayCichocki/gm/internal/store"
	"github.com/ShayCichocki/gm/internal/worktree"
	"github.com/ShayCichocki/gm/pkg/types"
)

// maxRepairCycles bounds the automatic build/test repair loop (spec
// §4.6 Building: "Cap the number of automatic repair cycles at a small
// constant").
const maxRepairCycles = 3

// WorktreeFactory builds the Worktree Manager for one project's repo.
type WorktreeFactory func(repoPath string) *worktree.Manager

// GM is the process-wide supervisor of GM projects (spec §9 "Global
// state": the Event Hub, the Session Store handle and the merge-lock
// table are constructed once at start-up").
type GM struct {
	store    *store.Store
	hub      *eventhub.Hub
	gate     *decision.Gate
	backend  launcher.Backend
	templates []types.TeamTemplate
	newWorktree WorktreeFactory

	mu        sync.Mutex
	repoLocks map[string]*sync.Mutex
	pipelines map[string]*pipeline
}

// New builds the GM supervisor from its already-constructed collaborators.
func New(st *store.Store, hub *eventhub.Hub, backend launcher.Backend, templates []types.TeamTemplate, newWorktree WorktreeFactory) *GM {
	return &GM{
		store: st, hub: hub, gate: decision.New(st), backend: backend,
		templates: templates, newWorktree: newWorktree,
		repoLocks: make(map[string]*sync.Mutex),
		pipelines: make(map[string]*pipeline),
	}
}

func (g *GM) repoLock(repoPath string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.repoLocks[repoPath]
	if !ok {
		l = &sync.Mutex{}
		g.repoLocks[repoPath] = l
	}
	return l
}

// LaunchProject starts a new GM project from an external launch request
// (spec §6 "project launch request") and returns its project id
// immediately; the pipeline runs on its own goroutine.
func (g *GM) LaunchProject(ctx context.Context, req types.LaunchRequest) (string, error) {
	projectID := uuid.NewString()
	wt := g.newWorktree(req.RepoPath)
	l := launcher.New(g.backend, wt, g.store, g.hub, g.templates)

	p := newPipeline(projectID, req, g.store, g.hub, g.gate, l, g.backend, wt, g.repoLock(req.RepoPath))

	if err := g.store.UpsertProject(p.project); err != nil {
		return "", fmt.Errorf("persist project %s: %w", projectID, err)
	}
	g.hub.Publish("gm", "project_started", types.ProjectStartedPayload{
		ProjectID: projectID, ProjectName: req.ProjectName,
	})

	g.mu.Lock()
	g.pipelines[projectID] = p
	g.mu.Unlock()

	go p.run(ctx)

	return projectID, nil
}

// Cancel marks a project for cancellation (spec §4.6 "Cancellation").
func (g *GM) Cancel(projectID string) error {
	g.mu.Lock()
	p, ok := g.pipelines[projectID]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("cancel %s: project not running", projectID)
	}
	p.cancel()
	return nil
}

// Resolve resolves a pending Decision (spec §6 "decision resolve request").
func (g *GM) Resolve(decisionID string, action types.DecisionAction) (types.DecisionStatus, error) {
	status, err := g.gate.Resolve(decisionID, action)
	if err != nil {
		return "", err
	}
	if d, derr := g.store.GetDecision(decisionID); derr == nil && d != nil {
		g.hub.Publish("gm", "decision_resolved", types.DecisionResolvedPayload{
			ProjectID: d.ProjectID, DecisionID: decisionID, Action: action,
		})
	}
	return status, nil
}

// Project returns the current persisted state of a project.
func (g *GM) Project(projectID string) (*types.GMProject, error) {
	return g.store.GetProject(projectID)
}
