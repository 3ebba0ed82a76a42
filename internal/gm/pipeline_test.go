package gm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/gm/internal/eventhub"
	"github.com/ShayCichocki/gm/internal/gitrunner"
	"github.com/ShayCichocki/gm/internal/launcher"
	"github.com/ShayCichocki/gm/internal/store"
	"github.com/ShayCichocki/gm/internal/worktree"
	"github.com/ShayCichocki/gm/pkg/types"
)

// Scenario tests drive the full pipeline state machine end to end
// through the public GM API, matching the end-to-end scenarios of
// spec §8 (happy path, overlap, rejected conflict, build repair,
// resource exhaustion, cancellation). Collaborators are faked the same
// way internal/launcher/launcher_test.go and internal/worktree's
// fakeRunner do: scriptable stand-ins for gitrunner.Runner and
// launcher.Backend, no real git checkout or AI backend involved.

// scenarioRunner is a scriptable gitrunner.Runner, one instance per
// worktree directory plus one for the host repo, following
// internal/worktree/worktree_test.go's fakeRunner pattern.
type scenarioRunner struct {
	mu sync.Mutex

	branches map[string]bool

	changes      bool
	changedFiles []string

	conflictFiles []string

	mergeErr        func(branch string) error
	onWorktreeAdded func(path string)
}

func newScenarioRunner() *scenarioRunner {
	return &scenarioRunner{branches: map[string]bool{}}
}

func (r *scenarioRunner) Run(args ...string) (string, error) { return "", nil }
func (r *scenarioRunner) CurrentBranch() (string, error)     { return "main", nil }
func (r *scenarioRunner) CreateAndCheckoutBranch(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.branches[name] = true
	return nil
}
func (r *scenarioRunner) CheckoutBranch(name string) error { return nil }
func (r *scenarioRunner) BranchExists(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.branches[name], nil
}
func (r *scenarioRunner) DeleteBranch(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.branches, name)
	return nil
}
func (r *scenarioRunner) Status() (string, error) {
	if r.changes {
		return " M file.go", nil
	}
	return "", nil
}
func (r *scenarioRunner) HasChanges() (bool, error) { return r.changes, nil }
func (r *scenarioRunner) ChangedFilesRelative(branch, relativeTo string) ([]string, error) {
	return r.changedFiles, nil
}
func (r *scenarioRunner) ConflictedFiles() ([]string, error) {
	return r.conflictFiles, nil
}
func (r *scenarioRunner) Add(paths ...string) error { return nil }
func (r *scenarioRunner) Commit(message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = false
	return nil
}
func (r *scenarioRunner) MergeNoFFMessage(branch, message string) error {
	if r.mergeErr == nil {
		return nil
	}
	return r.mergeErr(branch)
}
func (r *scenarioRunner) MergeAbort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflictFiles = nil
	return nil
}
func (r *scenarioRunner) HasConflicts() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conflictFiles) > 0, nil
}
func (r *scenarioRunner) WorktreeAddNewBranch(path, branch string) error {
	r.mu.Lock()
	r.branches[branch] = true
	hook := r.onWorktreeAdded
	r.mu.Unlock()
	if hook != nil {
		hook(path)
	}
	return nil
}
func (r *scenarioRunner) WorktreeRemove(path string) error { return nil }
func (r *scenarioRunner) WorktreeList() ([]string, error)  { return nil, nil }
func (r *scenarioRunner) WorktreePrune() error             { return nil }

var _ gitrunner.Runner = (*scenarioRunner)(nil)

// resolveConflict is invoked by the scripted merge-repair agent
// response to simulate a clean resolve-and-commit: the next HostClean
// check sees no conflicted files.
func (r *scenarioRunner) resolveConflict() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflictFiles = nil
}

// scenarioRunners builds a worktree.RunnerFactory backed by
// scenarioRunner, one per directory, with the host repo's runner kept
// separately addressable. Session ids are only known after Launch
// returns, so each worktree's scripted changedFiles are instead keyed
// by the order git-worktree-add is called on the host runner -- the one
// point in the launch sequence that happens synchronously, in request
// order, before any background streaming goroutine can race it.
type scenarioRunners struct {
	mu        sync.Mutex
	host      *scenarioRunner
	byDir     map[string]*scenarioRunner
	pathIndex map[string]int

	nextChanged [][]string
}

func newScenarioRunners() *scenarioRunners {
	s := &scenarioRunners{
		host:      newScenarioRunner(),
		byDir:     map[string]*scenarioRunner{},
		pathIndex: map[string]int{},
	}
	s.host.onWorktreeAdded = func(path string) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pathIndex[path] = len(s.pathIndex)
	}
	return s
}

func (s *scenarioRunners) factory(repoPath string) worktree.RunnerFactory {
	return func(dir string) gitrunner.Runner {
		s.mu.Lock()
		defer s.mu.Unlock()
		if dir == repoPath {
			return s.host
		}
		if r, ok := s.byDir[dir]; ok {
			return r
		}
		r := newScenarioRunner()
		r.changes = true
		if idx, ok := s.pathIndex[dir]; ok && idx < len(s.nextChanged) {
			r.changedFiles = s.nextChanged[idx]
		}
		s.byDir[dir] = r
		return r
	}
}

// scenarioBackend routes launcher.Backend.Spawn calls by matching on
// the prompt: teammate tasks are matched by exact task string, the
// fixed repair prompts (mergeRepairPrompt, buildFixPrompt, testFixPrompt)
// are matched by prefix since their tail carries a variable log.
type scenarioBackend struct {
	mu       sync.Mutex
	byTask   map[string]func() (launcher.Process, error)
	onPrefix []prefixResponder
	fallback func() (launcher.Process, error)
}

type prefixResponder struct {
	prefix string
	make   func() (launcher.Process, error)
}

func newScenarioBackend() *scenarioBackend {
	return &scenarioBackend{
		byTask: map[string]func() (launcher.Process, error){},
		fallback: func() (launcher.Process, error) {
			return newScriptedProcess([]launcher.Line{{Stream: "stdout", Data: "done"}}, nil), nil
		},
	}
}

func (b *scenarioBackend) Spawn(ctx context.Context, workDir, prompt string, env []string) (launcher.Process, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if respond, ok := b.byTask[prompt]; ok {
		return respond()
	}
	for _, pr := range b.onPrefix {
		if strings.HasPrefix(prompt, pr.prefix) {
			return pr.make()
		}
	}
	return b.fallback()
}

var _ launcher.Backend = (*scenarioBackend)(nil)

// scriptedProcess is a scriptable launcher.Process: its Lines channel
// is preloaded and closed immediately unless told to block, matching
// internal/launcher/launcher_test.go's fakeProcess.
type scriptedProcess struct {
	lines   chan launcher.Line
	waitErr error

	mu      sync.Mutex
	blocked bool
}

func newScriptedProcess(scripted []launcher.Line, waitErr error) *scriptedProcess {
	p := &scriptedProcess{lines: make(chan launcher.Line, len(scripted)+1), waitErr: waitErr}
	for _, l := range scripted {
		p.lines <- l
	}
	close(p.lines)
	return p
}

// newBlockingProcess never closes its Lines channel until Kill or
// Signal is called, simulating a still-running agent subprocess so
// cancellation can be exercised deterministically.
func newBlockingProcess() *scriptedProcess {
	return &scriptedProcess{lines: make(chan launcher.Line), waitErr: errors.New("signal: killed")}
}

func (p *scriptedProcess) Lines() <-chan launcher.Line { return p.lines }
func (p *scriptedProcess) Wait() error                 { return p.waitErr }
func (p *scriptedProcess) Signal() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}
func (p *scriptedProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}
func (p *scriptedProcess) closeLocked() {
	if p.blocked {
		return
	}
	p.blocked = true
	close(p.lines)
}
func (p *scriptedProcess) PID() int { return 1 }

var _ launcher.Process = (*scriptedProcess)(nil)

type scenarioHarness struct {
	gm      *GM
	store   *store.Store
	hub     *eventhub.Hub
	runners *scenarioRunners
	backend *scenarioBackend
	repo    string
}

func newScenarioHarness(t *testing.T, changedByAgent [][]string) *scenarioHarness {
	t.Helper()
	repo := t.TempDir()

	st, err := store.Open(filepath.Join(t.TempDir(), "gm.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	hub := eventhub.New()
	t.Cleanup(hub.Shutdown)

	runners := newScenarioRunners()
	runners.nextChanged = changedByAgent

	backend := newScenarioBackend()
	backend.onPrefix = []prefixResponder{
		{prefix: mergeRepairPrompt, make: func() (launcher.Process, error) {
			runners.host.resolveConflict()
			return newScriptedProcess([]launcher.Line{{Stream: "stdout", Data: "resolved conflict"}}, nil), nil
		}},
		{prefix: "The project build is failing", make: func() (launcher.Process, error) {
			return newScriptedProcess([]launcher.Line{{Stream: "stdout", Data: "fixed build"}}, nil), nil
		}},
		{prefix: "The project test suite is failing", make: func() (launcher.Process, error) {
			return newScriptedProcess([]launcher.Line{{Stream: "stdout", Data: "fixed tests"}}, nil), nil
		}},
	}

	templates := []types.TeamTemplate{
		{Name: "solo", Teammates: []types.Teammate{{Name: "builder", TimeoutSeconds: 30}}},
	}

	newWorktree := func(repoPath string) *worktree.Manager {
		return worktree.NewManager(repoPath, "agent", ".worktrees", runners.factory(repoPath))
	}

	return &scenarioHarness{
		gm:      New(st, hub, backend, templates, newWorktree),
		store:   st, hub: hub, runners: runners, backend: backend, repo: repo,
	}
}

func (h *scenarioHarness) launch(t *testing.T, req types.LaunchRequest) string {
	t.Helper()
	req.RepoPath = h.repo
	projectID, err := h.gm.LaunchProject(context.Background(), req)
	if err != nil {
		t.Fatalf("LaunchProject: %v", err)
	}
	return projectID
}

// autoApprove watches the hub for decision_required events on a
// project and resolves each one the same way, until the project
// reaches a terminal phase.
func (h *scenarioHarness) autoApprove(t *testing.T, action types.DecisionAction) {
	t.Helper()
	sub := h.hub.Subscribe("gm")
	go func() {
		for {
			ev, ok := sub.Next()
			if !ok {
				return
			}
			if ev.Type != "decision_required" {
				continue
			}
			payload, ok := ev.Payload.(types.DecisionRequiredPayload)
			if !ok {
				continue
			}
			_, _ = h.gm.Resolve(payload.DecisionID, action)
		}
	}()
}

func waitForPhase(t *testing.T, st *store.Store, projectID string, want types.Phase) *types.GMProject {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		proj, err := st.GetProject(projectID)
		if err == nil && proj != nil && (proj.Phase == want || proj.Phase == types.PhaseFailed || proj.Phase == types.PhaseCompleted) {
			return proj
		}
		select {
		case <-deadline:
			t.Fatalf("project %s did not reach phase %s in time", projectID, want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestHappyPathTwoNonOverlappingAgents exercises spec §8 S1: two
// agents touch disjoint files, both merge cleanly, build and test
// commands succeed, the project completes.
func TestHappyPathTwoNonOverlappingAgents(t *testing.T) {
	h := newScenarioHarness(t, [][]string{{"src/a.go"}, {"src/b.go"}})
	req := types.LaunchRequest{
		ProjectName:  "happy-path",
		BuildCommand: "true",
		TestCommand:  "true",
		Agents: []types.AgentSpec{
			{Team: "solo", Task: "do a"},
			{Team: "solo", Task: "do b"},
		},
	}
	projectID := h.launch(t, req)

	proj := waitForPhase(t, h.store, projectID, types.PhaseCompleted)
	if proj.Phase != types.PhaseCompleted {
		t.Fatalf("expected completed, got %s (%s)", proj.Phase, proj.ErrorMessage)
	}
	if proj.MergedCount != 2 {
		t.Fatalf("expected 2 merges, got %d", proj.MergedCount)
	}
	if len(proj.MergeOrder) != 2 {
		t.Fatalf("expected merge order of 2, got %v", proj.MergeOrder)
	}
}

// TestOverlapApprovedConflictResolvedByRepair exercises spec §8 S2: two
// agents touch the same file, the second agent's merge conflicts, the
// operator approves, the repair agent resolves it, and the project
// still completes with both sessions merged.
func TestOverlapApprovedConflictResolvedByRepair(t *testing.T) {
	h := newScenarioHarness(t, [][]string{{"src/shared.go"}, {"src/shared.go"}})

	var mergeCalls int
	var callMu sync.Mutex
	h.runners.host.mergeErr = func(branch string) error {
		callMu.Lock()
		mergeCalls++
		n := mergeCalls
		callMu.Unlock()
		if n < 2 {
			return nil
		}
		h.runners.host.mu.Lock()
		h.runners.host.conflictFiles = []string{"src/shared.go"}
		h.runners.host.mu.Unlock()
		return errors.New("CONFLICT (content): Merge conflict in src/shared.go")
	}

	h.autoApprove(t, types.ActionApprove)

	req := types.LaunchRequest{
		ProjectName: "overlap",
		Agents: []types.AgentSpec{
			{Team: "solo", Task: "first touch"},
			{Team: "solo", Task: "second touch"},
		},
	}
	projectID := h.launch(t, req)

	proj := waitForPhase(t, h.store, projectID, types.PhaseCompleted)
	if proj.Phase != types.PhaseCompleted {
		t.Fatalf("expected completed, got %s (%s)", proj.Phase, proj.ErrorMessage)
	}
	if proj.MergedCount != 2 {
		t.Fatalf("expected both sessions merged (one resolved), got %d", proj.MergedCount)
	}
}

// TestRejectedConflictIsSkippedNotFailed exercises spec §8 S3: a
// conflicting merge is rejected by the operator, that session is
// skipped, and the project still reaches completion.
func TestRejectedConflictIsSkippedNotFailed(t *testing.T) {
	h := newScenarioHarness(t, [][]string{{"src/shared.go"}, {"src/shared.go"}})

	var mergeCalls int
	var callMu sync.Mutex
	h.runners.host.mergeErr = func(branch string) error {
		callMu.Lock()
		mergeCalls++
		n := mergeCalls
		callMu.Unlock()
		if n < 2 {
			return nil
		}
		h.runners.host.mu.Lock()
		h.runners.host.conflictFiles = []string{"src/shared.go"}
		h.runners.host.mu.Unlock()
		return errors.New("CONFLICT (content): Merge conflict in src/shared.go")
	}

	h.autoApprove(t, types.ActionReject)

	req := types.LaunchRequest{
		ProjectName: "rejected-conflict",
		Agents: []types.AgentSpec{
			{Team: "solo", Task: "first touch"},
			{Team: "solo", Task: "second touch"},
		},
	}
	projectID := h.launch(t, req)

	proj := waitForPhase(t, h.store, projectID, types.PhaseCompleted)
	if proj.Phase != types.PhaseCompleted {
		t.Fatalf("expected completed despite a rejected merge, got %s (%s)", proj.Phase, proj.ErrorMessage)
	}
	if proj.MergedCount == 0 {
		t.Fatal("expected at least the first, non-conflicting session to merge")
	}
}

// TestBuildFailsThenRepairedByApprovedRetry exercises spec §8 S4: the
// build command fails on its first attempt, the operator approves a
// repair cycle, and a second attempt (simulating the repair agent's
// fix) succeeds.
func TestBuildFailsThenRepairedByApprovedRetry(t *testing.T) {
	h := newScenarioHarness(t, [][]string{{"src/a.go"}})
	h.autoApprove(t, types.ActionApprove)

	marker := filepath.Join(h.repo, ".build-attempts")
	buildCmd := fmt.Sprintf(`n=$(cat %s 2>/dev/null || echo 0); n=$((n+1)); echo $n > %s; test $n -ge 2`, marker, marker)

	req := types.LaunchRequest{
		ProjectName:  "build-repair",
		BuildCommand: buildCmd,
		Agents:       []types.AgentSpec{{Team: "solo", Task: "do a"}},
	}
	projectID := h.launch(t, req)

	proj := waitForPhase(t, h.store, projectID, types.PhaseCompleted)
	if proj.Phase != types.PhaseCompleted {
		t.Fatalf("expected completed after repair retry, got %s (%s)", proj.Phase, proj.ErrorMessage)
	}
	if proj.BuildAttempts != 2 {
		t.Fatalf("expected 2 build attempts, got %d", proj.BuildAttempts)
	}
}

// TestResourceExhaustedAgentExcludedFromMerge exercises spec §8 S5: one
// agent's output matches the resource-exhaustion watchdog twice and is
// force-killed; its session fails and is excluded from the merge order,
// but the project still completes on the surviving agent.
func TestResourceExhaustedAgentExcludedFromMerge(t *testing.T) {
	h := newScenarioHarness(t, [][]string{{"src/a.go"}, nil})
	h.backend.byTask["will explode"] = func() (launcher.Process, error) {
		return newScriptedProcess([]launcher.Line{
			{Stream: "stderr", Data: "write failed: no space left on device"},
			{Stream: "stderr", Data: "write failed: No space left on device"},
		}, nil), nil
	}

	req := types.LaunchRequest{
		ProjectName: "resource-exhaustion",
		Agents: []types.AgentSpec{
			{Team: "solo", Task: "do a"},
			{Team: "solo", Task: "will explode"},
		},
	}
	projectID := h.launch(t, req)

	proj := waitForPhase(t, h.store, projectID, types.PhaseCompleted)
	if proj.Phase != types.PhaseCompleted {
		t.Fatalf("expected completed despite one failed agent, got %s (%s)", proj.Phase, proj.ErrorMessage)
	}
	if proj.MergedCount != 1 {
		t.Fatalf("expected only the surviving agent's session merged, got %d", proj.MergedCount)
	}
	if len(proj.MergeOrder) != 1 {
		t.Fatalf("expected failed session excluded from merge order, got %v", proj.MergeOrder)
	}
}

// TestCancelMidPipelineFailsProjectAndStopsAgents exercises spec §8 S6:
// cancelling a project while an agent is still running marks it
// cancelled and fails the project instead of leaving it stuck in
// waiting.
func TestCancelMidPipelineFailsProjectAndStopsAgents(t *testing.T) {
	h := newScenarioHarness(t, [][]string{{"src/a.go"}})
	h.backend.byTask["runs forever"] = func() (launcher.Process, error) {
		return newBlockingProcess(), nil
	}

	req := types.LaunchRequest{
		ProjectName: "cancel-mid-pipeline",
		Agents:      []types.AgentSpec{{Team: "solo", Task: "runs forever"}},
	}
	projectID := h.launch(t, req)

	// Wait for the pipeline to actually be waiting on the agent before
	// cancelling, so Cancel doesn't race LaunchProject's own goroutine
	// start-up.
	waitForPhase(t, h.store, projectID, types.PhaseWaiting)

	if err := h.gm.Cancel(projectID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	proj := waitForPhase(t, h.store, projectID, types.PhaseFailed)
	if proj.Phase != types.PhaseFailed {
		t.Fatalf("expected failed after cancel, got %s", proj.Phase)
	}
	if proj.ErrorMessage != "cancelled" {
		t.Fatalf("expected cancellation reason, got %q", proj.ErrorMessage)
	}
}
