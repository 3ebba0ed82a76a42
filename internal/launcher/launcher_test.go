package launcher

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/gm/internal/eventhub"
	"github.com/ShayCichocki/gm/internal/gitrunner"
	"github.com/ShayCichocki/gm/internal/store"
	"github.com/ShayCichocki/gm/internal/worktree"
	"github.com/ShayCichocki/gm/pkg/types"
)

// fakeProcess lets tests script subprocess behavior without spawning a
// real agent backend, matching the teacher's fake-interface test style.
type fakeProcess struct {
	lines   chan Line
	mu      sync.Mutex
	killed  bool
	signald bool
	waitErr error
}

func newFakeProcess(scripted []Line) *fakeProcess {
	p := &fakeProcess{lines: make(chan Line, len(scripted)+1)}
	for _, l := range scripted {
		p.lines <- l
	}
	close(p.lines)
	return p
}

func (p *fakeProcess) Lines() <-chan Line { return p.lines }
func (p *fakeProcess) Wait() error        { return p.waitErr }
func (p *fakeProcess) Signal() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signald = true
	return nil
}
func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	return nil
}
func (p *fakeProcess) PID() int { return 1 }

type fakeBackend struct {
	mu    sync.Mutex
	procs map[string]*fakeProcess
	next  *fakeProcess
}

func (b *fakeBackend) Spawn(ctx context.Context, workDir, prompt string, env []string) (Process, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next, nil
}

func testLauncher(t *testing.T, backend Backend) (*Launcher, *store.Store) {
	t.Helper()
	repo := t.TempDir()
	st, err := store.Open(filepath.Join(t.TempDir(), "gm.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	wt := worktree.NewManager(repo, "agent", ".worktrees", func(dir string) gitrunner.Runner {
		return &noopRunner{}
	})
	hub := eventhub.New()
	t.Cleanup(hub.Shutdown)

	tmpl := []types.TeamTemplate{
		{Name: "refactor", Teammates: []types.Teammate{{Name: "builder", TimeoutSeconds: 1}}},
	}
	return New(backend, wt, st, hub, tmpl), st
}

// noopRunner implements gitrunner.Runner trivially — worktree
// operations need not touch a real git checkout for launcher tests.
type noopRunner struct{}

func (noopRunner) Run(args ...string) (string, error)                       { return "", nil }
func (noopRunner) CurrentBranch() (string, error)                           { return "main", nil }
func (noopRunner) CreateAndCheckoutBranch(name string) error                { return nil }
func (noopRunner) CheckoutBranch(name string) error                        { return nil }
func (noopRunner) BranchExists(name string) (bool, error)                  { return false, nil }
func (noopRunner) DeleteBranch(name string) error                          { return nil }
func (noopRunner) Status() (string, error)                                 { return "", nil }
func (noopRunner) HasChanges() (bool, error)                               { return false, nil }
func (noopRunner) ChangedFilesRelative(branch, relativeTo string) ([]string, error) {
	return []string{"src/x.go"}, nil
}
func (noopRunner) ConflictedFiles() ([]string, error)                      { return nil, nil }
func (noopRunner) Add(paths ...string) error                               { return nil }
func (noopRunner) Commit(message string) error                             { return nil }
func (noopRunner) MergeNoFFMessage(branch, message string) error           { return nil }
func (noopRunner) MergeAbort() error                                       { return nil }
func (noopRunner) HasConflicts() (bool, error)                             { return false, nil }
func (noopRunner) WorktreeAddNewBranch(path, branch string) error          { return nil }
func (noopRunner) WorktreeRemove(path string) error                        { return nil }
func (noopRunner) WorktreeList() ([]string, error)                         { return nil, nil }
func (noopRunner) WorktreePrune() error                                    { return nil }

func TestLaunchUnknownTemplateFails(t *testing.T) {
	l, _ := testLauncher(t, &fakeBackend{})
	_, err := l.Launch(context.Background(), "proj-1", "nonexistent", "do thing")
	if err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestLaunchCompletesAndFinalizesFiles(t *testing.T) {
	fb := &fakeBackend{}
	proc := newFakeProcess([]Line{{Stream: "stdout", Data: "working on it"}})
	fb.next = proc

	l, st := testLauncher(t, fb)
	sessionID, err := l.Launch(context.Background(), "proj-1", "refactor", "do thing")
	if err != nil {
		t.Fatal(err)
	}

	waitForTerminal(t, st, sessionID)

	sess, err := st.GetSession(sessionID)
	if err != nil || sess == nil {
		t.Fatalf("get session: %v %v", sess, err)
	}
	if sess.Status != types.SessionCompleted {
		t.Fatalf("expected completed, got %s", sess.Status)
	}
	if len(sess.FilesChanged) == 0 {
		t.Fatal("expected files_changed to be finalized on completion")
	}
}

func TestResourceExhaustionEscalatesAfterTwoMatches(t *testing.T) {
	fb := &fakeBackend{}
	proc := newFakeProcess([]Line{
		{Stream: "stderr", Data: "write failed: no space left on device"},
		{Stream: "stderr", Data: "write failed: No space left on device"},
	})
	fb.next = proc

	l, st := testLauncher(t, fb)
	sessionID, err := l.Launch(context.Background(), "proj-1", "refactor", "do thing")
	if err != nil {
		t.Fatal(err)
	}

	waitForTerminal(t, st, sessionID)

	proc.mu.Lock()
	killed := proc.killed
	proc.mu.Unlock()
	if !killed {
		t.Fatal("expected hard kill on repeated resource fatality pattern")
	}

	sess, _ := st.GetSession(sessionID)
	if sess.Status != types.SessionFailed {
		t.Fatalf("expected failed status after resource exhaustion, got %s", sess.Status)
	}
}

func TestLaunchPersistsAndFinalizesTeammateTasks(t *testing.T) {
	fb := &fakeBackend{}
	proc := newFakeProcess([]Line{{Stream: "stdout", Data: "working on it"}})
	fb.next = proc

	l, st := testLauncher(t, fb)
	sessionID, err := l.Launch(context.Background(), "proj-1", "refactor", "do thing")
	if err != nil {
		t.Fatal(err)
	}

	tasks, err := st.ListTasksBySession(sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Teammate != "builder" {
		t.Fatalf("expected one TeammateTask for builder, got %+v", tasks)
	}
	if tasks[0].Status != types.TeammateTaskRunning {
		t.Fatalf("expected running task at launch, got %s", tasks[0].Status)
	}

	waitForTerminal(t, st, sessionID)

	tasks, err = st.ListTasksBySession(sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Status != types.TeammateTaskCompleted {
		t.Fatalf("expected completed task after session finished, got %+v", tasks)
	}
	if tasks[0].CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
}

func waitForTerminal(t *testing.T, st *store.Store, sessionID string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		sess, err := st.GetSession(sessionID)
		if err == nil && sess != nil && sess.IsTerminal() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("session %s did not reach terminal status in time", sessionID)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
