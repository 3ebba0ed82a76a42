package launcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/gm/internal/eventhub"
	"github.com/ShayCichocki/gm/internal/gmerr"
	"github.com/ShayCichocki/gm/internal/store"
	"github.com/ShayCichocki/gm/internal/worktree"
	"github.com/ShayCichocki/gm/pkg/types"
)

// taskOutputTail bounds how much of a teammate task's streamed output is
// kept on the TeammateTask row once its session reaches a terminal state.
const taskOutputTail = 4000

// resourceFatalityPatterns mark host-resource exhaustion in streamed
// output (spec §4.4 "Resource watchdog"). New code: the teacher has no
// equivalent, but follows its line-by-line dispatch idiom from
// agent/claude.go's readOutput/readStderr loops.
var resourceFatalityPatterns = []string{
	"no space left on device",
	"cannot allocate memory",
	"enospc",
}

// RingSize bounds the in-memory log ring kept per session; its tail
// becomes each TeammateTask's Output when the session ends (spec §4.4
// step 5 "Append every line to an in-memory ring").
const RingSize = 2000

// EnvVarName is the one declared environment variable the backend
// recognises (spec §4.4 step 4).
const EnvVarName = "GM_SESSION_ID"

// Launcher supervises agent subprocesses, one per session (spec §4.4).
type Launcher struct {
	backend  Backend
	worktree *worktree.Manager
	store    *store.Store
	hub      *eventhub.Hub
	templates map[string]types.TeamTemplate

	mu       sync.Mutex
	running  map[string]*supervisedSession
}

type supervisedSession struct {
	cancel context.CancelFunc
	proc   Process
	done   chan struct{}
}

// New builds a Team Launcher bound to its collaborators.
func New(backend Backend, wt *worktree.Manager, st *store.Store, hub *eventhub.Hub, templates []types.TeamTemplate) *Launcher {
	byName := make(map[string]types.TeamTemplate, len(templates))
	for _, t := range templates {
		byName[t.Name] = t
	}
	return &Launcher{
		backend: backend, worktree: wt, store: st, hub: hub,
		templates: byName,
		running:   make(map[string]*supervisedSession),
	}
}

// Launch resolves the team template, requests a worktree, spawns the
// subprocess and starts its supervisor goroutine, returning the new
// session's id immediately (spec §4.4 launch steps 1-4 run
// synchronously; streaming and exit handling continue in the
// background).
func (l *Launcher) Launch(ctx context.Context, projectID, teamName, task string) (string, error) {
	tmpl, ok := l.templates[teamName]
	if !ok {
		return "", fmt.Errorf("launch team %q: %w", teamName, gmerr.ErrTemplateNotFound)
	}

	sessionID := uuid.NewString()
	now := time.Now()

	path, branch, err := l.worktree.Create(sessionID)
	if err != nil {
		sess := &types.AgentSession{
			SessionID: sessionID, ProjectID: projectID, TeamName: teamName, Task: task,
			Status: types.SessionFailed, StartedAt: now, CompletedAt: &now,
		}
		_ = l.store.UpsertSession(sess)
		return sessionID, fmt.Errorf("launch %s: %w", sessionID, err)
	}

	sess := &types.AgentSession{
		SessionID: sessionID, ProjectID: projectID, TeamName: teamName, Task: task,
		Branch: branch, WorktreePath: path, Status: types.SessionRunning, StartedAt: now,
	}
	if err := l.store.UpsertSession(sess); err != nil {
		return sessionID, fmt.Errorf("persist session %s: %w", sessionID, err)
	}

	// Every AgentSession owns at least one TeammateTask row (spec §3
	// "TeammateTask... owned by exactly one AgentSession"): one per
	// template teammate, or a single fallback task named for the team
	// when the template carries no teammates of its own.
	mates := tmpl.Teammates
	if len(mates) == 0 {
		mates = []types.Teammate{{Name: teamName, Role: "member"}}
	}
	for _, mate := range mates {
		t := &types.TeammateTask{
			TaskID: uuid.NewString(), SessionID: sessionID,
			Teammate: mate.Name, Role: mate.Role,
			Status: types.TeammateTaskRunning, StartedAt: &now,
		}
		if err := l.store.InsertTask(t); err != nil {
			return sessionID, fmt.Errorf("persist teammate tasks for %s: %w", sessionID, err)
		}
	}

	timeout := 300 * time.Second
	for _, mate := range tmpl.Teammates {
		if mate.TimeoutSeconds > 0 {
			timeout = time.Duration(mate.TimeoutSeconds) * time.Second
			break
		}
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	proc, err := l.backend.Spawn(sessCtx, path, task, []string{fmt.Sprintf("%s=%s", EnvVarName, sessionID)})
	if err != nil {
		cancel()
		sess.Status = types.SessionFailed
		completed := time.Now()
		sess.CompletedAt = &completed
		_ = l.store.UpsertSession(sess)
		failTeammateTasks(l.store, sessionID, err.Error())
		return sessionID, fmt.Errorf("spawn backend for %s: %w", sessionID, gmerr.ErrSpawnFailed)
	}

	sup := &supervisedSession{cancel: cancel, proc: proc, done: make(chan struct{})}
	l.mu.Lock()
	l.running[sessionID] = sup
	l.mu.Unlock()

	go l.supervise(sessCtx, cancel, sessionID, proc, timeout, sup.done)

	return sessionID, nil
}

func (l *Launcher) supervise(ctx context.Context, cancel context.CancelFunc, sessionID string, proc Process, timeout time.Duration, done chan struct{}) {
	defer close(done)
	defer func() {
		l.mu.Lock()
		delete(l.running, sessionID)
		l.mu.Unlock()
	}()

	ring := make([]string, 0, RingSize)
	appendRing := func(line string) {
		if len(ring) >= RingSize {
			ring = ring[1:]
		}
		ring = append(ring, line)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var fatalityCount int
	var terminalErr error

streamLoop:
	for {
		select {
		case line, ok := <-proc.Lines():
			if !ok {
				break streamLoop
			}
			appendRing(line.Data)
			l.hub.Publish("teams", "team_progress", types.TeamProgressPayload{
				SessionID: sessionID, Event: line.Stream, Data: line.Data,
			})
			_ = l.store.AppendLog(store.LogEntry{ProjectID: "", SessionID: sessionID, Message: line.Data})

			if matchesResourceFatality(line.Data) {
				fatalityCount++
				if fatalityCount >= 2 {
					terminalErr = fmt.Errorf("session %s: %w", sessionID, gmerr.ErrResourceExhaustion)
					l.hub.Publish("teams", "resource_error", types.TeamProgressPayload{
						SessionID: sessionID, Event: "resource_error",
					})
					proc.Kill()
					break streamLoop
				}
			}
		case <-timer.C:
			terminalErr = fmt.Errorf("session %s: %w", sessionID, gmerr.ErrSessionTimeout)
			proc.Signal()
			go func() {
				select {
				case <-time.After(10 * time.Second):
					proc.Kill()
				case <-done:
				}
			}()
		}
	}

	waitErr := proc.Wait()
	cancelled := ctx.Err() == context.Canceled
	cancel()

	sess, err := l.store.GetSession(sessionID)
	if err != nil || sess == nil {
		return
	}

	status := types.SessionCompleted
	switch {
	case errors.Is(terminalErr, gmerr.ErrResourceExhaustion), errors.Is(terminalErr, gmerr.ErrSessionTimeout):
		status = types.SessionFailed
	case waitErr != nil && cancelled:
		status = types.SessionCancelled
	case waitErr != nil:
		terminalErr = waitErr
		status = types.SessionFailed
	}

	committed, _ := l.worktree.AutoCommit(sessionID, fmt.Sprintf("gm: auto-commit for session %s", sessionID))
	_ = committed

	var filesChanged []string
	if status == types.SessionCompleted {
		if stat, err := l.worktree.Stat(sessionID, sess.Branch, "HEAD"); err == nil {
			filesChanged = stat.FilesChanged
		}
	}

	completed := time.Now()
	sess.Status = status
	sess.CompletedAt = &completed
	sess.FilesChanged = filesChanged
	_ = l.store.UpsertSession(sess)

	if tasks, err := l.store.ListTasksBySession(sessionID); err == nil {
		taskStatus := types.TeammateTaskCompleted
		taskErr := ""
		if status != types.SessionCompleted {
			taskStatus = types.TeammateTaskFailed
			if terminalErr != nil {
				taskErr = terminalErr.Error()
			}
		}
		output := tailOf(strings.Join(ring, "\n"), taskOutputTail)
		for _, t := range tasks {
			t.Status = taskStatus
			t.Output = output
			t.Error = taskErr
			t.CompletedAt = &completed
			_ = l.store.InsertTask(t)
		}
	}

	terminalEvent := "completed"
	if status == types.SessionCancelled {
		terminalEvent = "cancelled"
	}
	l.hub.Publish("teams", "team_progress", types.TeamProgressPayload{
		SessionID: sessionID, Event: terminalEvent, Status: string(status),
	})
}

// tailOf returns the last n bytes of s, unchanged if shorter.
func tailOf(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// failTeammateTasks marks every TeammateTask owned by sessionID as
// failed, used when a session never gets far enough to run (spawn
// failure) for its tasks to be finalized by supervise.
func failTeammateTasks(st *store.Store, sessionID, reason string) {
	tasks, err := st.ListTasksBySession(sessionID)
	if err != nil {
		return
	}
	completed := time.Now()
	for _, t := range tasks {
		t.Status = types.TeammateTaskFailed
		t.Error = reason
		t.CompletedAt = &completed
		_ = st.InsertTask(t)
	}
}

func matchesResourceFatality(line string) bool {
	lower := strings.ToLower(line)
	for _, pattern := range resourceFatalityPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// Done returns a channel closed when sessionID's supervisor goroutine
// exits, or nil if the session is not currently running (already
// finished, or unknown). Callers that need to wait for a just-launched
// session must call Done immediately after Launch returns, before the
// supervisor has a chance to finish and remove the entry.
func (l *Launcher) Done(sessionID string) <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	sup, ok := l.running[sessionID]
	if !ok {
		return nil
	}
	return sup.done
}

// Cancel sends a graceful stop to a session's process group, waits a
// short deadline, then hard-kills (spec §4.4 cancel). Idempotent.
func (l *Launcher) Cancel(sessionID string) {
	l.mu.Lock()
	sup, ok := l.running[sessionID]
	l.mu.Unlock()
	if !ok {
		return
	}

	sup.proc.Signal()
	sup.cancel()

	select {
	case <-sup.done:
	case <-time.After(10 * time.Second):
		sup.proc.Kill()
		<-sup.done
	}
}

// CancelAll cancels every running session (spec §4.4 cancel_all, invoked on shutdown).
func (l *Launcher) CancelAll() {
	l.mu.Lock()
	ids := make([]string, 0, len(l.running))
	for id := range l.running {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			l.Cancel(sessionID)
		}(id)
	}
	wg.Wait()
}
