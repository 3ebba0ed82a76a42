// Package worktree implements the Worktree Manager (spec §4.1): linked
// git worktree lifecycle rooted at a fixed subdirectory of the repo,
// generalizing internal/agent/worktree.go + internal/git/runner.go from
// the teacher's hardcoded agent-<id> naming into a configurable
// prefix/subdir pair.
package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ShayCichocki/gm/internal/gitrunner"
	"github.com/ShayCichocki/gm/internal/gmerr"
)

// RunnerFactory builds a gitrunner.Runner rooted at a given directory.
// Production code passes gitrunner.NewRunner; tests substitute a fake.
type RunnerFactory func(dir string) gitrunner.Runner

// Entry is one linked worktree as reported by List (spec §4.1 "list").
type Entry struct {
	Path   string
	Branch string
	Head   string
}

// DiffStat summarizes a session's changes (spec §4.1 "stat").
type DiffStat struct {
	FilesChanged []string
	Insertions   int
	Deletions    int
}

// MergeOutcome is the structured result of Merge (spec §4.1 "merge").
// Err is nil on success, otherwise wraps gmerr.ErrMergeConflict or
// gmerr.ErrMergeOther so callers can distinguish the two with errors.Is
// instead of inferring it from ConflictedFiles being empty.
type MergeOutcome struct {
	Success          bool
	Stdout           string
	Stderr           string
	ConflictedFiles  []string
	Err              error
}

// Manager implements the Worktree Manager operations against one
// repository. BranchPrefix and Subdir follow spec §6's naming contract:
// branch = <BranchPrefix>/<session_id>, worktree path =
// <repo>/<Subdir>/<session_id>.
type Manager struct {
	repoPath     string
	branchPrefix string
	subdir       string
	newRunner    RunnerFactory

	mu sync.Mutex
}

// NewManager builds a Worktree Manager rooted at repoPath. branchPrefix
// and subdir default to "agent" and ".worktrees" when empty, matching
// the teacher's convention before generalization.
func NewManager(repoPath, branchPrefix, subdir string, newRunner RunnerFactory) *Manager {
	if branchPrefix == "" {
		branchPrefix = "agent"
	}
	if subdir == "" {
		subdir = ".worktrees"
	}
	if newRunner == nil {
		newRunner = func(dir string) gitrunner.Runner { return gitrunner.NewRunner(dir) }
	}
	return &Manager{repoPath: repoPath, branchPrefix: branchPrefix, subdir: subdir, newRunner: newRunner}
}

// Branch returns the deterministic branch name for a session.
func (m *Manager) Branch(sessionID string) string {
	return m.branchPrefix + "/" + sessionID
}

// Path returns the deterministic worktree path for a session.
func (m *Manager) Path(sessionID string) string {
	return filepath.Join(m.repoPath, m.subdir, sessionID)
}

// Create attaches a new worktree at the session's deterministic path on
// a freshly branched HEAD. It is the only non-idempotent operation:
// calling it twice for the same session fails with ErrWorktreeExists.
func (m *Manager) Create(sessionID string) (path, branch string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = m.Path(sessionID)
	branch = m.Branch(sessionID)

	if _, statErr := os.Stat(path); statErr == nil {
		return "", "", fmt.Errorf("create worktree %s: %w", path, gmerr.ErrWorktreeExists)
	}

	hostRunner := m.newRunner(m.repoPath)
	exists, err := hostRunner.BranchExists(branch)
	if err != nil {
		return "", "", fmt.Errorf("check branch %s: %w", branch, err)
	}
	if exists {
		return "", "", fmt.Errorf("create worktree %s: %w", branch, gmerr.ErrWorktreeExists)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", "", fmt.Errorf("create worktree parent dir: %w", err)
	}
	if err := hostRunner.WorktreeAddNewBranch(path, branch); err != nil {
		return "", "", fmt.Errorf("git worktree add: %w", err)
	}
	return path, branch, nil
}

// List parses `git worktree list --porcelain` into structured entries.
func (m *Manager) List() ([]Entry, error) {
	out, err := m.newRunner(m.repoPath).Run("worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return parsePorcelain(out), nil
}

func parsePorcelain(out string) []Entry {
	var entries []Entry
	var cur Entry
	flush := func() {
		if cur.Path != "" {
			entries = append(entries, cur)
		}
		cur = Entry{}
	}
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "":
			flush()
		}
	}
	flush()
	return entries
}

// Diff returns the unified diff of the session's worktree against the
// relativeTo revision, including uncommitted changes
// (auto-staged into the worktree's own index first, never the host's).
func (m *Manager) Diff(sessionID, relativeTo string) (string, error) {
	wtPath := m.Path(sessionID)
	wtRunner := m.newRunner(wtPath)

	hasChanges, err := wtRunner.HasChanges()
	if err != nil {
		return "", fmt.Errorf("check worktree status: %w", err)
	}
	if hasChanges {
		if _, err := wtRunner.Run("add", "-A"); err != nil {
			return "", fmt.Errorf("stage uncommitted changes for diff: %w", err)
		}
	}
	diff, err := wtRunner.Run("diff", relativeTo)
	if err != nil {
		return "", fmt.Errorf("diff against %s: %w", relativeTo, err)
	}
	return diff, nil
}

// Stat returns the diffstat summary and the changed-path list that the
// Team Launcher finalizes into AgentSession.FilesChanged on session
// completion.
func (m *Manager) Stat(sessionID, branch, relativeTo string) (DiffStat, error) {
	wtPath := m.Path(sessionID)
	wtRunner := m.newRunner(wtPath)

	if hasChanges, err := wtRunner.HasChanges(); err == nil && hasChanges {
		_, _ = wtRunner.Run("add", "-A")
	}

	files, err := wtRunner.ChangedFilesRelative(branch, relativeTo)
	if err != nil {
		return DiffStat{}, fmt.Errorf("stat changed files: %w", err)
	}
	stat, err := wtRunner.Run("diff", "--shortstat", relativeTo+"..."+branch)
	if err != nil {
		return DiffStat{FilesChanged: files}, nil
	}
	ins, del := parseShortstat(stat)
	return DiffStat{FilesChanged: files, Insertions: ins, Deletions: del}, nil
}

func parseShortstat(s string) (insertions, deletions int) {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.Contains(part, "insertion"):
			fmt.Sscanf(part, "%d", &insertions)
		case strings.Contains(part, "deletion"):
			fmt.Sscanf(part, "%d", &deletions)
		}
	}
	return insertions, deletions
}

// Merge applies branch into the host checkout with --no-ff. It never
// aborts on failure: conflict markers are left in place for the GM's
// Decision Gate or the recursive repair agent to act on.
func (m *Manager) Merge(branch, message string) MergeOutcome {
	hostRunner := m.newRunner(m.repoPath)

	err := hostRunner.MergeNoFFMessage(branch, message)
	if err == nil {
		return MergeOutcome{Success: true}
	}

	conflicted, hasConflicts := hostRunner.HasConflicts()
	if hasConflicts == nil && conflicted {
		files, _ := hostRunner.ConflictedFiles()
		return MergeOutcome{
			Success: false, Stderr: err.Error(), ConflictedFiles: files,
			Err: fmt.Errorf("merge %s: %w", branch, gmerr.ErrMergeConflict),
		}
	}
	return MergeOutcome{
		Success: false, Stderr: err.Error(),
		Err: fmt.Errorf("merge %s: %w", branch, gmerr.ErrMergeOther),
	}
}

// AbortMerge restores the host checkout after a conflicted merge
// (spec §4.6 Merging step 4 "rejected").
func (m *Manager) AbortMerge() error {
	return m.newRunner(m.repoPath).MergeAbort()
}

// HostClean reports whether the host checkout has no conflict markers
// left, used after the repair agent exits to decide whether the merge
// can be finalised (spec §9 "after it exits successfully and the repo
// is clean").
func (m *Manager) HostClean() (bool, error) {
	conflicted, err := m.newRunner(m.repoPath).HasConflicts()
	if err != nil {
		return false, err
	}
	return !conflicted, nil
}

// CommitHost stages and commits everything in the host checkout, used
// by the repair agent flow to finalise a conflict resolution.
func (m *Manager) CommitHost(message string) error {
	hostRunner := m.newRunner(m.repoPath)
	if err := hostRunner.Add("."); err != nil {
		return err
	}
	return hostRunner.Commit(message)
}

// Remove force-removes the worktree and deletes its branch. Idempotent:
// a missing worktree or branch is not an error.
func (m *Manager) Remove(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hostRunner := m.newRunner(m.repoPath)
	path := m.Path(sessionID)
	branch := m.Branch(sessionID)

	if err := hostRunner.WorktreeRemove(path); err != nil {
		// Tolerate "already gone" — idempotent per spec §4.1.
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			_ = hostRunner.WorktreePrune()
		} else {
			return fmt.Errorf("remove worktree %s: %w", path, err)
		}
	}
	if exists, _ := hostRunner.BranchExists(branch); exists {
		if err := hostRunner.DeleteBranch(branch); err != nil {
			return fmt.Errorf("delete branch %s: %w", branch, err)
		}
	}
	return nil
}

// AutoCommit stages and commits any uncommitted changes in the
// session's worktree, returning whether anything was committed.
func (m *Manager) AutoCommit(sessionID, message string) (committed bool, err error) {
	wtRunner := m.newRunner(m.Path(sessionID))

	hasChanges, err := wtRunner.HasChanges()
	if err != nil {
		return false, fmt.Errorf("check for uncommitted changes: %w", err)
	}
	if !hasChanges {
		return false, nil
	}
	if err := wtRunner.Add("-A"); err != nil {
		return false, fmt.Errorf("stage changes: %w", err)
	}
	if err := wtRunner.Commit(message); err != nil {
		return false, fmt.Errorf("auto-commit: %w", err)
	}
	return true, nil
}
