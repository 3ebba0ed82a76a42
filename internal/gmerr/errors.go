// Package gmerr holds the sentinel errors raised across the General
// Manager's components (spec error taxonomy), checked with errors.Is/As
// and wrapped with %w at each call site, matching the teacher's
// sentinel-ish error idiom in internal/git and internal/state.
package gmerr

import "errors"

var (
	// ErrTemplateNotFound is raised when launch resolves an unknown team template.
	ErrTemplateNotFound = errors.New("team template not found")
	// ErrWorktreeExists is raised when Worktree Manager.Create targets a path or branch that already exists.
	ErrWorktreeExists = errors.New("worktree or branch already exists")
	// ErrSpawnFailed is raised when the Team Launcher cannot start the agent subprocess.
	ErrSpawnFailed = errors.New("subprocess spawn failed")
	// ErrSessionTimeout is raised by the watchdog when a session exceeds its wall-clock timeout.
	ErrSessionTimeout = errors.New("session timed out")
	// ErrResourceExhaustion is raised by the watchdog on repeated host-resource-exhaustion output.
	ErrResourceExhaustion = errors.New("host resource exhaustion")
	// ErrMergeConflict is raised when a --no-ff merge leaves conflict markers.
	ErrMergeConflict = errors.New("merge conflict")
	// ErrMergeOther is raised for merge failures other than conflicts.
	ErrMergeOther = errors.New("merge failed")
	// ErrBuildFailure is raised when the configured build command exits non-zero.
	ErrBuildFailure = errors.New("build failed")
	// ErrTestFailure is raised when the configured test command exits non-zero.
	ErrTestFailure = errors.New("test failed")
	// ErrDecisionInterrupted is returned by a decision future's Wait when its context is cancelled before the decision is resolved.
	ErrDecisionInterrupted = errors.New("decision interrupted")
	// ErrStoreIO is raised by the Session Store when ResolveDecision is given an unknown decision id; other store read and write failures are returned without this sentinel.
	ErrStoreIO = errors.New("store io error")
)
