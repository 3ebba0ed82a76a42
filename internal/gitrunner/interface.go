// Package gitrunner wraps the git CLI for the operations the General
// Manager needs: branch lifecycle, worktree lifecycle, diffing and the
// non-aborting merge used by the merging phase.
package gitrunner

// BranchOperations covers branch creation, inspection and teardown.
type BranchOperations interface {
	CurrentBranch() (string, error)
	CreateAndCheckoutBranch(name string) error
	CheckoutBranch(name string) error
	BranchExists(name string) (bool, error)
	DeleteBranch(name string) error
}

// DiffOperations covers status and diff inspection.
type DiffOperations interface {
	Status() (string, error)
	HasChanges() (bool, error)
	ChangedFilesRelative(branch, relativeTo string) ([]string, error)
	ConflictedFiles() ([]string, error)
}

// CommitOperations covers staging and committing.
type CommitOperations interface {
	Add(paths ...string) error
	Commit(message string) error
}

// MergeOperations covers merging a session branch into the host checkout.
// Merge never aborts on conflict: it reports the conflict and leaves the
// working tree as git left it, for either the repair agent or a human
// decision to resolve.
type MergeOperations interface {
	MergeNoFFMessage(branch, message string) error
	MergeAbort() error
	HasConflicts() (bool, error)
}

// WorktreeOperations covers the isolated checkouts one per agent session.
type WorktreeOperations interface {
	WorktreeAddNewBranch(path, branch string) error
	WorktreeRemove(path string) error
	WorktreeList() ([]string, error)
	WorktreePrune() error
}

// Runner is the full set of git operations the General Manager exercises,
// plus an escape hatch for anything not otherwise wrapped.
type Runner interface {
	BranchOperations
	DiffOperations
	CommitOperations
	MergeOperations
	WorktreeOperations
	Run(args ...string) (string, error)
}
