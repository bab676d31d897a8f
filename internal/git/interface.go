// Package git provides the git operations issueforge needs for worktree workspaces.
package git

import "context"

// WorktreeOperations defines the git worktree operations used by workspace providers.
type WorktreeOperations interface {
	// WorktreeAddNewBranch creates a worktree at path on a new branch (git worktree add -b).
	// An empty base starts the branch from HEAD.
	WorktreeAddNewBranch(ctx context.Context, path, branch, base string) error
	// WorktreeRemove removes the worktree at path, optionally with --force.
	WorktreeRemove(ctx context.Context, path string, force bool) error
	// WorktreeUnlock unlocks a locked worktree.
	WorktreeUnlock(ctx context.Context, path string) error
	// WorktreeListPorcelain returns the raw porcelain output for detailed parsing.
	WorktreeListPorcelain(ctx context.Context) (string, error)
	// WorktreePrune prunes stale worktree entries with --expire now.
	WorktreePrune(ctx context.Context) error
}

// BranchOperations defines the branch operations needed to tidy up after a worktree.
type BranchOperations interface {
	// DeleteBranch force-deletes the named branch.
	DeleteBranch(ctx context.Context, name string) error
}

// StatusOperations reports on the working tree.
type StatusOperations interface {
	// ChangedFiles lists paths that are modified, added or untracked.
	ChangedFiles(ctx context.Context) ([]string, error)
	// CommitAll stages every change, untracked files included, and commits it.
	CommitAll(ctx context.Context, message string) error
}

// Runner defines the complete set of git operations.
// Consumers should prefer the focused interfaces when possible.
type Runner interface {
	WorktreeOperations
	BranchOperations
	StatusOperations
	// Run executes an arbitrary git command with the given arguments.
	Run(ctx context.Context, args ...string) (string, error)
}
