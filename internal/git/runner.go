package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ExecRunner implements Runner by shelling out to git.
type ExecRunner struct {
	repoPath string
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)

// NewRunner creates a new git runner for the repository (or worktree) at the given path.
func NewRunner(repoPath string) *ExecRunner {
	return &ExecRunner{repoPath: repoPath}
}

// run executes a git command and returns its output without trailing whitespace.
// Leading whitespace is significant in porcelain formats and is kept.
func (r *ExecRunner) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimRight(string(out), " \t\r\n"), nil
}

// Run executes an arbitrary git command with the given arguments.
func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	return r.run(ctx, args...)
}

// WorktreeAddNewBranch creates a new worktree with a new branch.
func (r *ExecRunner) WorktreeAddNewBranch(ctx context.Context, path, branch, base string) error {
	args := []string{"worktree", "add", "-b", branch, path}
	if base != "" {
		args = append(args, base)
	}
	_, err := r.run(ctx, args...)
	return err
}

// WorktreeRemove removes the worktree, optionally with force.
func (r *ExecRunner) WorktreeRemove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := r.run(ctx, args...)
	return err
}

// WorktreeUnlock unlocks a locked worktree.
func (r *ExecRunner) WorktreeUnlock(ctx context.Context, path string) error {
	_, err := r.run(ctx, "worktree", "unlock", path)
	return err
}

// WorktreeListPorcelain returns the raw porcelain output for detailed parsing.
func (r *ExecRunner) WorktreeListPorcelain(ctx context.Context) (string, error) {
	return r.run(ctx, "worktree", "list", "--porcelain")
}

// WorktreePrune prunes worktrees with --expire now.
func (r *ExecRunner) WorktreePrune(ctx context.Context) error {
	_, err := r.run(ctx, "worktree", "prune", "--expire", "now")
	return err
}

// DeleteBranch deletes the specified branch.
func (r *ExecRunner) DeleteBranch(ctx context.Context, name string) error {
	_, err := r.run(ctx, "branch", "-D", name)
	return err
}

// ChangedFiles returns modified, added and untracked paths from git status.
func (r *ExecRunner) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	return ParseStatusPorcelain(out), nil
}

// CommitAll stages every change and commits it with message.
func (r *ExecRunner) CommitAll(ctx context.Context, message string) error {
	if _, err := r.run(ctx, "add", "--all"); err != nil {
		return err
	}
	_, err := r.run(ctx, "commit", "--quiet", "--no-verify", "-m", message)
	return err
}

// ParseStatusPorcelain extracts paths from `git status --porcelain` output.
// Renames report the destination path.
func ParseStatusPorcelain(out string) []string {
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+len(" -> "):]
		}
		files = append(files, strings.Trim(path, `"`))
	}
	return files
}
