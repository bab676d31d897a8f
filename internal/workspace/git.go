package workspace

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ShayCichocki/issueforge/internal/git"
)

// BranchPrefix prefixes every branch created for a worktree workspace.
const BranchPrefix = "forge/"

// Verify GitProvider implements Provider at compile time.
var _ Provider = (*GitProvider)(nil)

// GitProvider creates workspaces as git worktrees of one repository.
type GitProvider struct {
	baseDir  string // Base directory for worktrees (e.g., ~/.cache/issueforge/worktrees)
	repoPath string // Path to the main git repository
	base     string // Ref new branches start from; empty means HEAD
	// deleteBranches removes the workspace branch on Destroy. Off by default;
	// the branch keeps whatever the executor committed in the worktree.
	deleteBranches bool
	git            git.Runner
	mu             sync.Mutex
}

// GitOption configures a GitProvider.
type GitOption func(*GitProvider)

// WithBaseRef starts new workspace branches from ref instead of HEAD.
func WithBaseRef(ref string) GitOption {
	return func(p *GitProvider) { p.base = ref }
}

// WithDeleteBranches removes workspace branches when workspaces are destroyed.
func WithDeleteBranches(b bool) GitOption {
	return func(p *GitProvider) { p.deleteBranches = b }
}

// WithGitRunner replaces the git runner (for testing).
func WithGitRunner(r git.Runner) GitOption {
	return func(p *GitProvider) { p.git = r }
}

// NewGitProvider creates a GitProvider.
// baseDir is where worktrees will be created (defaults to ~/.cache/issueforge/worktrees).
// repoPath is the path to the main git repository.
func NewGitProvider(baseDir, repoPath string, opts ...GitOption) (*GitProvider, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".cache", "issueforge", "worktrees")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}

	p := &GitProvider{
		baseDir:  baseDir,
		repoPath: repoPath,
		git:      git.NewRunner(repoPath),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Create adds a worktree on a new branch named BranchPrefix+name.
func (p *GitProvider) Create(ctx context.Context, name string) (*Workspace, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	branch := BranchPrefix + name
	path := filepath.Join(p.baseDir, name)

	if err := p.git.WorktreeAddNewBranch(ctx, path, branch, p.base); err != nil {
		return nil, fmt.Errorf("create worktree: %w", err)
	}

	return New(name, path, branch), nil
}

// Destroy force-removes the worktree. If git refuses, the directory is
// removed directly and stale metadata pruned.
func (p *GitProvider) Destroy(ctx context.Context, ws *Workspace) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.git.WorktreeRemove(ctx, ws.Path, true); err != nil {
		if rmErr := os.RemoveAll(ws.Path); rmErr != nil {
			return fmt.Errorf("remove worktree: %w", err)
		}
		_ = p.git.WorktreePrune(ctx)
	}

	if p.deleteBranches && ws.Branch != "" {
		if err := p.git.DeleteBranch(ctx, ws.Branch); err != nil {
			return fmt.Errorf("delete branch: %w", err)
		}
	}

	ws.markDestroyed()
	return nil
}

// List returns all worktrees of the repository.
func (p *GitProvider) List(ctx context.Context) ([]*Workspace, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listLocked(ctx)
}

func (p *GitProvider) listLocked(ctx context.Context) ([]*Workspace, error) {
	output, err := p.git.WorktreeListPorcelain(ctx)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return parseWorktreeList(output)
}

// parseWorktreeList parses the output of 'git worktree list --porcelain'.
func parseWorktreeList(output string) ([]*Workspace, error) {
	var worktrees []*Workspace
	var current *Workspace

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current != nil {
				worktrees = append(worktrees, current)
				current = nil
			}
			continue
		}

		if strings.HasPrefix(line, "worktree ") {
			path := strings.TrimPrefix(line, "worktree ")
			current = New(filepath.Base(path), path, "")
		} else if strings.HasPrefix(line, "branch ") && current != nil {
			// Format: branch refs/heads/<name>
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
			if strings.HasPrefix(current.Branch, BranchPrefix) {
				current.Name = strings.TrimPrefix(current.Branch, BranchPrefix)
			}
		}
	}

	// Don't forget the last worktree if output doesn't end with blank line
	if current != nil {
		worktrees = append(worktrees, current)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}

	return worktrees, nil
}

// ListOrphans returns workspace worktrees whose names are not in active.
// Worktrees not created by this provider and the main checkout are never orphans.
func (p *GitProvider) ListOrphans(ctx context.Context, active []string) ([]*Workspace, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listOrphansLocked(ctx, active)
}

func (p *GitProvider) listOrphansLocked(ctx context.Context, active []string) ([]*Workspace, error) {
	worktrees, err := p.listLocked(ctx)
	if err != nil {
		return nil, err
	}

	activeSet := make(map[string]bool, len(active))
	for _, name := range active {
		activeSet[name] = true
	}

	var orphans []*Workspace
	for _, wt := range worktrees {
		if !strings.HasPrefix(wt.Branch, BranchPrefix) {
			continue
		}
		if wt.Path == p.repoPath {
			continue
		}
		if activeSet[wt.Name] {
			continue
		}
		orphans = append(orphans, wt)
	}
	return orphans, nil
}

// CleanupOrphans removes orphaned workspace worktrees left behind by a crashed
// run and returns how many were removed. verbose, if set, is called per removal.
func (p *GitProvider) CleanupOrphans(ctx context.Context, active []string, verbose func(path string)) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	orphans, err := p.listOrphansLocked(ctx, active)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, wt := range orphans {
		_ = p.git.WorktreeUnlock(ctx, wt.Path) // may not be locked

		if err := p.git.WorktreeRemove(ctx, wt.Path, true); err != nil {
			if err := os.RemoveAll(wt.Path); err != nil {
				continue
			}
		}

		if verbose != nil {
			verbose(wt.Path)
		}
		removed++
	}

	_ = p.git.WorktreePrune(ctx)

	return removed, nil
}

// BaseDir returns the base directory where worktrees are created.
func (p *GitProvider) BaseDir() string {
	return p.baseDir
}

// RepoPath returns the path to the main git repository.
func (p *GitProvider) RepoPath() string {
	return p.repoPath
}
