package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Verify DirProvider implements Provider at compile time.
var _ Provider = (*DirProvider)(nil)

// DirProvider creates workspaces as plain directories under a base directory.
// It suits work that needs isolation but no version control.
type DirProvider struct {
	baseDir string
}

// NewDirProvider creates a DirProvider rooted at baseDir, creating it if needed.
// An empty baseDir uses the system temp directory.
func NewDirProvider(baseDir string) (*DirProvider, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "issueforge-workspaces")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace base directory: %w", err)
	}
	return &DirProvider{baseDir: baseDir}, nil
}

// Create makes an empty directory named after the workspace.
func (p *DirProvider) Create(ctx context.Context, name string) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(p.baseDir, name)
	if err := os.Mkdir(path, 0755); err != nil {
		return nil, fmt.Errorf("create workspace directory: %w", err)
	}
	return New(name, path, ""), nil
}

// Destroy removes the workspace directory and everything in it.
func (p *DirProvider) Destroy(_ context.Context, ws *Workspace) error {
	if err := os.RemoveAll(ws.Path); err != nil {
		return fmt.Errorf("remove workspace directory: %w", err)
	}
	ws.markDestroyed()
	return nil
}
