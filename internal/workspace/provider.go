package workspace

import "context"

// Provider creates and destroys workspaces. Implementations must be safe
// for concurrent use; the pool calls them from many goroutines.
type Provider interface {
	// Create makes a fresh workspace with the given name.
	Create(ctx context.Context, name string) (*Workspace, error)
	// Destroy tears the workspace down and releases its resources.
	Destroy(ctx context.Context, ws *Workspace) error
}
