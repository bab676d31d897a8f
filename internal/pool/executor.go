package pool

import (
	"context"

	"github.com/ShayCichocki/issueforge/internal/workspace"
	"github.com/ShayCichocki/issueforge/pkg/models"
)

// Executor runs one work item inside its workspace.
//
// The context carries the pool timeout as a deadline. Honouring it is up to
// the executor: the pool stops waiting when it expires but never kills the
// work itself.
type Executor interface {
	Execute(ctx context.Context, ws *workspace.Workspace, item models.WorkItem) models.TaskOutcome
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, ws *workspace.Workspace, item models.WorkItem) models.TaskOutcome

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, ws *workspace.Workspace, item models.WorkItem) models.TaskOutcome {
	return f(ctx, ws, item)
}
