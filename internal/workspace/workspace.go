// Package workspace provides isolated, exclusively-owned execution contexts
// for tasks, backed by git worktrees or plain directories.
package workspace

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/issueforge/pkg/models"
)

// Status is the lifecycle state of a workspace.
type Status string

const (
	// StatusStarting means the workspace exists but its task has not begun.
	StatusStarting Status = "starting"
	// StatusActive means a task is running inside the workspace.
	StatusActive Status = "active"
	// StatusCompleted means the task finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the task failed or timed out.
	StatusFailed Status = "failed"
	// StatusDestroyed means the workspace was torn down.
	StatusDestroyed Status = "destroyed"
)

// Workspace is a directory bound to one task at a time.
type Workspace struct {
	// Name is the unique workspace name, also used as branch suffix.
	Name string
	// Path is the absolute path of the workspace directory.
	Path string
	// Branch is the git branch checked out in the workspace, if any.
	Branch string
	// CreatedAt is when the workspace was created.
	CreatedAt time.Time

	mu     sync.Mutex
	status Status
	owner  string
}

// New returns a workspace in the Starting state.
func New(name, path, branch string) *Workspace {
	return &Workspace{
		Name:      name,
		Path:      path,
		Branch:    branch,
		CreatedAt: time.Now(),
		status:    StatusStarting,
	}
}

// Status returns the current lifecycle state.
func (w *Workspace) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Owner returns the ID of the work item currently bound to the workspace.
func (w *Workspace) Owner() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.owner
}

// Bind attaches the workspace to a work item and marks it Active.
// A workspace can be bound to only one item until it is released.
func (w *Workspace) Bind(itemID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.owner != "" && w.owner != itemID {
		return fmt.Errorf("workspace %s already owned by %s", w.Name, w.owner)
	}
	if w.status == StatusDestroyed {
		return fmt.Errorf("workspace %s is destroyed", w.Name)
	}
	w.owner = itemID
	w.status = StatusActive
	return nil
}

// Finish records the final state for the bound task.
func (w *Workspace) Finish(outcome models.OutcomeStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if outcome == models.OutcomeSuccess {
		w.status = StatusCompleted
	} else {
		w.status = StatusFailed
	}
}

// markDestroyed is called by providers after teardown.
func (w *Workspace) markDestroyed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = StatusDestroyed
	w.owner = ""
}

// Name derives a unique workspace name for a work item: the item slug plus a short random suffix.
func Name(item models.WorkItem) string {
	return fmt.Sprintf("%s-%s", item.Slug(), uuid.New().String()[:8])
}
