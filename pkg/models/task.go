// Package models holds the domain types shared across issueforge packages.
package models

import "time"

// TaskID is the opaque identifier of a decomposed unit of work.
type TaskID string

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates the task is being worked on.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusBlocked indicates a dependency failed and the task cannot run.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusDone indicates the task completed successfully.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusFailed indicates the task failed or timed out.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusBlocked, TaskStatusDone, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Task represents one node of a decomposed work item.
type Task struct {
	// ID is the unique identifier for this task.
	ID TaskID `json:"id" yaml:"id"`
	// ParentID is the ID of the work item this task was decomposed from.
	ParentID string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	// Title is the short description of the task.
	Title string `json:"title" yaml:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Command is the shell command run inside the task's workspace, if any.
	Command string `json:"command,omitempty" yaml:"command,omitempty"`
	// Artifacts lists the paths this task is expected to produce or modify.
	Artifacts []string `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status" yaml:"-"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []TaskID `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	// CompletedAt is when the task finished, if applicable.
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"-"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty" yaml:"-"`
	// RetryCount is the number of times this task has been retried.
	RetryCount int `json:"retry_count,omitempty" yaml:"-"`
}

// WorkItem converts the task into the unit the workspace pool executes.
// The task inherits the priority of the work item it came from.
func (t *Task) WorkItem(priority Priority) WorkItem {
	return WorkItem{
		ID:          string(t.ID),
		Title:       t.Title,
		Description: t.Description,
		Priority:    priority,
		Task:        t,
	}
}
