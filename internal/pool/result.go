package pool

import (
	"time"

	"github.com/ShayCichocki/issueforge/pkg/models"
)

// Record is the per-task entry of a batch.
type Record struct {
	// Index is the position of the item in the submitted batch.
	Index int
	// Item is the work item that ran.
	Item models.WorkItem
	// Workspace is the name of the workspace the item ran in, empty if creation failed.
	Workspace string
	// Outcome is how the task ended.
	Outcome models.TaskOutcome
}

// BatchResult summarises one ExecuteParallel call.
//
// TotalTasks counts admitted items only: an item is admitted once the pool
// attempts to create its workspace. Items a fail-fast batch (or a cancelled
// context) never admitted are listed in Skipped and excluded from the counts.
// Cancelled outcomes are counted as failures, so
// SuccessCount+FailedCount+TimeoutCount always equals TotalTasks.
type BatchResult struct {
	TotalTasks   int
	SuccessCount int
	FailedCount  int
	TimeoutCount int
	// Records holds one entry per admitted item, ordered by Index.
	Records []Record
	// Skipped lists items that were never admitted.
	Skipped []models.WorkItem
	// Duration is the wall time of the whole batch.
	Duration time.Duration
}

// SuccessRate returns the success percentage in [0, 100]; 0 for an empty batch.
func (r *BatchResult) SuccessRate() float64 {
	if r.TotalTasks == 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(r.TotalTasks) * 100
}

// AllSuccessful reports whether every submitted item was admitted and succeeded.
func (r *BatchResult) AllSuccessful() bool {
	return r.SuccessCount == r.TotalTasks && len(r.Skipped) == 0
}

// AnyFailed reports whether at least one admitted item failed or timed out.
func (r *BatchResult) AnyFailed() bool {
	return r.FailedCount+r.TimeoutCount > 0
}

// Outcome returns the outcome recorded for an item ID.
func (r *BatchResult) Outcome(itemID string) (models.TaskOutcome, bool) {
	for _, rec := range r.Records {
		if rec.Item.ID == itemID {
			return rec.Outcome, true
		}
	}
	return models.TaskOutcome{}, false
}

func (r *BatchResult) add(rec Record) {
	r.Records = append(r.Records, rec)
	r.TotalTasks++
	switch rec.Outcome.Status {
	case models.OutcomeSuccess:
		r.SuccessCount++
	case models.OutcomeTimeout:
		r.TimeoutCount++
	default:
		r.FailedCount++
	}
}
