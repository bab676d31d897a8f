package state

import (
	"io"

	"github.com/ShayCichocki/issueforge/pkg/models"
)

// RunStore persists orchestration runs and what happened during them.
type RunStore interface {
	CreateRun(r *Run) error
	FinishRun(id string, status RunStatus, successRate float64, runErr string) error
	GetRun(id string) (*Run, error)
	ListRuns(limit int) ([]Run, error)
	RecordTransition(t TransitionRecord) error
	ListTransitions(runID string) ([]TransitionRecord, error)
	RecordOutcome(runID, taskID string, attempt int, o models.TaskOutcome) error
	ListOutcomes(runID string) ([]OutcomeRecord, error)
}

// DispatchStore persists dispatch results.
type DispatchStore interface {
	RecordDispatch(d DispatchRecord) error
	ListDispatches(limit int) ([]DispatchRecord, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	Migrate() error
}

// Store is the full persistence surface used by the CLI.
// The orchestrator and dispatcher depend only on the narrower interfaces.
type Store interface {
	io.Closer
	Migrator
	RunStore
	DispatchStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store         = (*DB)(nil)
	_ RunStore      = (*DB)(nil)
	_ DispatchStore = (*DB)(nil)
)
