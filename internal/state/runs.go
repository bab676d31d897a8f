package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/issueforge/pkg/models"
)

// RunStatus represents the status of an orchestration run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Run is one orchestration of a top-level work item.
type Run struct {
	ID          string     `json:"id"`
	WorkItemID  string     `json:"work_item_id"`
	Title       string     `json:"title"`
	Status      RunStatus  `json:"status"`
	Phase       string     `json:"phase"`
	SuccessRate float64    `json:"success_rate"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// TransitionRecord is a persisted phase change.
type TransitionRecord struct {
	RunID string    `json:"run_id"`
	From  string    `json:"from"`
	To    string    `json:"to"`
	At    time.Time `json:"at"`
}

// OutcomeRecord is a persisted task outcome.
type OutcomeRecord struct {
	RunID      string               `json:"run_id"`
	TaskID     string               `json:"task_id"`
	Attempt    int                  `json:"attempt"`
	Status     models.OutcomeStatus `json:"status"`
	Duration   time.Duration        `json:"duration"`
	Error      string               `json:"error,omitempty"`
	Artifacts  []string             `json:"artifacts,omitempty"`
	RecordedAt time.Time            `json:"recorded_at"`
}

// DispatchRecord is a persisted hand-off to an external backend.
type DispatchRecord struct {
	ItemID       string          `json:"item_id"`
	Priority     models.Priority `json:"priority"`
	Reference    string          `json:"reference,omitempty"`
	Success      bool            `json:"success"`
	Error        string          `json:"error,omitempty"`
	Budget       time.Duration   `json:"budget"`
	DispatchedAt time.Time       `json:"dispatched_at"`
}

// CreateRun inserts a run in the running state.
func (db *DB) CreateRun(r *Run) error {
	if r.Status == "" {
		r.Status = RunRunning
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}

	_, err := db.Exec(`
		INSERT INTO runs (id, work_item_id, title, status, phase, success_rate, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.WorkItemID, r.Title, string(r.Status), r.Phase, r.SuccessRate, r.Error, formatTime(r.StartedAt))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun records the final status of a run.
func (db *DB) FinishRun(id string, status RunStatus, successRate float64, runErr string) error {
	res, err := db.Exec(`
		UPDATE runs SET status = ?, success_rate = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, string(status), successRate, runErr, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return expectOneRow(res, "run", id)
}

// GetRun retrieves a run by ID. Returns ErrNotFound if it does not exist.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`
		SELECT id, work_item_id, title, status, phase, success_rate, error, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)

	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. A limit <= 0 returns all runs.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	query := `
		SELECT id, work_item_id, title, status, phase, success_rate, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var startedAt string
	var finishedAt sql.NullString
	if err := s.Scan(&r.ID, &r.WorkItemID, &r.Title, &r.Status, &r.Phase, &r.SuccessRate, &r.Error, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	r.StartedAt, _ = parseTime(startedAt)
	r.FinishedAt = parseNullableTime(finishedAt)
	return &r, nil
}

// RecordTransition stores a phase change and moves the run to the new phase.
func (db *DB) RecordTransition(t TransitionRecord) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			INSERT INTO phase_transitions (run_id, from_phase, to_phase, at) VALUES (?, ?, ?, ?)
		`, t.RunID, t.From, t.To, formatTime(t.At)); err != nil {
			return fmt.Errorf("record transition: %w", err)
		}
		if _, err := tx.Exec(`UPDATE runs SET phase = ? WHERE id = ?`, t.To, t.RunID); err != nil {
			return fmt.Errorf("update run phase: %w", err)
		}
		return nil
	})
}

// ListTransitions returns the phase changes of a run in order.
func (db *DB) ListTransitions(runID string) ([]TransitionRecord, error) {
	rows, err := db.Query(`
		SELECT run_id, from_phase, to_phase, at FROM phase_transitions
		WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var t TransitionRecord
		var at string
		if err := rows.Scan(&t.RunID, &t.From, &t.To, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.At, _ = parseTime(at)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordOutcome stores the outcome of one task attempt.
func (db *DB) RecordOutcome(runID, taskID string, attempt int, o models.TaskOutcome) error {
	artifacts, err := json.Marshal(o.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO task_outcomes (run_id, task_id, attempt, status, duration_ms, error, artifacts, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, taskID, attempt, string(o.Status), o.Duration.Milliseconds(), o.ErrorMessage(), string(artifacts), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// ListOutcomes returns the task outcomes of a run in the order they were recorded.
func (db *DB) ListOutcomes(runID string) ([]OutcomeRecord, error) {
	rows, err := db.Query(`
		SELECT run_id, task_id, attempt, status, duration_ms, error, artifacts, recorded_at
		FROM task_outcomes WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var o OutcomeRecord
		var durationMS int64
		var artifacts, recordedAt string
		if err := rows.Scan(&o.RunID, &o.TaskID, &o.Attempt, &o.Status, &durationMS, &o.Error, &artifacts, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Duration = time.Duration(durationMS) * time.Millisecond
		if err := json.Unmarshal([]byte(artifacts), &o.Artifacts); err != nil {
			return nil, fmt.Errorf("unmarshal artifacts: %w", err)
		}
		o.RecordedAt, _ = parseTime(recordedAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// RecordDispatch stores one dispatch result.
func (db *DB) RecordDispatch(d DispatchRecord) error {
	if d.DispatchedAt.IsZero() {
		d.DispatchedAt = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO dispatches (item_id, priority, reference, success, error, budget_minutes, dispatched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.ItemID, string(d.Priority), d.Reference, d.Success, d.Error, int(d.Budget/time.Minute), formatTime(d.DispatchedAt))
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}

// ListDispatches returns the most recent dispatches first. A limit <= 0 returns all.
func (db *DB) ListDispatches(limit int) ([]DispatchRecord, error) {
	query := `
		SELECT item_id, priority, reference, success, error, budget_minutes, dispatched_at
		FROM dispatches ORDER BY dispatched_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	defer rows.Close()

	var out []DispatchRecord
	for rows.Next() {
		var d DispatchRecord
		var budgetMinutes int
		var at string
		if err := rows.Scan(&d.ItemID, &d.Priority, &d.Reference, &d.Success, &d.Error, &budgetMinutes, &at); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		d.Budget = time.Duration(budgetMinutes) * time.Minute
		d.DispatchedAt, _ = parseTime(at)
		out = append(out, d)
	}
	return out, rows.Err()
}

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
