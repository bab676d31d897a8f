package models

import "time"

// OutcomeStatus classifies how a task ended.
type OutcomeStatus string

const (
	// OutcomeSuccess indicates the executor reported success.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeFailed indicates the executor or workspace setup failed.
	OutcomeFailed OutcomeStatus = "failed"
	// OutcomeTimeout indicates the pool stopped waiting for the executor.
	OutcomeTimeout OutcomeStatus = "timeout"
	// OutcomeCancelled indicates the task was never run to completion,
	// for example because a dependency failed or the context ended.
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s OutcomeStatus) Valid() bool {
	switch s {
	case OutcomeSuccess, OutcomeFailed, OutcomeTimeout, OutcomeCancelled:
		return true
	default:
		return false
	}
}

// TaskOutcome is the result of executing one work item.
type TaskOutcome struct {
	Status   OutcomeStatus `json:"status"`
	Duration time.Duration `json:"duration"`
	// Err is the error that ended the task, nil on success.
	Err error `json:"-"`
	// Artifacts identifies what the task produced (files, commits).
	Artifacts []string `json:"artifacts,omitempty"`
}

// Succeeded reports whether the outcome is a success.
func (o TaskOutcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

// ErrorMessage returns the error text, or "" when there is none.
func (o TaskOutcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Success builds a successful outcome.
func Success(d time.Duration, artifacts ...string) TaskOutcome {
	return TaskOutcome{Status: OutcomeSuccess, Duration: d, Artifacts: artifacts}
}

// Failure builds a failed outcome carrying err.
func Failure(d time.Duration, err error) TaskOutcome {
	return TaskOutcome{Status: OutcomeFailed, Duration: d, Err: err}
}
