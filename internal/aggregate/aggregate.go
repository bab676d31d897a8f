// Package aggregate reduces per-task outcomes into run-level statistics.
package aggregate

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ShayCichocki/issueforge/pkg/models"
)

// ErrInconsistent reports that a reduction disagrees with itself.
// It indicates a programming error and is not expected in practice.
var ErrInconsistent = errors.New("aggregation inconsistency")

// UnitError is an error message tagged with the unit that produced it.
type UnitError struct {
	UnitID  string `json:"unit_id"`
	Message string `json:"message"`
}

// AggregatedResult is a frozen view of the aggregator.
type AggregatedResult struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	// SuccessRate is the success percentage in [0, 100]; 0 when Total is 0.
	SuccessRate float64 `json:"success_rate"`
	// Errors holds one entry per failing unit with a non-empty message, sorted by unit.
	Errors []UnitError `json:"errors,omitempty"`
	// Artifacts is the sorted, de-duplicated union of every unit's artifacts.
	Artifacts []string `json:"artifacts,omitempty"`
}

// Validate cross-checks the counts of a result.
func (r AggregatedResult) Validate() error {
	if r.Successful+r.Failed != r.Total {
		return fmt.Errorf("%w: successful(%d) + failed(%d) != total(%d)", ErrInconsistent, r.Successful, r.Failed, r.Total)
	}
	if r.Total == 0 && r.SuccessRate != 0 {
		return fmt.Errorf("%w: success rate %.2f on an empty result", ErrInconsistent, r.SuccessRate)
	}
	if len(r.Errors) > r.Failed {
		return fmt.Errorf("%w: %d errors for %d failures", ErrInconsistent, len(r.Errors), r.Failed)
	}
	return nil
}

// ResultAggregator collects outcomes keyed by unit ID.
// AddResult may be called from many goroutines.
type ResultAggregator struct {
	mu       sync.Mutex
	outcomes map[string]models.TaskOutcome
}

// New returns an empty aggregator.
func New() *ResultAggregator {
	return &ResultAggregator{outcomes: make(map[string]models.TaskOutcome)}
}

// AddResult records the outcome of a unit. A later call for the same unit replaces the earlier one.
func (a *ResultAggregator) AddResult(unitID string, outcome models.TaskOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes[unitID] = outcome
}

// Len returns the number of distinct units recorded.
func (a *ResultAggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.outcomes)
}

// Get returns the recorded outcome of a unit.
func (a *ResultAggregator) Get(unitID string) (models.TaskOutcome, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.outcomes[unitID]
	return o, ok
}

// Failed returns the IDs of units whose outcome is not a success, sorted.
func (a *ResultAggregator) Failed() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var ids []string
	for id, o := range a.outcomes {
		if !o.Succeeded() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Aggregate reduces everything recorded so far.
func (a *ResultAggregator) Aggregate() AggregatedResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	var r AggregatedResult
	artifacts := make(map[string]struct{})

	for _, id := range slices.Sorted(maps.Keys(a.outcomes)) {
		o := a.outcomes[id]
		r.Total++
		if o.Succeeded() {
			r.Successful++
		} else {
			r.Failed++
			if msg := o.ErrorMessage(); msg != "" {
				r.Errors = append(r.Errors, UnitError{UnitID: id, Message: msg})
			}
		}
		for _, art := range o.Artifacts {
			artifacts[art] = struct{}{}
		}
	}

	if r.Total > 0 {
		r.SuccessRate = float64(r.Successful) / float64(r.Total) * 100
	}
	if len(artifacts) > 0 {
		r.Artifacts = slices.Sorted(maps.Keys(artifacts))
	}
	return r
}

// AllSucceeded reports whether at least one unit was recorded and none failed.
func (a *ResultAggregator) AllSucceeded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.outcomes) == 0 {
		return false
	}
	for _, o := range a.outcomes {
		if !o.Succeeded() {
			return false
		}
	}
	return true
}

// AnyFailed reports whether any recorded unit did not succeed.
func (a *ResultAggregator) AnyFailed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, o := range a.outcomes {
		if !o.Succeeded() {
			return true
		}
	}
	return false
}

// Reset forgets every recorded outcome.
func (a *ResultAggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.outcomes)
}
