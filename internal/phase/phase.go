// Package phase governs the lifecycle phases a work item passes through.
package phase

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Phase is a named stage of a work item's lifecycle.
type Phase int

const (
	IssueAnalysis Phase = iota
	TaskDecomposition
	WorktreeCreation
	CodeGeneration
	ParallelExecution
	QualityCheck
	PRCreation
	CodeReview
	AutoMerge
)

var phaseNames = [...]string{
	IssueAnalysis:     "IssueAnalysis",
	TaskDecomposition: "TaskDecomposition",
	WorktreeCreation:  "WorktreeCreation",
	CodeGeneration:    "CodeGeneration",
	ParallelExecution: "ParallelExecution",
	QualityCheck:      "QualityCheck",
	PRCreation:        "PRCreation",
	CodeReview:        "CodeReview",
	AutoMerge:         "AutoMerge",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Parse returns the phase with the given name.
func Parse(name string) (Phase, error) {
	for i, n := range phaseNames {
		if n == name {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", name)
}

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	return p == AutoMerge
}

// transitions is the complete table of legal moves.
var transitions = map[Phase][]Phase{
	IssueAnalysis:     {TaskDecomposition},
	TaskDecomposition: {WorktreeCreation},
	WorktreeCreation:  {CodeGeneration},
	CodeGeneration:    {ParallelExecution},
	ParallelExecution: {QualityCheck},
	QualityCheck:      {PRCreation, CodeGeneration, CodeReview},
	PRCreation:        {CodeReview},
	CodeReview:        {AutoMerge},
}

// Allowed reports whether from -> to is in the transition table.
func Allowed(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next returns the phases reachable from p in one step.
func Next(p Phase) []Phase {
	return append([]Phase(nil), transitions[p]...)
}

// ErrInvalidTransition is the sentinel behind every rejected move.
var ErrInvalidTransition = errors.New("invalid phase transition")

// TransitionError describes a rejected move.
type TransitionError struct {
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Transition is one accepted move.
type Transition struct {
	From Phase
	To   Phase
	At   time.Time
}

// Machine tracks the current phase of one work item.
// Every mutation is checked against the transition table.
type Machine struct {
	mu       sync.Mutex
	current  Phase
	history  []Transition
	onChange func(Transition)
}

// NewMachine returns a machine in IssueAnalysis.
func NewMachine() *Machine {
	return &Machine{current: IssueAnalysis}
}

// OnTransition registers a callback invoked after each accepted move.
// The callback runs without the machine lock held.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Current returns the current phase.
func (m *Machine) Current() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// CanTransition reports whether TransitionTo(target) would succeed now.
func (m *Machine) CanTransition(target Phase) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Allowed(m.current, target)
}

// TransitionTo moves to target, or returns a *TransitionError leaving the phase unchanged.
func (m *Machine) TransitionTo(target Phase) error {
	m.mu.Lock()
	if !Allowed(m.current, target) {
		from := m.current
		m.mu.Unlock()
		return &TransitionError{From: from, To: target}
	}

	t := Transition{From: m.current, To: target, At: time.Now()}
	m.current = target
	m.history = append(m.history, t)
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(t)
	}
	return nil
}

// IsCompleted reports whether the machine reached AutoMerge.
func (m *Machine) IsCompleted() bool {
	return m.Current().Terminal()
}

// History returns the accepted transitions in order.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.history...)
}
