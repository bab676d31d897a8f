package models

import (
	"regexp"
	"strings"
	"time"
)

// Priority is the priority label of a work item ("P0".."P3").
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// ParsePriority normalizes a label such as "p1" or " P1 " into a Priority.
// Unknown labels are returned upper-cased and trimmed; they budget as the lowest priority.
func ParsePriority(label string) Priority {
	return Priority(strings.ToUpper(strings.TrimSpace(label)))
}

// RuntimeBudget maps the priority to the runtime an external executor may use.
// Higher priority work gets a larger budget.
func (p Priority) RuntimeBudget() time.Duration {
	switch p {
	case PriorityP0:
		return 180 * time.Minute
	case PriorityP1:
		return 120 * time.Minute
	case PriorityP2:
		return 90 * time.Minute
	default:
		return 60 * time.Minute
	}
}

// WorkItem is an external unit of work (an issue, or one decomposed task of it)
// handed to the workspace pool or an external dispatch backend.
type WorkItem struct {
	// ID is the opaque identifier of the item.
	ID string `json:"id" yaml:"id"`
	// Title is a one-line summary.
	Title string `json:"title" yaml:"title"`
	// Description is the full body of the item.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Priority is the priority label.
	Priority Priority `json:"priority" yaml:"priority"`
	// Inputs are extra structured inputs passed to an external backend.
	Inputs map[string]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	// Task is the decomposed task backing this item, nil for top-level items.
	Task *Task `json:"-" yaml:"-"`
	// Source is the file the item was read from, empty for in-memory items.
	Source string `json:"-" yaml:"-"`
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug returns a filesystem and branch safe form of the item ID.
func (w WorkItem) Slug() string {
	s := slugPattern.ReplaceAllString(strings.ToLower(w.ID), "-")
	s = strings.Trim(s, "-")
	if len(s) > 40 {
		s = strings.TrimRight(s[:40], "-")
	}
	if s == "" {
		return "item"
	}
	return s
}
