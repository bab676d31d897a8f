package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/issueforge/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// ConstructionError reports a graph that cannot be ordered.
// Node is always a task on (or blocked behind) the cycle. Cycle holds the
// dependency path when the depth-first check found it, in depends-on order.
type ConstructionError struct {
	Node  models.TaskID
	Cycle []models.TaskID
}

func (e *ConstructionError) Error() string {
	if len(e.Cycle) == 0 {
		return fmt.Sprintf("%s: task %s never reaches in-degree zero", ErrCycleDetected, e.Node)
	}
	parts := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		parts[i] = string(id)
	}
	return fmt.Sprintf("%s at task %s: %s", ErrCycleDetected, e.Node, strings.Join(parts, " -> "))
}

// Unwrap lets callers match with errors.Is(err, ErrCycleDetected).
func (e *ConstructionError) Unwrap() error {
	return ErrCycleDetected
}
