// Package graph provides the task dependency graph, its cycle check,
// topological ordering and grouping into parallel-safe levels.
package graph

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ShayCichocki/issueforge/pkg/models"
)

var (
	// ErrUnknownDependency indicates a task depends on a task that is not in the graph.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrFrozen indicates a mutation was attempted after the graph was validated.
	ErrFrozen = errors.New("graph is frozen after validation")
)

type idSet map[models.TaskID]struct{}

// DependencyGraph represents a directed acyclic graph of task dependencies.
// Tasks are nodes, and an edge from -> to records that from depends on to.
type DependencyGraph struct {
	mu sync.RWMutex
	// order keeps node insertion order so traversals are reproducible.
	order []models.TaskID
	// tasks maps task ID to the task itself. Bare IDs map to nil.
	tasks map[models.TaskID]*models.Task
	// deps maps task ID to the IDs it depends on.
	deps map[models.TaskID]idSet
	// dependents is the reverse of deps.
	dependents map[models.TaskID]idSet
	// validated is set once DetectCycles succeeded; the graph is immutable afterwards.
	validated bool
	debugLog  func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		tasks:      make(map[models.TaskID]*models.Task),
		deps:       make(map[models.TaskID]idSet),
		dependents: make(map[models.TaskID]idSet),
		debugLog:   func(format string, args ...interface{}) {},
	}
}

// FromTasks builds and validates a graph from decomposed tasks.
func FromTasks(tasks []*models.Task) (*DependencyGraph, error) {
	g := New()
	if err := g.Build(tasks); err != nil {
		return nil, err
	}
	return g, nil
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build registers every task, records the DependsOn edges and runs the cycle check.
// Returns an error if a dependency references an unknown task or a cycle exists.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	if g.validated {
		g.mu.Unlock()
		return ErrFrozen
	}

	g.debugLog("[graph.Build] building graph from %d tasks", len(tasks))

	for _, task := range tasks {
		g.addNodeLocked(task.ID)
		g.tasks[task.ID] = task
	}

	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.tasks[depID]; !exists {
				g.mu.Unlock()
				return fmt.Errorf("task %s depends on task %s: %w", task.ID, depID, ErrUnknownDependency)
			}
			g.addEdgeLocked(task.ID, depID)
		}
	}
	g.mu.Unlock()

	return g.DetectCycles()
}

// AddNode registers a task ID with no dependencies. Adding an existing ID is a no-op.
func (g *DependencyGraph) AddNode(id models.TaskID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.validated {
		return ErrFrozen
	}
	g.addNodeLocked(id)
	return nil
}

// AddDependency records that from depends on to. Both nodes are created if missing.
func (g *DependencyGraph) AddDependency(from, to models.TaskID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.validated {
		return ErrFrozen
	}
	g.addNodeLocked(from)
	g.addNodeLocked(to)
	g.addEdgeLocked(from, to)
	return nil
}

func (g *DependencyGraph) addNodeLocked(id models.TaskID) {
	if _, ok := g.deps[id]; ok {
		return
	}
	g.order = append(g.order, id)
	g.deps[id] = make(idSet)
	g.dependents[id] = make(idSet)
	if _, ok := g.tasks[id]; !ok {
		g.tasks[id] = nil
	}
}

func (g *DependencyGraph) addEdgeLocked(from, to models.TaskID) {
	g.deps[from][to] = struct{}{}
	g.dependents[to][from] = struct{}{}
}

// Validated reports whether DetectCycles has accepted the graph.
func (g *DependencyGraph) Validated() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.validated
}

// Size returns the number of nodes in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// Nodes returns all task IDs in insertion order.
func (g *DependencyGraph) Nodes() []models.TaskID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.order)
}

// HasNode reports whether id is part of the graph.
func (g *DependencyGraph) HasNode(id models.TaskID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.deps[id]
	return ok
}

// GetTask returns the task for a given ID, or nil if not found or registered as a bare ID.
func (g *DependencyGraph) GetTask(id models.TaskID) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tasks[id]
}

// GetDependencies returns the IDs the given task depends on, sorted.
func (g *DependencyGraph) GetDependencies(id models.TaskID) []models.TaskID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedIDs(g.deps[id])
}

// GetDependents returns the IDs of tasks that depend on the given task, sorted.
func (g *DependencyGraph) GetDependents(id models.TaskID) []models.TaskID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedIDs(g.dependents[id])
}

// TransitiveDependents returns every task that directly or indirectly depends on id.
// Used to cancel the downstream of a failed task.
func (g *DependencyGraph) TransitiveDependents(id models.TaskID) []models.TaskID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(idSet)
	stack := sortedIDs(g.dependents[id])
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		stack = append(stack, sortedIDs(g.dependents[n])...)
	}
	return sortedIDs(seen)
}

func sortedIDs(set idSet) []models.TaskID {
	if len(set) == 0 {
		return nil
	}
	return slices.Sorted(maps.Keys(set))
}
