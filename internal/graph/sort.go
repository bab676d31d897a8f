package graph

import (
	"github.com/ShayCichocki/issueforge/pkg/models"
)

// DetectCycles checks the graph for circular dependencies using an
// explicit-stack depth-first search, so deep graphs cannot exhaust the
// goroutine stack. On success the graph is marked validated and becomes
// immutable. On failure it returns a *ConstructionError naming the cycle.
func (g *DependencyGraph) DetectCycles() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cerr := g.findCycleLocked(); cerr != nil {
		g.debugLog("[graph.DetectCycles] %v", cerr)
		return cerr
	}
	g.validated = true
	g.debugLog("[graph.DetectCycles] graph with %d nodes is acyclic", len(g.order))
	return nil
}

// findCycleLocked assumes g.mu is held.
func (g *DependencyGraph) findCycleLocked() *ConstructionError {
	// Color states: 0 = white (unvisited), 1 = gray (on the stack), 2 = black (done).
	const (
		white = iota
		gray
		black
	)

	type frame struct {
		id   models.TaskID
		next []models.TaskID
	}

	colors := make(map[models.TaskID]int, len(g.order))

	for _, root := range g.order {
		if colors[root] != white {
			continue
		}

		colors[root] = gray
		stack := []frame{{id: root, next: sortedIDs(g.deps[root])}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if len(top.next) == 0 {
				colors[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}

			dep := top.next[0]
			top.next = top.next[1:]

			switch colors[dep] {
			case gray:
				// Back edge: the cycle is the stack suffix starting at dep.
				var cycle []models.TaskID
				for i := range stack {
					if stack[i].id == dep {
						for _, f := range stack[i:] {
							cycle = append(cycle, f.id)
						}
						break
					}
				}
				cycle = append(cycle, dep)
				return &ConstructionError{Node: dep, Cycle: cycle}
			case white:
				colors[dep] = gray
				stack = append(stack, frame{id: dep, next: sortedIDs(g.deps[dep])})
			}
		}
	}

	return nil
}

// TopologicalSort returns task IDs so that every task comes after all of
// its dependencies (Kahn's algorithm). Ties are broken by insertion order,
// but callers must not rely on any particular order among independent tasks.
// A graph with a cycle yields a *ConstructionError and no partial ordering.
func (g *DependencyGraph) TopologicalSort() ([]models.TaskID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.topologicalSortLocked()
}

func (g *DependencyGraph) topologicalSortLocked() ([]models.TaskID, error) {
	inDegree := make(map[models.TaskID]int, len(g.order))
	queue := make([]models.TaskID, 0, len(g.order))
	for _, id := range g.order {
		inDegree[id] = len(g.deps[id])
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	result := make([]models.TaskID, 0, len(g.order))
	for head := 0; head < len(queue); head++ {
		id := queue[head]
		result = append(result, id)

		for _, dependent := range sortedIDs(g.dependents[id]) {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) < len(g.order) {
		for _, id := range g.order {
			if inDegree[id] > 0 {
				return nil, &ConstructionError{Node: id}
			}
		}
	}

	return result, nil
}

// GroupIntoLevels groups tasks into levels that can run concurrently.
// level(u) is 0 when u has no dependencies, otherwise 1 + the highest level
// among its dependencies, computed in one pass over the topological order.
// No two tasks in one level share a direct dependency edge.
func (g *DependencyGraph) GroupIntoLevels() ([][]models.TaskID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	order, err := g.topologicalSortLocked()
	if err != nil {
		return nil, err
	}

	level := make(map[models.TaskID]int, len(order))
	depth := 0
	for _, id := range order {
		l := 0
		for dep := range g.deps[id] {
			if level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[id] = l
		if l+1 > depth {
			depth = l + 1
		}
	}

	levels := make([][]models.TaskID, depth)
	for _, id := range order {
		levels[level[id]] = append(levels[level[id]], id)
	}

	g.debugLog("[graph.GroupIntoLevels] %d tasks in %d levels", len(order), depth)
	return levels, nil
}
