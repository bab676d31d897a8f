// Package counters holds the run-wide counters shared by the workspace pool
// and the dispatcher. All fields sit behind one mutex; components receive a
// *Counters at construction instead of reaching for package state.
package counters

import "sync"

// Counters tracks active workspaces and dispatches for one process.
type Counters struct {
	mu         sync.Mutex
	active     int
	peakActive int
	dispatched int
}

// New returns zeroed counters.
func New() *Counters {
	return &Counters{}
}

// AcquireActive records a newly active workspace and returns the new active count.
func (c *Counters) AcquireActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active++
	if c.active > c.peakActive {
		c.peakActive = c.active
	}
	return c.active
}

// ReleaseActive records that an active workspace finished.
func (c *Counters) ReleaseActive() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active > 0 {
		c.active--
	}
}

// Active returns the number of currently active workspaces.
func (c *Counters) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// PeakActive returns the highest active count observed.
func (c *Counters) PeakActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakActive
}

// TryDispatch increments the dispatch count if it is below limit.
// It returns false, leaving the count unchanged, once the limit is reached.
func (c *Counters) TryDispatch(limit int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dispatched >= limit {
		return false
	}
	c.dispatched++
	return true
}

// ReleaseDispatch returns a slot taken by TryDispatch that was not used.
func (c *Counters) ReleaseDispatch() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dispatched > 0 {
		c.dispatched--
	}
}

// Dispatched returns the dispatch count since the last reset.
func (c *Counters) Dispatched() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatched
}

// ResetDispatched zeroes the dispatch count.
func (c *Counters) ResetDispatched() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatched = 0
}
