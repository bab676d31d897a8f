// Package pool executes batches of work items with bounded parallelism,
// each in its own exclusively-owned workspace.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ShayCichocki/issueforge/internal/counters"
	"github.com/ShayCichocki/issueforge/internal/logging"
	"github.com/ShayCichocki/issueforge/internal/metrics"
	"github.com/ShayCichocki/issueforge/internal/workspace"
	"github.com/ShayCichocki/issueforge/pkg/models"
)

// WorktreePool runs work items in workspaces obtained from a Provider.
// A pool is built once per orchestration run and may execute several batches.
type WorktreePool struct {
	cfg      Config
	provider workspace.Provider
	counters *counters.Counters
	metrics  *metrics.Metrics
	logger   logging.Logger
}

// Option configures a WorktreePool.
type Option func(*WorktreePool)

// WithCounters shares run-wide counters with the pool.
func WithCounters(c *counters.Counters) Option {
	return func(p *WorktreePool) {
		if c != nil {
			p.counters = c
		}
	}
}

// WithMetrics records workspace and task metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *WorktreePool) {
		p.metrics = m
	}
}

// WithLogger sets the debug logger.
func WithLogger(l logging.Logger) Option {
	return func(p *WorktreePool) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a pool. It returns ErrInvalidConfig if cfg does not validate.
func New(provider workspace.Provider, cfg Config, opts ...Option) (*WorktreePool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: workspace provider is required", ErrInvalidConfig)
	}

	p := &WorktreePool{
		cfg:      cfg,
		provider: provider,
		counters: counters.New(),
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the pool configuration.
func (p *WorktreePool) Config() Config {
	return p.cfg
}

// Counters returns the counters the pool updates.
func (p *WorktreePool) Counters() *counters.Counters {
	return p.counters
}

// ExecuteParallel runs every item through exec, at most MaxConcurrency at a time.
//
// Per-task failures never abort the batch; they are recorded in the result.
// With FailFast set, the first Failed or Timeout outcome stops admission and
// the remaining items are reported in BatchResult.Skipped. Cancelling ctx also
// stops admission; in-flight tasks see the cancellation through their context.
func (p *WorktreePool) ExecuteParallel(ctx context.Context, items []models.WorkItem, exec Executor) *BatchResult {
	start := time.Now()
	result := &BatchResult{}

	sem := semaphore.NewWeighted(int64(p.cfg.MaxConcurrency))
	var (
		stop atomic.Bool
		mu   sync.Mutex
		wg   sync.WaitGroup
	)

	p.logger.Log("[pool] executing %d items (max_concurrency=%d, timeout=%s, fail_fast=%v)",
		len(items), p.cfg.MaxConcurrency, p.cfg.Timeout, p.cfg.FailFast)

	for i, item := range items {
		if !p.admit(ctx, sem, &stop) {
			result.Skipped = append(result.Skipped, items[i:]...)
			break
		}

		wg.Add(1)
		go func(idx int, item models.WorkItem) {
			defer wg.Done()
			defer sem.Release(1)

			rec := p.runOne(ctx, idx, item, exec)
			if p.cfg.FailFast && tripsFailFast(rec.Outcome.Status) {
				if !stop.Swap(true) {
					p.logger.Log("[pool] fail-fast triggered by %s (%s)", item.ID, rec.Outcome.Status)
				}
			}

			mu.Lock()
			result.add(rec)
			mu.Unlock()
		}(i, item)
	}

	wg.Wait()

	sort.Slice(result.Records, func(a, b int) bool {
		return result.Records[a].Index < result.Records[b].Index
	})
	result.Duration = time.Since(start)

	p.logger.Log("[pool] batch done: total=%d success=%d failed=%d timeout=%d skipped=%d in %s",
		result.TotalTasks, result.SuccessCount, result.FailedCount, result.TimeoutCount,
		len(result.Skipped), result.Duration)

	return result
}

// admit blocks until a slot is free. It returns false, holding no slot,
// once fail-fast has tripped or ctx is done.
func (p *WorktreePool) admit(ctx context.Context, sem *semaphore.Weighted, stop *atomic.Bool) bool {
	if stop.Load() {
		return false
	}
	if err := ctx.Err(); err != nil {
		p.logger.Log("[pool] admission stopped: %v", err)
		return false
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		p.logger.Log("[pool] admission stopped: %v", err)
		return false
	}
	// A failure may have landed while we waited for the slot.
	if stop.Load() {
		sem.Release(1)
		return false
	}
	return true
}

// runOne owns the full workspace lifecycle of a single item.
func (p *WorktreePool) runOne(ctx context.Context, idx int, item models.WorkItem, exec Executor) Record {
	start := time.Now()
	rec := Record{Index: idx, Item: item}

	ws, err := p.provider.Create(ctx, workspace.Name(item))
	if err != nil {
		rec.Outcome = models.Failure(time.Since(start), fmt.Errorf("%w: %s: %w", ErrWorkspaceCreation, item.ID, err))
		p.logger.Log("[pool] %v", rec.Outcome.Err)
		p.metrics.ObserveTask(string(rec.Outcome.Status), rec.Outcome.Duration)
		return rec
	}
	rec.Workspace = ws.Name

	if p.cfg.AutoCleanup {
		// Teardown must run even when ctx is already cancelled.
		defer p.destroy(context.WithoutCancel(ctx), ws)
	}

	if err := ws.Bind(item.ID); err != nil {
		rec.Outcome = models.Failure(time.Since(start), fmt.Errorf("%w: %w", ErrWorkspaceCreation, err))
		ws.Finish(rec.Outcome.Status)
		p.metrics.ObserveTask(string(rec.Outcome.Status), rec.Outcome.Duration)
		return rec
	}

	active := p.counters.AcquireActive()
	p.metrics.WorkspaceStarted()
	p.logger.Log("[pool] %s active in %s (%d active)", item.ID, ws.Name, active)

	rec.Outcome = p.await(ctx, ws, item, exec)
	if rec.Outcome.Duration == 0 {
		rec.Outcome.Duration = time.Since(start)
	}

	p.counters.ReleaseActive()
	p.metrics.WorkspaceFinished()
	ws.Finish(rec.Outcome.Status)
	p.metrics.ObserveTask(string(rec.Outcome.Status), rec.Outcome.Duration)
	p.logger.Log("[pool] %s finished: %s in %s", item.ID, rec.Outcome.Status, rec.Outcome.Duration)

	return rec
}

// await runs exec and waits for it up to the configured timeout.
// On timeout the executor goroutine is abandoned, not killed.
func (p *WorktreePool) await(ctx context.Context, ws *workspace.Workspace, item models.WorkItem, exec Executor) models.TaskOutcome {
	start := time.Now()

	execCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.cfg.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
	}
	defer cancel()

	done := make(chan models.TaskOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- models.Failure(time.Since(start), fmt.Errorf("executor panic: %v", r))
			}
		}()
		done <- exec.Execute(execCtx, ws, item)
	}()

	select {
	case outcome := <-done:
		if !outcome.Status.Valid() {
			outcome.Status = models.OutcomeFailed
			if outcome.Err == nil {
				outcome.Err = errors.New("executor returned unknown status")
			}
		}
		return outcome
	case <-execCtx.Done():
		d := time.Since(start)
		if ctx.Err() != nil {
			return models.TaskOutcome{Status: models.OutcomeCancelled, Duration: d, Err: ctx.Err()}
		}
		return models.TaskOutcome{
			Status:   models.OutcomeTimeout,
			Duration: d,
			Err:      fmt.Errorf("%w: %s after %s", ErrTimeout, item.ID, p.cfg.Timeout),
		}
	}
}

func (p *WorktreePool) destroy(ctx context.Context, ws *workspace.Workspace) {
	if err := p.provider.Destroy(ctx, ws); err != nil {
		p.logger.Log("[pool] destroy %s: %v", ws.Name, err)
	}
}

// tripsFailFast reports whether an outcome stops further admission.
// Cancelled outcomes follow a stop that already happened and never trip it.
func tripsFailFast(s models.OutcomeStatus) bool {
	return s == models.OutcomeFailed || s == models.OutcomeTimeout
}
