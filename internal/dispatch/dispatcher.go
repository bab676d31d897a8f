// Package dispatch drains a work queue into an external execution backend
// under a per-interval rate limit.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ShayCichocki/issueforge/internal/counters"
	"github.com/ShayCichocki/issueforge/internal/logging"
	"github.com/ShayCichocki/issueforge/internal/metrics"
	"github.com/ShayCichocki/issueforge/pkg/models"
)

var (
	// ErrDispatch wraps backend failures recorded in a DispatchResult.
	ErrDispatch = errors.New("dispatch failed")
	// ErrInvalidConfig is returned for an unusable Config.
	ErrInvalidConfig = errors.New("invalid dispatch config")
)

// Config controls the dispatcher.
type Config struct {
	// RateLimit is the maximum number of dispatches per reset interval.
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`
	// ResetInterval is how often Run releases backpressure.
	ResetInterval time.Duration `mapstructure:"reset_interval" yaml:"reset_interval"`
	// Target identifies the external job definition, for example a workflow file.
	Target string `mapstructure:"target" yaml:"target"`
}

// Validate checks the config is usable.
func (c Config) Validate() error {
	if c.RateLimit < 1 {
		return fmt.Errorf("%w: rate_limit must be >= 1, got %d", ErrInvalidConfig, c.RateLimit)
	}
	if c.ResetInterval < 0 {
		return fmt.Errorf("%w: reset_interval must not be negative", ErrInvalidConfig)
	}
	if c.Target == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidConfig)
	}
	return nil
}

// DispatchResult records one hand-off to the backend.
type DispatchResult struct {
	ItemID    string          `json:"item_id"`
	Priority  models.Priority `json:"priority"`
	Reference string          `json:"reference,omitempty"`
	Success   bool            `json:"success"`
	Err       error           `json:"-"`
	// Budget is the runtime granted to the external job.
	Budget    time.Duration `json:"budget"`
	Timestamp time.Time     `json:"timestamp"`
	// Source is the queue file the item came from, if any.
	Source string `json:"source,omitempty"`
}

// Stats are the running totals of a dispatcher.
type Stats struct {
	Total             int `json:"total"`
	Successful        int `json:"successful"`
	Failed            int `json:"failed"`
	RemainingCapacity int `json:"remaining_capacity"`
}

// Dispatcher hands queued items to a Backend.
type Dispatcher struct {
	cfg      Config
	backend  Backend
	counters *counters.Counters
	metrics  *metrics.Metrics
	logger   logging.Logger
	onResult func(DispatchResult)

	mu      sync.Mutex
	results []DispatchResult
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCounters shares run-wide counters with the dispatcher.
func WithCounters(c *counters.Counters) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.counters = c
		}
	}
}

// WithMetrics records dispatch attempts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the debug logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithResultHook registers fn to be called with every recorded result.
func WithResultHook(fn func(DispatchResult)) Option {
	return func(d *Dispatcher) { d.onResult = fn }
}

// New creates a dispatcher.
func New(backend Backend, cfg Config, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}

	d := &Dispatcher{
		cfg:      cfg,
		backend:  backend,
		counters: counters.New(),
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// DispatchNext hands the head of q to the backend.
//
// It returns false without touching the queue when the rate limit is
// reached, and false when the queue is empty. Backend failures are
// returned as a failed DispatchResult, never as an error; they still count
// against the rate limit.
func (d *Dispatcher) DispatchNext(ctx context.Context, q *Queue) (DispatchResult, bool) {
	if !d.counters.TryDispatch(d.cfg.RateLimit) {
		d.metrics.ObserveDispatch("throttled")
		d.logger.Log("[dispatch] rate limit %d reached, %d queued", d.cfg.RateLimit, q.Len())
		return DispatchResult{}, false
	}

	item, ok := q.Pop()
	if !ok {
		d.counters.ReleaseDispatch()
		return DispatchResult{}, false
	}

	res := d.trigger(ctx, item)

	d.mu.Lock()
	d.results = append(d.results, res)
	d.mu.Unlock()

	if res.Success {
		d.metrics.ObserveDispatch("success")
		d.logger.Log("[dispatch] %s -> %s (budget %s)", item.ID, res.Reference, res.Budget)
	} else {
		d.metrics.ObserveDispatch("failed")
		d.logger.Log("[dispatch] %s failed: %v", item.ID, res.Err)
	}
	if d.onResult != nil {
		d.onResult(res)
	}
	return res, true
}

// trigger runs without any lock held; the backend may block on I/O.
func (d *Dispatcher) trigger(ctx context.Context, item models.WorkItem) DispatchResult {
	budget := RuntimeBudget(item.Priority)
	res := DispatchResult{
		ItemID:   item.ID,
		Priority: item.Priority,
		Budget:   budget,
		Source:   item.Source,
	}

	ref, err := d.backend.Trigger(ctx, d.cfg.Target, Inputs(item, budget))
	res.Timestamp = time.Now()
	if err != nil {
		res.Err = fmt.Errorf("%w: %s: %w", ErrDispatch, item.ID, err)
		return res
	}
	res.Reference = ref
	res.Success = true
	return res
}

// Inputs builds the structured inputs sent with an item. Item inputs
// cannot override the reserved keys.
func Inputs(item models.WorkItem, budget time.Duration) map[string]string {
	in := make(map[string]string, len(item.Inputs)+4)
	for k, v := range item.Inputs {
		in[k] = v
	}
	in["item_id"] = item.ID
	in["title"] = item.Title
	in["priority"] = string(item.Priority)
	in["runtime_minutes"] = strconv.Itoa(int(budget / time.Minute))
	return in
}

// RuntimeBudget maps a priority label to the runtime granted to the external job.
func RuntimeBudget(p models.Priority) time.Duration {
	return models.ParsePriority(string(p)).RuntimeBudget()
}

// ResetCounter releases backpressure for a new interval.
func (d *Dispatcher) ResetCounter() {
	d.counters.ResetDispatched()
	d.logger.Log("[dispatch] counter reset")
}

// Results returns every recorded result in dispatch order.
func (d *Dispatcher) Results() []DispatchResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DispatchResult(nil), d.results...)
}

// Stats returns the running totals.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	s := Stats{Total: len(d.results)}
	for _, r := range d.results {
		if r.Success {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	d.mu.Unlock()

	s.RemainingCapacity = max(0, d.cfg.RateLimit-d.counters.Dispatched())
	return s
}

// Drain dispatches until the queue is empty or the rate limit is hit.
// It returns the number of items handed to the backend.
func (d *Dispatcher) Drain(ctx context.Context, q *Queue) int {
	n := 0
	for ctx.Err() == nil {
		if _, ok := d.DispatchNext(ctx, q); !ok {
			break
		}
		n++
	}
	return n
}

// Run drains q whenever items arrive and resets the counter every
// ResetInterval, until ctx is done. A zero ResetInterval never resets.
func (d *Dispatcher) Run(ctx context.Context, q *Queue) error {
	var reset <-chan time.Time
	if d.cfg.ResetInterval > 0 {
		ticker := time.NewTicker(d.cfg.ResetInterval)
		defer ticker.Stop()
		reset = ticker.C
	}

	d.logger.Log("[dispatch] run loop started (rate_limit=%d, reset=%s, target=%s)",
		d.cfg.RateLimit, d.cfg.ResetInterval, d.cfg.Target)

	d.Drain(ctx, q)
	for {
		select {
		case <-ctx.Done():
			d.logger.Log("[dispatch] run loop stopped: %v", ctx.Err())
			return nil
		case <-reset:
			d.ResetCounter()
			d.Drain(ctx, q)
		case <-q.Ready():
			d.Drain(ctx, q)
		}
	}
}
