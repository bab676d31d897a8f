package orchestrator

import (
	"github.com/ShayCichocki/issueforge/internal/decompose"
	"github.com/ShayCichocki/issueforge/internal/logging"
	"github.com/ShayCichocki/issueforge/internal/metrics"
	"github.com/ShayCichocki/issueforge/internal/pool"
	"github.com/ShayCichocki/issueforge/internal/state"
)

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*Orchestrator)

// WithPool sets the workspace pool tasks run in. Required.
func WithPool(p *pool.WorktreePool) Option {
	return func(o *Orchestrator) { o.pool = p }
}

// WithDecomposer sets how work items become tasks. Required.
func WithDecomposer(d decompose.Decomposer) Option {
	return func(o *Orchestrator) { o.decomposer = d }
}

// WithExecutor overrides the per-task executor. Defaults to a CommandExecutor.
func WithExecutor(e pool.Executor) Option {
	return func(o *Orchestrator) { o.executor = e }
}

// WithStore records runs, transitions and outcomes.
func WithStore(s state.RunStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithPublisher sets the PR, review and merge hooks.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithLogger sets the debug logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithQuality sets the QualityCheck policy.
func WithQuality(q QualityPolicy) Option {
	return func(o *Orchestrator) { o.quality = q }
}

// WithMetrics records phase transitions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithEvents enables the event channel with the given buffer size.
func WithEvents(bufferSize int) Option {
	return func(o *Orchestrator) { o.events = NewEventEmitter(bufferSize, o.logger) }
}
