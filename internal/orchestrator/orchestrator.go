package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/issueforge/internal/aggregate"
	"github.com/ShayCichocki/issueforge/internal/decompose"
	"github.com/ShayCichocki/issueforge/internal/graph"
	"github.com/ShayCichocki/issueforge/internal/logging"
	"github.com/ShayCichocki/issueforge/internal/metrics"
	"github.com/ShayCichocki/issueforge/internal/phase"
	"github.com/ShayCichocki/issueforge/internal/pool"
	"github.com/ShayCichocki/issueforge/internal/state"
	"github.com/ShayCichocki/issueforge/pkg/models"
)

var (
	// ErrInvalidItem indicates a work item that cannot be analysed.
	ErrInvalidItem = errors.New("invalid work item")
	// ErrDependencyFailed is the error of a task cancelled because a dependency did not succeed.
	ErrDependencyFailed = errors.New("dependency did not succeed")
	// ErrNotStarted is the error of a task the pool never admitted.
	ErrNotStarted = errors.New("task not started")
)

// Orchestrator runs work items through the phase lifecycle.
type Orchestrator struct {
	pool       *pool.WorktreePool
	decomposer decompose.Decomposer
	executor   pool.Executor
	store      state.RunStore
	publisher  Publisher
	quality    QualityPolicy
	metrics    *metrics.Metrics
	logger     logging.Logger
	events     *EventEmitter
}

// New creates an Orchestrator. WithPool and WithDecomposer are required.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		publisher: NopPublisher{},
		quality:   DefaultQualityPolicy(),
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.pool == nil {
		return nil, errors.New("orchestrator: a workspace pool is required")
	}
	if o.decomposer == nil {
		return nil, errors.New("orchestrator: a decomposer is required")
	}
	if err := o.quality.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	if o.executor == nil {
		o.executor = NewCommandExecutor(nil)
	}
	if o.publisher == nil {
		o.publisher = NopPublisher{}
	}
	if o.events != nil {
		o.events.logger = o.logger
	}
	return o, nil
}

// Events returns the event channel, or nil when WithEvents was not given.
func (o *Orchestrator) Events() <-chan Event {
	if o.events == nil {
		return nil
	}
	return o.events.Events()
}

// Close closes the event channel. Call it once no run is in flight.
func (o *Orchestrator) Close() {
	if o.events != nil {
		o.events.Close()
	}
}

// Report describes one finished run.
type Report struct {
	RunID string
	Item  models.WorkItem
	// Tasks are the decomposed tasks with their final status.
	Tasks  []*models.Task
	Levels [][]models.TaskID
	// Result is the aggregate over the latest outcome of every task.
	Result aggregate.AggregatedResult
	// Retries is how many times QualityCheck looped back to CodeGeneration.
	Retries int
	// Phase is where the run stopped; AutoMerge when it completed.
	Phase       phase.Phase
	PRRef       string
	Transitions []phase.Transition
	Duration    time.Duration
	// Err is the error that ended the run, nil on success.
	Err error
}

// Completed reports whether the run reached AutoMerge without error.
func (r *Report) Completed() bool {
	return r.Err == nil && r.Phase.Terminal()
}

// Run drives one work item from IssueAnalysis to AutoMerge.
// The returned report is never nil and reflects how far the run got.
func (o *Orchestrator) Run(ctx context.Context, item models.WorkItem) (*Report, error) {
	start := time.Now()
	if item.Title == "" {
		item.Title = item.ID
	}
	rep := &Report{RunID: uuid.NewString(), Item: item}

	m := phase.NewMachine()
	m.OnTransition(func(t phase.Transition) { o.onTransition(rep.RunID, t) })

	if o.store != nil {
		err := o.store.CreateRun(&state.Run{
			ID:         rep.RunID,
			WorkItemID: item.ID,
			Title:      item.Title,
			Status:     state.RunRunning,
			Phase:      m.Current().String(),
			StartedAt:  start,
		})
		if err != nil {
			return rep, fmt.Errorf("create run: %w", err)
		}
	}

	o.logger.Log("[orchestrator] run %s started for %s", rep.RunID, item.ID)
	o.emit(Event{Type: EventRunStarted, RunID: rep.RunID, Phase: m.Current().String(), Message: item.Title})

	err := o.run(ctx, m, rep)

	rep.Phase = m.Current()
	rep.Transitions = m.History()
	rep.Duration = time.Since(start)
	rep.Err = err
	o.finish(rep, err)
	return rep, err
}

func (o *Orchestrator) run(ctx context.Context, m *phase.Machine, rep *Report) error {
	item := rep.Item
	if strings.TrimSpace(item.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidItem)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := m.TransitionTo(phase.TaskDecomposition); err != nil {
		return err
	}
	tasks, err := o.decomposer.Decompose(ctx, item)
	if err != nil {
		return fmt.Errorf("decompose %s: %w", item.ID, err)
	}
	if len(tasks) == 0 {
		return fmt.Errorf("decompose %s: %w", item.ID, decompose.ErrEmptyDecomposition)
	}

	g := graph.New()
	g.SetDebugLog(logging.Func(o.logger))
	if err := g.Build(tasks); err != nil {
		return fmt.Errorf("build dependency graph: %w", err)
	}
	levels, err := g.GroupIntoLevels()
	if err != nil {
		return fmt.Errorf("group tasks into levels: %w", err)
	}
	rep.Tasks = tasks
	rep.Levels = levels
	o.logger.Log("[orchestrator] %s: %d tasks in %d levels", item.ID, len(tasks), len(levels))

	if err := m.TransitionTo(phase.WorktreeCreation); err != nil {
		return err
	}
	if err := m.TransitionTo(phase.CodeGeneration); err != nil {
		return err
	}

	agg := aggregate.New()
	for attempt := 1; ; attempt++ {
		if err := m.TransitionTo(phase.ParallelExecution); err != nil {
			return err
		}
		o.executeLevels(ctx, rep, g, agg, attempt)
		rep.Result = agg.Aggregate()
		if err := rep.Result.Validate(); err != nil {
			return fmt.Errorf("aggregate results: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := m.TransitionTo(phase.QualityCheck); err != nil {
			return err
		}
		next, err := o.quality.Decide(rep.Result.SuccessRate, rep.Retries)
		if err != nil {
			return err
		}
		o.logger.Log("[orchestrator] %s: quality check at %.2f%% -> %s", item.ID, rep.Result.SuccessRate, next)
		if next == phase.CodeGeneration {
			rep.Retries++
			if err := m.TransitionTo(phase.CodeGeneration); err != nil {
				return err
			}
			continue
		}
		return o.publish(ctx, m, rep, next)
	}
}

// publish walks the remaining phases from QualityCheck's decision to AutoMerge.
func (o *Orchestrator) publish(ctx context.Context, m *phase.Machine, rep *Report, next phase.Phase) error {
	if next == phase.PRCreation {
		if err := m.TransitionTo(phase.PRCreation); err != nil {
			return err
		}
		ref, err := o.publisher.CreatePR(ctx, rep.Item, rep.Result)
		if err != nil {
			return fmt.Errorf("create pull request: %w", err)
		}
		rep.PRRef = ref
	}

	if err := m.TransitionTo(phase.CodeReview); err != nil {
		return err
	}
	if err := o.publisher.Review(ctx, rep.Item, rep.PRRef); err != nil {
		return fmt.Errorf("review: %w", err)
	}

	if err := m.TransitionTo(phase.AutoMerge); err != nil {
		return err
	}
	if err := o.publisher.Merge(ctx, rep.Item, rep.PRRef); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	return nil
}

// executeLevels runs every task that has not succeeded yet, level by level.
// A task whose dependencies did not all succeed is cancelled without running.
func (o *Orchestrator) executeLevels(ctx context.Context, rep *Report, g *graph.DependencyGraph, agg *aggregate.ResultAggregator, attempt int) {
	for n, level := range rep.Levels {
		items := make([]models.WorkItem, 0, len(level))
		for _, id := range level {
			if prev, ok := agg.Get(string(id)); ok && prev.Succeeded() {
				continue
			}
			task := g.GetTask(id)

			if dep, blocked := blockedBy(g, agg, id); blocked {
				o.record(rep.RunID, g, agg, task, attempt, models.TaskOutcome{
					Status: models.OutcomeCancelled,
					Err:    fmt.Errorf("%w: %s", ErrDependencyFailed, dep),
				})
				continue
			}
			if err := ctx.Err(); err != nil {
				o.record(rep.RunID, g, agg, task, attempt, models.TaskOutcome{Status: models.OutcomeCancelled, Err: err})
				continue
			}

			task.Status = models.TaskStatusInProgress
			items = append(items, task.WorkItem(rep.Item.Priority))
		}
		if len(items) == 0 {
			continue
		}

		o.emit(Event{
			Type:    EventLevelStarted,
			RunID:   rep.RunID,
			Phase:   phase.ParallelExecution.String(),
			Message: fmt.Sprintf("level %d: %d tasks (attempt %d)", n, len(items), attempt),
		})

		batch := o.pool.ExecuteParallel(ctx, items, o.executor)
		for _, rec := range batch.Records {
			o.record(rep.RunID, g, agg, rec.Item.Task, attempt, rec.Outcome)
		}
		for _, skipped := range batch.Skipped {
			o.record(rep.RunID, g, agg, skipped.Task, attempt, models.TaskOutcome{Status: models.OutcomeCancelled, Err: ErrNotStarted})
		}
		o.logger.Log("[orchestrator] level %d done: %d/%d succeeded in %s",
			n, batch.SuccessCount, batch.TotalTasks, batch.Duration)
	}
}

// blockedBy returns the first dependency of id without a successful outcome.
func blockedBy(g *graph.DependencyGraph, agg *aggregate.ResultAggregator, id models.TaskID) (models.TaskID, bool) {
	for _, dep := range g.GetDependencies(id) {
		if out, ok := agg.Get(string(dep)); !ok || !out.Succeeded() {
			return dep, true
		}
	}
	return "", false
}

// record applies an outcome to the task, the aggregator, the store and the event stream.
func (o *Orchestrator) record(runID string, g *graph.DependencyGraph, agg *aggregate.ResultAggregator, task *models.Task, attempt int, outcome models.TaskOutcome) {
	now := time.Now()
	task.Error = outcome.ErrorMessage()
	task.RetryCount = attempt - 1
	switch outcome.Status {
	case models.OutcomeSuccess:
		task.Status = models.TaskStatusDone
		task.CompletedAt = &now
	case models.OutcomeCancelled:
		task.Status = models.TaskStatusBlocked
	default:
		task.Status = models.TaskStatusFailed
		task.CompletedAt = &now
		if downstream := g.TransitiveDependents(task.ID); len(downstream) > 0 {
			o.logger.Log("[orchestrator] %s %s, %d dependent tasks will not run", task.ID, outcome.Status, len(downstream))
		}
	}

	agg.AddResult(string(task.ID), outcome)

	if o.store != nil {
		if err := o.store.RecordOutcome(runID, string(task.ID), attempt, outcome); err != nil {
			o.logger.Log("[orchestrator] record outcome %s: %v", task.ID, err)
		}
	}

	ev := Event{
		RunID:     runID,
		TaskID:    string(task.ID),
		TaskTitle: task.Title,
		Phase:     phase.ParallelExecution.String(),
		Error:     outcome.Err,
		Duration:  outcome.Duration,
	}
	switch outcome.Status {
	case models.OutcomeSuccess:
		ev.Type = EventTaskCompleted
	case models.OutcomeCancelled:
		ev.Type = EventTaskCancelled
	default:
		ev.Type = EventTaskFailed
		ev.Message = string(outcome.Status)
	}
	o.emit(ev)
}

func (o *Orchestrator) onTransition(runID string, t phase.Transition) {
	from, to := t.From.String(), t.To.String()
	o.metrics.ObserveTransition(from, to)
	o.logger.Log("[orchestrator] run %s: %s -> %s", runID, from, to)

	if o.store != nil {
		err := o.store.RecordTransition(state.TransitionRecord{RunID: runID, From: from, To: to, At: t.At})
		if err != nil {
			o.logger.Log("[orchestrator] record transition: %v", err)
		}
	}
	o.emit(Event{Type: EventPhaseChanged, RunID: runID, Phase: to, Message: from + " -> " + to, Timestamp: t.At})
}

func (o *Orchestrator) finish(rep *Report, runErr error) {
	status := state.RunCompleted
	errMsg := ""
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		status = state.RunCanceled
		errMsg = runErr.Error()
	default:
		status = state.RunFailed
		errMsg = runErr.Error()
	}

	if o.store != nil {
		if err := o.store.FinishRun(rep.RunID, status, rep.Result.SuccessRate, errMsg); err != nil {
			o.logger.Log("[orchestrator] finish run %s: %v", rep.RunID, err)
		}
	}

	o.logger.Log("[orchestrator] run %s %s at %s in %s", rep.RunID, status, rep.Phase, rep.Duration)
	o.emit(Event{
		Type:     EventRunDone,
		RunID:    rep.RunID,
		Phase:    rep.Phase.String(),
		Message:  string(status),
		Error:    runErr,
		Duration: rep.Duration,
	})
}

func (o *Orchestrator) emit(ev Event) {
	if o.events != nil {
		o.events.Emit(ev)
	}
}

// RunAll runs several work items with at most limit runs in flight.
// Reports are returned in item order; errors of individual runs are joined.
func (o *Orchestrator) RunAll(ctx context.Context, items []models.WorkItem, limit int) ([]*Report, error) {
	reports := make([]*Report, len(items))
	errs := make([]error, len(items))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			rep, err := o.Run(ctx, item)
			reports[i] = rep
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", item.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return reports, errors.Join(errs...)
}
