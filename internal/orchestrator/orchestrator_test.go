package orchestrator

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/issueforge/internal/aggregate"
	"github.com/ShayCichocki/issueforge/internal/decompose"
	"github.com/ShayCichocki/issueforge/internal/graph"
	"github.com/ShayCichocki/issueforge/internal/metrics"
	"github.com/ShayCichocki/issueforge/internal/phase"
	"github.com/ShayCichocki/issueforge/internal/pool"
	"github.com/ShayCichocki/issueforge/internal/state"
	"github.com/ShayCichocki/issueforge/internal/workspace"
	"github.com/ShayCichocki/issueforge/pkg/models"
)

var testItem = models.WorkItem{ID: "issue-1", Title: "Add export", Priority: models.PriorityP1}

// scriptedExecutor fails a task for its first failures[id] attempts and records call order.
type scriptedExecutor struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
	order    []string
}

func newScriptedExecutor(failures map[string]int) *scriptedExecutor {
	if failures == nil {
		failures = map[string]int{}
	}
	return &scriptedExecutor{failures: failures, calls: map[string]int{}}
}

func (e *scriptedExecutor) Execute(_ context.Context, _ *workspace.Workspace, item models.WorkItem) models.TaskOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[item.ID]++
	e.order = append(e.order, item.ID)
	if e.calls[item.ID] <= e.failures[item.ID] {
		return models.Failure(time.Millisecond, errors.New("tests failed"))
	}
	return models.Success(time.Millisecond, item.ID+".out")
}

func (e *scriptedExecutor) callCount(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[id]
}

func (e *scriptedExecutor) position(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, v := range e.order {
		if v == id {
			return i
		}
	}
	return -1
}

type recordingPublisher struct {
	created, reviewed, merged int
	mergeErr                  error
}

func (p *recordingPublisher) CreatePR(context.Context, models.WorkItem, aggregate.AggregatedResult) (string, error) {
	p.created++
	return "pr-17", nil
}

func (p *recordingPublisher) Review(_ context.Context, _ models.WorkItem, ref string) error {
	p.reviewed++
	return nil
}

func (p *recordingPublisher) Merge(context.Context, models.WorkItem, string) error {
	p.merged++
	return p.mergeErr
}

func task(id string, deps ...string) *models.Task {
	t := &models.Task{ID: models.TaskID(id), Title: "task " + id}
	for _, d := range deps {
		t.DependsOn = append(t.DependsOn, models.TaskID(d))
	}
	return t
}

// diamond is a <- {b, c} <- d.
func diamond() []*models.Task {
	return []*models.Task{task("a"), task("b", "a"), task("c", "a"), task("d", "b", "c")}
}

func newTestPool(t *testing.T) *pool.WorktreePool {
	t.Helper()
	provider, err := workspace.NewDirProvider(t.TempDir())
	require.NoError(t, err)
	cfg := pool.DefaultConfig()
	cfg.Timeout = 5 * time.Second
	p, err := pool.New(provider, cfg)
	require.NoError(t, err)
	return p
}

func newTestOrchestrator(t *testing.T, tasks []*models.Task, exec pool.Executor, opts ...Option) *Orchestrator {
	t.Helper()
	base := []Option{
		WithPool(newTestPool(t)),
		WithDecomposer(decompose.NewStaticDecomposer(tasks)),
		WithExecutor(exec),
	}
	o, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return o
}

func phasesOf(transitions []phase.Transition) []phase.Phase {
	out := make([]phase.Phase, len(transitions))
	for i, tr := range transitions {
		out[i] = tr.To
	}
	return out
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(WithDecomposer(decompose.NewStaticDecomposer(diamond())))
	assert.Error(t, err)

	_, err = New(WithPool(newTestPool(t)))
	assert.Error(t, err)

	_, err = New(WithPool(newTestPool(t)), WithDecomposer(decompose.NewStaticDecomposer(diamond())),
		WithQuality(QualityPolicy{RetryBelow: 200}))
	assert.Error(t, err)
}

func TestRunAllSucceed(t *testing.T) {
	exec := newScriptedExecutor(nil)
	pub := &recordingPublisher{}
	o := newTestOrchestrator(t, diamond(), exec, WithPublisher(pub))

	rep, err := o.Run(context.Background(), testItem)
	require.NoError(t, err)

	assert.True(t, rep.Completed())
	assert.Equal(t, phase.AutoMerge, rep.Phase)
	assert.Equal(t, "pr-17", rep.PRRef)
	assert.Equal(t, 4, rep.Result.Total)
	assert.Equal(t, 100.0, rep.Result.SuccessRate)
	assert.NoError(t, rep.Result.Validate())
	assert.Equal(t, []string{"a.out", "b.out", "c.out", "d.out"}, rep.Result.Artifacts)
	assert.Len(t, rep.Levels, 3)
	assert.NotEmpty(t, rep.RunID)

	assert.Equal(t, []phase.Phase{
		phase.TaskDecomposition, phase.WorktreeCreation, phase.CodeGeneration,
		phase.ParallelExecution, phase.QualityCheck, phase.PRCreation,
		phase.CodeReview, phase.AutoMerge,
	}, phasesOf(rep.Transitions))

	assert.Less(t, exec.position("a"), exec.position("b"))
	assert.Less(t, exec.position("a"), exec.position("c"))
	assert.Less(t, exec.position("b"), exec.position("d"))
	assert.Less(t, exec.position("c"), exec.position("d"))

	for _, tk := range rep.Tasks {
		assert.Equal(t, models.TaskStatusDone, tk.Status, "task %s", tk.ID)
		assert.Equal(t, "issue-1", tk.ParentID)
	}
	assert.Equal(t, 1, pub.created)
	assert.Equal(t, 1, pub.reviewed)
	assert.Equal(t, 1, pub.merged)
}

func TestRunCancelsDependentsOfFailedTask(t *testing.T) {
	// a fails every time: b and d sit downstream of it and never run, c is independent.
	tasks := []*models.Task{task("a"), task("b", "a"), task("c"), task("d", "b")}
	exec := newScriptedExecutor(map[string]int{"a": 100})
	o := newTestOrchestrator(t, tasks, exec)

	rep, err := o.Run(context.Background(), testItem)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQualityGate)
	assert.False(t, rep.Completed())
	assert.Equal(t, phase.QualityCheck, rep.Phase)
	assert.Equal(t, 2, rep.Retries)

	assert.Equal(t, 3, exec.callCount("a"))
	assert.Equal(t, 1, exec.callCount("c"))
	assert.Zero(t, exec.callCount("b"))
	assert.Zero(t, exec.callCount("d"))

	assert.Equal(t, 4, rep.Result.Total)
	assert.Equal(t, 1, rep.Result.Successful)
	assert.Equal(t, 3, rep.Result.Failed)
	assert.InDelta(t, 25.0, rep.Result.SuccessRate, 0.01)

	byID := map[models.TaskID]*models.Task{}
	for _, tk := range rep.Tasks {
		byID[tk.ID] = tk
	}
	assert.Equal(t, models.TaskStatusFailed, byID["a"].Status)
	assert.Equal(t, models.TaskStatusBlocked, byID["b"].Status)
	assert.Equal(t, models.TaskStatusBlocked, byID["d"].Status)
	assert.Contains(t, byID["b"].Error, ErrDependencyFailed.Error())
	assert.Equal(t, 2, byID["a"].RetryCount)
}

func TestRunRetryRecovers(t *testing.T) {
	exec := newScriptedExecutor(map[string]int{"a": 1})
	o := newTestOrchestrator(t, diamond(), exec)

	rep, err := o.Run(context.Background(), testItem)
	require.NoError(t, err)

	assert.True(t, rep.Completed())
	assert.Equal(t, 1, rep.Retries)
	assert.Equal(t, 100.0, rep.Result.SuccessRate)
	assert.Equal(t, 2, exec.callCount("a"))
	assert.Equal(t, 1, exec.callCount("b"))
	assert.Equal(t, 1, exec.callCount("d"))

	phases := phasesOf(rep.Transitions)
	assert.Contains(t, phases, phase.CodeGeneration)
	var sawRetry bool
	for _, tr := range rep.Transitions {
		if tr.From == phase.QualityCheck && tr.To == phase.CodeGeneration {
			sawRetry = true
		}
	}
	assert.True(t, sawRetry)
}

func TestRunPartialSuccessOpensPR(t *testing.T) {
	// One of three independent tasks fails: 66.67% is above the retry threshold.
	tasks := []*models.Task{task("a"), task("b"), task("c")}
	exec := newScriptedExecutor(map[string]int{"b": 100})
	pub := &recordingPublisher{}
	o := newTestOrchestrator(t, tasks, exec, WithPublisher(pub))

	rep, err := o.Run(context.Background(), testItem)
	require.NoError(t, err)

	assert.InDelta(t, 66.67, rep.Result.SuccessRate, 0.01)
	require.Len(t, rep.Result.Errors, 1)
	assert.Equal(t, "b", rep.Result.Errors[0].UnitID)
	assert.Zero(t, rep.Retries)
	assert.Equal(t, 1, pub.created)
	assert.True(t, rep.Completed())
}

func TestRunSkipsPRCreation(t *testing.T) {
	pub := &recordingPublisher{}
	o := newTestOrchestrator(t, diamond(), newScriptedExecutor(nil),
		WithPublisher(pub),
		WithQuality(QualityPolicy{RetryBelow: 50, SkipReviewAt: 100, AllowSkip: true}))

	rep, err := o.Run(context.Background(), testItem)
	require.NoError(t, err)

	assert.NotContains(t, phasesOf(rep.Transitions), phase.PRCreation)
	assert.Zero(t, pub.created)
	assert.Equal(t, 1, pub.reviewed)
	assert.Empty(t, rep.PRRef)
	assert.True(t, rep.Completed())
}

func TestRunMergeFailure(t *testing.T) {
	pub := &recordingPublisher{mergeErr: errors.New("branch protected")}
	o := newTestOrchestrator(t, diamond(), newScriptedExecutor(nil), WithPublisher(pub))

	rep, err := o.Run(context.Background(), testItem)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "branch protected")
	assert.Equal(t, phase.AutoMerge, rep.Phase)
	assert.False(t, rep.Completed())
}

func TestRunRejectsCycle(t *testing.T) {
	tasks := []*models.Task{task("a", "b"), task("b", "a")}
	exec := newScriptedExecutor(nil)
	o := newTestOrchestrator(t, tasks, exec)

	rep, err := o.Run(context.Background(), testItem)
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrCycleDetected)
	assert.Equal(t, phase.TaskDecomposition, rep.Phase)
	assert.Zero(t, exec.callCount("a"))
}

func TestRunRejectsEmptyItem(t *testing.T) {
	o := newTestOrchestrator(t, diamond(), newScriptedExecutor(nil))

	rep, err := o.Run(context.Background(), models.WorkItem{})
	assert.ErrorIs(t, err, ErrInvalidItem)
	assert.Equal(t, phase.IssueAnalysis, rep.Phase)
	assert.Empty(t, rep.Transitions)
}

func TestRunDecomposeError(t *testing.T) {
	boom := errors.New("model unavailable")
	o, err := New(
		WithPool(newTestPool(t)),
		WithDecomposer(decompose.DecomposerFunc(func(context.Context, models.WorkItem) ([]*models.Task, error) {
			return nil, boom
		})),
	)
	require.NoError(t, err)

	rep, err := o.Run(context.Background(), testItem)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, phase.TaskDecomposition, rep.Phase)
}

func TestRunRejectsEmptyDecomposition(t *testing.T) {
	exec := newScriptedExecutor(nil)
	pub := &recordingPublisher{}
	o, err := New(
		WithPool(newTestPool(t)),
		WithExecutor(exec),
		WithPublisher(pub),
		WithDecomposer(decompose.DecomposerFunc(func(context.Context, models.WorkItem) ([]*models.Task, error) {
			return nil, nil
		})),
	)
	require.NoError(t, err)

	rep, err := o.Run(context.Background(), testItem)
	assert.ErrorIs(t, err, decompose.ErrEmptyDecomposition)
	assert.NotErrorIs(t, err, ErrQualityGate)
	assert.Equal(t, phase.TaskDecomposition, rep.Phase)
	assert.Zero(t, rep.Retries)
	assert.Zero(t, pub.created)
}

func TestRunCancelledContext(t *testing.T) {
	db, err := state.OpenAndMigrate(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newTestOrchestrator(t, diamond(), newScriptedExecutor(nil), WithStore(db))
	rep, err := o.Run(ctx, testItem)
	assert.ErrorIs(t, err, context.Canceled)

	run, err := db.GetRun(rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.RunCanceled, run.Status)
}

func TestRunPersistsHistory(t *testing.T) {
	db, err := state.OpenAndMigrate(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(reg)

	tasks := []*models.Task{task("a"), task("b", "a")}
	o := newTestOrchestrator(t, tasks, newScriptedExecutor(map[string]int{"a": 1}), WithStore(db), WithMetrics(m))

	rep, err := o.Run(context.Background(), testItem)
	require.NoError(t, err)

	run, err := db.GetRun(rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, state.RunCompleted, run.Status)
	assert.Equal(t, "AutoMerge", run.Phase)
	assert.Equal(t, 100.0, run.SuccessRate)
	assert.Equal(t, "issue-1", run.WorkItemID)

	transitions, err := db.ListTransitions(rep.RunID)
	require.NoError(t, err)
	assert.Len(t, transitions, len(rep.Transitions))

	// attempt 1: a failed, b cancelled; attempt 2: both succeeded.
	outcomes, err := db.ListOutcomes(rep.RunID)
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `issueforge_phase_transitions_total{from="QualityCheck",to="CodeGeneration"} 1`)
}

func TestRunEvents(t *testing.T) {
	tasks := []*models.Task{task("a"), task("b", "a")}
	o := newTestOrchestrator(t, tasks, newScriptedExecutor(map[string]int{"a": 100}),
		WithEvents(256), WithQuality(QualityPolicy{RetryBelow: 50, SkipReviewAt: 100}))

	_, err := o.Run(context.Background(), testItem)
	require.ErrorIs(t, err, ErrQualityGate)
	o.Close()

	var events []Event
	for ev := range o.Events() {
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	assert.Equal(t, EventRunStarted, events[0].Type)
	assert.Equal(t, EventRunDone, events[len(events)-1].Type)

	counts := map[EventType]int{}
	for _, ev := range events {
		counts[ev.Type]++
		assert.False(t, ev.Timestamp.IsZero())
	}
	assert.Equal(t, 1, counts[EventTaskFailed])
	assert.Equal(t, 1, counts[EventTaskCancelled])
	assert.Equal(t, 1, counts[EventLevelStarted])
	assert.Equal(t, 5, counts[EventPhaseChanged])
}

func TestRunAll(t *testing.T) {
	exec := newScriptedExecutor(nil)
	o := newTestOrchestrator(t, []*models.Task{task("a")}, exec)

	items := []models.WorkItem{
		{ID: "issue-1", Priority: models.PriorityP1},
		{ID: "issue-2", Priority: models.PriorityP2},
		{},
	}
	reports, err := o.RunAll(context.Background(), items, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidItem)

	require.Len(t, reports, 3)
	assert.True(t, reports[0].Completed())
	assert.True(t, reports[1].Completed())
	assert.False(t, reports[2].Completed())
	assert.NotEqual(t, reports[0].RunID, reports[1].RunID)
	assert.Equal(t, 2, exec.callCount("a"))
}
