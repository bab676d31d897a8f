package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/issueforge/internal/counters"
	"github.com/ShayCichocki/issueforge/pkg/models"
)

// recordingBackend remembers every trigger and fails items listed in failFor.
type recordingBackend struct {
	mu      sync.Mutex
	calls   []map[string]string
	failFor map[string]bool
}

func (b *recordingBackend) Trigger(ctx context.Context, ref string, inputs map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, inputs)
	if b.failFor[inputs["item_id"]] {
		return "", errors.New("HTTP 502")
	}
	return fmt.Sprintf("%s#%d", ref, len(b.calls)), nil
}

func (b *recordingBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func newDispatcher(t *testing.T, b Backend, limit int, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := New(b, Config{RateLimit: limit, Target: "agent.yml"}, opts...)
	require.NoError(t, err)
	return d
}

func items(ids ...string) []models.WorkItem {
	out := make([]models.WorkItem, len(ids))
	for i, id := range ids {
		out[i] = models.WorkItem{ID: id, Title: "Item " + id, Priority: models.PriorityP1}
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	assert.ErrorIs(t, Config{RateLimit: 0, Target: "x"}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{RateLimit: 1}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{RateLimit: 1, Target: "x", ResetInterval: -1}.Validate(), ErrInvalidConfig)
	assert.NoError(t, Config{RateLimit: 1, Target: "x"}.Validate())

	_, err := New(nil, Config{RateLimit: 1, Target: "x"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDispatchNextBackpressure(t *testing.T) {
	b := &recordingBackend{}
	d := newDispatcher(t, b, 2)
	q := NewQueue(items("a", "b", "c")...)

	r1, ok := d.DispatchNext(context.Background(), q)
	require.True(t, ok)
	assert.True(t, r1.Success)
	assert.Equal(t, "a", r1.ItemID)
	assert.Equal(t, "agent.yml#1", r1.Reference)

	_, ok = d.DispatchNext(context.Background(), q)
	require.True(t, ok)

	_, ok = d.DispatchNext(context.Background(), q)
	assert.False(t, ok, "rate limit reached")
	assert.Equal(t, 1, q.Len(), "throttled call leaves the item queued")
	head, _ := q.Peek()
	assert.Equal(t, "c", head.ID)
	assert.Equal(t, 2, b.callCount())
	assert.Equal(t, 0, d.Stats().RemainingCapacity)

	d.ResetCounter()
	r3, ok := d.DispatchNext(context.Background(), q)
	require.True(t, ok)
	assert.True(t, r3.Success)
	assert.Equal(t, "c", r3.ItemID)
	assert.Equal(t, 0, q.Len())
}

func TestDispatchNextEmptyQueueKeepsCapacity(t *testing.T) {
	c := counters.New()
	d := newDispatcher(t, &recordingBackend{}, 1, WithCounters(c))

	_, ok := d.DispatchNext(context.Background(), NewQueue())
	assert.False(t, ok)
	assert.Equal(t, 0, c.Dispatched())
	assert.Equal(t, 1, d.Stats().RemainingCapacity)
}

func TestDispatchFailureIsRecorded(t *testing.T) {
	b := &recordingBackend{failFor: map[string]bool{"b": true}}
	var hooked []DispatchResult
	d := newDispatcher(t, b, 5, WithResultHook(func(r DispatchResult) { hooked = append(hooked, r) }))
	q := NewQueue(items("a", "b", "c")...)

	assert.Equal(t, 3, d.Drain(context.Background(), q))

	results := d.Results()
	require.Len(t, results, 3)
	assert.False(t, results[1].Success)
	assert.ErrorIs(t, results[1].Err, ErrDispatch)
	assert.Contains(t, results[1].Err.Error(), "HTTP 502")
	assert.True(t, results[2].Success, "the loop continues after a failure")
	assert.Len(t, hooked, 3)

	s := d.Stats()
	assert.Equal(t, Stats{Total: 3, Successful: 2, Failed: 1, RemainingCapacity: 2}, s)
}

func TestDispatchInputsAndBudget(t *testing.T) {
	b := &recordingBackend{}
	d := newDispatcher(t, b, 5)
	q := NewQueue(models.WorkItem{
		ID:       "issue-9",
		Title:    "Fix login",
		Priority: "p0",
		Inputs:   map[string]string{"repo": "acme/web", "item_id": "spoofed"},
	})

	r, ok := d.DispatchNext(context.Background(), q)
	require.True(t, ok)
	assert.Equal(t, 180*time.Minute, r.Budget)

	in := b.calls[0]
	assert.Equal(t, "issue-9", in["item_id"])
	assert.Equal(t, "Fix login", in["title"])
	assert.Equal(t, "acme/web", in["repo"])
	assert.Equal(t, "180", in["runtime_minutes"])
}

func TestRuntimeBudget(t *testing.T) {
	tests := []struct {
		priority models.Priority
		want     time.Duration
	}{
		{"P0", 180 * time.Minute},
		{"P1", 120 * time.Minute},
		{"p2", 90 * time.Minute},
		{"P3", 60 * time.Minute},
		{"", 60 * time.Minute},
		{"urgent", 60 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RuntimeBudget(tt.priority), "priority %q", tt.priority)
	}
}

func TestDispatchNextConcurrentRespectsLimit(t *testing.T) {
	var inFlight, peak atomic.Int64
	slow := BackendFunc(func(ctx context.Context, ref string, inputs map[string]string) (string, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return "ok", nil
	})

	d := newDispatcher(t, slow, 3)
	var qItems []models.WorkItem
	for i := 0; i < 10; i++ {
		qItems = append(qItems, models.WorkItem{ID: fmt.Sprintf("i%d", i)})
	}
	q := NewQueue(qItems...)

	var wg sync.WaitGroup
	var dispatched atomic.Int64
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := d.DispatchNext(context.Background(), q); ok {
				dispatched.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3), dispatched.Load())
	assert.Equal(t, 7, q.Len())
	assert.Greater(t, peak.Load(), int64(1), "backend calls run outside the counter lock")
}

func TestRunResetsAndDrains(t *testing.T) {
	b := &recordingBackend{}
	d, err := New(b, Config{RateLimit: 1, ResetInterval: 20 * time.Millisecond, Target: "agent.yml"})
	require.NoError(t, err)

	q := NewQueue(items("a", "b")...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, q) }()

	q.Push(items("c")[0])
	require.Eventually(t, func() bool { return b.callCount() == 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.Equal(t, 3, d.Stats().Successful)
}
