package dispatch

import (
	"sync"

	"github.com/ShayCichocki/issueforge/pkg/models"
)

// Queue is a FIFO of work items waiting for dispatch. It is safe for
// concurrent use; Ready signals when items are pushed.
type Queue struct {
	mu    sync.Mutex
	items []models.WorkItem
	ready chan struct{}
}

// NewQueue returns a queue holding items in order.
func NewQueue(items ...models.WorkItem) *Queue {
	q := &Queue{ready: make(chan struct{}, 1)}
	q.items = append(q.items, items...)
	return q
}

// Push appends an item.
func (q *Queue) Push(item models.WorkItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signal()
}

// PushFront puts an item back at the head of the queue.
func (q *Queue) PushFront(item models.WorkItem) {
	q.mu.Lock()
	q.items = append([]models.WorkItem{item}, q.items...)
	q.mu.Unlock()
	q.signal()
}

// Pop removes and returns the head item.
func (q *Queue) Pop() (models.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return models.WorkItem{}, false
	}
	item := q.items[0]
	q.items[0] = models.WorkItem{}
	q.items = q.items[1:]
	return item, true
}

// Peek returns the head item without removing it.
func (q *Queue) Peek() (models.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return models.WorkItem{}, false
	}
	return q.items[0], true
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Ready is signalled, at most once per batch of pushes, when items arrive.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
