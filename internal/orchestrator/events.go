package orchestrator

import (
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/issueforge/internal/logging"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventRunStarted indicates a run has been created.
	EventRunStarted EventType = "run_started"
	// EventPhaseChanged indicates the phase machine accepted a transition.
	EventPhaseChanged EventType = "phase_changed"
	// EventLevelStarted indicates a dependency level was handed to the pool.
	EventLevelStarted EventType = "level_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed or timed out.
	EventTaskFailed EventType = "task_failed"
	// EventTaskCancelled indicates a task was not run because a dependency failed
	// or the run was cancelled.
	EventTaskCancelled EventType = "task_cancelled"
	// EventRunDone indicates the run finished, successfully or not.
	EventRunDone EventType = "run_done"
)

// Event represents an event emitted by the orchestrator.
type Event struct {
	Type  EventType
	RunID string
	// TaskID and TaskTitle are set for task events.
	TaskID    string
	TaskTitle string
	// Phase is the phase the run is in after the event.
	Phase   string
	Message string
	Error   error
	// Duration is the task runtime for task events and the run time for EventRunDone.
	Duration  time.Duration
	Timestamp time.Time
}

// EventEmitter delivers events to a single subscriber over a buffered channel.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	logger       logging.Logger
}

// NewEventEmitter creates an emitter with the given buffer size.
func NewEventEmitter(bufferSize int, logger logging.Logger) *EventEmitter {
	if logger == nil {
		logger = logging.Nop()
	}
	return &EventEmitter{
		events: make(chan Event, bufferSize),
		logger: logger,
	}
}

// Emit sends an event. If the buffer stays full for 100ms the event is dropped.
func (e *EventEmitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			e.logger.Log("[orchestrator] event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel.
func (e *EventEmitter) Close() {
	close(e.events)
}
