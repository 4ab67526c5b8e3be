package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventEmitter handles event emission for the orchestrator.
// It provides a simple, thread-safe way to emit events to a subscriber.
type EventEmitter struct {
	events       chan OrchestratorEvent
	droppedCount atomic.Uint64
	closeOnce    sync.Once
	closed       atomic.Bool
	sendTimeout  time.Duration

	debugLog atomic.Pointer[func(format string, args ...interface{})]
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events:      make(chan OrchestratorEvent, bufferSize),
		sendTimeout: 100 * time.Millisecond,
	}
}

// Emit sends an event to the events channel.
// If the channel is full, it waits briefly before dropping the event.
// Emit on a nil or closed emitter is a no-op.
func (e *EventEmitter) Emit(event OrchestratorEvent) {
	if e == nil || e.closed.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	defer func() {
		// Close raced with this send.
		_ = recover()
	}()

	select {
	case e.events <- event:
		return
	default:
	}

	timer := time.NewTimer(e.sendTimeout)
	defer timer.Stop()
	select {
	case e.events <- event:
	case <-timer.C:
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			e.logDebug("event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// setDebugLog attaches the drop logger. The first orchestrator to use the
// emitter wins; nil-safe.
func (e *EventEmitter) setDebugLog(fn func(format string, args ...interface{})) {
	if e == nil || fn == nil {
		return
	}
	e.debugLog.CompareAndSwap(nil, &fn)
}

func (e *EventEmitter) logDebug(format string, args ...interface{}) {
	if fn := e.debugLog.Load(); fn != nil {
		(*fn)(format, args...)
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
func (e *EventEmitter) Events() <-chan OrchestratorEvent {
	return e.events
}

// Close closes the events channel. Safe to call more than once.
func (e *EventEmitter) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.events)
	})
}
