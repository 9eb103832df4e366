package orchestrator

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// emitTimeout is how long Emit waits on a full buffer before dropping.
const emitTimeout = 100 * time.Millisecond

// EventEmitter delivers events to a single subscriber over a buffered channel.
// A slow subscriber loses events rather than stalling the run.
type EventEmitter struct {
	mu      sync.RWMutex
	events  chan Event
	closed  bool
	dropped atomic.Uint64
}

// NewEventEmitter creates an emitter buffering up to bufferSize events.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit publishes event. Emit on a nil or closed emitter is a no-op.
func (e *EventEmitter) Emit(event Event) {
	if e == nil {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.events <- event:
		return
	default:
	}

	timer := time.NewTimer(emitTimeout)
	defer timer.Stop()
	select {
	case e.events <- event:
	case <-timer.C:
		if n := e.dropped.Add(1); n%10 == 1 {
			log.Printf("[orchestrator] event buffer full, dropped %s for run %s (%d dropped so far)", event.Type, event.RunID, n)
		}
	}
}

// DroppedCount returns how many events were dropped on a full buffer.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.dropped.Load()
}

// Events returns the subscriber's channel. It is closed by Close.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel once.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}
