package outbox

import (
	"sync"
	"time"
)

// EventType identifies one queue lifecycle notification.
type EventType string

const (
	EventQueued         EventType = "queued"
	EventProcessed      EventType = "processed"
	EventDiscarded      EventType = "discarded"
	EventRetryScheduled EventType = "retry-scheduled"
	EventQueueEmpty     EventType = "queue-empty"
)

// DiscardReason explains a discarded record.
type DiscardReason string

const (
	ReasonNonRetryable DiscardReason = "non-retryable-error"
	ReasonMaxRetries   DiscardReason = "max-retries-exceeded"
)

// Event is one queue notification. Record is a defensive copy and is nil
// for EventQueueEmpty.
type Event struct {
	Type   EventType
	Record *Record

	// Reason is set for EventDiscarded.
	Reason DiscardReason
	// Delay is set for EventRetryScheduled.
	Delay time.Duration
	// Err carries the failure behind a discard or retry, when one exists.
	Err error
}

// Handler consumes queue events. Handlers run synchronously on the queue's
// flush goroutine and must not block.
type Handler func(Event)

// emitter is a minimal typed pub/sub owned by the queue. It replaces
// environment-wide custom events with an explicit per-component surface.
type emitter struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]Handler
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[int]Handler)}
}

// subscribe registers fn and returns a cancel func.
func (e *emitter) subscribe(fn Handler) func() {
	if fn == nil {
		return func() {}
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.handlers[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.handlers, id)
		e.mu.Unlock()
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	fns := make([]Handler, 0, len(e.handlers))
	for _, fn := range e.handlers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (e *emitter) reset() {
	e.mu.Lock()
	e.handlers = make(map[int]Handler)
	e.mu.Unlock()
}
