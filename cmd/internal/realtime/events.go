package realtime

import (
	"sync"

	v1 "cellar/shared/contracts/sync/v1"
)

// EventType identifies one channel notification.
type EventType string

const (
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"

	// EventMessage fires for every valid inbound envelope; the typed
	// events below are re-dispatches for UI consumption.
	EventMessage EventType = "message"
	EventUpdate  EventType = "update"
	EventAction  EventType = "action"
	EventNotice  EventType = "notice"
)

// Event is one channel notification.
type Event struct {
	Type EventType

	// ClientID is the server-assigned session identity. It is empty on
	// EventConnect, which fires at transport open before the connection
	// ack; events dispatched after the ack carry it.
	ClientID string

	// Envelope is set for message-carrying events.
	Envelope *v1.Envelope

	// Typed payloads, set for their respective event types.
	Update *v1.UpdatePayload
	Action *v1.ActionPayload
	Notice *v1.NoticePayload

	// Err carries the failure behind an abrupt disconnect, when one exists.
	Err error
}

// Handler consumes channel events. Handlers run synchronously on the
// channel's read goroutine and must not block.
type Handler func(Event)

type emitter struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]Handler
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[int]Handler)}
}

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
