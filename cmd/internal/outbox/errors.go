package outbox

import "fmt"

// ReadVerbError is returned by Enqueue when the caller supplies a
// non-mutating verb. This is a contract violation, not a retryable
// condition, and nothing is persisted.
type ReadVerbError struct {
	Method string
}

func (e *ReadVerbError) Error() string {
	return fmt.Sprintf("outbox: non-mutating method %q cannot be queued", e.Method)
}

// StatusError represents a delivery attempt that produced a non-2xx
// response. It keeps the status visible in Record.LastError and events.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("outbox: delivery failed with status %d", e.Code)
}
