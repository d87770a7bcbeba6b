// Package transport defines the two I/O capabilities the sync core depends
// on: a one-shot request executor and a duplex channel for the realtime
// link. Production implementations (net/http, websocket) live here too, so
// the outbox and realtime packages stay portable across hosting
// environments.
package transport

import (
	"context"
	"net/http"
)

// Request is a single mutation delivery attempt.
type Request struct {
	Method   string
	Endpoint string
	Headers  map[string]string
	Body     []byte
}

// Response is the executor's answer. A non-2xx status is returned as a
// Response, not an error; errors are reserved for transport-level failures
// (no response was obtained at all).
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// OK reports whether the response status is in the 2xx range.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Executor fires one request and yields one response or error.
type Executor interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// DuplexChannel is one open bidirectional link. Implementations own exactly
// one underlying connection; the channel is never shared or pooled.
type DuplexChannel interface {
	// Send writes one message frame.
	Send(ctx context.Context, data []byte) error

	// Receive blocks until the next inbound frame. A clean peer close is
	// returned as a *CloseError with CodeNormal.
	Receive(ctx context.Context) ([]byte, error)

	// Close terminates the link with a clean close code. Idempotent.
	Close(reason string) error
}

// Dialer opens duplex channels.
type Dialer interface {
	Dial(ctx context.Context, url string) (DuplexChannel, error)
}
