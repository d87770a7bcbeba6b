package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// Close codes mirrored from RFC 6455 so callers do not need to import the
// websocket package to distinguish clean from abrupt closes.
const (
	CodeNormal    = 1000
	CodeGoingAway = 1001
	CodeAbnormal  = 1006
)

// CloseError reports the peer's close status on a duplex channel.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("transport: channel closed: code=%d reason=%q", e.Code, e.Reason)
}

// Clean reports whether the close was intentional.
func (e *CloseError) Clean() bool {
	return e != nil && e.Code == CodeNormal
}

// ErrChannelUnavailable is returned when a duplex channel cannot be
// constructed at all (bad URL, dial refused before any handshake).
var ErrChannelUnavailable = errors.New("transport: channel unavailable")

// IsTransient reports whether err looks like a transient transport failure
// (timeout, connection reset, interrupted dial) that a retry may fix.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}

	var ce *CloseError
	if errors.As(err, &ce) {
		return !ce.Clean()
	}

	return false
}
