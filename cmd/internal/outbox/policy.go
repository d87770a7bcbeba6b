package outbox

import (
	"net/http"
	"time"

	"cellar/cmd/internal/backoff"
)

// RetryPolicy governs failure handling for queued records. It is plain
// configuration, passed in at construction and never persisted.
type RetryPolicy struct {
	// Disabled turns retries off entirely: every failure is terminal.
	Disabled bool

	Backoff     backoff.Policy
	MaxAttempts int

	// RetryableStatuses lists individual status codes worth retrying.
	RetryableStatuses []int
	// RetryServerErrors additionally retries the whole 5xx family.
	RetryServerErrors bool
}

// DefaultRetryPolicy matches the shipped client defaults: exponential
// backoff from 2s capped at 60s, up to 5 attempts, jitter below 1s, and
// retries on request timeout, throttling, and server errors.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Backoff: backoff.Policy{
			Strategy:  backoff.StrategyExponential,
			Base:      2 * time.Second,
			MaxDelay:  60 * time.Second,
			Jitter:    true,
			MaxJitter: time.Second,
		},
		MaxAttempts: 5,
		RetryableStatuses: []int{
			http.StatusRequestTimeout,
			http.StatusTooManyRequests,
		},
		RetryServerErrors: true,
	}
}

// RetryableStatus reports whether a response status code is retryable
// under this policy.
func (p RetryPolicy) RetryableStatus(code int) bool {
	if p.RetryServerErrors && code >= 500 && code <= 599 {
		return true
	}
	for _, c := range p.RetryableStatuses {
		if c == code {
			return true
		}
	}
	return false
}

// normalized fills unset fields with safe values.
func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if p.Backoff.Base <= 0 {
		p.Backoff.Base = DefaultRetryPolicy().Backoff.Base
	}
	return p
}
