package outbox

import (
	"strings"

	"cellar/cmd/internal/transport"
)

// network-failure vocabulary used as a last-resort heuristic when an error
// carries no recognized category. Mirrors what flaky links actually say.
var transientVocabulary = []string{
	"connection",
	"timeout",
	"timed out",
	"network",
	"temporarily unavailable",
	"broken pipe",
	"reset by peer",
}

// ShouldRetry classifies one delivery failure.
//
// Precedence: a response status (when present) is authoritative; otherwise
// the transport's error category decides; the vocabulary match is a
// fallback only. Anything else is terminal and discards immediately.
func ShouldRetry(p RetryPolicy, resp *transport.Response, err error) bool {
	if p.Disabled {
		return false
	}

	if resp != nil {
		return p.RetryableStatus(resp.StatusCode)
	}
	if err == nil {
		return false
	}

	if transport.IsTransient(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, word := range transientVocabulary {
		if strings.Contains(msg, word) {
			return true
		}
	}
	return false
}
