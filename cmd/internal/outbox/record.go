package outbox

import (
	"crypto/rand"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Mutation is the caller-facing write request handed to Enqueue.
type Mutation struct {
	// ID is optional. When supplied it is used verbatim as the idempotency
	// key; enqueuing twice with the same ID overwrites the earlier record.
	ID string

	Endpoint string
	Method   string
	Headers  map[string]string
	Body     []byte
}

// Record is one pending write awaiting delivery.
type Record struct {
	ID       string            `json:"id"`
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     []byte            `json:"body,omitempty"`

	// Structured marks JSON bodies; only those receive the sync metadata
	// envelope before delivery.
	Structured bool `json:"structured"`

	QueuedAt      time.Time `json:"queued_at"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

// DueAt is the sort key for flush passes.
func (r *Record) DueAt() time.Time {
	if !r.NextAttemptAt.IsZero() {
		return r.NextAttemptAt
	}
	return r.QueuedAt
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Headers != nil {
		out.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			out.Headers[k] = v
		}
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return &out
}

// Mutating verbs accepted by Enqueue. Read verbs are a contract violation,
// not a retryable condition.
var mutatingMethods = map[string]struct{}{
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// IsMutating reports whether method is one of the accepted write verbs.
func IsMutating(method string) bool {
	_, ok := mutatingMethods[strings.ToUpper(strings.TrimSpace(method))]
	return ok
}

// canonicalHeaders normalizes header keys so lookups are case-insensitive.
func canonicalHeaders(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[http.CanonicalHeaderKey(strings.TrimSpace(k))] = v
	}
	return out
}

// isStructured reports whether the headers declare a structured (JSON) body.
func isStructured(headers map[string]string) bool {
	ct := strings.ToLower(headers["Content-Type"])
	return strings.Contains(ct, "application/json") || strings.HasSuffix(ct, "+json")
}

// NewOperationID returns a ULID used as operation idempotency key.
// ULID is preferable to random hex for tracing and ordering in logs.
func NewOperationID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
