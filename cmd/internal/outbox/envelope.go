package outbox

import (
	"encoding/json"
	"fmt"
	"time"
)

// Metadata attributes a delivery attempt so the receiving side can
// deduplicate redelivered operations and attribute the change.
type Metadata struct {
	OperationID string    `json:"operation_id"`
	Origin      string    `json:"origin"`
	Actor       string    `json:"actor,omitempty"`
	StampedAt   time.Time `json:"stamped_at"`
}

// Envelope wraps a structured mutation body with its sync metadata. The
// wire shape is {"payload": ..., "sync": {...}}; the payload itself is
// never mutated.
type Envelope struct {
	Payload json.RawMessage `json:"payload"`
	Sync    Metadata        `json:"sync"`
}

// stampBody wraps a structured record body with fresh metadata. Attempts
// may run long after enqueue, so StampedAt is refreshed on every call.
func stampBody(r *Record, origin, actor string, now time.Time) ([]byte, error) {
	if !r.Structured {
		return r.Body, nil
	}

	payload := r.Body
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	env := Envelope{
		Payload: payload,
		Sync: Metadata{
			OperationID: r.ID,
			Origin:      origin,
			Actor:       actor,
			StampedAt:   now.UTC(),
		},
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("outbox: stamp body: %w", err)
	}
	return data, nil
}
