package outbox

import (
	"context"
	"errors"
)

// Store-related sentinels.
var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("outbox: record not found")

	// ErrStoreUnavailable is returned by Enqueue when the queue runs in
	// degraded no-op mode because no usable store was supplied.
	ErrStoreUnavailable = errors.New("outbox: durable store unavailable")
)

// RecordStore is the durable-store capability the queue persists through.
//
// Requirements:
//   - Put upserts by Record.ID (at most one stored record per id)
//   - List returns every stored record, order unspecified
//   - Delete of a missing id returns ErrNotFound
//
// All queue consumers go through Queue methods; nothing else reads or
// writes records directly.
type RecordStore interface {
	Put(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Record, error)
	Count(ctx context.Context) (int, error)
	Close() error
}
