package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"cellar/cmd/internal/backoff"
	"cellar/cmd/internal/transport"
)

// OnlineFunc reports current network reachability. A nil func means
// "always online".
type OnlineFunc func() bool

// Config wires a Queue. All knobs are explicit; there is no package-level
// default state.
type Config struct {
	Policy RetryPolicy

	// Origin tags this installation in stamped sync metadata so clients
	// can recognize echoes of their own writes.
	Origin string
	// Actor identifies the crew member or device behind the writes.
	Actor string

	// Online gates delivery attempts; the queue checks it per record
	// during a flush pass.
	Online OnlineFunc
}

// Queue is the durable mutation outbox.
//
// Concurrency model: Flush is single-flight; a pass is strictly sequential
// and never issues two outbound requests at once. There is at most one
// outstanding wake-up timer; rescheduling cancels the previous one.
type Queue struct {
	log    *slog.Logger
	store  RecordStore
	exec   transport.Executor
	cfg    Config
	events *emitter

	now func() time.Time

	flushing atomic.Bool

	mu        sync.Mutex
	timer     *time.Timer
	destroyed bool
}

// NewQueue constructs a queue. A nil store puts the queue into degraded
// no-op mode: Enqueue fails with ErrStoreUnavailable and Flush does
// nothing, but nothing panics.
func NewQueue(log *slog.Logger, store RecordStore, exec transport.Executor, cfg Config) *Queue {
	if log == nil {
		log = slog.Default()
	}
	cfg.Policy = cfg.Policy.normalized()

	q := &Queue{
		log:    log,
		store:  store,
		exec:   exec,
		cfg:    cfg,
		events: newEmitter(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	if store == nil {
		log.Warn("outbox.store.unavailable", "mode", "disabled")
	}
	return q
}

// Notify registers a lifecycle event handler and returns a cancel func.
func (q *Queue) Notify(fn Handler) func() {
	return q.events.subscribe(fn)
}

// Enqueue persists a mutation and schedules an immediate flush attempt.
// It fails fast on read verbs (contract violation) and on a missing store;
// everything after this call is reported through events only.
func (q *Queue) Enqueue(ctx context.Context, m Mutation) (*Record, error) {
	if !IsMutating(m.Method) {
		return nil, &ReadVerbError{Method: m.Method}
	}
	if q.store == nil {
		return nil, ErrStoreUnavailable
	}

	now := q.now()

	id := m.ID
	if id == "" {
		var err error
		id, err = NewOperationID(now)
		if err != nil {
			return nil, err
		}
	}

	headers := canonicalHeaders(m.Headers)
	rec := &Record{
		ID:            id,
		Endpoint:      m.Endpoint,
		Method:        m.Method,
		Headers:       headers,
		Body:          append([]byte(nil), m.Body...),
		Structured:    isStructured(headers),
		QueuedAt:      now,
		NextAttemptAt: now,
	}

	if err := q.store.Put(ctx, rec); err != nil {
		return nil, err
	}

	q.log.Debug("outbox.enqueue", "id", rec.ID, "method", rec.Method, "endpoint", rec.Endpoint)
	q.events.emit(Event{Type: EventQueued, Record: rec.Clone()})

	q.schedule(0)
	return rec.Clone(), nil
}

// Pending returns the number of stored records.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	if q.store == nil {
		return 0, nil
	}
	return q.store.Count(ctx)
}

// Flush runs one delivery pass. If a pass is already running the call is a
// no-op that reports the current pending count instead of queuing a second
// pass.
func (q *Queue) Flush(ctx context.Context) (int, error) {
	if q.store == nil {
		return 0, nil
	}
	if !q.flushing.CompareAndSwap(false, true) {
		return q.Pending(ctx)
	}
	defer q.flushing.Store(false)

	records, err := q.store.List(ctx)
	if err != nil {
		q.log.Error("outbox.flush.load_fail", "err", err)
		return 0, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].DueAt().Before(records[j].DueAt())
	})

	// wake tracks the earliest time a skipped or rescheduled record
	// becomes due again. Zero means nothing is waiting.
	var wake time.Time
	remember := func(t time.Time) {
		if wake.IsZero() || t.Before(wake) {
			wake = t
		}
	}

pass:
	for _, rec := range records {
		if q.closed() {
			return 0, nil
		}

		now := q.now()

		if due := rec.DueAt(); due.After(now) {
			remember(due)
			continue
		}

		if q.cfg.Online != nil && !q.cfg.Online() {
			// Offline: stop the whole pass, wake again shortly.
			remember(now.Add(q.cfg.Policy.Backoff.Base))
			q.log.Debug("outbox.flush.offline", "pending", len(records))
			break pass
		}

		resp, err := q.deliver(ctx, rec, now)
		if err == nil && resp.OK() {
			if derr := q.store.Delete(ctx, rec.ID); derr != nil && !errors.Is(derr, ErrNotFound) {
				q.log.Error("outbox.flush.delete_fail", "id", rec.ID, "err", derr)
			}
			rec.Attempts++
			q.log.Info("outbox.processed", "id", rec.ID, "attempts", rec.Attempts)
			q.events.emit(Event{Type: EventProcessed, Record: rec.Clone()})
			continue
		}

		failure := err
		if failure == nil {
			failure = &StatusError{Code: resp.StatusCode}
		}
		var respForClassify *transport.Response
		if err == nil {
			respForClassify = resp
		}

		rec.Attempts++
		rec.LastError = failure.Error()

		retryable := ShouldRetry(q.cfg.Policy, respForClassify, err)

		switch {
		case !retryable:
			q.discard(ctx, rec, ReasonNonRetryable, failure)
			continue

		case rec.Attempts >= q.cfg.Policy.MaxAttempts:
			q.discard(ctx, rec, ReasonMaxRetries, failure)
			continue

		default:
			delay := backoff.Delay(rec.Attempts, q.cfg.Policy.Backoff)
			rec.NextAttemptAt = now.Add(delay)
			if perr := q.store.Put(ctx, rec); perr != nil {
				q.log.Error("outbox.flush.persist_fail", "id", rec.ID, "err", perr)
			}
			q.log.Warn("outbox.retry_scheduled",
				"id", rec.ID, "attempts", rec.Attempts, "delay", delay, "err", failure)
			q.events.emit(Event{Type: EventRetryScheduled, Record: rec.Clone(), Delay: delay, Err: failure})
			remember(rec.NextAttemptAt)

			// One retryable failure stops the pass: a struggling backend
			// gets breathing room instead of the rest of the backlog.
			break pass
		}
	}

	pending, err := q.store.Count(ctx)
	if err != nil {
		return 0, err
	}

	if pending == 0 {
		q.cancelTimer()
		q.events.emit(Event{Type: EventQueueEmpty})
		return 0, nil
	}

	// Always leave a timer armed while records remain. A zero wake means
	// the pass never saw the surviving records (they were enqueued after
	// the list was loaded, while this pass held the flush guard), so
	// without a fallback they would wait for an unrelated trigger.
	delay := q.cfg.Policy.Backoff.Base
	if !wake.IsZero() {
		if d := wake.Sub(q.now()); d > delay {
			delay = d
		}
	}
	q.schedule(delay)
	return pending, nil
}

// Destroy cancels the wake-up timer and detaches handlers. An in-flight
// request is not cancelled; its resolution is ignored.
func (q *Queue) Destroy() {
	q.mu.Lock()
	q.destroyed = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.mu.Unlock()

	q.events.reset()
}

// ---- internals ----

func (q *Queue) deliver(ctx context.Context, rec *Record, now time.Time) (*transport.Response, error) {
	body, err := stampBody(rec, q.cfg.Origin, q.cfg.Actor, now)
	if err != nil {
		return nil, err
	}

	return q.exec.Do(ctx, transport.Request{
		Method:   rec.Method,
		Endpoint: rec.Endpoint,
		Headers:  rec.Headers,
		Body:     body,
	})
}

func (q *Queue) discard(ctx context.Context, rec *Record, reason DiscardReason, cause error) {
	if err := q.store.Delete(ctx, rec.ID); err != nil && !errors.Is(err, ErrNotFound) {
		q.log.Error("outbox.discard.delete_fail", "id", rec.ID, "err", err)
	}
	q.log.Warn("outbox.discarded", "id", rec.ID, "reason", string(reason), "attempts", rec.Attempts, "err", cause)
	q.events.emit(Event{Type: EventDiscarded, Record: rec.Clone(), Reason: reason, Err: cause})
}

// schedule arms the single wake-up timer, cancelling any previous one.
func (q *Queue) schedule(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.destroyed {
		return
	}
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(d, func() {
		if _, err := q.Flush(context.Background()); err != nil {
			q.log.Error("outbox.flush.fail", "err", err)
		}
	})
}

func (q *Queue) cancelTimer() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (q *Queue) closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.destroyed
}
