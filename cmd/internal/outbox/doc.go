// Package outbox implements the durable mutation queue at the heart of the
// offline-first sync engine.
//
// Writes enter through Enqueue, survive restarts in a RecordStore, and are
// drained by single-flight Flush passes through a transport.Executor.
// Delivery failures are classified as retryable or terminal; retryable ones
// reschedule the record with backoff, terminal ones discard it. Progress is
// observable only through emitted events, never through errors returned to
// the original caller.
package outbox
