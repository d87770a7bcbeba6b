package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a RecordStore backed by an embedded SQLite database
// (modernc.org/sqlite, pure Go, no CGO). It is an alternative to BoltStore
// for deployments that already ship a SQLite file for the catalog.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS outbox_records (
	id              TEXT PRIMARY KEY,
	endpoint        TEXT NOT NULL,
	method          TEXT NOT NULL,
	headers         TEXT NOT NULL DEFAULT '{}',
	body            BLOB,
	structured      INTEGER NOT NULL DEFAULT 0,
	queued_at       INTEGER NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	next_attempt_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbox_next_attempt ON outbox_records(next_attempt_at);
`

// OpenSQLiteStore opens (creating if needed) the outbox database at path.
// WAL mode is enabled and writers are serialized through a single
// connection, which is how SQLite wants to be used.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("outbox: create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("outbox: open sqlite store: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("outbox: enable WAL: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("outbox: init schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put upserts a record by id.
func (s *SQLiteStore) Put(ctx context.Context, r *Record) error {
	if r == nil || r.ID == "" {
		return errors.New("outbox: invalid record")
	}

	headers, err := json.Marshal(r.Headers)
	if err != nil {
		return fmt.Errorf("outbox: encode headers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO outbox_records
			(id, endpoint, method, headers, body, structured, queued_at, attempts, last_error, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			endpoint = excluded.endpoint,
			method = excluded.method,
			headers = excluded.headers,
			body = excluded.body,
			structured = excluded.structured,
			queued_at = excluded.queued_at,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			next_attempt_at = excluded.next_attempt_at`,
		r.ID, r.Endpoint, r.Method, string(headers), r.Body, boolToInt(r.Structured),
		r.QueuedAt.UTC().UnixMilli(), r.Attempts, r.LastError, r.NextAttemptAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("outbox: put record: %w", err)
	}
	return nil
}

// Get returns the record for id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, endpoint, method, headers, body, structured, queued_at, attempts, last_error, next_attempt_at
		FROM outbox_records WHERE id = ?`, id)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// Delete removes a record.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbox_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("outbox: delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all stored records.
func (s *SQLiteStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, endpoint, method, headers, body, structured, queued_at, attempts, last_error, next_attempt_at
		FROM outbox_records ORDER BY next_attempt_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("outbox: list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("outbox: count records: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r          Record
		headers    string
		structured int
		queuedAt   int64
		nextAt     int64
	)

	err := row.Scan(&r.ID, &r.Endpoint, &r.Method, &headers, &r.Body, &structured,
		&queuedAt, &r.Attempts, &r.LastError, &nextAt)
	if err != nil {
		return nil, err
	}

	if headers != "" && headers != "{}" {
		if err := json.Unmarshal([]byte(headers), &r.Headers); err != nil {
			return nil, fmt.Errorf("outbox: decode headers for %s: %w", r.ID, err)
		}
	}
	r.Structured = structured != 0
	r.QueuedAt = time.UnixMilli(queuedAt).UTC()
	r.NextAttemptAt = time.UnixMilli(nextAt).UTC()
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
