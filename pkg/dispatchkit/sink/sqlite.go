package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// timeLayout sorts lexically in time order, unlike RFC3339Nano.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrSinkClosed is returned by a closed SQLiteSink.
var ErrSinkClosed = errors.New("sink closed")

// SQLiteSink persists failures to SQLite.
// It is suitable for single-process production use.
type SQLiteSink struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteSink opens (or creates) a failure table at path.
// The path should be a file path or ":memory:" for testing.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS failures (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			event_key TEXT NOT NULL,
			source TEXT NOT NULL,
			listener_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			kind TEXT NOT NULL,
			message TEXT NOT NULL,
			payload BLOB,
			metadata BLOB,
			occurred_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_failures_occurred_at
		ON failures(occurred_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

// Report implements Sink.
func (s *SQLiteSink) Report(ctx context.Context, f *Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	var metadata []byte
	if len(f.Metadata) > 0 {
		b, err := codec.Marshal(f.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = b
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failures
			(id, event_id, event_key, source, listener_id, stage, kind, message, payload, metadata, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.EventID, f.EventKey, f.Source, f.ListenerID, f.Stage, f.Kind, f.Message,
		f.Payload, metadata, f.OccurredAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save failure: %w", err)
	}
	return nil
}

// List returns up to limit failures, oldest first. A non-positive limit
// returns all of them.
func (s *SQLiteSink) List(ctx context.Context, limit int) ([]*Failure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrSinkClosed
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, event_key, source, listener_id, stage, kind, message, payload, metadata, occurred_at
		FROM failures
		ORDER BY occurred_at, rowid
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	var out []*Failure
	for rows.Next() {
		var (
			f          Failure
			metadata   []byte
			occurredAt string
		)
		if err := rows.Scan(&f.ID, &f.EventID, &f.EventKey, &f.Source, &f.ListenerID,
			&f.Stage, &f.Kind, &f.Message, &f.Payload, &metadata, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		if len(metadata) > 0 {
			if err := codec.Unmarshal(metadata, &f.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		f.OccurredAt, _ = time.Parse(timeLayout, occurredAt)
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return out, nil
}

// Count returns the number of stored failures.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrSinkClosed
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failures`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}
	return n, nil
}

// Purge deletes failures that occurred before cutoff and returns how
// many were removed.
func (s *SQLiteSink) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSinkClosed
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM failures WHERE occurred_at < ?
	`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("purge failures: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database. Safe to call more than once.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
