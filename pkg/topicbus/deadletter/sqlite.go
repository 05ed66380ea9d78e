package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteSink persists dead-letter records to SQLite so they survive
// process restarts. It is suitable for single-process production use.
type SQLiteSink struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteSink opens (or creates) a SQLite-backed sink. The path should
// be a file path (e.g., "./deadletters.db") or ":memory:" for testing.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dead_letters (
			id TEXT PRIMARY KEY,
			queue TEXT NOT NULL,
			topic TEXT NOT NULL,
			payload BLOB,
			context BLOB,
			subscription_id TEXT,
			pattern TEXT,
			last_error TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			enqueued_at TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_dead_letters_queue
		ON dead_letters(queue, recorded_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

// Record implements Sink. Payloads are stored as JSON; a payload that
// cannot be marshaled is stored as its string representation so the
// record is never lost.
func (s *SQLiteSink) Record(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Queue == "" {
		rec.Queue = DefaultQueue
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		payload, _ = json.Marshal(fmt.Sprintf("%v", rec.Payload))
	}
	var evctx []byte
	if len(rec.Context) > 0 {
		evctx, _ = json.Marshal(rec.Context)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (
			id, queue, topic, payload, context, subscription_id,
			pattern, last_error, attempts, enqueued_at, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Queue, rec.Topic, payload, evctx, rec.SubscriptionID,
		rec.Pattern, rec.LastError, rec.Attempts,
		rec.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		rec.RecordedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record dead letter: %w", err)
	}
	return nil
}

// List implements Sink.
func (s *SQLiteSink) List(ctx context.Context, queue string, opts ...DrainOption) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrSinkClosed
	}

	records, err := s.selectLocked(ctx, queue, buildQuery(opts))
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Drain implements Sink. Matching records are removed in the same
// transaction that reads them.
func (s *SQLiteSink) Drain(ctx context.Context, queue string, opts ...DrainOption) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSinkClosed
	}

	records, err := s.selectLocked(ctx, queue, buildQuery(opts))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin drain: %w", err)
	}
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, rec.ID); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("drain dead letter: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit drain: %w", err)
	}
	return records, nil
}

// selectLocked reads matching records oldest-first. The topic-pattern
// filter runs in Go because the wildcard walk has no SQL equivalent.
func (s *SQLiteSink) selectLocked(ctx context.Context, queue string, q drainQuery) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, queue, topic, payload, context, subscription_id,
		       pattern, last_error, attempts, enqueued_at, recorded_at
		FROM dead_letters
		WHERE queue = ?
		ORDER BY recorded_at, id
	`, queue)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var payload, evctx []byte
		var enqueuedAt, recordedAt string
		if err := rows.Scan(&rec.ID, &rec.Queue, &rec.Topic, &payload, &evctx,
			&rec.SubscriptionID, &rec.Pattern, &rec.LastError, &rec.Attempts,
			&enqueuedAt, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &rec.Payload)
		}
		if len(evctx) > 0 {
			_ = json.Unmarshal(evctx, &rec.Context)
		}
		rec.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, enqueuedAt)
		rec.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)

		if !q.matches(rec) {
			continue
		}
		out = append(out, rec)
		if q.full(len(out)) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return out, nil
}

// Len implements Sink.
func (s *SQLiteSink) Len(ctx context.Context, queue string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrSinkClosed
	}

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dead_letters WHERE queue = ?
	`, queue).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
