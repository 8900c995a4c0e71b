package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/fogline/fogline/pkg/fogline/event"
)

// SQLiteStore is the default single-process store.
type SQLiteStore struct {
	db *sql.DB
}

// compile-time check
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:"
// for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer; serialize access through one connection so
	// concurrent inserts queue instead of returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			metric_count INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			received_at TEXT NOT NULL,
			extra TEXT NOT NULL DEFAULT '{}'
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create events table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS source_state (
			source_id TEXT PRIMARY KEY,
			event_count INTEGER NOT NULL DEFAULT 0,
			last_event_id TEXT NOT NULL,
			last_event_type TEXT NOT NULL,
			last_metric_count INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create source_state table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_source_id
		ON events(source_id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// InsertEvent implements Store.
func (s *SQLiteStore) InsertEvent(ctx context.Context, evt event.Event, receivedAt time.Time) (bool, error) {
	extra, err := json.Marshal(orEmpty(evt.Extra))
	if err != nil {
		return false, fmt.Errorf("marshal extra: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO events
			(event_id, event_type, source_id, metric_count, created_at, received_at, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, evt.EventID, evt.EventType, evt.SourceID, evt.MetricCount,
		evt.CreatedAt, receivedAt.UTC().Format(time.RFC3339Nano), string(extra))
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		// Already processed; the rollup must not move again.
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO source_state
			(source_id, event_count, last_event_id, last_event_type, last_metric_count, updated_at)
		VALUES (?, 1, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			event_count = event_count + 1,
			last_event_id = excluded.last_event_id,
			last_event_type = excluded.last_event_type,
			last_metric_count = excluded.last_metric_count,
			updated_at = excluded.updated_at
	`, evt.SourceID, evt.EventID, evt.EventType, evt.MetricCount,
		receivedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return false, fmt.Errorf("update source state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// GetEvent implements Store.
func (s *SQLiteStore) GetEvent(ctx context.Context, eventID string) (Record, error) {
	var rec Record
	var createdAt, receivedAt, extra string
	err := s.db.QueryRowContext(ctx, `
		SELECT event_id, event_type, source_id, metric_count, created_at, received_at, extra
		FROM events WHERE event_id = ?
	`, eventID).Scan(&rec.EventID, &rec.EventType, &rec.SourceID,
		&rec.MetricCount, &createdAt, &receivedAt, &extra)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load event: %w", err)
	}

	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.ReceivedAt, err = time.Parse(time.RFC3339Nano, receivedAt); err != nil {
		return Record{}, fmt.Errorf("parse received_at: %w", err)
	}
	if err := json.Unmarshal([]byte(extra), &rec.Extra); err != nil {
		return Record{}, fmt.Errorf("unmarshal extra: %w", err)
	}
	return rec, nil
}

// GetSourceState implements Store.
func (s *SQLiteStore) GetSourceState(ctx context.Context, sourceID string) (SourceState, error) {
	var st SourceState
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT source_id, event_count, last_event_id, last_event_type, last_metric_count, updated_at
		FROM source_state WHERE source_id = ?
	`, sourceID).Scan(&st.SourceID, &st.EventCount, &st.LastEventID,
		&st.LastEventType, &st.LastMetricCount, &updatedAt)
	if err == sql.ErrNoRows {
		return SourceState{}, ErrNotFound
	}
	if err != nil {
		return SourceState{}, fmt.Errorf("load source state: %w", err)
	}
	if st.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return SourceState{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return st, nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
