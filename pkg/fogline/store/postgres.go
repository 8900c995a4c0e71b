package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fogline/fogline/pkg/fogline/event"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore backs deployments where several processor instances share
// one database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a connection pool, fails fast if the database
// is unreachable, and applies the schema.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// InsertEvent implements Store.
func (p *PostgresStore) InsertEvent(ctx context.Context, evt event.Event, receivedAt time.Time) (bool, error) {
	createdAt, err := time.Parse(time.RFC3339, evt.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("parse created_at: %w", err)
	}
	extra, err := json.Marshal(orEmpty(evt.Extra))
	if err != nil {
		return false, fmt.Errorf("marshal extra: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Duplicate detection rides on the primary key; the conflict clause
	// keeps retried deliveries from failing the transaction.
	tag, err := tx.Exec(ctx, `
		INSERT INTO events
			(event_id, event_type, source_id, metric_count, created_at, received_at, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`, evt.EventID, evt.EventType, evt.SourceID, evt.MetricCount,
		createdAt, receivedAt.UTC(), extra)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO source_state
			(source_id, event_count, last_event_id, last_event_type, last_metric_count, updated_at)
		VALUES ($1, 1, $2, $3, $4, $5)
		ON CONFLICT (source_id) DO UPDATE SET
			event_count = source_state.event_count + 1,
			last_event_id = EXCLUDED.last_event_id,
			last_event_type = EXCLUDED.last_event_type,
			last_metric_count = EXCLUDED.last_metric_count,
			updated_at = EXCLUDED.updated_at
	`, evt.SourceID, evt.EventID, evt.EventType, evt.MetricCount, receivedAt.UTC()); err != nil {
		return false, fmt.Errorf("update source state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// GetEvent implements Store.
func (p *PostgresStore) GetEvent(ctx context.Context, eventID string) (Record, error) {
	var rec Record
	var extra []byte
	err := p.pool.QueryRow(ctx, `
		SELECT event_id, event_type, source_id, metric_count, created_at, received_at, extra
		FROM events WHERE event_id = $1
	`, eventID).Scan(&rec.EventID, &rec.EventType, &rec.SourceID,
		&rec.MetricCount, &rec.CreatedAt, &rec.ReceivedAt, &extra)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load event: %w", err)
	}
	if err := json.Unmarshal(extra, &rec.Extra); err != nil {
		return Record{}, fmt.Errorf("unmarshal extra: %w", err)
	}
	return rec, nil
}

// GetSourceState implements Store.
func (p *PostgresStore) GetSourceState(ctx context.Context, sourceID string) (SourceState, error) {
	var st SourceState
	err := p.pool.QueryRow(ctx, `
		SELECT source_id, event_count, last_event_id, last_event_type, last_metric_count, updated_at
		FROM source_state WHERE source_id = $1
	`, sourceID).Scan(&st.SourceID, &st.EventCount, &st.LastEventID,
		&st.LastEventType, &st.LastMetricCount, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SourceState{}, ErrNotFound
	}
	if err != nil {
		return SourceState{}, fmt.Errorf("load source state: %w", err)
	}
	return st, nil
}

// Ping implements Store.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close implements Store.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
