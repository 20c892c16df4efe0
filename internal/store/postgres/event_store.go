package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cadencefi/dcad/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. Events are an
// append-only journal; the detail payload is stored as JSONB.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts one event.
func (s *EventStore) Append(ctx context.Context, ev domain.Event) error {
	var detail []byte
	if ev.Detail != nil {
		var err error
		detail, err = json.Marshal(ev.Detail)
		if err != nil {
			return fmt.Errorf("postgres: marshal event detail: %w", err)
		}
	}

	var posID *int64
	if ev.PositionID != 0 {
		v := int64(ev.PositionID)
		posID = &v
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (name, at, position_id, detail) VALUES ($1, $2, $3, $4)`,
		ev.Name, ev.At, posID, detail,
	)
	if err != nil {
		return fmt.Errorf("postgres: append event %s: %w", ev.Name, err)
	}
	return nil
}

// List returns events newest first with pagination and optional time bounds.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT name, at, position_id, detail FROM events`
	var args []any
	argIdx := 1
	where := ""

	if opts.Since != nil {
		where = fmt.Sprintf(" WHERE at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		if where == "" {
			where = fmt.Sprintf(" WHERE at <= $%d", argIdx)
		} else {
			where += fmt.Sprintf(" AND at <= $%d", argIdx)
		}
		args = append(args, *opts.Until)
		argIdx++
	}
	query += where + " ORDER BY at DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListBefore returns every event strictly older than the cutoff, oldest
// first. The archiver uses it to page historic events out to object storage.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, at, position_id, detail FROM events WHERE at < $1 ORDER BY at, id`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before %s: %w", before, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// DeleteBefore removes archived events older than the cutoff.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var posID *int64
		var detail []byte

		if err := rows.Scan(&ev.Name, &ev.At, &posID, &detail); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if posID != nil {
			ev.PositionID = uint64(*posID)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &ev.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event detail: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
