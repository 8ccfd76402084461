package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) (Event, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO user_events (customer_id, event_type, payload, created_at, call_id, call_type)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6)
		RETURNING id, created_at`,
		e.CustomerID, e.EventType, string(e.Payload), e.CreatedAt, e.CallID, e.CallType,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return Event{}, fmt.Errorf("events: insert: %w", err)
	}
	return e, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id int64) (Event, error) {
	var (
		e       Event
		payload []byte
		callID  sql.NullString
		kind    sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, customer_id, event_type, payload, created_at, call_id, call_type
		FROM user_events WHERE id = $1`, id,
	).Scan(&e.ID, &e.CustomerID, &e.EventType, &payload, &e.CreatedAt, &callID, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, fmt.Errorf("events: get: %w", err)
	}
	if len(payload) > 0 {
		e.Payload = payload
	}
	if callID.Valid {
		e.CallID = &callID.String
	}
	if kind.Valid {
		e.CallType = &kind.String
	}
	return e, nil
}
