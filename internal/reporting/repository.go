package reporting

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"aurora-dashboard/internal/calls"
	"aurora-dashboard/pkg/utils"
)

// ErrAggregateUnavailable means the server-side stats function is not installed.
var ErrAggregateUnavailable = errors.New("reporting: get_customer_call_stats is not available")

// Repository reads call_logs aggregates. Every method is scoped to one customer.
// A missing call_logs relation is reported as calls.ErrRelationMissing.
type Repository interface {
	// AggregateStats runs the server-side aggregation.
	AggregateStats(ctx context.Context, customerID int64) (Stats, error)

	CountCalls(ctx context.Context, customerID int64) (int, error)
	CountLive(ctx context.Context, customerID int64) (int, error)
	CountTransferred(ctx context.Context, customerID int64) (int, error)
	// SampleDurations returns up to limit non-null durations.
	SampleDurations(ctx context.Context, customerID int64, limit int) ([]int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) AggregateStats(ctx context.Context, customerID int64) (Stats, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT get_customer_call_stats($1)`, customerID).Scan(&raw)
	switch {
	case utils.HasPGCode(err, utils.PGUndefinedFunction):
		return Stats{}, ErrAggregateUnavailable
	case err != nil:
		return Stats{}, mapErr("aggregate stats", err)
	}
	var out Stats
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Stats{}, fmt.Errorf("reporting: decode aggregate stats: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) CountCalls(ctx context.Context, customerID int64) (int, error) {
	return r.count(ctx, `SELECT count(*) FROM call_logs WHERE customer_id = $1`, customerID)
}

func (r *PostgresRepo) CountLive(ctx context.Context, customerID int64) (int, error) {
	return r.count(ctx, `
SELECT count(*) FROM call_logs
WHERE customer_id = $1 AND status IN ('in-progress', 'ringing', 'queued')`, customerID)
}

func (r *PostgresRepo) CountTransferred(ctx context.Context, customerID int64) (int, error) {
	return r.count(ctx, `
SELECT count(*) FROM call_logs
WHERE customer_id = $1
  AND (ended_reason ILIKE '%forward%' OR ended_reason ILIKE '%transfer%' OR ended_reason = 'customer-transferred-call')`, customerID)
}

func (r *PostgresRepo) SampleDurations(ctx context.Context, customerID int64, limit int) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT duration FROM call_logs
WHERE customer_id = $1 AND duration IS NOT NULL
LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, mapErr("sample durations", err)
	}
	defer rows.Close()

	out := make([]int, 0, limit)
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, mapErr("sample durations", rows.Err())
}

func (r *PostgresRepo) count(ctx context.Context, q string, customerID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, q, customerID).Scan(&n); err != nil {
		return 0, mapErr("count", err)
	}
	return n, nil
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if utils.HasPGCode(err, utils.PGUndefinedTable) {
		return calls.ErrRelationMissing
	}
	return fmt.Errorf("reporting: %s: %w", op, err)
}
