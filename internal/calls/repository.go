package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aurora-dashboard/pkg/utils"
)

// PostgresStore implements Store over the call_logs table.
//
// Expected schema (see internal/migration):
// UNIQUE (customer_id, remote_call_id)
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const callLogColumns = `
id, remote_call_id, customer_id, COALESCE(status, ''), COALESCE(type, ''),
started_at, created_at, duration, cost,
COALESCE(customer_number, ''), COALESCE(ended_reason, ''), summary, recording_url,
transcript, messages, artifact, COALESCE(assistant_id, ''), synced_at`

func (s *PostgresStore) Exists(ctx context.Context, customerID int64) (map[string]struct{}, error) {
	const q = `SELECT remote_call_id FROM call_logs WHERE customer_id = $1`
	rows, err := s.db.QueryContext(ctx, q, customerID)
	if err != nil {
		return nil, mapErr("list existing call ids", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, mapErr("list existing call ids", rows.Err())
}

func (s *PostgresStore) InsertBatch(ctx context.Context, batch []CallLog) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	const q = `
INSERT INTO call_logs (
	remote_call_id, customer_id, status, type, started_at, created_at, duration, cost,
	customer_number, ended_reason, summary, recording_url, transcript, messages, assistant_id, artifact
) VALUES (
	$1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8,
	NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13, $14, NULLIF($15, ''), $16
)
ON CONFLICT (customer_id, remote_call_id) DO NOTHING
`
	inserted := 0
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range batch {
			res, err := stmt.ExecContext(ctx,
				r.RemoteCallID,
				r.CustomerID,
				r.Status,
				r.Type,
				r.StartedAt,
				r.CreatedAt,
				r.Duration,
				r.Cost,
				r.CustomerNumber,
				r.EndedReason,
				r.Summary,
				r.RecordingURL,
				nullJSON(r.Transcript),
				nullJSON(r.Messages),
				r.AssistantID,
				nullJSON(r.Artifact),
			)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, mapErr("insert call logs", err)
	}
	return inserted, nil
}

// displayOrder is the SQL form of SortForDisplay. Keep the two in step.
const displayOrder = "started_at DESC NULLS LAST, created_at DESC NULLS LAST, id DESC"

const queryLogsSQL = `SELECT` + callLogColumns + `
FROM call_logs
WHERE customer_id = $1
ORDER BY ` + displayOrder + `
LIMIT $2`

func (s *PostgresStore) Query(ctx context.Context, customerID int64, limit int) ([]CallLog, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	rows, err := s.db.QueryContext(ctx, queryLogsSQL, customerID, limit)
	if err != nil {
		return nil, mapErr("query call logs", err)
	}
	defer rows.Close()
	return scanCallLogs(rows)
}

func (s *PostgresStore) FindMissingDuration(ctx context.Context, customerID int64, offset, batchSize int) ([]CallLog, error) {
	q := `SELECT` + callLogColumns + `
FROM call_logs
WHERE customer_id = $1 AND duration IS NULL
ORDER BY id
OFFSET $2 LIMIT $3`
	rows, err := s.db.QueryContext(ctx, q, customerID, offset, batchSize)
	if err != nil {
		return nil, mapErr("find missing durations", err)
	}
	defer rows.Close()
	return scanCallLogs(rows)
}

func (s *PostgresStore) UpdateDuration(ctx context.Context, id int64, seconds int) error {
	// Only null durations are backfilled; a correct value is never overwritten.
	const q = `UPDATE call_logs SET duration = $2 WHERE id = $1 AND duration IS NULL`
	if _, err := s.db.ExecContext(ctx, q, id, seconds); err != nil {
		return mapErr("update duration", err)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, customerID int64) (time.Time, bool, error) {
	const q = `
SELECT COALESCE(started_at, created_at)
FROM call_logs
WHERE customer_id = $1
ORDER BY started_at DESC NULLS LAST, created_at DESC NULLS LAST
LIMIT 1`
	var ts sql.NullTime
	if err := s.db.QueryRowContext(ctx, q, customerID).Scan(&ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, mapErr("latest call", err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return ts.Time, true, nil
}

func scanCallLogs(rows *sql.Rows) ([]CallLog, error) {
	out := make([]CallLog, 0)
	for rows.Next() {
		var (
			r                              CallLog
			startedAt, createdAt           sql.NullTime
			duration                       sql.NullInt64
			cost                           sql.NullFloat64
			summary, recordingURL          sql.NullString
			transcript, messages, artifact []byte
		)
		if err := rows.Scan(
			&r.ID,
			&r.RemoteCallID,
			&r.CustomerID,
			&r.Status,
			&r.Type,
			&startedAt,
			&createdAt,
			&duration,
			&cost,
			&r.CustomerNumber,
			&r.EndedReason,
			&summary,
			&recordingURL,
			&transcript,
			&messages,
			&artifact,
			&r.AssistantID,
			&r.SyncedAt,
		); err != nil {
			return nil, err
		}
		if startedAt.Valid {
			r.StartedAt = &startedAt.Time
		}
		if createdAt.Valid {
			r.CreatedAt = &createdAt.Time
		}
		if duration.Valid {
			d := int(duration.Int64)
			r.Duration = &d
		}
		if cost.Valid {
			r.Cost = &cost.Float64
		}
		if summary.Valid {
			r.Summary = &summary.String
		}
		if recordingURL.Valid {
			r.RecordingURL = &recordingURL.String
		}
		r.Transcript = json.RawMessage(transcript)
		r.Messages = json.RawMessage(messages)
		r.Artifact = json.RawMessage(artifact)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if utils.HasPGCode(err, utils.PGUndefinedTable) {
		return ErrRelationMissing
	}
	return fmt.Errorf("calls: %s: %w", op, err)
}
