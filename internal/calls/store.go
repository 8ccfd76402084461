package calls

import (
	"context"
	"errors"
	"time"
)

// DefaultQueryLimit is used when Query is called with a non-positive limit.
const DefaultQueryLimit = 50

var (
	// ErrRelationMissing means the call_logs table has not been provisioned yet.
	// Callers degrade to an empty result instead of failing.
	ErrRelationMissing = errors.New("calls: call_logs relation does not exist")
	ErrNotFound        = errors.New("calls: not found")
)

// Store is the persistence contract for call logs. Every read is scoped to a customer.
type Store interface {
	// Exists returns the remote call ids already stored for the customer.
	Exists(ctx context.Context, customerID int64) (map[string]struct{}, error)
	// InsertBatch inserts rows, skipping any (customer, remote call) pair already present.
	// It returns the number of rows written.
	InsertBatch(ctx context.Context, rows []CallLog) (int, error)
	// Query returns the newest logs, see SortForDisplay for the ordering.
	Query(ctx context.Context, customerID int64, limit int) ([]CallLog, error)
	// FindMissingDuration pages through rows whose duration is null, ordered by id.
	FindMissingDuration(ctx context.Context, customerID int64, offset, batchSize int) ([]CallLog, error)
	// UpdateDuration sets the duration of a row that does not have one yet.
	UpdateDuration(ctx context.Context, id int64, seconds int) error
	// Latest returns the start (or creation) time of the newest stored call.
	Latest(ctx context.Context, customerID int64) (time.Time, bool, error)
}
