package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
// Setting Missing simulates an unprovisioned call_logs table.
type MemoryStore struct {
	mu      sync.Mutex
	rows    []CallLog
	nextID  int64
	clock   func() time.Time
	Missing bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clock: time.Now}
}

func (s *MemoryStore) Exists(ctx context.Context, customerID int64) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Missing {
		return nil, ErrRelationMissing
	}
	out := make(map[string]struct{})
	for _, r := range s.rows {
		if r.CustomerID == customerID {
			out[r.RemoteCallID] = struct{}{}
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertBatch(ctx context.Context, rows []CallLog) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Missing {
		return 0, ErrRelationMissing
	}
	inserted := 0
	for _, r := range rows {
		if s.has(r.CustomerID, r.RemoteCallID) {
			continue
		}
		s.nextID++
		r.ID = s.nextID
		if r.SyncedAt.IsZero() {
			r.SyncedAt = s.clock().UTC()
		}
		s.rows = append(s.rows, r)
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) Query(ctx context.Context, customerID int64, limit int) ([]CallLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Missing {
		return nil, ErrRelationMissing
	}
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	out := make([]CallLog, 0)
	for _, r := range s.rows {
		if r.CustomerID == customerID {
			out = append(out, r)
		}
	}
	SortForDisplay(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) FindMissingDuration(ctx context.Context, customerID int64, offset, batchSize int) ([]CallLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Missing {
		return nil, ErrRelationMissing
	}
	var missing []CallLog
	for _, r := range s.rows {
		if r.CustomerID == customerID && r.Duration == nil {
			missing = append(missing, r)
		}
	}
	if offset >= len(missing) {
		return nil, nil
	}
	end := offset + batchSize
	if end > len(missing) {
		end = len(missing)
	}
	return missing[offset:end], nil
}

func (s *MemoryStore) UpdateDuration(ctx context.Context, id int64, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Missing {
		return ErrRelationMissing
	}
	for i := range s.rows {
		if s.rows[i].ID != id {
			continue
		}
		if s.rows[i].Duration == nil {
			d := seconds
			s.rows[i].Duration = &d
		}
		return nil
	}
	return ErrNotFound
}

func (s *MemoryStore) Latest(ctx context.Context, customerID int64) (time.Time, bool, error) {
	logs, err := s.Query(ctx, customerID, 1)
	if err != nil || len(logs) == 0 {
		return time.Time{}, false, err
	}
	if ts := logs[0].StartedAt; ts != nil {
		return *ts, true, nil
	}
	if ts := logs[0].CreatedAt; ts != nil {
		return *ts, true, nil
	}
	return time.Time{}, false, nil
}

// Rows returns a copy of every stored row.
func (s *MemoryStore) Rows() []CallLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallLog, len(s.rows))
	copy(out, s.rows)
	return out
}

func (s *MemoryStore) has(customerID int64, remoteID string) bool {
	for _, r := range s.rows {
		if r.CustomerID == customerID && r.RemoteCallID == remoteID {
			return true
		}
	}
	return false
}
