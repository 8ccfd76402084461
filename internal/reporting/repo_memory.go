package reporting

import (
	"context"
	"sync"

	"aurora-dashboard/internal/calls"
)

// MemoryRepo computes aggregates over in-memory call logs for tests and local development.
// Aggregate=false simulates a backend without the stats function; Missing simulates
// an unprovisioned call_logs table.
type MemoryRepo struct {
	mu sync.Mutex

	Logs      []calls.CallLog
	Aggregate bool
	Missing   bool

	aggregateCalls int
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{Aggregate: true} }

func (r *MemoryRepo) AggregateStats(ctx context.Context, customerID int64) (Stats, error) {
	r.mu.Lock()
	r.aggregateCalls++
	aggregate, missing := r.Aggregate, r.Missing
	r.mu.Unlock()
	if !aggregate {
		return Stats{}, ErrAggregateUnavailable
	}
	if missing {
		return Stats{}, calls.ErrRelationMissing
	}

	var out Stats
	seconds := 0
	for _, l := range r.rows(customerID) {
		out.TotalCalls++
		if calls.IsLive(l.Status) {
			out.Live++
		}
		if calls.IsTransferred(l.EndedReason) {
			out.Transferred++
		}
		if l.Duration != nil {
			seconds += *l.Duration
		}
	}
	out.TotalMinutes = round2(float64(seconds) / 60)
	return out, nil
}

func (r *MemoryRepo) CountCalls(ctx context.Context, customerID int64) (int, error) {
	return r.count(customerID, func(calls.CallLog) bool { return true })
}

func (r *MemoryRepo) CountLive(ctx context.Context, customerID int64) (int, error) {
	return r.count(customerID, func(l calls.CallLog) bool { return calls.IsLive(l.Status) })
}

func (r *MemoryRepo) CountTransferred(ctx context.Context, customerID int64) (int, error) {
	return r.count(customerID, func(l calls.CallLog) bool { return calls.IsTransferred(l.EndedReason) })
}

func (r *MemoryRepo) SampleDurations(ctx context.Context, customerID int64, limit int) ([]int, error) {
	if r.missing() {
		return nil, calls.ErrRelationMissing
	}
	out := make([]int, 0)
	for _, l := range r.rows(customerID) {
		if l.Duration == nil {
			continue
		}
		out = append(out, *l.Duration)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// AggregateCalls reports how many times AggregateStats was invoked.
func (r *MemoryRepo) AggregateCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aggregateCalls
}

func (r *MemoryRepo) count(customerID int64, match func(calls.CallLog) bool) (int, error) {
	if r.missing() {
		return 0, calls.ErrRelationMissing
	}
	n := 0
	for _, l := range r.rows(customerID) {
		if match(l) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) rows(customerID int64) []calls.CallLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.CallLog, 0)
	for _, l := range r.Logs {
		if l.CustomerID == customerID {
			out = append(out, l)
		}
	}
	return out
}

func (r *MemoryRepo) missing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Missing
}
