package reporting

import (
	"math"
	"time"
)

// Stats is the dashboard headline: a recomputation of the customer's call
// logs, never the source of truth.
type Stats struct {
	TotalCalls   int     `json:"totalCalls"`
	Live         int     `json:"live"`
	Transferred  int     `json:"transferred"`
	TotalMinutes float64 `json:"totalMinutes"`
}

// Snapshot is a cached Stats value and when it was computed.
type Snapshot struct {
	Stats     Stats     `json:"stats"`
	Timestamp time.Time `json:"timestamp"`
}

// StatsResponse is what GetStatsCached returns to callers.
type StatsResponse struct {
	Stats    Stats     `json:"stats"`
	CachedAt time.Time `json:"cached_at"`
	// Stale is set when the value is older than the TTL and a refresh was triggered.
	Stale bool `json:"stale"`
}

// CallsSummary aggregates remote calls directly, without the local store.
type CallsSummary struct {
	TotalCalls   int     `json:"total_calls"`
	Live         int     `json:"live"`
	Ended        int     `json:"ended"`
	Transferred  int     `json:"transferred"`
	TotalMinutes float64 `json:"total_minutes"`
	TotalCost    float64 `json:"total_cost"`
	Recorded     int     `json:"recorded"`
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
