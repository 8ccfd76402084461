package callsync

import (
	"github.com/prometheus/client_golang/prometheus"

	"aurora-dashboard/internal/synclog"
)

// Metrics exposes sync health to Prometheus. Labels stay low-cardinality:
// customer ids are never used as labels.
type Metrics struct {
	runs       *prometheus.CounterVec
	inserted   prometheus.Counter
	backfilled prometheus.Counter
	duration   *prometheus.HistogramVec
	skipped    prometheus.Counter
}

// NewMetrics registers the sync collectors on registerer (default registry when nil).
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_sync_runs_total",
			Help: "Call log sync runs by trigger and outcome.",
		}, []string{"trigger", "status"}),
		inserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurora_sync_calls_inserted_total",
			Help: "Call logs inserted by the sync engine.",
		}),
		backfilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurora_sync_durations_backfilled_total",
			Help: "Stored call logs whose missing duration was backfilled.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aurora_sync_run_duration_seconds",
			Help:    "Call log sync latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"trigger"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurora_sync_overlaps_dropped_total",
			Help: "Scheduled syncs dropped because one was already running for the customer.",
		}),
	}
	registerer.MustRegister(m.runs, m.inserted, m.backfilled, m.duration, m.skipped)
	return m
}

func (m *Metrics) observe(run synclog.Run, inserted int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(run.Trigger), string(run.Status)).Inc()
	m.inserted.Add(float64(inserted))
	m.backfilled.Add(float64(run.Backfilled))
	m.duration.WithLabelValues(string(run.Trigger)).Observe(run.Duration().Seconds())
}

func (m *Metrics) overlapDropped() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}
