package reporting

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	cache    *prometheus.CounterVec
	fallback prometheus.Counter
	dropped  prometheus.Counter
}

// NewMetrics registers the stats collectors on registerer (default registry when nil).
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_stats_cache_lookups_total",
			Help: "Stats cache lookups by result (fresh, stale, miss).",
		}, []string{"result"}),
		fallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurora_stats_fallback_total",
			Help: "Stats computations that used the fallback queries.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurora_stats_refresh_dropped_total",
			Help: "Stats refreshes dropped because one was already in flight.",
		}),
	}
	registerer.MustRegister(m.cache, m.fallback, m.dropped)
	return m
}

func (m *Metrics) cacheResult(result string) {
	if m != nil {
		m.cache.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) fallbackUsed() {
	if m != nil {
		m.fallback.Inc()
	}
}

func (m *Metrics) refreshDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}
