package reporting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"aurora-dashboard/internal/calls"
	"aurora-dashboard/internal/vapi"
	"aurora-dashboard/pkg/logger"
)

const (
	DefaultTTL = 5 * time.Minute

	// durationSampleSize bounds the rows read by the fallback minute sum.
	// Beyond it the mean is extrapolated over the full count.
	durationSampleSize = 1000

	backgroundRefreshTimeout = 30 * time.Second
)

// ErrRefreshInFlight is returned when a refresh is already running for the
// customer and there is no cached value to fall back to.
var ErrRefreshInFlight = errors.New("reporting: stats refresh already in flight")

type Config struct {
	Cache   Cache
	Guard   Guard
	TTL     time.Duration
	Clock   func() time.Time
	Logger  *slog.Logger
	Metrics *Metrics
}

type Service struct {
	repo    Repository
	cache   Cache
	guard   Guard
	ttl     time.Duration
	now     func() time.Time
	log     *slog.Logger
	metrics *Metrics

	bg sync.WaitGroup
}

func NewService(repo Repository, cfg Config) *Service {
	s := &Service{
		repo:    repo,
		cache:   cfg.Cache,
		guard:   cfg.Guard,
		ttl:     cfg.TTL,
		now:     cfg.Clock,
		log:     logger.OrDefault(cfg.Logger),
		metrics: cfg.Metrics,
	}
	if s.cache == nil {
		s.cache = NewMemoryCache()
	}
	if s.guard == nil {
		s.guard = NewMemoryGuard()
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// GetStats computes stats from the store and caches the result.
// The server-side aggregation is used when installed, otherwise four
// concurrent counting queries. A missing call_logs relation yields zero stats.
func (s *Service) GetStats(ctx context.Context, customerID int64) (Stats, error) {
	if s.repo == nil {
		return Stats{}, errors.New("reporting: repository not configured")
	}
	log := s.log.With("customer_id", customerID)

	stats, err := s.repo.AggregateStats(ctx, customerID)
	switch {
	case errors.Is(err, ErrAggregateUnavailable):
		log.Warn("stats aggregation function missing; using fallback queries")
		s.metrics.fallbackUsed()
		stats, err = s.fallback(ctx, customerID)
		if err != nil {
			return Stats{}, err
		}
	case errors.Is(err, calls.ErrRelationMissing):
		log.Warn("call_logs relation does not exist; reporting zero stats")
		return Stats{}, nil
	case err != nil:
		return Stats{}, err
	}

	if err := s.cache.Set(ctx, customerID, Snapshot{Stats: stats, Timestamp: s.now().UTC()}); err != nil {
		log.Warn("cache stats failed", "err", err)
	}
	return stats, nil
}

// Refresh recomputes stats unless a refresh is already running for the
// customer, in which case it returns ErrRefreshInFlight without waiting.
func (s *Service) Refresh(ctx context.Context, customerID int64) (Stats, error) {
	release, ok, err := s.guard.TryAcquire(ctx, customerID)
	if err != nil {
		return Stats{}, fmt.Errorf("reporting: acquire refresh guard: %w", err)
	}
	if !ok {
		s.metrics.refreshDropped()
		return Stats{}, ErrRefreshInFlight
	}
	defer release()
	return s.GetStats(ctx, customerID)
}

// GetStatsCached serves from the cache. A fresh entry is returned as is; a
// stale entry is returned immediately while a refresh runs in the background;
// a miss is computed inline.
func (s *Service) GetStatsCached(ctx context.Context, customerID int64) (StatsResponse, error) {
	snap, ok, err := s.cache.Get(ctx, customerID)
	if err != nil {
		s.log.Warn("read cached stats failed; recomputing", "customer_id", customerID, "err", err)
		ok = false
	}

	if ok {
		if s.now().Sub(snap.Timestamp) < s.ttl {
			s.metrics.cacheResult("fresh")
			return StatsResponse{Stats: snap.Stats, CachedAt: snap.Timestamp}, nil
		}
		s.metrics.cacheResult("stale")
		s.refreshInBackground(customerID)
		return StatsResponse{Stats: snap.Stats, CachedAt: snap.Timestamp, Stale: true}, nil
	}

	s.metrics.cacheResult("miss")
	stats, err := s.Refresh(ctx, customerID)
	if err != nil {
		return StatsResponse{}, err
	}
	return StatsResponse{Stats: stats, CachedAt: s.now().UTC()}, nil
}

func (s *Service) refreshInBackground(customerID int64) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundRefreshTimeout)
		defer cancel()
		if _, err := s.Refresh(ctx, customerID); err != nil && !errors.Is(err, ErrRefreshInFlight) {
			s.log.Error("background stats refresh failed", "customer_id", customerID, "err", err)
		}
	}()
}

// fallback mirrors the aggregation with four concurrent queries.
func (s *Service) fallback(ctx context.Context, customerID int64) (Stats, error) {
	var (
		out     Stats
		samples []int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.TotalCalls, err = s.repo.CountCalls(gctx, customerID)
		return err
	})
	g.Go(func() (err error) {
		out.Live, err = s.repo.CountLive(gctx, customerID)
		return err
	})
	g.Go(func() (err error) {
		out.Transferred, err = s.repo.CountTransferred(gctx, customerID)
		return err
	})
	g.Go(func() (err error) {
		// One extra row tells whether the sample was truncated.
		samples, err = s.repo.SampleDurations(gctx, customerID, durationSampleSize+1)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, calls.ErrRelationMissing) {
			return Stats{}, nil
		}
		return Stats{}, fmt.Errorf("reporting: fallback stats: %w", err)
	}

	out.TotalMinutes = round2(totalMinutes(samples, out.TotalCalls))
	return out, nil
}

// totalMinutes sums the sampled durations. When the sample was truncated the
// mean of the first durationSampleSize positive values is scaled to totalCalls,
// which is an approximation.
func totalMinutes(samples []int, totalCalls int) float64 {
	truncated := len(samples) > durationSampleSize
	if truncated {
		samples = samples[:durationSampleSize]
	}
	sum, n := 0, 0
	for _, d := range samples {
		if d > 0 {
			sum += d
			n++
		}
	}
	if !truncated {
		return float64(sum) / 60
	}
	if n == 0 {
		return 0
	}
	mean := float64(sum) / float64(n)
	return mean * float64(totalCalls) / 60
}

// Invalidate drops the cached snapshot so the next read recomputes.
func (s *Service) Invalidate(ctx context.Context, customerID int64) error {
	return s.cache.Delete(ctx, customerID)
}

// CallsSummary totals remote calls, including cost.
func (s *Service) CallsSummary(_ context.Context, remote []vapi.Call) CallsSummary {
	return Summarize(remote)
}
