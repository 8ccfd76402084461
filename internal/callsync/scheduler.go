package callsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"aurora-dashboard/internal/synclog"
	"aurora-dashboard/pkg/logger"
)

const defaultInterval = 5 * time.Minute

type SchedulerConfig struct {
	Engine      *Engine
	APIKey      string
	CustomerIDs []int64
	Interval    time.Duration
	Metrics     *Metrics
	Logger      *slog.Logger
}

// Scheduler re-syncs a fixed set of customers on a fixed interval. A customer
// whose previous sync is still running is skipped for that tick.
type Scheduler struct {
	engine      *Engine
	apiKey      string
	customerIDs []int64
	interval    time.Duration
	metrics     *Metrics
	log         *slog.Logger

	mu      sync.Mutex
	running map[int64]struct{}
	wg      sync.WaitGroup
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		engine:      cfg.Engine,
		apiKey:      cfg.APIKey,
		customerIDs: cfg.CustomerIDs,
		interval:    cfg.Interval,
		metrics:     cfg.Metrics,
		log:         logger.OrDefault(cfg.Logger).With("component", "sync_scheduler"),
		running:     make(map[int64]struct{}),
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	return s
}

// Run ticks until ctx is done, then waits for in-flight syncs. The first tick fires immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.customerIDs) == 0 {
		s.log.Info("no customers configured for scheduled sync")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := backoff.NewTicker(backoff.NewConstantBackOff(s.interval))
	defer ticker.Stop()
	s.log.Info("sync scheduler started", "interval", s.interval.String(), "customers", len(s.customerIDs))

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

// RunOnce runs one tick and waits for the syncs it started.
// It returns how many customers were dropped because a sync was already running.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	wg, dropped := s.dispatch(ctx)
	wg.Wait()
	return dropped
}

func (s *Scheduler) dispatch(ctx context.Context) (*sync.WaitGroup, int) {
	var (
		tick    sync.WaitGroup
		dropped int
	)
	for _, id := range s.customerIDs {
		if !s.acquire(id) {
			dropped++
			s.metrics.overlapDropped()
			s.log.Warn("previous sync still running; skipping tick", "customer_id", id)
			continue
		}
		tick.Add(1)
		s.wg.Add(1)
		go func(id int64) {
			defer s.wg.Done()
			defer tick.Done()
			defer s.release(id)
			s.syncCustomer(ctx, id)
		}(id)
	}
	return &tick, dropped
}

func (s *Scheduler) syncCustomer(ctx context.Context, customerID int64) {
	if !s.engine.HasNewCalls(ctx, s.apiKey, customerID) {
		s.log.Debug("no new calls", "customer_id", customerID)
		return
	}
	if _, err := s.engine.sync(ctx, s.apiKey, customerID, synclog.TriggerScheduled); err != nil {
		// Retried on the next tick only.
		s.log.Error("scheduled sync failed", "customer_id", customerID, "err", err)
	}
}

func (s *Scheduler) acquire(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[id]; busy {
		return false
	}
	s.running[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id int64) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}
