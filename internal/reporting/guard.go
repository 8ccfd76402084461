package reporting

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"aurora-dashboard/pkg/utils"
)

// Guard is a per-customer single in-flight flag. TryAcquire never waits:
// ok=false means another refresh holds the flag.
type Guard interface {
	TryAcquire(ctx context.Context, customerID int64) (release func(), ok bool, err error)
}

type MemoryGuard struct {
	mu       sync.Mutex
	inFlight map[int64]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{inFlight: make(map[int64]struct{})}
}

func (g *MemoryGuard) TryAcquire(_ context.Context, customerID int64) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[customerID]; busy {
		return nil, false, nil
	}
	g.inFlight[customerID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inFlight, customerID)
			g.mu.Unlock()
		})
	}, true, nil
}

const redisGuardPrefix = "aurora:stats_refresh:"

// RedisGuard shares the flag across API replicas using a one-slot counter.
// The TTL frees the flag if a holder dies mid-refresh.
type RedisGuard struct {
	rdb redis.Scripter
	ttl time.Duration
}

func NewRedisGuard(rdb redis.Scripter, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisGuard{rdb: rdb, ttl: ttl}
}

func (g *RedisGuard) TryAcquire(ctx context.Context, customerID int64) (func(), bool, error) {
	key := redisGuardPrefix + strconv.FormatInt(customerID, 10)
	ok, err := utils.AcquireSlot(ctx, g.rdb, key, 1, g.ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = utils.ReleaseSlot(rctx, g.rdb, key)
		})
	}, true, nil
}
