package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds the latest Snapshot per customer. Writers race freely: the last
// write wins since every value is a recomputation of the same rows.
type Cache interface {
	Get(ctx context.Context, customerID int64) (Snapshot, bool, error)
	Set(ctx context.Context, customerID int64, snap Snapshot) error
	Delete(ctx context.Context, customerID int64) error
}

type MemoryCache struct {
	mu      sync.RWMutex
	entries map[int64]Snapshot
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[int64]Snapshot)}
}

func (c *MemoryCache) Get(_ context.Context, customerID int64) (Snapshot, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[customerID]
	return s, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, customerID int64, snap Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[customerID] = snap
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, customerID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, customerID)
	return nil
}

const redisCachePrefix = "aurora:call_stats:"

// RedisCache stores snapshots as JSON {stats, timestamp}. Entries outlive the
// freshness TTL by retention so stale values can still be served while refreshing.
type RedisCache struct {
	rdb       redis.Cmdable
	retention time.Duration
}

func NewRedisCache(rdb redis.Cmdable, retention time.Duration) *RedisCache {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisCache{rdb: rdb, retention: retention}
}

func redisCacheKey(customerID int64) string {
	return redisCachePrefix + strconv.FormatInt(customerID, 10)
}

func (c *RedisCache) Get(ctx context.Context, customerID int64) (Snapshot, bool, error) {
	raw, err := c.rdb.Get(ctx, redisCacheKey(customerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("reporting: cache get: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		// A corrupt entry is treated as a miss and overwritten by the next refresh.
		return Snapshot{}, false, nil
	}
	return s, true, nil
}

func (c *RedisCache) Set(ctx context.Context, customerID int64, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, redisCacheKey(customerID), raw, c.retention).Err(); err != nil {
		return fmt.Errorf("reporting: cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, customerID int64) error {
	if err := c.rdb.Del(ctx, redisCacheKey(customerID)).Err(); err != nil {
		return fmt.Errorf("reporting: cache delete: %w", err)
	}
	return nil
}
