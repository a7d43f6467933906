package location

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/example/shuttle-roster/internal/models"
)

// Cache is the minimal interface required by the engine and the consumer.
// Report keeps the entry with the newest UpdatedAt, so a replayed or late
// report never replaces a newer one. Get reports ok=false for a driver that
// never reported or whose last report is older than the cache's max age.
type Cache interface {
	Report(ctx context.Context, loc models.Location) error
	Get(ctx context.Context, driverID string) (models.Location, bool, error)
}

const shardCount = 32

type shard struct {
	mu        sync.RWMutex
	positions map[string]models.Location
}

// ShardedCache keeps one entry per driver in process memory. Writers to
// different drivers rarely share a lock; writers to the same driver are
// serialized by its shard. A report older than the cached one is ignored.
type ShardedCache struct {
	shards [shardCount]*shard
	maxAge time.Duration
	now    func() time.Time
}

// NewShardedCache returns an empty cache. maxAge <= 0 disables expiry.
func NewShardedCache(maxAge time.Duration) *ShardedCache {
	c := &ShardedCache{maxAge: maxAge, now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{positions: make(map[string]models.Location)}
	}
	return c
}

func (c *ShardedCache) shardFor(driverID string) *shard {
	return c.shards[xxhash.Sum64String(driverID)%shardCount]
}

func (c *ShardedCache) Report(ctx context.Context, loc models.Location) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if loc.UpdatedAt.IsZero() {
		loc.UpdatedAt = c.now()
	}
	s := c.shardFor(loc.DriverID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.positions[loc.DriverID]; ok && cur.UpdatedAt.After(loc.UpdatedAt) {
		return nil
	}
	s.positions[loc.DriverID] = loc
	return nil
}

func (c *ShardedCache) Get(ctx context.Context, driverID string) (models.Location, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Location{}, false, err
	}
	s := c.shardFor(driverID)
	s.mu.RLock()
	loc, ok := s.positions[driverID]
	s.mu.RUnlock()
	if !ok || stale(loc, c.maxAge, c.now()) {
		return models.Location{}, false, nil
	}
	return loc, true, nil
}

// Len counts cached entries, stale ones included.
func (c *ShardedCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.positions)
		s.mu.RUnlock()
	}
	return n
}

func stale(loc models.Location, maxAge time.Duration, now time.Time) bool {
	return maxAge > 0 && now.Sub(loc.UpdatedAt) > maxAge
}
