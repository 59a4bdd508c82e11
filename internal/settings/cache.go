package settings

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store reads and writes raw settings values. Implemented by the audit store
// backends; the extraction core never talks to the database directly.
type Store interface {
	GetSettings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Cache serves immutable Settings snapshots with a short TTL. Process-wide
// and safe for concurrent use: concurrent extraction runs share one cache,
// each run holding the snapshot it was given for its full duration.
type Cache struct {
	store Store
	ttl   time.Duration

	mu        sync.RWMutex
	snapshot  Settings
	fetchedAt time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCache creates a settings cache over the given store. A nil store serves
// defaults forever, which keeps the orchestrator usable in tests and
// stores-off deployments.
func NewCache(store Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:    store,
		ttl:      ttl,
		snapshot: Default(),
		nowFunc:  time.Now,
	}
}

// Snapshot returns the current settings, refreshing from the store when the
// cached copy is stale. A store failure serves the last good snapshot — a
// settings outage must not take down extraction.
func (c *Cache) Snapshot(ctx context.Context) Settings {
	c.mu.RLock()
	fetchedAt := c.fetchedAt
	fresh := c.nowFunc().Sub(fetchedAt) < c.ttl
	snap := c.snapshot
	c.mu.RUnlock()

	if fresh || c.store == nil {
		return snap
	}

	values, err := c.store.GetSettings(ctx)
	if err != nil {
		zap.L().Warn("settings: refresh failed, serving cached snapshot",
			zap.Error(err),
			zap.Time("fetched_at", fetchedAt),
		)
		return snap
	}

	next := FromValues(values)

	c.mu.Lock()
	c.snapshot = next
	c.fetchedAt = c.nowFunc()
	c.mu.Unlock()

	return next
}

// Invalidate forces the next Snapshot call to hit the store.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}
