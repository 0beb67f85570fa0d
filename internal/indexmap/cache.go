package indexmap

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRefreshInterval is how often the override map is re-fetched.
const DefaultRefreshInterval = 5 * time.Minute

// Fetcher retrieves the full topic-to-index override mapping from the admin
// collaborator.
type Fetcher interface {
	FetchTopicIndexMap(ctx context.Context) (map[string]string, error)
}

// Cache holds the topic-to-destination override map. It is read by many
// consumer goroutines and replaced wholesale by a single refresh task; a
// failed refresh keeps the last good map.
type Cache struct {
	fetcher Fetcher
	logger  *zap.Logger

	mu        sync.RWMutex
	overrides map[string]string
}

func NewCache(fetcher Fetcher, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		fetcher:   fetcher,
		logger:    logger,
		overrides: make(map[string]string),
	}
}

// Resolve returns the override for a topic, defaulting to the topic itself.
func (c *Cache) Resolve(topic string) string {
	if index, ok := c.Override(topic); ok {
		return index
	}
	return topic
}

// Override returns the cached override for a topic, if any.
func (c *Cache) Override(topic string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	index, ok := c.overrides[topic]
	return index, ok
}

// Refresh fetches a fresh mapping and atomically replaces the cache. Fetch
// failures are logged and leave the previous mapping intact; they are never
// surfaced to callers.
func (c *Cache) Refresh(ctx context.Context) {
	updated, err := c.fetcher.FetchTopicIndexMap(ctx)
	if err != nil {
		c.logger.Error("topic-index map refresh failed", zap.Error(err))
		return
	}
	if updated == nil {
		updated = make(map[string]string)
	}

	c.mu.Lock()
	c.overrides = updated
	c.mu.Unlock()

	c.logger.Info("topic-index map refreshed", zap.Int("overrides", len(updated)))
}

// Snapshot returns a read-only copy of the current mapping.
func (c *Cache) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make(map[string]string, len(c.overrides))
	for topic, index := range c.overrides {
		snapshot[topic] = index
	}
	return snapshot
}

// Run refreshes once immediately and then on a fixed period until ctx is
// cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	c.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}
