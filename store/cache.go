package store

import (
	"sync"
	"time"

	"github.com/harborpoint/underwriting/rules"
)

// PublishedCache caches the published rule set for a single org so
// evaluation requests do not hit the store on every call.
type PublishedCache interface {
	// Get retrieves the cached published rules, nil on miss or expiry.
	Get() []rules.RuleWithVersion

	// Set stores the published rules.
	Set(published []rules.RuleWithVersion)

	// Invalidate clears the cache, forcing a refresh on next Get.
	Invalidate()

	// IsValid reports whether the cache holds unexpired data.
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns the defaults for published-rule caching:
// no TTL, invalidation happens on rule mutations.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}

// MemoryPublishedCache is an in-memory PublishedCache, safe for
// concurrent use.
type MemoryPublishedCache struct {
	published []rules.RuleWithVersion
	cachedAt  time.Time
	config    CacheConfig
	mu        sync.RWMutex
	isValid   bool
}

// NewMemoryPublishedCache creates a new in-memory published-rule cache.
func NewMemoryPublishedCache(config CacheConfig) *MemoryPublishedCache {
	return &MemoryPublishedCache{config: config}
}

func (c *MemoryPublishedCache) Get() []rules.RuleWithVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isValid {
		return nil
	}
	if c.config.TTL > 0 && time.Since(c.cachedAt) > c.config.TTL {
		return nil
	}

	// Return a copy to prevent external modifications.
	out := make([]rules.RuleWithVersion, len(c.published))
	copy(out, c.published)
	return out
}

func (c *MemoryPublishedCache) Set(published []rules.RuleWithVersion) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.published = make([]rules.RuleWithVersion, len(published))
	copy(c.published, published)
	c.cachedAt = time.Now()
	c.isValid = true
}

func (c *MemoryPublishedCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isValid = false
	c.published = nil
}

func (c *MemoryPublishedCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isValid {
		return false
	}
	if c.config.TTL > 0 {
		return time.Since(c.cachedAt) <= c.config.TTL
	}
	return true
}
