package query

import (
	"time"

	"LendingLedger/internal/observability"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCacheTTL  = 15 * time.Second
	defaultCacheSize = 1024
)

// Cache is a read-through cache for computed read models. Entries expire
// after the TTL; failed loads are never stored.
type Cache struct {
	lru     *expirable.LRU[string, any]
	metrics *observability.Metrics
}

func NewCache(ttl time.Duration, metrics *observability.Metrics) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		lru:     expirable.NewLRU[string, any](defaultCacheSize, nil, ttl),
		metrics: metrics,
	}
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Cached returns the value stored under key, or calls load and stores its
// result. With bypass set the stored value is ignored and replaced.
func Cached[T any](c *Cache, key string, bypass bool, load func() (T, error)) (T, error) {
	if c == nil {
		return load()
	}
	if !bypass {
		if v, ok := c.lru.Get(key); ok {
			if t, ok := v.(T); ok {
				if c.metrics != nil {
					c.metrics.CacheHits.Inc()
				}
				return t, nil
			}
		}
	}
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	c.lru.Add(key, v)
	return v, nil
}
