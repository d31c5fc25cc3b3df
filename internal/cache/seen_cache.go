// Package cache provides the in-flight dedup layer in front of the database.
// The cache answers "has any worker already claimed this profile in this
// run"; the database remains the durable source of truth.
package cache

import (
	"log/slog"
	"os"
	"time"

	"github.com/ahmedxxzz/doctoralia-scraper/config"
	"github.com/ahmedxxzz/doctoralia-scraper/internal"
	"github.com/ahmedxxzz/doctoralia-scraper/internal/model"
	"github.com/bradfitz/gomemcache/memcache"
	gocache "github.com/patrickmn/go-cache"
)

// SeenCache tracks profile references that are persisted or currently being
// processed.
type SeenCache interface {
	Contains(ref model.Reference) bool
	Add(ref model.Reference)
	Close()
}

// MemoryCache is the default single-process cache.
type MemoryCache struct {
	store *gocache.Cache
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &MemoryCache{store: gocache.New(ttl, 10*time.Minute)}
}

func (c *MemoryCache) Contains(ref model.Reference) bool {
	_, found := c.store.Get(string(ref))
	return found
}

func (c *MemoryCache) Add(ref model.Reference) {
	c.store.SetDefault(string(ref), struct{}{})
}

func (c *MemoryCache) Close() {}

// MemcachedCache shares seen-state between scraper instances running against
// the same target. Keys are hashed references to stay under the memcached
// key length limit.
type MemcachedCache struct {
	client *memcache.Client
	ttl    time.Duration
}

func NewMemcachedCache(cfg *config.CacheConfig) *MemcachedCache {
	client := memcache.New(cfg.Servers...)
	if err := client.Ping(); err != nil {
		slog.Error("connection to memcached failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	slog.Info("connected to memcached.")
	return &MemcachedCache{client: client, ttl: cfg.TtlForRef}
}

func (c *MemcachedCache) Contains(ref model.Reference) bool {
	_, err := c.client.Get(internal.HashURL(string(ref)))
	if err != nil && err != memcache.ErrCacheMiss {
		slog.Warn("memcached lookup failed.", slog.String("err", err.Error()))
	}
	return err == nil
}

func (c *MemcachedCache) Add(ref model.Reference) {
	err := c.client.Set(&memcache.Item{
		Key:        internal.HashURL(string(ref)),
		Value:      []byte(ref),
		Expiration: int32(c.ttl.Seconds()),
	})
	if err != nil {
		slog.Warn("memcached set failed.", slog.String("err", err.Error()))
	}
}

func (c *MemcachedCache) Close() {
	if err := c.client.Close(); err != nil {
		slog.Warn("error closing memcached connections.", slog.String("err", err.Error()))
	}
}
