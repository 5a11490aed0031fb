// Package cache holds read results for entities with caching enabled: an
// in-process level 1 and an optional Redis level 2 shared between
// instances.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"datagate/internal/config"
	"datagate/internal/metrics"
)

// Level2 is the shared store behind the in-process entries.
type Level2 interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

type entry struct {
	value   []byte
	expires time.Time
}

type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	l2      Level2
	prefix  string
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New builds the cache for opts. A nil Cache is returned when caching is
// disabled; all methods treat nil as a permanent miss.
func New(opts config.CacheOptions, m *metrics.Metrics, logger *slog.Logger) (*Cache, error) {
	if !opts.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		entries: map[string]entry{},
		prefix:  "datagate:",
		ttl:     time.Duration(opts.TTLSeconds) * time.Second,
		metrics: m,
		logger:  logger.With("component", "cache"),
		now:     time.Now,
	}
	if c.ttl <= 0 {
		c.ttl = config.DefaultCacheTTLSeconds * time.Second
	}
	if l2 := opts.Level2; l2 != nil && l2.Enabled {
		if l2.Provider != "" && !strings.EqualFold(l2.Provider, "redis") {
			return nil, fmt.Errorf("unsupported level 2 cache provider %q", l2.Provider)
		}
		store, err := NewRedis(l2.ConnectionString)
		if err != nil {
			return nil, err
		}
		c.l2 = store
		if l2.Partition != "" {
			c.prefix += l2.Partition + ":"
		}
	}
	return c, nil
}

// WithLevel2 replaces the shared store.
func (c *Cache) WithLevel2(l2 Level2) *Cache {
	c.l2 = l2
	return c
}

// TTL resolves the lifetime for an entity, falling back to the runtime
// default.
func (c *Cache) TTL(e *config.EntityCache) time.Duration {
	if e != nil && e.TTLSeconds > 0 {
		return time.Duration(e.TTLSeconds) * time.Second
	}
	return c.ttl
}

// Enabled reports whether results for an entity are cached.
func (c *Cache) Enabled(e *config.EntityCache) bool {
	return c != nil && e != nil && e.Enabled
}

// Key hashes everything that determines a result. The statement already
// carries the caller's policy predicate and claim values.
func Key(dataSource, sql string, args []any) string {
	h := sha256.New()
	h.Write([]byte(dataSource))
	h.Write([]byte{0})
	h.Write([]byte(sql))
	for _, a := range args {
		h.Write([]byte{0})
		b, _ := json.Marshal(a)
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a cached value, consulting level 2 on a level 1 miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !c.now().Before(e.expires) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	c.metrics.CacheLookup("l1", ok)
	if ok {
		return e.value, true
	}
	if c.l2 == nil {
		return nil, false
	}
	v, ok, err := c.l2.Get(ctx, c.prefix+key)
	if err != nil {
		c.logger.Warn("level 2 cache read failed", "error", err)
		ok = false
	}
	c.metrics.CacheLookup("l2", ok)
	if !ok {
		return nil, false
	}
	c.store(key, v, c.ttl)
	return v, true
}

// Set stores value in both levels. Level 2 failures are logged only.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.store(key, value, ttl)
	if c.l2 != nil {
		if err := c.l2.Set(ctx, c.prefix+key, value, ttl); err != nil {
			c.logger.Warn("level 2 cache write failed", "error", err)
		}
	}
}

func (c *Cache) store(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, expires: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Purge drops level 1 entries, e.g. after a configuration reload.
func (c *Cache) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = map[string]entry{}
	c.mu.Unlock()
}

func (c *Cache) Close() error {
	if c == nil || c.l2 == nil {
		return nil
	}
	return c.l2.Close()
}

// Redis is a Level2 backed by go-redis.
type Redis struct {
	rdb *redis.Client
}

// NewRedis accepts a redis:// URL or a bare host:port address.
func NewRedis(connString string) (*Redis, error) {
	if connString == "" {
		return nil, errors.New("level 2 cache requires a connection string")
	}
	var opts *redis.Options
	if strings.Contains(connString, "://") {
		var err error
		if opts, err = redis.ParseURL(connString); err != nil {
			return nil, fmt.Errorf("parse redis connection string: %w", err)
		}
	} else {
		opts = &redis.Options{Addr: connString}
	}
	return &Redis{rdb: redis.NewClient(opts)}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Close() error { return r.rdb.Close() }
