package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/metrics"
	"github.com/havenly/havenly-backend/pkg/kv"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache key prefixes
const (
	KeyLandingPage    = "hvn:landing"
	KeyUnsplashImage  = "hvn:unsplash"
	KeyFeaturedHomes  = "hvn:listings:featured"
	KeyJobLease       = "hvn:jobs:lease"
	KeyAdminSettings  = "hvn:settings"
	KeyTrendingTopics = "hvn:trends"
)

// Cache stores JSON values in a kv.Store and records hit/miss metrics.
type Cache struct {
	kv      kv.Store
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewCache(store kv.Store, logger *zap.SugaredLogger, metrics *metrics.Metrics) *Cache {
	return &Cache{kv: store, logger: logger, metrics: metrics}
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			if c.metrics != nil {
				c.metrics.RecordCacheMiss(ctx, keyFamily(key))
			}
			return ErrCacheMiss
		}
		if c.logger != nil {
			c.logger.Errorw("Cache get error", "key", key, "error", err)
		}
		return fmt.Errorf("cache get error: %w", err)
	}
	if c.metrics != nil {
		c.metrics.RecordCacheHit(ctx, keyFamily(key))
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.kv.Set(ctx, key, data, ttl); err != nil {
		if c.logger != nil {
			c.logger.Errorw("Cache set error", "key", key, "error", err)
		}
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := c.kv.Del(ctx, keys...); err != nil {
		if c.logger != nil {
			c.logger.Errorw("Cache delete error", "keys", keys, "error", err)
		}
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	count, err := c.kv.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache exists error: %w", err)
	}
	return count > 0, nil
}

// AcquireLease takes a named lease for ttl. It returns false when another
// holder already has it, which lets several API replicas share one cron
// schedule without double-running a job.
func (c *Cache) AcquireLease(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := c.kv.SetNX(ctx, fmt.Sprintf("%s:%s", KeyJobLease, name), []byte(time.Now().UTC().Format(time.RFC3339)), ttl)
	if err != nil {
		return false, fmt.Errorf("cache lease error: %w", err)
	}
	return ok, nil
}

func (c *Cache) ReleaseLease(ctx context.Context, name string) error {
	return c.Delete(ctx, fmt.Sprintf("%s:%s", KeyJobLease, name))
}

// Incr bumps a counter and sets its expiry on first use.
func (c *Cache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.kv.IncrBy(ctx, key, 1)
	if err != nil {
		return 0, fmt.Errorf("cache incr error: %w", err)
	}
	if n == 1 && ttl > 0 {
		if _, err := c.kv.Expire(ctx, key, ttl); err != nil {
			return n, fmt.Errorf("cache expire error: %w", err)
		}
	}
	return n, nil
}

func LandingKey(city, kind string) string {
	return fmt.Sprintf("%s:%s:%s", KeyLandingPage, city, kind)
}

func ImageKey(query string) string {
	return fmt.Sprintf("%s:%s", KeyUnsplashImage, strings.ToLower(strings.TrimSpace(query)))
}

func SettingKey(name string) string {
	return fmt.Sprintf("%s:%s", KeyAdminSettings, name)
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.kv.Ping(ctx)
}

func (c *Cache) Close() error {
	return c.kv.Close()
}

// keyFamily trims a key to its prefix so metric label cardinality stays
// bounded.
func keyFamily(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, ":")
}
