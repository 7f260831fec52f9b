// Package cache holds the Redis-backed caches for candles and voting results.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/sentio-go/internal/models"
)

// ErrCacheMiss is returned when a key is absent or unreadable
var ErrCacheMiss = errors.New("cache miss")

// Stats counts cache lookups
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	Errors int64 `json:"errors"`
}

// CandleCache stores candle series as JSON under candles:{symbol}:{timeframe}:{limit}.
type CandleCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	logger *logrus.Logger

	mu    sync.Mutex
	stats Stats
}

// NewCandleCache creates a candle cache whose entries expire after ttl.
func NewCandleCache(client redis.Cmdable, ttl time.Duration, logger *logrus.Logger) *CandleCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CandleCache{
		client: client,
		prefix: "candles:",
		ttl:    ttl,
		logger: logger,
	}
}

func (c *CandleCache) key(symbol, timeframe string, limit int) string {
	return fmt.Sprintf("%s%s:%s:%d", c.prefix, symbol, timeframe, limit)
}

// Get returns the cached series or ErrCacheMiss.
func (c *CandleCache) Get(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	val, err := c.client.Get(ctx, c.key(symbol, timeframe, limit)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.count(func(s *Stats) { s.Misses++ })
			return nil, ErrCacheMiss
		}
		c.count(func(s *Stats) { s.Errors++ })
		return nil, fmt.Errorf("failed to read candles for %s: %w", symbol, err)
	}

	var candles []models.Candle
	if err := json.Unmarshal([]byte(val), &candles); err != nil {
		c.logger.WithError(err).WithField("symbol", symbol).Warn("Discarding unreadable cached candles")
		c.count(func(s *Stats) { s.Misses++ })
		return nil, ErrCacheMiss
	}
	c.count(func(s *Stats) { s.Hits++ })
	return candles, nil
}

// Set stores a series with the cache TTL.
func (c *CandleCache) Set(ctx context.Context, symbol, timeframe string, limit int, candles []models.Candle) error {
	data, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("failed to marshal candles: %w", err)
	}
	if err := c.client.Set(ctx, c.key(symbol, timeframe, limit), data, c.ttl).Err(); err != nil {
		c.count(func(s *Stats) { s.Errors++ })
		return fmt.Errorf("failed to cache candles for %s: %w", symbol, err)
	}
	c.count(func(s *Stats) { s.Sets++ })
	return nil
}

// Stats returns a snapshot of the lookup counters.
func (c *CandleCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *CandleCache) count(update func(*Stats)) {
	c.mu.Lock()
	update(&c.stats)
	c.mu.Unlock()
}
