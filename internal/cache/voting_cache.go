package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/irfndi/sentio-go/internal/models"
)

// VotingResultCache keeps the latest voting result per symbol in Redis.
type VotingResultCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewVotingResultCache creates a Redis voting result cache.
func NewVotingResultCache(client redis.Cmdable, ttl time.Duration) *VotingResultCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &VotingResultCache{client: client, prefix: "signal:latest:", ttl: ttl}
}

// SetLatest replaces the symbol's latest result.
func (c *VotingResultCache) SetLatest(ctx context.Context, symbol string, result *models.VotingResult) error {
	if result == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal voting result: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+symbol, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache voting result for %s: %w", symbol, err)
	}
	return nil
}

// GetLatest returns the symbol's latest result or ErrCacheMiss.
func (c *VotingResultCache) GetLatest(ctx context.Context, symbol string) (*models.VotingResult, error) {
	val, err := c.client.Get(ctx, c.prefix+symbol).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read voting result for %s: %w", symbol, err)
	}
	var result models.VotingResult
	if err := json.Unmarshal(val, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal voting result for %s: %w", symbol, err)
	}
	return &result, nil
}

// MemoryVotingResultCache is the in-process fallback used when Redis is disabled.
type MemoryVotingResultCache struct {
	mu      sync.RWMutex
	results map[string]*models.VotingResult
}

func NewMemoryVotingResultCache() *MemoryVotingResultCache {
	return &MemoryVotingResultCache{results: make(map[string]*models.VotingResult)}
}

func (c *MemoryVotingResultCache) SetLatest(_ context.Context, symbol string, result *models.VotingResult) error {
	if result == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[symbol] = result
	return nil
}

func (c *MemoryVotingResultCache) GetLatest(_ context.Context, symbol string) (*models.VotingResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result, ok := c.results[symbol]
	if !ok {
		return nil, ErrCacheMiss
	}
	return result, nil
}
