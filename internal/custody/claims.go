package custody

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

const claimKeyPrefix = "kipu:claims:"

// RedisClaims records claims with SETNX so that replicas share them.
type RedisClaims struct {
	cache *redis.Client
}

func NewRedisClaims(cache *redis.Client) *RedisClaims {
	return &RedisClaims{cache: cache}
}

func (c *RedisClaims) Claim(ctx context.Context, ref string) (bool, error) {
	return c.cache.SetNX(ctx, claimKeyPrefix+ref, 1, 0).Result()
}

// MemoryClaims keeps claims in process.
type MemoryClaims struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{seen: make(map[string]struct{})}
}

func (c *MemoryClaims) Claim(_ context.Context, ref string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[ref]; ok {
		return false, nil
	}
	c.seen[ref] = struct{}{}
	return true, nil
}
