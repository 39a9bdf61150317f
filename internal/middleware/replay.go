package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const signatureKeyPrefix = "kipu:sig:v1:"

// SignatureStore remembers accepted signed requests for the length of the
// timestamp window so that each one is honoured once.
type SignatureStore interface {
	// Remember records key and returns false when it was already present.
	Remember(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisSignatures shares accepted signatures across replicas with SETNX.
type RedisSignatures struct {
	cache *redis.Client
}

func NewRedisSignatures(cache *redis.Client) *RedisSignatures {
	return &RedisSignatures{cache: cache}
}

func (s *RedisSignatures) Remember(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.cache.SetNX(ctx, signatureKeyPrefix+key, 1, ttl).Result()
}

// MemorySignatures keeps accepted signatures in process.
type MemorySignatures struct {
	mu   sync.Mutex
	now  func() time.Time
	seen map[string]time.Time
}

func NewMemorySignatures(now func() time.Time) *MemorySignatures {
	if now == nil {
		now = time.Now
	}
	return &MemorySignatures{now: now, seen: make(map[string]time.Time)}
}

func (s *MemorySignatures) Remember(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, expires := range s.seen {
		if !now.Before(expires) {
			delete(s.seen, k)
		}
	}
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = now.Add(ttl)
	return true, nil
}
