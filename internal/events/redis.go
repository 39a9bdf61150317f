package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream events are appended to.
const DefaultStream = "kipu:events:v1"

// RedisPublisher appends events to a capped Redis stream.
type RedisPublisher struct {
	cache  *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher builds a publisher writing to stream, trimmed to roughly maxLen entries.
func NewRedisPublisher(cache *redis.Client, stream string, maxLen int64) *RedisPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisPublisher{cache: cache, stream: stream, maxLen: maxLen}
}

// Publish appends the event to the stream.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	values := map[string]any{
		"id":          event.ID,
		"kind":        event.Kind,
		"occurred_at": event.OccurredAt.Format(time.RFC3339Nano),
	}
	for k, v := range event.Attributes {
		values["attr."+k] = v
	}

	args := &redis.XAddArgs{Stream: p.stream, Values: values}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.cache.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("append event %s to %s: %w", event.ID, p.stream, err)
	}
	return nil
}
