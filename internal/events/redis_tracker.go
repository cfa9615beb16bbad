package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultTTL bounds how long seen event ids are remembered. Gateway retry
// storms happen within minutes; a week is generous.
const defaultTTL = 7 * 24 * time.Hour

// RedisTracker implements Tracker with SETNX keys, trading durable history
// for constant-size state. Selected when REDIS_ADDR is configured.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	if client == nil {
		panic("events: redis client required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisTracker{client: client, ttl: ttl}
}

var _ Tracker = (*RedisTracker)(nil)

func processedKey(provider, eventID string) string {
	return fmt.Sprintf("relay:processed:%s:%s", provider, eventID)
}

func (t *RedisTracker) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	n, err := t.client.Exists(ctx, processedKey(provider, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return n > 0, nil
}

func (t *RedisTracker) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	ok, err := t.client.SetNX(ctx, processedKey(provider, eventID), 1, t.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ok, nil
}
