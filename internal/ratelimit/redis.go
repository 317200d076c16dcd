// Redis-backed rate-limit window store.
//
// Used when multiple instances must enforce one global quota per client.
// Counting is a single INCR per request (one round trip), with the key name
// carrying the epoch-aligned window start so every instance agrees on the
// same bucket and its reset time.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore counts windows in Redis. Safe for concurrent use; all
// concurrency control is delegated to Redis' atomic INCR.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the Redis instance at url (redis:// form).
func NewRedisStore(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opt)}, nil
}

// Incr implements Store. The bucket key embeds the window start, so the
// first INCR of a fresh window creates the key and attaches an expiry one
// window past its reset to guarantee cleanup.
func (s *RedisStore) Incr(ctx context.Context, key string, windowLen time.Duration) (int64, time.Time, error) {
	if windowLen <= 0 {
		windowLen = time.Hour
	}
	start := time.Now().Truncate(windowLen)
	reset := start.Add(windowLen)
	bucket := fmt.Sprintf("%s:%d", key, start.Unix())

	count, err := s.client.Incr(ctx, bucket).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if count == 1 {
		s.client.Expire(ctx, bucket, 2*windowLen)
	}
	return count, reset, nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error { return s.client.Close() }
