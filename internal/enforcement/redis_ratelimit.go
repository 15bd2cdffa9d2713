package enforcement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimitStore backs the sliding rate-limit window with a Redis
// sorted set per key, so the limit holds across multiple service instances.
// Member scores are request timestamps; expired members are trimmed on
// every access.
type RedisRateLimitStore struct {
	client *redis.Client
	window time.Duration
	prefix string
}

// NewRedisRateLimitStore creates a Redis-backed sliding-window store.
func NewRedisRateLimitStore(client *redis.Client, window time.Duration) *RedisRateLimitStore {
	if window <= 0 {
		window = RateLimitWindow
	}
	return &RedisRateLimitStore{
		client: client,
		window: window,
		prefix: "pactguard:ratelimit:",
	}
}

// Allow implements RateLimitStore.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, limit int, now time.Time) (bool, error) {
	redisKey := s.prefix + key
	cutoff := now.Add(-s.window)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("%d", cutoff.UnixNano()))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit window trim failed: %w", err)
	}

	if countCmd.Val() >= int64(limit) {
		return false, nil
	}

	member := redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	}
	record := s.client.TxPipeline()
	record.ZAdd(ctx, redisKey, member)
	record.Expire(ctx, redisKey, s.window+time.Second)
	if _, err := record.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit record failed: %w", err)
	}
	return true, nil
}
