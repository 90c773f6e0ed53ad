package breakglass

import (
	"context"
	"fmt"
	"time"

	"github.com/careledger/careledger/internal/platform/redis"
)

// redisLimiter counts requests in fixed per-user buckets so the limit holds
// across all server instances sharing the Redis.
type redisLimiter struct {
	client     *redis.Client
	window     time.Duration
	maxPerUser int
}

// NewRedisLimiter creates a cluster-wide limiter allowing maxPerUser requests
// per window.
func NewRedisLimiter(client *redis.Client, maxPerUser int, window time.Duration) RateLimiter {
	return &redisLimiter{client: client, window: window, maxPerUser: maxPerUser}
}

func (l *redisLimiter) Allow(ctx context.Context, userID string, now time.Time) (bool, error) {
	bucket := now.Unix() / int64(l.window.Seconds())
	key := fmt.Sprintf("breakglass:rate:%s:%d", userID, bucket)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		// First request in the bucket sets the expiry; an extra window of
		// slack covers clock drift between instances.
		if err := l.client.Expire(ctx, key, 2*l.window).Err(); err != nil {
			return false, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	return count <= int64(l.maxPerUser), nil
}
