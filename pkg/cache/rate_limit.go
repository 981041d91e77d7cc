package cache

import (
	"context"
	"time"
)

// RateLimitResult describes the state of a fixed-window counter after a request
type RateLimitResult struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// CheckAPIRateLimit counts a request against key within a fixed window
func (c *RedisClient) CheckAPIRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error) {
	windowStart := time.Now().Truncate(window)
	redisKey := "ratelimit:api:" + key + ":" + windowStart.Format("20060102150405")

	count, err := c.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return nil, err
	}
	if count == 1 {
		c.client.Expire(ctx, redisKey, window)
	}

	resetAt := windowStart.Add(window)
	result := &RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: limit - count,
		ResetAt:   resetAt,
	}
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	if !result.Allowed {
		result.RetryAfter = time.Until(resetAt)
	}

	return result, nil
}
