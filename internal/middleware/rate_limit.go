package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"certify-manager/pkg/cache"
)

// RateLimiter counts requests per key within a window
type RateLimiter interface {
	IsReady() bool
	CheckAPIRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (*cache.RateLimitResult, error)
}

// APIRateLimitConfig defines the configuration for API rate limiting
type APIRateLimitConfig struct {
	// Requests per window
	Limit int64
	// Time window
	Window time.Duration
	// Key generator function
	KeyGenerator func(c echo.Context) string
	// Skip function (optional)
	Skipper func(c echo.Context) bool
}

// DefaultAPIRateLimitConfig returns a per-IP config with the given limit
func DefaultAPIRateLimitConfig(limit int64, window time.Duration) APIRateLimitConfig {
	return APIRateLimitConfig{
		Limit:  limit,
		Window: window,
		KeyGenerator: func(c echo.Context) string {
			return c.RealIP()
		},
		Skipper: func(c echo.Context) bool {
			return isPublicPath(c.Path())
		},
	}
}

// APIRateLimit returns a rate limiting middleware. Requests pass unchecked
// while the limiter is unavailable.
func APIRateLimit(limiter RateLimiter, config APIRateLimitConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Skipper != nil && config.Skipper(c) {
				return next(c)
			}

			if limiter == nil || !limiter.IsReady() {
				return next(c)
			}

			key := config.KeyGenerator(c)
			if key == "" {
				return next(c)
			}

			result, err := limiter.CheckAPIRateLimit(c.Request().Context(), key, config.Limit, config.Window)
			if err != nil {
				// On error, allow the request
				return next(c)
			}

			c.Response().Header().Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
			c.Response().Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				c.Response().Header().Set("Retry-After", strconv.FormatInt(int64(result.RetryAfter.Seconds()), 10))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":       "Rate limit exceeded",
					"retry_after": int64(result.RetryAfter.Seconds()),
				})
			}

			return next(c)
		}
	}
}

// APIRateLimitByToken creates a rate limiter keyed by API token, falling back to the client IP
func APIRateLimitByToken(limiter RateLimiter, limit int64, window time.Duration) echo.MiddlewareFunc {
	config := DefaultAPIRateLimitConfig(limit, window)
	config.KeyGenerator = func(c echo.Context) string {
		if id := c.Get("api_token_id"); id != nil {
			return fmt.Sprintf("token:%v", id)
		}
		return fmt.Sprintf("ip:%s", c.RealIP())
	}
	return APIRateLimit(limiter, config)
}
