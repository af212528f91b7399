package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/pageza/foodlens/backend/internal/apperr"
	"github.com/pageza/foodlens/backend/internal/logging"
)

// RateLimitConfig defines configuration for rate limiting
type RateLimitConfig struct {
	// Window is the time window for rate limiting
	Window time.Duration
	// Limit is the maximum number of requests allowed in the window
	Limit int
	// Key prefix for Redis keys
	KeyPrefix string
}

// Quota describes a caller's standing in the current window
type Quota struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset_time"`
	Window    string    `json:"window"`
}

// RateLimiter is a fixed-window counter in Redis
type RateLimiter struct {
	redis  redis.Cmdable
	config RateLimitConfig
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter instance
func NewRateLimiter(client redis.Cmdable, config RateLimitConfig) *RateLimiter {
	if config.Window <= 0 {
		config.Window = time.Hour
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "rate_limit"
	}
	return &RateLimiter{redis: client, config: config, now: time.Now}
}

// RateLimitMiddleware enforces the limit per user, or per client IP for
// anonymous callers. Redis failures let the request through.
func (rl *RateLimiter) RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := CallerKey(c)
		allowed, quota, err := rl.IsAllowed(c.Request.Context(), caller)
		if err != nil {
			logging.Ctx(c.Request.Context()).Warn().Err(err).Msg("rate limit check failed")
			c.Header("X-RateLimit-Error", "rate limit check failed")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(quota.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(quota.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(quota.Reset.Unix(), 10))

		if !allowed {
			retry := int(quota.Reset.Sub(rl.now()).Seconds())
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			Abort(c, apperr.New(apperr.KindRateLimited,
				fmt.Sprintf("You have exceeded the rate limit of %d requests per %v", quota.Limit, rl.config.Window)))
			return
		}

		c.Next()
	}
}

// IsAllowed counts a request from caller and reports whether it fits the window
func (rl *RateLimiter) IsAllowed(ctx context.Context, caller string) (bool, Quota, error) {
	key, reset := rl.key(caller)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, Quota{}, err
	}

	count := int(incr.Val())
	return count <= rl.config.Limit, rl.quota(count, reset), nil
}

// Remaining reports the caller's quota without counting a request
func (rl *RateLimiter) Remaining(ctx context.Context, caller string) (Quota, error) {
	key, reset := rl.key(caller)

	count, err := rl.redis.Get(ctx, key).Int()
	if err == redis.Nil {
		return rl.quota(0, reset), nil
	}
	if err != nil {
		return Quota{}, err
	}
	return rl.quota(count, reset), nil
}

func (rl *RateLimiter) key(caller string) (string, time.Time) {
	windowStart := rl.now().Truncate(rl.config.Window)
	return fmt.Sprintf("%s:%s:%d", rl.config.KeyPrefix, caller, windowStart.Unix()), windowStart.Add(rl.config.Window)
}

func (rl *RateLimiter) quota(count int, reset time.Time) Quota {
	remaining := rl.config.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Quota{
		Limit:     rl.config.Limit,
		Remaining: remaining,
		Reset:     reset,
		Window:    rl.config.Window.String(),
	}
}

// CallerKey identifies the caller for rate limiting
func CallerKey(c *gin.Context) string {
	if id := c.GetString(UserIDKey); id != "" {
		return "user:" + id
	}
	return "ip:" + c.ClientIP()
}
