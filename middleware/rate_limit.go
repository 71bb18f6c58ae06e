package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"safewalk/models"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Redis        *redis.Client
	Requests     int           // Number of requests allowed
	Window       time.Duration // Time window
	KeyPrefix    string        // Redis key prefix
	SkipPaths    []string      // Paths to skip rate limiting
	ErrorMessage string        // Custom error message
}

// RateLimitStrategy defines different rate limiting strategies
type RateLimitStrategy string

const (
	StrategyIP       RateLimitStrategy = "ip"
	StrategyUser     RateLimitStrategy = "user"
	StrategyUserOrIP RateLimitStrategy = "user_or_ip"
)

// RateLimiter is a sliding-window limiter over a redis sorted set. Redis
// errors let the request through.
type RateLimiter struct {
	config   RateLimitConfig
	strategy RateLimitStrategy
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimitConfig, strategy RateLimitStrategy) *RateLimiter {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "rate_limit"
	}
	if config.ErrorMessage == "" {
		config.ErrorMessage = "Rate limit exceeded"
	}

	return &RateLimiter{
		config:   config,
		strategy: strategy,
	}
}

// Middleware returns the rate limiting middleware
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return gin.HandlerFunc(func(c *gin.Context) {
		if rl.config.Redis == nil || rl.config.Requests <= 0 || rl.shouldSkipPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		key := rl.getKey(c)
		if key == "" {
			c.Next()
			return
		}

		allowed, resetTime, remaining, err := rl.checkRateLimit(c.Request.Context(), key)
		if err != nil {
			logrus.Errorf("Rate limit check failed: %v", err)
			c.Next()
			return
		}

		rl.setRateLimitHeaders(c, remaining, resetTime)

		if !allowed {
			rl.handleRateLimitExceeded(c, resetTime)
			return
		}

		c.Next()
	})
}

// checkRateLimit checks if request is within rate limit
func (rl *RateLimiter) checkRateLimit(ctx context.Context, key string) (allowed bool, resetTime time.Time, remaining int, err error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	now := time.Now()
	window := rl.config.Window
	member := uuid.New().String()

	pipe := rl.config.Redis.Pipeline()

	// Remove expired entries
	expiredBefore := now.Add(-window).UnixNano()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", expiredBefore))

	// Count current requests
	pipe.ZCard(ctx, key)

	// Add current request
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: member,
	})

	pipe.Expire(ctx, key, window+time.Minute)

	results, err := pipe.Exec(ctx)
	if err != nil {
		return false, time.Time{}, 0, err
	}

	// Count before adding the new request
	currentCount := results[1].(*redis.IntCmd).Val()

	remaining = rl.config.Requests - int(currentCount) - 1
	if remaining < 0 {
		remaining = 0
	}

	resetTime = now.Add(window)

	allowed = currentCount < int64(rl.config.Requests)

	// A rejected request does not count against the window
	if !allowed {
		rl.config.Redis.ZRem(ctx, key, member)
	}

	return allowed, resetTime, remaining, nil
}

// getKey generates rate limit key based on strategy
func (rl *RateLimiter) getKey(c *gin.Context) string {
	prefix := rl.config.KeyPrefix

	switch rl.strategy {
	case StrategyUser:
		userID := c.GetString("userID")
		if userID == "" {
			return ""
		}
		return fmt.Sprintf("%s:user:%s", prefix, userID)

	case StrategyUserOrIP:
		if userID := c.GetString("userID"); userID != "" {
			return fmt.Sprintf("%s:user:%s", prefix, userID)
		}
		return fmt.Sprintf("%s:ip:%s", prefix, rl.getClientIP(c))

	default:
		return fmt.Sprintf("%s:ip:%s", prefix, rl.getClientIP(c))
	}
}

// getClientIP gets the real client IP
func (rl *RateLimiter) getClientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return xri
	}

	return c.ClientIP()
}

func (rl *RateLimiter) setRateLimitHeaders(c *gin.Context, remaining int, resetTime time.Time) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(rl.config.Requests))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
	c.Header("X-RateLimit-Window", rl.config.Window.String())
}

func (rl *RateLimiter) handleRateLimitExceeded(c *gin.Context, resetTime time.Time) {
	retryAfter := time.Until(resetTime).Seconds()
	if retryAfter < 0 {
		retryAfter = 0
	}

	c.Header("Retry-After", strconv.Itoa(int(retryAfter)))

	response := models.NewErrorResponse(models.ErrorTypeRateLimit, rl.config.ErrorMessage, models.CodeTooManyRequests, c.GetString("request_id")).
		WithDetails("retry_after", int(retryAfter)).
		WithDetails("reset_time", resetTime.Unix())

	logrus.WithFields(logrus.Fields{
		"client_ip":   rl.getClientIP(c),
		"user_id":     c.GetString("userID"),
		"path":        c.Request.URL.Path,
		"retry_after": retryAfter,
	}).Warn("Rate limit exceeded")

	c.AbortWithStatusJSON(http.StatusTooManyRequests, response)
}

func (rl *RateLimiter) shouldSkipPath(path string) bool {
	for _, skipPath := range rl.config.SkipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}

// Predefined rate limiters

// TriggerRateLimit bounds SOS triggers per user. It runs after RequireAuth.
func TriggerRateLimit(redis *redis.Client, requests int, window time.Duration) gin.HandlerFunc {
	config := RateLimitConfig{
		Redis:        redis,
		Requests:     requests,
		Window:       window,
		KeyPrefix:    "sos_trigger_rate_limit",
		ErrorMessage: "Too many alert triggers. Use the manual call option if you need help now.",
	}

	limiter := NewRateLimiter(config, StrategyUser)
	return limiter.Middleware()
}

// WebSocketRateLimit bounds websocket connection attempts per IP.
func WebSocketRateLimit(redis *redis.Client) gin.HandlerFunc {
	config := RateLimitConfig{
		Redis:        redis,
		Requests:     20,
		Window:       time.Minute,
		KeyPrefix:    "ws_rate_limit",
		ErrorMessage: "WebSocket connection rate limit exceeded.",
	}

	limiter := NewRateLimiter(config, StrategyIP)
	return limiter.Middleware()
}
