package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitStrategy selects the limiting algorithm
type RateLimitStrategy string

const (
	// FixedWindow counts requests per aligned window; bursts of 2x are possible at boundaries
	FixedWindow RateLimitStrategy = "fixed_window"
	// SlidingWindow keeps one sorted-set entry per request inside the window
	SlidingWindow RateLimitStrategy = "sliding_window"
	// TokenBucket refills Limit tokens per Window and allows bursts up to Limit
	TokenBucket RateLimitStrategy = "token_bucket"
)

// ParseStrategy maps a config string onto a strategy; empty selects SlidingWindow
func ParseStrategy(s string) (RateLimitStrategy, error) {
	switch st := RateLimitStrategy(s); st {
	case "":
		return SlidingWindow, nil
	case FixedWindow, SlidingWindow, TokenBucket:
		return st, nil
	default:
		return "", fmt.Errorf("unknown rate limit strategy %q", s)
	}
}

// RateLimitConfig holds configuration for the rate limiter
type RateLimitConfig struct {
	Strategy RateLimitStrategy
	Limit    int
	Window   time.Duration

	// KeyFunc generates the rate limit key (default: client IP and route)
	KeyFunc func(*gin.Context) string
	// ErrorHandler writes the 429 response
	ErrorHandler func(*gin.Context)
	// SkipFunc exempts requests from limiting
	SkipFunc func(*gin.Context) bool
}

// RateLimiter limits requests using counters kept in redis
type RateLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
	logger *zap.Logger
}

// NewRateLimiter creates a new rate limiter instance
func NewRateLimiter(redisClient *redis.Client, config RateLimitConfig, logger *zap.Logger) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = IPAndRouteKey
	}
	if config.ErrorHandler == nil {
		config.ErrorHandler = defaultErrorHandler
	}
	if config.SkipFunc == nil {
		config.SkipFunc = func(*gin.Context) bool { return false }
	}
	if config.Strategy == "" {
		config.Strategy = SlidingWindow
	}

	return &RateLimiter{
		redis:  redisClient,
		config: config,
		logger: logger.Named("ratelimit"),
	}
}

// Middleware returns the gin handler enforcing the limit.
// Redis failures let the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.config.SkipFunc(c) {
			c.Next()
			return
		}

		key := rl.config.KeyFunc(c)
		res, err := rl.check(c.Request.Context(), key)
		if err != nil {
			rl.logger.Warn("rate limiter unavailable, failing open",
				zap.String("key", key),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.config.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.reset, 10))

		if !res.allowed {
			retryAfter := res.reset - time.Now().Unix()
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			rl.config.ErrorHandler(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

type limitResult struct {
	allowed   bool
	remaining int
	// reset is the unix second at which another request will be admitted
	reset int64
}

func (rl *RateLimiter) check(ctx context.Context, key string) (limitResult, error) {
	switch rl.config.Strategy {
	case FixedWindow:
		return rl.fixedWindowCheck(ctx, key)
	case TokenBucket:
		return rl.tokenBucketCheck(ctx, key)
	default:
		return rl.slidingWindowCheck(ctx, key)
	}
}

func (rl *RateLimiter) fixedWindowCheck(ctx context.Context, key string) (limitResult, error) {
	now := time.Now()
	windowStart := now.Truncate(rl.config.Window).Unix()
	windowKey := fmt.Sprintf("%s:%d", key, windowStart)

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, rl.config.Window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return limitResult{}, err
	}

	count := int(incr.Val())
	return limitResult{
		allowed:   count <= rl.config.Limit,
		remaining: max(rl.config.Limit-count, 0),
		reset:     windowStart + int64(rl.config.Window.Seconds()),
	}, nil
}

func (rl *RateLimiter) slidingWindowCheck(ctx context.Context, key string) (limitResult, error) {
	now := time.Now()
	windowStart := now.Add(-rl.config.Window).UnixNano()

	pipe := rl.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: requestMember(now),
	})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, rl.config.Window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return limitResult{}, err
	}

	count := int(card.Val())
	return limitResult{
		allowed:   count <= rl.config.Limit,
		remaining: max(rl.config.Limit-count, 0),
		reset:     now.Add(rl.config.Window).Unix(),
	}, nil
}

// tokenBucketScript refills and takes one token atomically.
// KEYS[1] bucket hash; ARGV: capacity, refill per ms, now ms, ttl ms.
// Returns {allowed, tokens * 1000}.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then
  tokens = capacity
  ts = now
end

tokens = math.min(capacity, tokens + math.max(0, now - ts) * rate)
local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", tostring(now))
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, math.floor(tokens * 1000)}
`)

func (rl *RateLimiter) tokenBucketCheck(ctx context.Context, key string) (limitResult, error) {
	now := time.Now()
	perMs := float64(rl.config.Limit) / float64(rl.config.Window.Milliseconds())

	vals, err := tokenBucketScript.Run(ctx, rl.redis, []string{key + ":bucket"},
		rl.config.Limit,
		strconv.FormatFloat(perMs, 'f', -1, 64),
		now.UnixMilli(),
		(rl.config.Window * 2).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return limitResult{}, err
	}
	if len(vals) != 2 {
		return limitResult{}, fmt.Errorf("unexpected token bucket reply %v", vals)
	}

	tokens := float64(vals[1]) / 1000
	reset := now.Unix()
	if tokens < 1 {
		reset += int64((1-tokens)/(perMs*1000)) + 1
	}
	return limitResult{
		allowed:   vals[0] == 1,
		remaining: int(tokens),
		reset:     reset,
	}, nil
}

// requestMember is unique per request even when two share a nanosecond
func requestMember(now time.Time) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return strconv.FormatInt(now.UnixNano(), 10) + "-" + hex.EncodeToString(b[:])
}

func defaultErrorHandler(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, gin.H{
		"code":    http.StatusTooManyRequests,
		"message": "Rate limit exceeded. Please try again later.",
	})
}

// ParseKeyFunc maps a config string onto a key function: "ip" keys on the
// client IP alone, "ip_route" or empty on the IP and route pattern.
func ParseKeyFunc(s string) (func(*gin.Context) string, error) {
	switch s {
	case "", "ip_route":
		return IPAndRouteKey, nil
	case "ip":
		return IPBasedKey, nil
	default:
		return nil, fmt.Errorf("unknown rate limit key %q", s)
	}
}

// IPBasedKey limits per client IP across all routes
func IPBasedKey(c *gin.Context) string {
	return "rate_limit:ip:" + c.ClientIP()
}

// IPAndRouteKey limits per client IP and route pattern, so every short code
// shares the redirect route's budget
func IPAndRouteKey(c *gin.Context) string {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	return fmt.Sprintf("rate_limit:%s:%s", c.ClientIP(), route)
}

// SkipOperational exempts health checks and metric scrapes
func SkipOperational(c *gin.Context) bool {
	return c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics"
}
