package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rateLimitAPIPrefix = "ratelimit:apikey:"
	rateLimitIPPrefix  = "ratelimit:ip:"
	rateLimitAPITTL    = 120 * time.Second
	rateLimitIPTTL     = 60 * time.Second
)

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// tokenBucketScript refills and consumes a token atomically.
// Times are in milliseconds so sub-second refill rates work.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])      -- tokens per millisecond
	local burst = tonumber(ARGV[2])     -- bucket capacity
	local now = tonumber(ARGV[3])       -- current time in ms
	local ttl = tonumber(ARGV[4])       -- TTL in seconds

	local data = redis.call('HMGET', key, 'tokens', 'last_update')
	local tokens = tonumber(data[1]) or burst
	local last_update = tonumber(data[2]) or now

	local elapsed = math.max(0, now - last_update)
	tokens = math.min(burst, tokens + (elapsed * rate))

	local allowed = 0
	local retry_after = 0

	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	else
		retry_after = math.ceil((1 - tokens) / rate)
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_update', now)
	redis.call('EXPIRE', key, ttl)

	return {allowed, retry_after, math.floor(tokens)}
`)

// CheckAPIRateLimit checks and updates the rate limit for an API key.
// A zero rate means unlimited.
func (c *Cache) CheckAPIRateLimit(ctx context.Context, keyID string, ratePerMinute, burst int) (*RateLimitResult, error) {
	if ratePerMinute == 0 {
		return &RateLimitResult{Allowed: true}, nil
	}
	res, err := c.checkRateLimit(ctx, rateLimitAPIPrefix+keyID, float64(ratePerMinute)/60.0, burst, rateLimitAPITTL)
	if res != nil {
		res.Limit = ratePerMinute
	}
	return res, err
}

// CheckIPRateLimit checks and updates the rate limit for an anonymous client.
// IP is hashed to avoid storing raw IP addresses.
func (c *Cache) CheckIPRateLimit(ctx context.Context, ip string, ratePerSecond, burst int) (*RateLimitResult, error) {
	res, err := c.checkRateLimit(ctx, rateLimitIPPrefix+hashIP(ip), float64(ratePerSecond), burst, rateLimitIPTTL)
	if res != nil {
		res.Limit = ratePerSecond * 60
	}
	return res, err
}

func (c *Cache) checkRateLimit(ctx context.Context, key string, ratePerSecond float64, burst int, ttl time.Duration) (*RateLimitResult, error) {
	now := time.Now()
	ratePerMs := ratePerSecond / 1000.0

	result, err := tokenBucketScript.Run(ctx, c.client,
		[]string{key},
		ratePerMs, burst, now.UnixMilli(), int(ttl.Seconds()),
	).Int64Slice()
	if err != nil {
		// Fail open on Redis errors.
		return &RateLimitResult{Allowed: true, Remaining: int64(burst), ResetAt: now.Add(time.Minute)}, err
	}

	return bucketResult(result, burst, ratePerSecond, now), nil
}

// bucketResult interprets the script reply {allowed, retry_after_ms, tokens}.
func bucketResult(reply []int64, burst int, ratePerSecond float64, now time.Time) *RateLimitResult {
	allowed := reply[0] == 1
	retryAfter := time.Duration(reply[1]) * time.Millisecond
	remaining := reply[2]

	// Time until the bucket is full again.
	missing := float64(int64(burst) - remaining)
	refill := time.Duration(math.Ceil(missing/ratePerSecond*1000)) * time.Millisecond

	return &RateLimitResult{
		Allowed:    allowed,
		Remaining:  remaining,
		ResetAt:    now.Add(refill),
		RetryAfter: retryAfter,
	}
}

// hashIP creates a truncated SHA256 hash of an IP address.
func hashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(hash[:8])
}
