package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/roster/roster/internal/auth"
	"github.com/roster/roster/internal/cache"
	"github.com/roster/roster/internal/model"
)

// RateLimiter is the token-bucket store behind RateLimit.
type RateLimiter interface {
	CheckAPIRateLimit(ctx context.Context, keyID string, ratePerMinute, burst int) (*cache.RateLimitResult, error)
	CheckIPRateLimit(ctx context.Context, ip string, ratePerSecond, burst int) (*cache.RateLimitResult, error)
}

// RateLimitConfig holds configuration for rate limiting middleware.
type RateLimitConfig struct {
	Logger  *slog.Logger
	Limiter RateLimiter
	// Per API key, sized by the key's tier
	APIEnabled bool
	// Per client IP for anonymous requests
	AnonEnabled bool
	AnonRPS     int
	AnonBurst   int
}

// RateLimit limits authenticated requests per key tier and anonymous
// requests per client IP. Must be applied after OptionalAuth.
// Limiter errors fail open.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				result  *cache.RateLimitResult
				err     error
				subject []any
			)

			authCtx := auth.AuthFromContext(r.Context())
			switch {
			case authCtx != nil && cfg.APIEnabled:
				tier, ok := model.TierConfigs[authCtx.RateLimitTier]
				if !ok {
					tier = model.TierConfigs[model.TierFree]
				}
				if tier.RequestsPerMinute == 0 {
					next.ServeHTTP(w, r)
					return
				}
				subject = []any{slog.String("type", "api"), slog.String("key_id", authCtx.KeyID)}
				result, err = cfg.Limiter.CheckAPIRateLimit(r.Context(), authCtx.KeyID, tier.RequestsPerMinute, tier.Burst)
			case authCtx == nil && cfg.AnonEnabled:
				ip := clientIP(r)
				subject = []any{slog.String("type", "anonymous"), slog.String("ip", ip)}
				result, err = cfg.Limiter.CheckIPRateLimit(r.Context(), ip, cfg.AnonRPS, cfg.AnonBurst)
			default:
				next.ServeHTTP(w, r)
				return
			}

			if err != nil {
				cfg.Logger.Error("rate limit check failed", append(subject, slog.String("error", err.Error()))...)
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, result)

			if !result.Allowed {
				retry := int(math.Ceil(result.RetryAfter.Seconds()))
				cfg.Logger.Warn("rate limit exceeded", append(subject,
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.Int("retry_after_seconds", retry),
					slog.String("request_id", GetRequestID(r.Context())),
				)...)

				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED",
					fmt.Sprintf("Request was throttled. Expected available in %d seconds.", retry))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, res *cache.RateLimitResult) {
	if res.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// clientIP returns the host part of RemoteAddr. chi's RealIP middleware
// has already applied X-Forwarded-For / X-Real-IP when configured.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
