package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/roster/roster/internal/auth"
	"github.com/roster/roster/internal/cache"
	"github.com/roster/roster/internal/model"
)

type stubLimiter struct {
	allow   bool
	err     error
	apiKeys []string
	ips     []string
}

func (s *stubLimiter) result(limit int) (*cache.RateLimitResult, error) {
	if s.err != nil {
		return &cache.RateLimitResult{Allowed: true}, s.err
	}
	res := &cache.RateLimitResult{Allowed: s.allow, Limit: limit, ResetAt: time.Now().Add(time.Minute)}
	if !s.allow {
		res.RetryAfter = 1500 * time.Millisecond
	}
	return res, nil
}

func (s *stubLimiter) CheckAPIRateLimit(_ context.Context, keyID string, rpm, _ int) (*cache.RateLimitResult, error) {
	s.apiKeys = append(s.apiKeys, keyID)
	return s.result(rpm)
}

func (s *stubLimiter) CheckIPRateLimit(_ context.Context, ip string, rps, _ int) (*cache.RateLimitResult, error) {
	s.ips = append(s.ips, ip)
	return s.result(rps * 60)
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name       string
		tier       string // "" means anonymous
		allow      bool
		err        error
		wantStatus int
		wantAPI    int
		wantIP     int
	}{
		{"anonymous allowed", "", true, nil, http.StatusOK, 0, 1},
		{"anonymous throttled", "", false, nil, http.StatusTooManyRequests, 0, 1},
		{"free key throttled", model.TierFree, false, nil, http.StatusTooManyRequests, 1, 0},
		{"pro key allowed", model.TierPro, true, nil, http.StatusOK, 1, 0},
		{"unlimited key skips limiter", model.TierUnlimited, false, nil, http.StatusOK, 0, 0},
		{"limiter error fails open", model.TierFree, false, errors.New("redis down"), http.StatusOK, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := &stubLimiter{allow: tt.allow, err: tt.err}
			mw := RateLimit(RateLimitConfig{
				Logger:      logger,
				Limiter:     limiter,
				APIEnabled:  true,
				AnonEnabled: true,
				AnonRPS:     1,
				AnonBurst:   1,
			})

			req := httptest.NewRequest(http.MethodGet, "/api/blogs/", nil)
			req.RemoteAddr = "203.0.113.7:5555"
			if tt.tier != "" {
				req = req.WithContext(auth.ContextWithAuth(req.Context(), &model.AuthContext{KeyID: "k1", RateLimitTier: tt.tier}))
			}
			rec := httptest.NewRecorder()
			mw(okHandler()).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if len(limiter.apiKeys) != tt.wantAPI || len(limiter.ips) != tt.wantIP {
				t.Errorf("limiter calls api=%d ip=%d, want api=%d ip=%d", len(limiter.apiKeys), len(limiter.ips), tt.wantAPI, tt.wantIP)
			}
			if tt.wantIP > 0 && limiter.ips[0] != "203.0.113.7" {
				t.Errorf("ip = %q, want host without port", limiter.ips[0])
			}
			if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "2" {
				t.Errorf("Retry-After = %q, want 2", rec.Header().Get("Retry-After"))
			}
			if rec.Code == http.StatusOK && tt.err == nil && tt.tier != model.TierUnlimited && rec.Header().Get("X-RateLimit-Limit") == "" {
				t.Error("X-RateLimit-Limit not set")
			}
		})
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	limiter := &stubLimiter{}
	mw := RateLimit(RateLimitConfig{Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), Limiter: limiter})

	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK || len(limiter.ips) != 0 {
		t.Errorf("disabled limiter should pass through, status=%d calls=%d", rec.Code, len(limiter.ips))
	}
}
