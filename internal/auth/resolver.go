package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roster/roster/internal/model"
)

// ErrInvalidKey covers every way a presented key can fail. Callers must not
// tell the reasons apart in responses.
var ErrInvalidKey = errors.New("invalid or missing API key")

// MinVerifyDuration is the floor for a database-backed verification.
const MinVerifyDuration = 200 * time.Millisecond

// KeyStore looks up stored keys.
type KeyStore interface {
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*model.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
}

// ContextCache caches resolved auth contexts.
type ContextCache interface {
	GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error)
	SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error
}

// Resolver turns a presented plaintext key into an AuthContext.
type Resolver struct {
	keys        KeyStore
	cache       ContextCache
	logger      *slog.Logger
	minDuration time.Duration
}

// NewResolver creates a resolver. cache may be nil.
func NewResolver(keys KeyStore, cache ContextCache, logger *slog.Logger) *Resolver {
	return &Resolver{
		keys:        keys,
		cache:       cache,
		logger:      logger.With("component", "auth"),
		minDuration: MinVerifyDuration,
	}
}

// SetMinDuration overrides the verification time floor.
func (r *Resolver) SetMinDuration(d time.Duration) {
	r.minDuration = d
}

// Resolve verifies plaintext. cacheHit reports whether the result came from
// the auth cache.
func (r *Resolver) Resolve(ctx context.Context, plaintext string) (authCtx *model.AuthContext, cacheHit bool, err error) {
	parsed, err := ParseAPIKey(plaintext)
	if err != nil {
		return nil, false, ErrInvalidKey
	}

	cacheKey := QuickHash(plaintext)
	if r.cache != nil {
		if cached, _ := r.cache.GetAuthContext(ctx, cacheKey); cached != nil {
			return cached, true, nil
		}
	}

	// Pad the slow path so timing does not reveal which check failed.
	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed < r.minDuration {
			time.Sleep(r.minDuration - elapsed)
		}
	}()

	candidates, err := r.keys.GetAPIKeysByPrefix(ctx, parsed.Prefix)
	if err != nil {
		return nil, false, fmt.Errorf("lookup API key: %w", err)
	}
	if len(candidates) == 0 {
		VerifyDummy(plaintext)
		return nil, false, ErrInvalidKey
	}

	// Several keys may share a prefix.
	var matched *model.APIKey
	for _, k := range candidates {
		if ok, err := VerifyPassword(plaintext, k.KeyHash); err == nil && ok {
			matched = k
			break
		}
	}
	if matched == nil || matched.IsRevoked() {
		return nil, false, ErrInvalidKey
	}

	authCtx = &model.AuthContext{
		KeyID:         matched.ID,
		KeyPrefix:     matched.KeyPrefix,
		UserID:        matched.UserID,
		Scopes:        matched.Scopes,
		RateLimitTier: matched.RateLimitTier,
	}

	if r.cache != nil {
		if err := r.cache.SetAuthContext(ctx, cacheKey, authCtx); err != nil {
			r.logger.Warn("failed to cache auth context", "key_id", matched.ID, "error", err)
		}
	}

	go func(id string) {
		bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.keys.UpdateAPIKeyLastUsed(bg, id); err != nil {
			r.logger.Warn("failed to update key last used", "key_id", id, "error", err)
		}
	}(matched.ID)

	return authCtx, false, nil
}
