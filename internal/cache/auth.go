package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roster/roster/internal/model"
)

const (
	// authCachePrefix is the Redis key prefix for auth context cache.
	authCachePrefix = "auth:ctx:"
	// authKeyIndexPrefix maps a key ID to the cache key of its auth context.
	authKeyIndexPrefix = "auth:key:"
	// AuthCacheTTL is the time-to-live for cached auth contexts.
	AuthCacheTTL = 5 * time.Minute
)

// CachedAuthContext represents auth context stored in Redis.
type CachedAuthContext struct {
	KeyID         string   `json:"key_id"`
	KeyPrefix     string   `json:"key_prefix"`
	UserID        string   `json:"user_id"`
	Scopes        []string `json:"scopes"`
	RateLimitTier string   `json:"rate_limit_tier"`
}

// GetAuthContext retrieves a cached auth context by cache key.
// Returns nil if not found (cache miss).
func (c *Cache) GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error) {
	data, err := c.client.Get(ctx, authCachePrefix+cacheKey).Bytes()
	if err != nil {
		return nil, nil //nolint:nilerr
	}

	var cached CachedAuthContext
	if err := json.Unmarshal(data, &cached); err != nil {
		// Corrupted entry, treat as miss.
		return nil, nil //nolint:nilerr
	}

	return &model.AuthContext{
		KeyID:         cached.KeyID,
		KeyPrefix:     cached.KeyPrefix,
		UserID:        cached.UserID,
		Scopes:        cached.Scopes,
		RateLimitTier: cached.RateLimitTier,
	}, nil
}

// SetAuthContext caches an auth context and indexes it by key ID so that
// revocation can evict it.
func (c *Cache) SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error {
	data, err := json.Marshal(CachedAuthContext{
		KeyID:         auth.KeyID,
		KeyPrefix:     auth.KeyPrefix,
		UserID:        auth.UserID,
		Scopes:        auth.Scopes,
		RateLimitTier: auth.RateLimitTier,
	})
	if err != nil {
		return fmt.Errorf("marshal auth context: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, authCachePrefix+cacheKey, data, AuthCacheTTL)
	pipe.Set(ctx, authKeyIndexPrefix+auth.KeyID, cacheKey, AuthCacheTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// DeleteAuthContext removes the cached auth context of a key ID.
// Used when a key is revoked or rotated.
func (c *Cache) DeleteAuthContext(ctx context.Context, keyID string) error {
	indexKey := authKeyIndexPrefix + keyID
	cacheKey, err := c.client.Get(ctx, indexKey).Result()
	if err != nil {
		return nil //nolint:nilerr
	}
	return c.client.Del(ctx, authCachePrefix+cacheKey, indexKey).Err()
}
