package auth

import (
	"context"

	"github.com/roster/roster/internal/model"
)

type contextKey string

const authContextKey contextKey = "auth_context"

// ContextWithAuth adds AuthContext to the context.
func ContextWithAuth(ctx context.Context, auth *model.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, auth)
}

// AuthFromContext retrieves AuthContext from the context.
// Returns nil for anonymous requests.
func AuthFromContext(ctx context.Context) *model.AuthContext {
	auth, ok := ctx.Value(authContextKey).(*model.AuthContext)
	if !ok {
		return nil
	}
	return auth
}

// IsAuthenticated reports whether a key was resolved for the request.
func IsAuthenticated(ctx context.Context) bool {
	return AuthFromContext(ctx) != nil
}

// UserIDFromContext returns the key owner, or "" when anonymous.
func UserIDFromContext(ctx context.Context) string {
	if a := AuthFromContext(ctx); a != nil {
		return a.UserID
	}
	return ""
}
