package middleware

import (
	"net/http"

	"github.com/roster/roster/internal/auth"
	"github.com/roster/roster/internal/model"
)

// RequireScope returns middleware that enforces scope requirements.
// Must be applied after OptionalAuth. Having ANY of the scopes is sufficient;
// admin implies all of them.
func RequireScope(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := auth.AuthFromContext(r.Context())
			if authCtx == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication credentials were not provided.")
				return
			}
			if !hasAnyScope(authCtx, required) {
				writeForbidden(w, required[0])
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin is a convenience middleware for admin scope.
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireScope(model.ScopeAdmin)
}

// RequireWebhook is a convenience middleware for webhook scope.
func RequireWebhook() func(http.Handler) http.Handler {
	return RequireScope(model.ScopeWebhook)
}

// ReadOnlyOrAuthenticated lets safe methods through anonymously when
// anonymousRead is set (otherwise they need read) and requires write for
// everything else.
func ReadOnlyOrAuthenticated(anonymousRead bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := auth.AuthFromContext(r.Context())
			safe := isSafeMethod(r.Method)

			if safe && anonymousRead {
				next.ServeHTTP(w, r)
				return
			}
			if authCtx == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication credentials were not provided.")
				return
			}

			scope := model.ScopeWrite
			if safe {
				scope = model.ScopeRead
			}
			// write implies read
			if !authCtx.HasScope(scope) && !(safe && authCtx.HasScope(model.ScopeWrite)) {
				writeForbidden(w, scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func hasAnyScope(a *model.AuthContext, scopes []string) bool {
	for _, s := range scopes {
		if a.HasScope(s) {
			return true
		}
	}
	return false
}

func writeForbidden(w http.ResponseWriter, scope string) {
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions. Required scope: "+scope)
}
