package tokenvalidator

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

// contextKey is a value for use with context.WithValue. It's used as
// a pointer so it fits in an interface{} without allocation.
type contextKey struct {
	name string
}

func (k *contextKey) String() string {
	return "tokenvalidator context value " + k.name
}

var ClaimsKey = &contextKey{"Claims"}

// GetClaims returns the verified claims stored by Authenticate, or nil when
// the request did not pass through it.
func GetClaims(r *http.Request) *Claims {
	claims, _ := r.Context().Value(ClaimsKey).(*Claims)
	return claims
}

// Authenticate is the first guard stage: it validates the Authorization
// header and stores the claims identity in the request context.
// Returns 401 Unauthorized when the token is missing or invalid.
func Authenticate(v *Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := v.Validate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				slog.Debug("Unauthenticated request to protected resource", "path", r.URL.Path, "err", err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope is the second guard stage: it checks that the authenticated
// identity carries the given scope.
// Returns 401 Unauthorized if not authenticated.
// Returns 403 Forbidden if authenticated but missing the scope.
// Must be used after Authenticate.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r)
			if claims == nil {
				slog.Debug("Unauthenticated request to scope-protected resource", "requiredScope", scope)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if err := claims.RequireScope(scope); err != nil {
				if errors.Is(err, ErrInsufficientScope) {
					slog.Warn("User lacks required scope",
						"subject", claims.Subject,
						"userScopes", claims.Scopes,
						"requiredScope", scope)
					http.Error(w, "Forbidden: insufficient scope", http.StatusForbidden)
					return
				}
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
