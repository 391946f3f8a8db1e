package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/BradenHooton/collegeerp/internal/models"
	pkghttp "github.com/BradenHooton/collegeerp/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing access token claims in context
	UserContextKey contextKey = "user"
	// TokenContextKey is the key for storing the raw bearer token in context
	TokenContextKey contextKey = "token"
)

// TokenRevocationChecker defines the interface for checking if tokens are revoked
type TokenRevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// AuthMiddleware accepts only unrevoked access tokens and injects their
// claims into the request context. A failed revocation lookup denies access.
func AuthMiddleware(tm *TokenManager, revocationChecker TokenRevocationChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "Missing or malformed authorization header")
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "Invalid or expired token")
				return
			}

			// Refresh tokens are only accepted by /auth/refresh
			if claims.Type != models.TokenTypeAccess {
				pkghttp.WriteUnauthorized(w, "Invalid or expired token")
				return
			}

			if revocationChecker != nil {
				revoked, err := revocationChecker.IsTokenRevoked(r.Context(), claims.ID)
				if err != nil {
					pkghttp.WriteServiceUnavailable(w, "Unable to verify token status")
					return
				}
				if revoked {
					pkghttp.WriteUnauthorized(w, "Token has been revoked")
					return
				}
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			ctx = context.WithValue(ctx, TokenContextKey, tokenString)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// GetUserFromContext extracts access token claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// GetTokenFromContext extracts the raw bearer token from request context
func GetTokenFromContext(r *http.Request) string {
	token, _ := r.Context().Value(TokenContextKey).(string)
	return token
}
