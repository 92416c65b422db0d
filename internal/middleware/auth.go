// Package middleware provides HTTP middleware for authentication, organization
// scoping, CORS handling, rate limiting, and request context management.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/logging"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/services"
)

type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"

	// OrgParam is the URL parameter naming the organization a route acts on.
	OrgParam = "orgID"
)

// AuthMiddleware validates JWT tokens and adds claims to the request context.
// Returns 401 for missing/invalid tokens.
func AuthMiddleware(authService *services.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logging.LogSecurityEvent(r.Context(), logging.SecurityEventMissingAuth, "missing authorization header")
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				logging.LogSecurityEvent(r.Context(), logging.SecurityEventInvalidAuthFmt, "invalid authorization header format")
				http.Error(w, `{"error":"invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}

			claims, err := authService.ValidateToken(token)
			if err != nil {
				logging.LogSecurityEvent(r.Context(), logging.SecurityEventInvalidJWT, "invalid or expired token")
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			ctx = logging.UpdateRequestAttrs(ctx, claims.OrganizationID, claims.Subject, string(claims.Role))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OrgScopeMiddleware rejects operators acting on an organization other than
// the one in their token. Must be used after AuthMiddleware on routes with
// an {orgID} parameter. Returns 403 on mismatch.
func OrgScopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetClaims(r.Context())
		orgID := chi.URLParam(r, OrgParam)
		if claims == nil || orgID == "" || claims.OrganizationID != orgID {
			logging.LogSecurityEvent(r.Context(), logging.SecurityEventOrgMismatch, "organization mismatch")
			http.Error(w, `{"error":"access denied"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// OperatorOnlyMiddleware restricts access to roles that may change queue
// state. Must be used after AuthMiddleware. Returns 403 otherwise.
func OperatorOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetClaims(r.Context())
		if claims == nil || !claims.Role.CanOperate() {
			logging.LogSecurityEvent(r.Context(), logging.SecurityEventInsufficientRole, "operator access required")
			http.Error(w, `{"error":"operator access required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetClaims retrieves the JWT claims from the request context.
// Returns nil if no claims are present (e.g., unauthenticated request).
func GetClaims(ctx context.Context) *services.Claims {
	claims, _ := ctx.Value(ClaimsKey).(*services.Claims)
	return claims
}
