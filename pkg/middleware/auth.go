package middleware

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/leasehub/tenantauth/pkg/errors"
	"github.com/leasehub/tenantauth/pkg/httputil"
	"github.com/leasehub/tenantauth/pkg/logger"
)

type contextKeyType string

const claimsKey contextKeyType = "session_claims"

// Claims represents the session claims extracted by the auth middleware.
type Claims struct {
	Type     string `json:"type"`
	TenantID string `json:"tenant_id"`
	RealmID  string `json:"realm_id"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
}

// TokenValidator validates a session token and returns its claims.
type TokenValidator func(token string) (*Claims, error)

// Auth middleware validates session tokens and injects the claims into context.
// The token is read from the Authorization bearer header, falling back to the
// named cookie when cookieName is not empty.
func Auth(validate TokenValidator, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractToken(r, cookieName)
			if !ok {
				httputil.WriteError(w, r, apperrors.Unauthorized("missing session token"), nil)
				return
			}

			claims, err := validate(token)
			if err != nil {
				httputil.WriteError(w, r, apperrors.Unauthorized("invalid or expired session"), nil)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			ctx = logger.WithTenantID(ctx, claims.TenantID)
			ctx = logger.NewContext(ctx, logger.FromContext(ctx).With("tenant_id", claims.TenantID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request, cookieName string) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if cookieName == "" {
		return "", false
	}
	c, err := r.Cookie(cookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// ClaimsFromContext returns the session claims set by Auth.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

// TenantIDFromContext extracts the authenticated tenant ID from the request context.
func TenantIDFromContext(ctx context.Context) string {
	if c, ok := ClaimsFromContext(ctx); ok {
		return c.TenantID
	}
	return ""
}
