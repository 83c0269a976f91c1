package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/contextkeys"
	"github.com/platinummonkey/tenancy/pkg/httputil"
)

// TokenValidator turns a bearer token into the caller it identifies
type TokenValidator interface {
	ValidateToken(token string) (*auth.AuthContext, error)
}

// AuthMiddleware provides bearer token authentication
type AuthMiddleware struct {
	tokens   TokenValidator
	optional bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens TokenValidator, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:   tokens,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication. The caller is stored on
// the context and attributed to every activity recorded while serving it.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		authCtx, err := m.tokens.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			httputil.WriteServiceError(w, err)
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = contextkeys.WithUserID(ctx, authCtx.UserID)
		ctx = audit.WithActor(ctx, authCtx.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthFromContext returns the authenticated caller, nil when anonymous
func AuthFromContext(ctx context.Context) *auth.AuthContext {
	authCtx, _ := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
	return authCtx
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	return AuthFromContext(r.Context())
}

// RequireRole creates middleware that admits only the listed roles
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteServiceError(w, apperr.Unauthorized("authentication required"))
				return
			}

			for _, role := range roles {
				if authCtx.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			httputil.WriteServiceError(w, apperr.Forbidden("insufficient role permissions"))
		})
	}
}

// RequireAuth admits any authenticated caller. It pairs with an optional
// AuthMiddleware mounted on a router that also serves public routes.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetAuthContext(r) == nil {
			httputil.WriteServiceError(w, apperr.Unauthorized("authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSuperAdmin admits only platform operators
func RequireSuperAdmin(next http.Handler) http.Handler {
	return RequireRole(auth.RoleSuperAdmin)(next)
}
