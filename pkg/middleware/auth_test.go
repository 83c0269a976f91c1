package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/contextkeys"
)

func issue(t *testing.T, tm *auth.TokenManager, user *auth.User) string {
	t.Helper()
	token, _, err := tm.IssueToken(user)
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware_Handler(t *testing.T) {
	tm := auth.NewTokenManager("test-secret", time.Hour)
	tenantID := int64(4)
	member := &auth.User{ID: 12, Email: "jane@acme.test", Role: auth.RoleMember, TenantID: &tenantID}

	t.Run("missing header when required", func(t *testing.T) {
		handler := NewAuthMiddleware(tm, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"success": false, "error": "missing authorization header", "code": "UNAUTHORIZED"}`, w.Body.String())
	})

	t.Run("missing header when optional", func(t *testing.T) {
		called := false
		handler := NewAuthMiddleware(tm, true).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			assert.Nil(t, GetAuthContext(r))
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))
		assert.True(t, called)
	})

	t.Run("malformed header", func(t *testing.T) {
		for _, header := range []string{"Token abc", "Bearer", "Bearer   "} {
			handler := NewAuthMiddleware(tm, true).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))
			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("Authorization", header)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code, header)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		other := auth.NewTokenManager("other-secret", time.Hour)
		handler := NewAuthMiddleware(tm, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer "+issue(t, other, member))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid or expired token")
	})

	t.Run("valid token", func(t *testing.T) {
		var seen *auth.AuthContext
		var info audit.RequestInfo
		handler := NewAuthMiddleware(tm, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetAuthContext(r)
			assert.Equal(t, int64(12), contextkeys.GetUserID(r.Context()))
			info, _ = audit.RequestInfoFromContext(r.Context())
		}))

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "bearer "+issue(t, tm, member))
		handler.ServeHTTP(httptest.NewRecorder(), req)

		require.NotNil(t, seen)
		assert.Equal(t, int64(12), seen.UserID)
		assert.Equal(t, auth.RoleMember, seen.Role)
		assert.True(t, seen.BelongsTo(4))
		require.NotNil(t, info.UserID)
		assert.Equal(t, int64(12), *info.UserID)
	})
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name    string
		authCtx *auth.AuthContext
		handler http.Handler
		want    int
	}{
		{"anonymous", nil, RequireRole(auth.RoleTenantAdmin)(ok), http.StatusUnauthorized},
		{"wrong role", &auth.AuthContext{UserID: 1, Role: auth.RoleMember}, RequireRole(auth.RoleTenantAdmin, auth.RoleManager)(ok), http.StatusForbidden},
		{"listed role", &auth.AuthContext{UserID: 1, Role: auth.RoleManager}, RequireRole(auth.RoleTenantAdmin, auth.RoleManager)(ok), http.StatusOK},
		{"super admin only", &auth.AuthContext{UserID: 1, Role: auth.RoleTenantAdmin}, RequireSuperAdmin(ok), http.StatusForbidden},
		{"super admin", &auth.AuthContext{UserID: 1, Role: auth.RoleSuperAdmin}, RequireSuperAdmin(ok), http.StatusOK},
		{"auth required", nil, RequireAuth(ok), http.StatusUnauthorized},
		{"any role", &auth.AuthContext{UserID: 1, Role: auth.RoleMember}, RequireAuth(ok), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.authCtx != nil {
				req = req.WithContext(contextkeys.WithAuth(req.Context(), tt.authCtx))
			}
			w := httptest.NewRecorder()
			tt.handler.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
