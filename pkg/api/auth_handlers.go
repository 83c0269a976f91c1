package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/httputil"
)

// AuthHandlers handles login and the current user
type AuthHandlers struct {
	users    auth.UserStore
	tokens   *auth.TokenManager
	recorder *audit.Recorder
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(users auth.UserStore, tokens *auth.TokenManager, recorder *audit.Recorder) *AuthHandlers {
	return &AuthHandlers{users: users, tokens: tokens, recorder: recorder}
}

// RegisterRoutes registers authentication routes. limit guards the login
// endpoint.
func (h *AuthHandlers) RegisterRoutes(router *mux.Router, limit func(http.Handler) http.Handler) {
	router.Handle("/auth/login", guard(h.login, limit)).Methods("POST")
	router.Handle("/auth/me", authenticated(h.me)).Methods("GET")
	router.Handle("/tenants/{id}/users", authenticated(h.listUsers)).Methods("GET")
	router.Handle("/tenants/{id}/users/{user_id}", authenticated(h.deactivateUser)).Methods("DELETE")
}

// login handles POST /auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	token, expiresAt, err := h.tokens.IssueToken(user)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	ctx := audit.WithActor(r.Context(), user.ID)
	h.recorder.Activity(ctx, audit.ActivityLog{
		TenantID:     user.TenantID,
		Action:       audit.ActionLogin,
		ResourceType: audit.ResourceUser,
		ResourceID:   strconv.FormatInt(user.ID, 10),
		Description:  "User logged in",
	})

	httputil.WriteOK(w, "Login successful", auth.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	})
}

// me handles GET /auth/me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetUser(r.Context(), caller(r).UserID)
	if apperr.IsNotFound(err) {
		httputil.WriteServiceError(w, apperr.Unauthorized("account no longer exists"))
		return
	}
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", user)
}

// listUsers handles GET /tenants/{id}/users
func (h *AuthHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !canManage(r, tenantID) {
		forbidden(w)
		return
	}

	users, err := h.users.ListTenantUsers(r.Context(), tenantID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", users)
}

// deactivateUser handles DELETE /tenants/{id}/users/{user_id}. The seat is
// released on the tenant counter.
func (h *AuthHandlers) deactivateUser(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	if !canManage(r, tenantID) {
		forbidden(w)
		return
	}
	if userID == caller(r).UserID {
		httputil.WriteServiceError(w, apperr.Validation("you cannot deactivate your own account"))
		return
	}
	ctx := r.Context()

	user, err := h.users.GetUser(ctx, userID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if user.TenantID == nil || *user.TenantID != tenantID {
		httputil.WriteServiceError(w, apperr.NotFound("user", userID))
		return
	}
	if err := h.users.DeactivateUser(ctx, userID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	h.recorder.Activity(ctx, audit.ActivityLog{
		TenantID:     &tenantID,
		Action:       audit.ActionDelete,
		ResourceType: audit.ResourceUser,
		ResourceID:   strconv.FormatInt(userID, 10),
		Description:  "User " + user.Email + " deactivated",
	})
	httputil.WriteNoContent(w)
}
