package api

import (
	"net/http"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/middleware"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

// caller returns the authenticated caller. Routes reaching a handler through
// RequireAuth always have one.
func caller(r *http.Request) *auth.AuthContext {
	return middleware.GetAuthContext(r)
}

// canView reports whether the caller may read data of tenantID
func canView(r *http.Request, tenantID int64) bool {
	ac := caller(r)
	return ac.IsSuperAdmin() || ac.BelongsTo(tenantID)
}

// canManage reports whether the caller may administer tenantID
func canManage(r *http.Request, tenantID int64) bool {
	ac := caller(r)
	return ac != nil && ac.CanManageTenant(tenantID)
}

// scopedTenantID returns the tenant a listing is restricted to: the caller's
// own tenant, or for super admins the optional tenant_id query parameter
func scopedTenantID(r *http.Request) (*int64, error) {
	ac := caller(r)
	if ac.IsSuperAdmin() {
		return httputil.ParseQueryInt64(r, "tenant_id")
	}
	if ac == nil || ac.TenantID == nil {
		return nil, apperr.Forbidden("No tenant associated with this account")
	}
	id := *ac.TenantID
	return &id, nil
}

// requestTenant returns the tenant resolved for a tenant scoped route
func requestTenant(r *http.Request) *tenants.Tenant {
	return middleware.TenantFromContext(r.Context())
}

// decode parses and validates a JSON body, writing the error response on
// failure
func decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := httputil.DecodeAndValidate(r, dest); err != nil {
		httputil.WriteServiceError(w, err)
		return false
	}
	return true
}

// decodeOptional parses an optional JSON body. An empty body is accepted.
func decodeOptional(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return decode(w, r, dest)
}

// forbidden writes the standard 403 for resources outside the caller's reach
func forbidden(w http.ResponseWriter) {
	httputil.WriteServiceError(w, apperr.Forbidden("You do not have access to this resource"))
}

// paging reads limit and offset query parameters
func paging(r *http.Request) (limit, offset int, err error) {
	page, err := httputil.ParsePage(r, 50)
	if err != nil {
		return 0, 0, err
	}
	if page.Limit > 500 {
		page.Limit = 500
	}
	return page.Limit, page.Offset, nil
}
