package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/contextkeys"
	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

// TenantHeader lets a super admin act inside a tenant by ID
const TenantHeader = "X-Tenant"

// DefaultHostCacheTTL is how long a host to tenant mapping stays cached
const DefaultHostCacheTTL = 5 * time.Minute

// TenantLookup is the subset of the tenant registry the resolver needs
type TenantLookup interface {
	GetTenant(ctx context.Context, id int64) (*tenants.Tenant, error)
	ResolveHost(ctx context.Context, host, baseDomain string) (*tenants.Tenant, error)
}

// LimitObserver is told about requests rejected by the limit guard
type LimitObserver interface {
	RecordLimitRejection(resource string)
}

// TenantResolver attaches the tenant serving a request to its context.
//
// A tenant member is always served by their own tenant. A super admin may
// name a tenant with the X-Tenant header. Anyone else is resolved by host:
// a verified domain or a subdomain of the base domain. Host lookups are
// cached in redis as host to tenant ID, and concurrent misses for the same
// host share one lookup.
type TenantResolver struct {
	lookup     TenantLookup
	cache      *redis.Client
	ttl        time.Duration
	baseDomain string
	group      singleflight.Group
	log        *logrus.Logger
}

// NewTenantResolver creates a resolver. cache may be nil.
func NewTenantResolver(lookup TenantLookup, cache *redis.Client, baseDomain string, ttl time.Duration, log *logrus.Logger) *TenantResolver {
	if ttl <= 0 {
		ttl = DefaultHostCacheTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TenantResolver{
		lookup:     lookup,
		cache:      cache,
		ttl:        ttl,
		baseDomain: baseDomain,
		log:        log,
	}
}

// Handler resolves the tenant. Requests without a tenant continue without
// one; RequireApprovedTenant rejects them where a tenant is needed.
func (tr *TenantResolver) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, err := tr.resolve(r)
		if err != nil && !apperr.IsNotFound(err) {
			httputil.WriteServiceError(w, err)
			return
		}
		if tenant != nil {
			r = r.WithContext(contextkeys.WithTenant(r.Context(), tenant))
		}
		next.ServeHTTP(w, r)
	})
}

func (tr *TenantResolver) resolve(r *http.Request) (*tenants.Tenant, error) {
	ctx := r.Context()
	authCtx := GetAuthContext(r)

	if authCtx != nil && !authCtx.IsSuperAdmin() {
		if authCtx.TenantID == nil {
			return nil, nil
		}
		return tr.lookup.GetTenant(ctx, *authCtx.TenantID)
	}

	if authCtx.IsSuperAdmin() {
		if raw := r.Header.Get(TenantHeader); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				return nil, apperr.Validation("%s must be a tenant ID", TenantHeader)
			}
			return tr.lookup.GetTenant(ctx, id)
		}
	}

	host := tenants.NormalizeHost(r.Host)
	if host == "" {
		return nil, nil
	}
	return tr.ResolveHost(ctx, host)
}

func (tr *TenantResolver) cacheKey(host string) string {
	return "tenancy:host:" + host
}

// ResolveHost maps a normalized host to its tenant through the cache
func (tr *TenantResolver) ResolveHost(ctx context.Context, host string) (*tenants.Tenant, error) {
	if tr.cache != nil {
		id, err := tr.cache.Get(ctx, tr.cacheKey(host)).Int64()
		if err == nil {
			tenant, err := tr.lookup.GetTenant(ctx, id)
			if err == nil && tenant.Status == tenants.StatusActive {
				return tenant, nil
			}
			tr.Invalidate(ctx, host)
		} else if err != redis.Nil {
			tr.log.WithError(err).WithField("host", host).Warn("Host cache unavailable")
		}
	}

	v, err, _ := tr.group.Do(host, func() (interface{}, error) {
		tenant, err := tr.lookup.ResolveHost(ctx, host, tr.baseDomain)
		if err != nil {
			return nil, err
		}
		if tr.cache != nil {
			if err := tr.cache.Set(ctx, tr.cacheKey(host), tenant.ID, tr.ttl).Err(); err != nil {
				tr.log.WithError(err).WithField("host", host).Warn("Failed to cache host")
			}
		}
		return tenant, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tenants.Tenant), nil
}

// Invalidate drops the cached mapping of host
func (tr *TenantResolver) Invalidate(ctx context.Context, host string) {
	if tr.cache == nil {
		return
	}
	if err := tr.cache.Del(ctx, tr.cacheKey(host)).Err(); err != nil {
		tr.log.WithError(err).WithField("host", host).Warn("Failed to invalidate host cache")
	}
}

// TenantFromContext returns the resolved tenant, nil when there is none
func TenantFromContext(ctx context.Context) *tenants.Tenant {
	tenant, _ := ctx.Value(contextkeys.TenantKey).(*tenants.Tenant)
	return tenant
}

// RequireApprovedTenant admits requests served by an approved, active
// tenant. Super admins bypass the approval check but still need a tenant.
func RequireApprovedTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := GetAuthContext(r)
		tenant := TenantFromContext(r.Context())

		if tenant == nil {
			if authCtx.IsSuperAdmin() {
				httputil.WriteServiceError(w, apperr.Validation("%s header is required", TenantHeader))
				return
			}
			httputil.WriteServiceError(w, apperr.Forbidden("No tenant associated with this account"))
			return
		}
		if authCtx.IsSuperAdmin() {
			next.ServeHTTP(w, r)
			return
		}
		if !tenant.IsApproved {
			httputil.WriteServiceError(w, apperr.Forbidden("Your organization is pending approval"))
			return
		}
		if tenant.Status != tenants.StatusActive {
			httputil.WriteServiceError(w, apperr.Forbidden("Your organization is "+statusWord(tenant.Status)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func statusWord(s tenants.Status) string {
	switch s {
	case tenants.StatusSuspended:
		return "suspended"
	case tenants.StatusCancelled:
		return "cancelled"
	}
	return "not active"
}

// LimitGuard rejects POST requests that would create resource once the
// tenant has reached its ceiling. The services check again under a row lock;
// this turns away the obvious cases early. Super admins are not limited.
func LimitGuard(resource tenants.Resource, observer LimitObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := TenantFromContext(r.Context())
			if r.Method != http.MethodPost || tenant == nil || GetAuthContext(r).IsSuperAdmin() {
				next.ServeHTTP(w, r)
				return
			}
			if err := tenant.Guard(resource); err != nil {
				if observer != nil {
					observer.RecordLimitRejection(string(resource))
				}
				httputil.WriteServiceError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
