package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/contextkeys"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

type fakeLookup struct {
	mu          sync.Mutex
	tenants     map[int64]*tenants.Tenant
	hosts       map[string]int64
	hostLookups int32
	delay       time.Duration
}

func (f *fakeLookup) GetTenant(ctx context.Context, id int64) (*tenants.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tenants[id]; ok {
		return t, nil
	}
	return nil, apperr.NotFound("tenant", id)
}

func (f *fakeLookup) ResolveHost(ctx context.Context, host, baseDomain string) (*tenants.Tenant, error) {
	atomic.AddInt32(&f.hostLookups, 1)
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.hosts[host]; ok {
		return f.tenants[id], nil
	}
	return nil, apperr.NotFound("tenant for host", host)
}

func newLookup() *fakeLookup {
	return &fakeLookup{
		tenants: map[int64]*tenants.Tenant{
			4: {ID: 4, Slug: "acme", Status: tenants.StatusActive, IsApproved: true, MaxTeams: 2, CurrentTeamsCount: 2, MaxProjects: 10},
			5: {ID: 5, Slug: "globex", Status: tenants.StatusPending},
		},
		hosts: map[string]int64{"acme.example.com": 4, "app.acme.test": 4},
	}
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func serveResolved(tr *TenantResolver, req *http.Request) (*tenants.Tenant, int) {
	var seen *tenants.Tenant
	w := httptest.NewRecorder()
	tr.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TenantFromContext(r.Context())
	})).ServeHTTP(w, req)
	return seen, w.Code
}

func withAuth(req *http.Request, authCtx *auth.AuthContext) *http.Request {
	return req.WithContext(contextkeys.WithAuth(req.Context(), authCtx))
}

func TestTenantResolver(t *testing.T) {
	log, _ := test.NewNullLogger()
	tenantID := int64(5)

	t.Run("member is served by own tenant", func(t *testing.T) {
		tr := NewTenantResolver(newLookup(), nil, "example.com", 0, log)
		req := httptest.NewRequest("GET", "http://acme.example.com/api/v1/teams", nil)
		req = withAuth(req, &auth.AuthContext{UserID: 1, Role: auth.RoleMember, TenantID: &tenantID})

		tenant, code := serveResolved(tr, req)
		assert.Equal(t, http.StatusOK, code)
		require.NotNil(t, tenant)
		assert.Equal(t, int64(5), tenant.ID)
	})

	t.Run("super admin names a tenant", func(t *testing.T) {
		tr := NewTenantResolver(newLookup(), nil, "example.com", 0, log)
		req := httptest.NewRequest("GET", "/api/v1/teams", nil)
		req.Header.Set(TenantHeader, "4")
		req = withAuth(req, &auth.AuthContext{UserID: 1, Role: auth.RoleSuperAdmin})

		tenant, _ := serveResolved(tr, req)
		require.NotNil(t, tenant)
		assert.Equal(t, int64(4), tenant.ID)
	})

	t.Run("bad tenant header", func(t *testing.T) {
		tr := NewTenantResolver(newLookup(), nil, "example.com", 0, log)
		req := httptest.NewRequest("GET", "/api/v1/teams", nil)
		req.Header.Set(TenantHeader, "acme")
		req = withAuth(req, &auth.AuthContext{UserID: 1, Role: auth.RoleSuperAdmin})

		_, code := serveResolved(tr, req)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("anonymous by host is cached", func(t *testing.T) {
		mr, client := newRedis(t)
		lookup := newLookup()
		tr := NewTenantResolver(lookup, client, "example.com", time.Minute, log)

		for i := 0; i < 3; i++ {
			tenant, _ := serveResolved(tr, httptest.NewRequest("GET", "http://ACME.example.com:8080/", nil))
			require.NotNil(t, tenant)
			assert.Equal(t, int64(4), tenant.ID)
		}
		assert.Equal(t, int32(1), atomic.LoadInt32(&lookup.hostLookups))

		cached, err := mr.Get("tenancy:host:acme.example.com")
		require.NoError(t, err)
		assert.Equal(t, "4", cached)
		assert.Equal(t, time.Minute, mr.TTL("tenancy:host:acme.example.com"))
	})

	t.Run("cached tenant that is no longer active is re-resolved", func(t *testing.T) {
		mr, client := newRedis(t)
		lookup := newLookup()
		require.NoError(t, mr.Set("tenancy:host:acme.example.com", "5"))
		tr := NewTenantResolver(lookup, client, "example.com", time.Minute, log)

		tenant, _ := serveResolved(tr, httptest.NewRequest("GET", "http://acme.example.com/", nil))
		require.NotNil(t, tenant)
		assert.Equal(t, int64(4), tenant.ID)
		assert.Equal(t, int32(1), atomic.LoadInt32(&lookup.hostLookups))
	})

	t.Run("concurrent misses share one lookup", func(t *testing.T) {
		lookup := newLookup()
		lookup.delay = 50 * time.Millisecond
		tr := NewTenantResolver(lookup, nil, "example.com", time.Minute, log)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tenant, err := tr.ResolveHost(context.Background(), "app.acme.test")
				assert.NoError(t, err)
				assert.Equal(t, int64(4), tenant.ID)
			}()
		}
		wg.Wait()
		assert.Less(t, atomic.LoadInt32(&lookup.hostLookups), int32(10))
	})

	t.Run("unknown host continues without tenant", func(t *testing.T) {
		tr := NewTenantResolver(newLookup(), nil, "example.com", 0, log)
		tenant, code := serveResolved(tr, httptest.NewRequest("GET", "http://unknown.test/", nil))
		assert.Nil(t, tenant)
		assert.Equal(t, http.StatusOK, code)
	})

	t.Run("redis down falls back to lookup", func(t *testing.T) {
		mr, client := newRedis(t)
		mr.Close()
		lookup := newLookup()
		tr := NewTenantResolver(lookup, client, "example.com", time.Minute, log)

		tenant, code := serveResolved(tr, httptest.NewRequest("GET", "http://acme.example.com/", nil))
		assert.Equal(t, http.StatusOK, code)
		require.NotNil(t, tenant)
		assert.Equal(t, int64(4), tenant.ID)
	})
}

func TestRequireApprovedTenant(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	approved := &tenants.Tenant{ID: 4, Status: tenants.StatusActive, IsApproved: true}
	pending := &tenants.Tenant{ID: 5, Status: tenants.StatusPending}
	suspended := &tenants.Tenant{ID: 6, Status: tenants.StatusSuspended, IsApproved: true}
	member := &auth.AuthContext{UserID: 1, Role: auth.RoleMember}
	admin := &auth.AuthContext{UserID: 2, Role: auth.RoleSuperAdmin}

	tests := []struct {
		name    string
		authCtx *auth.AuthContext
		tenant  *tenants.Tenant
		want    int
		message string
	}{
		{"approved", member, approved, http.StatusOK, ""},
		{"pending", member, pending, http.StatusForbidden, "Your organization is pending approval"},
		{"suspended", member, suspended, http.StatusForbidden, "Your organization is suspended"},
		{"no tenant", member, nil, http.StatusForbidden, "No tenant associated with this account"},
		{"super admin bypasses approval", admin, pending, http.StatusOK, ""},
		{"super admin without tenant", admin, nil, http.StatusBadRequest, "X-Tenant header is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withAuth(httptest.NewRequest("GET", "/api/v1/teams", nil), tt.authCtx)
			if tt.tenant != nil {
				req = req.WithContext(contextkeys.WithTenant(req.Context(), tt.tenant))
			}
			w := httptest.NewRecorder()
			RequireApprovedTenant(ok).ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.message != "" {
				assert.Contains(t, w.Body.String(), tt.message)
			}
		})
	}
}

type rejectionCounter struct {
	resources []string
}

func (c *rejectionCounter) RecordLimitRejection(resource string) {
	c.resources = append(c.resources, resource)
}

func TestLimitGuard(t *testing.T) {
	full := &tenants.Tenant{ID: 4, MaxTeams: 2, CurrentTeamsCount: 2, MaxProjects: 10, CurrentProjectsCount: 10}
	roomy := &tenants.Tenant{ID: 4, MaxTeams: 5, CurrentTeamsCount: 2, MaxProjects: 10, CurrentProjectsCount: 1}
	member := &auth.AuthContext{UserID: 1, Role: auth.RoleManager}
	admin := &auth.AuthContext{UserID: 2, Role: auth.RoleSuperAdmin}

	tests := []struct {
		name     string
		method   string
		resource tenants.Resource
		tenant   *tenants.Tenant
		authCtx  *auth.AuthContext
		want     int
		message  string
	}{
		{"team limit", "POST", tenants.ResourceTeams, full, member, http.StatusForbidden, "Team limit reached. Please upgrade your plan."},
		{"project limit", "POST", tenants.ResourceProjects, full, member, http.StatusForbidden, "Project limit reached. Please upgrade your plan."},
		{"under limit", "POST", tenants.ResourceTeams, roomy, member, http.StatusOK, ""},
		{"reads are not limited", "GET", tenants.ResourceTeams, full, member, http.StatusOK, ""},
		{"super admin", "POST", tenants.ResourceTeams, full, admin, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := &rejectionCounter{}
			handler := LimitGuard(tt.resource, counter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := withAuth(httptest.NewRequest(tt.method, "/api/v1/teams", nil), tt.authCtx)
			req = req.WithContext(contextkeys.WithTenant(req.Context(), tt.tenant))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.message != "" {
				assert.JSONEq(t, `{"success": false, "error": "`+tt.message+`", "code": "LIMIT_EXCEEDED"}`, w.Body.String())
				assert.Equal(t, []string{string(tt.resource)}, counter.resources)
			} else {
				assert.Empty(t, counter.resources)
			}
		})
	}
}
