package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/billing"
	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/middleware"
	"github.com/platinummonkey/tenancy/pkg/notify"
	"github.com/platinummonkey/tenancy/pkg/onboarding"
	"github.com/platinummonkey/tenancy/pkg/plans"
	"github.com/platinummonkey/tenancy/pkg/tasks"
	"github.com/platinummonkey/tenancy/pkg/teams"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

// APIPrefix is the path prefix of every versioned route
const APIPrefix = "/api/v1"

// Onboarding creates tenants and accounts
type Onboarding interface {
	Signup(ctx context.Context, req *onboarding.SignupRequest) (*onboarding.SignupResult, error)
	AcceptInvitation(ctx context.Context, req *onboarding.AcceptInvitationRequest) (*onboarding.AcceptInvitationResult, error)
}

// Observer is told about tenant transitions made through the API and about
// requests rejected by the limit guard
type Observer interface {
	RecordTenantTransition(event string)
	RecordLimitRejection(resource string)
}

// Deps wires the services served by the API. Recorder, Notifier, Observer,
// HTTPMetrics, the limiters and Catalog are optional.
type Deps struct {
	Tenants    tenants.Service
	Plans      plans.Service
	Catalog    *plans.Catalog
	Billing    billing.Service
	Onboarding Onboarding
	Teams      teams.Service
	Tasks      tasks.Service
	Users      auth.UserStore
	Tokens     *auth.TokenManager

	AuditStore  audit.Store
	AuditLogger audit.Logger
	Recorder    *audit.Recorder
	Notifier    *notify.Dispatcher
	Observer    Observer
	HTTPMetrics func(http.Handler) http.Handler

	Resolver      *middleware.TenantResolver
	SignupLimiter middleware.Limiter
	LoginLimiter  middleware.Limiter

	BaseDomain   string
	CORSOrigins  []string
	MaxBodyBytes int64
	Logger       *logrus.Logger
}

// Server is the HTTP API
type Server struct {
	deps   Deps
	router *mux.Router
	log    *logrus.Logger

	authHandlers    *AuthHandlers
	tenantHandlers  *TenantHandlers
	planHandlers    *PlanHandlers
	billingHandlers *BillingHandlers
	teamHandlers    *TeamHandlers
	taskHandlers    *TaskHandlers
	auditHandlers   *audit.Handlers
}

// NewServer creates the API server and its routes
func NewServer(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		log:    log,
	}

	s.authHandlers = NewAuthHandlers(deps.Users, deps.Tokens, deps.Recorder)
	s.tenantHandlers = NewTenantHandlers(deps.Tenants, deps.Onboarding, TenantHandlerOptions{
		Recorder:   deps.Recorder,
		Notifier:   deps.Notifier,
		Observer:   deps.Observer,
		Resolver:   deps.Resolver,
		BaseDomain: deps.BaseDomain,
		Logger:     log,
	})
	s.planHandlers = NewPlanHandlers(deps.Plans, deps.Catalog)
	s.billingHandlers = NewBillingHandlers(deps.Billing)
	s.teamHandlers = NewTeamHandlers(deps.Teams)
	s.taskHandlers = NewTaskHandlers(deps.Tasks)
	if deps.AuditStore != nil {
		s.auditHandlers = audit.NewHandlers(deps.AuditStore)
	}

	s.setupRoutes()
	return s
}

// Router returns the root router
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupRoutes builds the middleware chain and registers every route.
//
// Chain: request ID, logging, recovery, metrics, tracing, then per API
// request: audit metadata, optional bearer auth and tenant resolution.
// Protected routes add their own auth, role and tenant gates.
func (s *Server) setupRoutes() {
	s.router.Use(httputil.RequestIDMiddleware)
	s.router.Use(httputil.LoggingMiddleware(s.log))
	s.router.Use(httputil.RecoveryMiddleware(s.log))
	if s.deps.HTTPMetrics != nil {
		s.router.Use(s.deps.HTTPMetrics)
	}
	s.router.Use(otelhttp.NewMiddleware("tenancy",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					return r.Method + " " + tmpl
				}
			}
			return r.Method
		}),
	))
	if len(s.deps.CORSOrigins) > 0 {
		s.router.Use(httputil.CORSMiddleware(s.deps.CORSOrigins))
	}
	if s.deps.MaxBodyBytes > 0 {
		s.router.Use(httputil.MaxBytesMiddleware(s.deps.MaxBodyBytes))
	}

	api := s.router.PathPrefix(APIPrefix).Subrouter()
	api.Use(audit.NewMiddleware(s.deps.AuditLogger).Handler)
	api.Use(middleware.NewAuthMiddleware(s.deps.Tokens, true).Handler)
	if s.deps.Resolver != nil {
		api.Use(s.deps.Resolver.Handler)
	}

	s.authHandlers.RegisterRoutes(api, s.rateLimit(s.deps.LoginLimiter, "login"))
	s.tenantHandlers.RegisterRoutes(api, s.rateLimit(s.deps.SignupLimiter, "signup"))
	s.planHandlers.RegisterRoutes(api)
	s.billingHandlers.RegisterRoutes(api)

	work := api.NewRoute().Subrouter()
	work.Use(middleware.RequireAuth, middleware.RequireApprovedTenant)
	s.teamHandlers.RegisterRoutes(work, middleware.LimitGuard(tenants.ResourceTeams, s.deps.Observer))
	s.taskHandlers.RegisterRoutes(work, middleware.LimitGuard(tenants.ResourceProjects, s.deps.Observer))

	if s.auditHandlers != nil {
		admin := api.NewRoute().Subrouter()
		admin.Use(middleware.RequireAuth, middleware.RequireSuperAdmin)
		s.auditHandlers.RegisterRoutes(admin)
	}
}

// rateLimit returns the limiter middleware for scope, or a pass-through when
// no limiter is configured
func (s *Server) rateLimit(limiter middleware.Limiter, scope string) func(http.Handler) http.Handler {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.NewRateLimitMiddleware(limiter, scope, s.log).Handler
}

// guard wraps a handler with the given middleware, outermost first
func guard(h http.HandlerFunc, mw ...func(http.Handler) http.Handler) http.Handler {
	return httputil.Chain(mw...)(h)
}

// superAdmin wraps a handler so only platform operators reach it
func superAdmin(h http.HandlerFunc) http.Handler {
	return guard(h, middleware.RequireAuth, middleware.RequireSuperAdmin)
}

// authenticated wraps a handler so only signed-in callers reach it
func authenticated(h http.HandlerFunc) http.Handler {
	return guard(h, middleware.RequireAuth)
}
