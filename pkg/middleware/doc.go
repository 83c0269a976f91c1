// Package middleware provides HTTP middleware for authentication, tenant
// resolution, limit enforcement and rate limiting.
//
// # Overview
//
// Requests pass through the chain in this order:
//
//	router.Use(auth.Handler)           // AuthMiddleware: bearer token to AuthContext
//	router.Use(resolver.Handler)       // TenantResolver: caller, X-Tenant or host to tenant
//	tenantRoutes.Use(middleware.RequireApprovedTenant)
//	teamRoutes.Use(middleware.LimitGuard(tenants.ResourceTeams, metrics))
//
// # Tenant Resolution
//
// Members are always served by their own tenant. Super admins pick one with
// the X-Tenant header. Anonymous requests are resolved by host, with the
// mapping cached in redis:
//
//	resolver := middleware.NewTenantResolver(registry, redisClient, "example.com", 5*time.Minute, log)
//
// # Rate Limiting
//
// Public signup and login are limited per client IP. The redis limiter shares
// counters across instances; the in-memory limiter serves single instance
// deployments.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, middleware.SignupRateLimitConfig(), "")
//	signup := middleware.NewRateLimitMiddleware(limiter, "signup", log)
//
// # Related Packages
//
//   - pkg/auth: Token validation
//   - pkg/tenants: Tenant lookup and limit checks
package middleware
