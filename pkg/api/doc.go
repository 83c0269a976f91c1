// Package api provides the HTTP REST API of the tenancy service.
//
// # Overview
//
// The API exposes tenant onboarding, the tenant lifecycle, the plan catalog,
// billing and the tenant scoped work resources (teams and tasks) under
// /api/v1. Every response is a JSON envelope:
//
//	{"success": true, "message": "...", "data": {...}}
//	{"success": false, "error": "...", "code": "NOT_FOUND"}
//
// # Architecture
//
// The API is built on gorilla/mux. Handler groups register their own routes:
//
//   - AuthHandlers: login, the current user and tenant user administration
//   - TenantHandlers: signup, registry, lifecycle, domains, settings, invitations
//   - PlanHandlers: the public catalog and its administration
//   - BillingHandlers: subscriptions, payments, invoices, reports, gateway webhooks
//   - TeamHandlers and TaskHandlers: work inside the resolved tenant
//
// Every API request passes through request ID, logging, panic recovery,
// metrics, tracing, audit metadata, optional bearer auth and tenant
// resolution. Routes then add the gates they need: RequireAuth, the super
// admin role, an approved tenant, or the limit guard on creation.
//
// # Usage
//
//	server := api.NewServer(api.Deps{
//		Tenants:    tenantService,
//		Onboarding: onboardingService,
//		Billing:    billingService,
//		Tokens:     auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
//		Resolver:   resolver,
//		Logger:     log,
//	})
//	http.ListenAndServe(":8080", server)
//
// # Tenant Lifecycle
//
// Lifecycle routes are reserved to super admins. A transition that changes
// the tenant is written to the activity and admin audit logs, counted by the
// Observer and announced to the tenant by email. Re-approving an active
// tenant succeeds without side effects.
//
// # API Endpoints
//
//	POST   /api/v1/auth/login
//	GET    /api/v1/auth/me
//	POST   /api/v1/tenants                         public signup
//	GET    /api/v1/tenants                         super admin
//	POST   /api/v1/tenants/{id}/approve|suspend|activate|toggle-status|cancel
//	GET    /api/v1/tenants/{id}/stats|limits
//	GET    /api/v1/tenants/{id}/users              tenant admin
//	DELETE /api/v1/tenants/{id}/users/{user_id}
//	*      /api/v1/tenants/{id}/domains|settings|invitations
//	POST   /api/v1/invitations/{token}/accept      public
//	GET    /api/v1/plans                           public
//	*      /api/v1/subscriptions|payments|invoices
//	GET    /api/v1/billing/dashboard|export
//	POST   /api/v1/billing/webhook                 payment gateway
//	*      /api/v1/teams|tasks                     approved tenant
//	GET    /api/v1/audit/...                       super admin
package api
