// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response envelope
//
// Every JSON response uses one of two shapes:
//
//	{"success": true, "message": "Tenant approved", "data": {...}}
//	{"success": false, "error": "tenant 7 not found", "code": "NOT_FOUND"}
//
// Handlers return service errors through WriteServiceError, which maps the
// apperr kind to a status code and code. Internal errors never leak their
// message.
//
//	tenant, err := h.tenants.GetTenant(ctx, id)
//	if err != nil {
//		httputil.WriteServiceError(w, err)
//		return
//	}
//	httputil.WriteOK(w, "", tenant)
//
// # Request parsing
//
//	var req tenants.UpdateTenantRequest
//	if err := httputil.DecodeAndValidate(r, &req); err != nil {
//		httputil.WriteServiceError(w, err)
//		return
//	}
//
// DecodeAndValidate applies the validate struct tags with
// go-playground/validator and reports every failed field in one message.
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(log),
//		httputil.RecoveryMiddleware(log),
//		httputil.MaxBytesMiddleware(10<<20),
//	)
package httputil
