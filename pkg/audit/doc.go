// Package audit records what happened to tenants, payments and everything
// else the lifecycle touches.
//
// # Overview
//
// Two append-only trails are kept:
//
//   - activity_logs: tenant scoped entries (CREATE, APPROVE, PAYMENT, ...)
//     with the request metadata of the call that caused them
//   - audit_logs: administrative actions with before/after snapshots
//
// Services never talk to a Logger directly. They hold a *Recorder, which is
// best-effort: a failed write is logged through logrus and swallowed so that
// a committed state change is never reported as failed.
//
//	rec := audit.NewRecorder(audit.NewMultiLogger(dbLogger, fileLogger), log)
//	rec.Activity(ctx, audit.ActivityLog{
//		TenantID:     &tenant.ID,
//		UserID:       actorID,
//		Action:       audit.ActionApprove,
//		ResourceType: audit.ResourceTenant,
//		ResourceID:   strconv.FormatInt(tenant.ID, 10),
//		Description:  "Tenant approved",
//	})
//
// Middleware stores the client IP (first X-Forwarded-For entry), user agent,
// path and method on the context; loggers copy them onto activity entries.
//
// # Retention
//
// Activity entries older than the retention policy are removed by the
// scheduler. Admin entries are kept forever.
package audit
