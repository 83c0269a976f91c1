// Package notify sends the system emails: welcome, approval, suspension,
// payment outcomes, invoices, invitations and trial reminders.
//
// Templates live in the email_templates table and are Go text/template
// sources; a built-in default is used when no active row exists. Dispatcher
// renders and sends on an async.WorkerPool so request handlers never wait on
// SMTP, and a full queue drops the email rather than blocking.
//
//	d := notify.NewDispatcher(notify.NewPostgresTemplateStore(db), sender, pool, log, metrics)
//	d.Notify(ctx, notify.TemplateTenantApproved, tenant.CompanyEmail, notify.Data{
//		"TenantName": tenant.Name,
//		"URL":        "https://" + tenant.Slug + "." + baseDomain,
//	})
package notify
