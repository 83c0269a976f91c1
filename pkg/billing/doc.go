// Package billing manages subscriptions, payments and invoices.
//
// # Subscriptions
//
// A tenant has at most one current subscription. Creating a new one demotes
// the previous row and copies the plan's limits onto the tenant. Plans with
// trial days start in TRIAL; the others start ACTIVE.
//
//	TRIAL    --activate/renew--> ACTIVE
//	ACTIVE   --lapse-----------> PAST_DUE
//	PAST_DUE --activate/renew--> ACTIVE
//	*        --cancel----------> CANCELLED
//	*        --expire----------> EXPIRED
//
// ProcessPeriodEnds is run by the scheduler. It cancels subscriptions with a
// pending cancellation, expires unpaid trials and moves ACTIVE subscriptions
// whose period ended to PAST_DUE (auto renew) or EXPIRED.
//
// # Payments
//
// Payments have two axes: a processing status and, for MANUAL payments, a
// verification status. Manual payments are reviewed by an administrator:
//
//	result, err := svc.ApprovePayment(ctx, paymentID, adminID, "wire received")
//
// Approval locks the payment, its subscription and its tenant, in that order,
// and in one transaction marks the payment COMPLETED and APPROVED, activates
// the subscription and approves a PENDING tenant. Rejection needs a reason
// and changes only the payment.
//
// Card payments are confirmed by Stripe webhooks (HandleGatewayEvent), which
// run the same activation cascade.
//
// # Invoices
//
// Invoice totals are computed once when the invoice is created:
//
//	tax_amount = subtotal * tax_rate / 100
//	total      = subtotal + tax_amount - discount_amount
//
// RecalculateInvoice recomputes them from the stored items on request.
package billing
