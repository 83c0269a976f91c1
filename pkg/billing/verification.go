package billing

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/notify"
	"github.com/platinummonkey/tenancy/pkg/plans"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

var tracer = otel.Tracer("github.com/platinummonkey/tenancy/pkg/billing")

// ApprovePayment accepts a manual payment and activates what it pays for.
// The payment, its subscription and its tenant are locked in that order and
// updated in one transaction: either all three change or none does. A second
// concurrent approval waits on the payment lock and then fails with
// NotPending.
func (s *PostgresService) ApprovePayment(ctx context.Context, paymentID, reviewerID int64, notes string) (*ApprovalResult, error) {
	ctx, span := tracer.Start(ctx, "billing.ApprovePayment")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.id", paymentID), attribute.Int64("reviewer.id", reviewerID))

	var result *ApprovalResult
	var tenant *tenants.Tenant
	var before *Payment
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := lockPaymentTx(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if !current.PendingVerification() {
			return apperr.NotPending("payment %d is not pending verification", paymentID)
		}
		before = current

		verification, err := VerificationTransitions.Next(*current.VerificationStatus, EventApprove)
		if err != nil {
			return err
		}
		status, err := PaymentTransitions.Next(current.Status, EventComplete)
		if err != nil {
			return err
		}

		now := s.now()
		query := `
			UPDATE payments
			SET verification_status = $1, status = $2, verification_notes = $3,
				verified_by = $4, verified_at = $5, paid_at = $5, updated_at = $5
			WHERE id = $6
			RETURNING ` + paymentColumns
		payment, err := scanPayment(tx.QueryRowContext(ctx, query,
			verification, status, strings.TrimSpace(notes), reviewerID, now, paymentID))
		if err != nil {
			return fmt.Errorf("failed to approve payment: %w", err)
		}

		result, tenant, err = s.activateTx(ctx, tx, payment, &reviewerID, now)
		return err
	})
	if err != nil {
		s.observeVerification(string(VerifyApprove), outcomeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("tenant.activated", result.TenantActivated))
	s.observeVerification(string(VerifyApprove), "success")

	s.afterApproval(ctx, result, tenant)
	s.recorder.Admin(ctx, audit.AdminAuditLog{
		AdminUserID: &reviewerID,
		Action:      "approve_payment",
		TargetModel: audit.ResourcePayment,
		TargetID:    strconv.FormatInt(paymentID, 10),
		OldValues:   audit.Snapshot(before),
		NewValues:   audit.Snapshot(result.Payment),
		Notes:       notes,
	})
	return result, nil
}

// activateTx runs the approval cascade for a payment that has just been
// marked COMPLETED: the subscription becomes ACTIVE and a PENDING tenant is
// approved. The caller must already hold the payment lock.
func (s *PostgresService) activateTx(ctx context.Context, tx *sql.Tx, payment *Payment, approverID *int64, now time.Time) (*ApprovalResult, *tenants.Tenant, error) {
	result := &ApprovalResult{Payment: payment, TenantID: payment.TenantID}

	sub, err := lockSubscriptionTx(ctx, tx, payment.SubscriptionID)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case sub.Status == SubscriptionActive:
	case sub.Ended():
		if sub, err = reactivateSubscriptionTx(ctx, tx, sub, now); err != nil {
			return nil, nil, err
		}
		result.SubscriptionChanged = true
	default:
		next, err := SubscriptionTransitions.Next(sub.Status, EventActivate)
		if err != nil {
			return nil, nil, err
		}
		query := `UPDATE subscriptions SET status = $1, updated_at = $2 WHERE id = $3 RETURNING ` + subscriptionColumns
		sub, err = scanSubscription(tx.QueryRowContext(ctx, query, next, now, sub.ID))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to activate subscription: %w", err)
		}
		result.SubscriptionChanged = true
	}
	result.Subscription = sub

	tenant, err := tenants.LockTenantTx(ctx, tx, payment.TenantID)
	if err != nil {
		return nil, nil, err
	}
	if tenant.Status == tenants.StatusPending {
		tenant, result.TenantActivated, err = tenants.ApproveLockedTx(ctx, tx, tenant, approverID, now)
		if err != nil {
			return nil, nil, err
		}
	}
	return result, tenant, nil
}

// reactivateSubscriptionTx brings a cancelled or expired subscription back to
// ACTIVE with a fresh billing period starting now. Any cancellation is
// cleared.
func reactivateSubscriptionTx(ctx context.Context, tx *sql.Tx, sub *Subscription, now time.Time) (*Subscription, error) {
	next, err := SubscriptionTransitions.Next(sub.Status, EventReactivate)
	if err != nil {
		return nil, err
	}
	plan, err := plans.GetPlanTx(ctx, tx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	query := `
		UPDATE subscriptions
		SET status = $1, current_period_start = $2, current_period_end = $3,
			cancelled_at = NULL, cancel_at_period_end = FALSE, updated_at = $2
		WHERE id = $4
		RETURNING ` + subscriptionColumns
	sub, err = scanSubscription(tx.QueryRowContext(ctx, query, next, now, plan.BillingInterval.PeriodEnd(now), sub.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to reactivate subscription: %w", err)
	}
	return sub, nil
}

// afterApproval records and announces a committed approval
func (s *PostgresService) afterApproval(ctx context.Context, result *ApprovalResult, tenant *tenants.Tenant) {
	payment := result.Payment
	s.record(ctx, payment.TenantID, audit.ActionApprove, audit.ResourcePayment, payment.ID,
		fmt.Sprintf("Payment of %s %s approved", payment.Amount.StringFixed(2), payment.Currency),
		map[string]interface{}{
			"subscription_activated": result.SubscriptionChanged,
			"tenant_activated":       result.TenantActivated,
		})

	s.notifier.Notify(ctx, notify.TemplatePaymentSuccess, tenant.CompanyEmail, notify.Data{
		"TenantName": tenant.Name,
		"Amount":     payment.Amount.StringFixed(2),
		"Currency":   payment.Currency,
	})

	if result.TenantActivated {
		s.observeTenantTransition(string(tenants.EventApprove))
		s.record(ctx, tenant.ID, audit.ActionApprove, audit.ResourceTenant, tenant.ID, "Tenant approved after payment", nil)
		s.notifier.Notify(ctx, notify.TemplateTenantApproved, tenant.CompanyEmail, notify.Data{
			"TenantName": tenant.Name,
			"URL":        tenantURL(tenant.Slug, s.baseDomain),
		})
	}
}

// RejectPayment refuses a manual payment. Nothing else changes: the
// subscription and tenant keep their status.
func (s *PostgresService) RejectPayment(ctx context.Context, paymentID, reviewerID int64, notes string) (*Payment, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		s.observeVerification(string(VerifyReject), "missing_reason")
		return nil, apperr.MissingReason("a reason is required to reject a payment")
	}

	var payment, before *Payment
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := lockPaymentTx(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if !current.PendingVerification() {
			return apperr.NotPending("payment %d is not pending verification", paymentID)
		}
		before = current

		verification, err := VerificationTransitions.Next(*current.VerificationStatus, EventReject)
		if err != nil {
			return err
		}
		status, err := PaymentTransitions.Next(current.Status, EventFail)
		if err != nil {
			return err
		}

		query := `
			UPDATE payments
			SET verification_status = $1, status = $2, verification_notes = $3,
				verified_by = $4, verified_at = $5, updated_at = $5
			WHERE id = $6
			RETURNING ` + paymentColumns
		payment, err = scanPayment(tx.QueryRowContext(ctx, query,
			verification, status, notes, reviewerID, s.now(), paymentID))
		if err != nil {
			return fmt.Errorf("failed to reject payment: %w", err)
		}
		return nil
	})
	if err != nil {
		s.observeVerification(string(VerifyReject), outcomeOf(err))
		return nil, err
	}
	s.observeVerification(string(VerifyReject), "success")

	s.record(ctx, payment.TenantID, audit.ActionReject, audit.ResourcePayment, payment.ID, "Payment rejected",
		map[string]interface{}{"reason": notes})
	s.recorder.Admin(ctx, audit.AdminAuditLog{
		AdminUserID: &reviewerID,
		Action:      "reject_payment",
		TargetModel: audit.ResourcePayment,
		TargetID:    strconv.FormatInt(paymentID, 10),
		OldValues:   audit.Snapshot(before),
		NewValues:   audit.Snapshot(payment),
		Notes:       notes,
	})
	s.notifyTenant(ctx, payment.TenantID, notify.TemplatePaymentRejected, notify.Data{
		"Amount":   payment.Amount.StringFixed(2),
		"Currency": payment.Currency,
		"Reason":   notes,
	})
	return payment, nil
}

// notifyTenant emails the tenant's company address. The tenant is only
// loaded when a notifier is configured.
func (s *PostgresService) notifyTenant(ctx context.Context, tenantID int64, typ notify.TemplateType, data notify.Data) {
	if s.notifier == nil {
		return
	}
	tenant, err := tenants.GetTenantTx(ctx, s.db, tenantID)
	if err != nil {
		s.log.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to load tenant for notification")
		return
	}
	data["TenantName"] = tenant.Name
	s.notifier.Notify(ctx, typ, tenant.CompanyEmail, data)
}

func tenantURL(slug, baseDomain string) string {
	if baseDomain == "" {
		return ""
	}
	return "https://" + tenants.DefaultSubdomain(slug, baseDomain)
}

// outcomeOf classifies a verification failure for metrics
func outcomeOf(err error) string {
	switch {
	case apperr.IsNotPending(err):
		return "not_pending"
	case apperr.IsNotFound(err):
		return "not_found"
	case apperr.IsInvalidTransition(err):
		return "invalid_transition"
	}
	return "error"
}
