package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/notify"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

// Gateway event types handled by HandleGatewayEvent
const (
	GatewayPaymentSucceeded = "payment_intent.succeeded"
	GatewayPaymentFailed    = "payment_intent.payment_failed"
	GatewayChargeRefunded   = "charge.refunded"
)

// HandleGatewayEvent verifies and applies a Stripe webhook. Payments are
// matched on transaction_id, which holds the payment intent id. Events for
// unknown transactions and failures or refunds that no longer apply are
// acknowledged without changes so the gateway stops retrying them. A
// successful charge that cannot be applied is returned as an error.
func (s *PostgresService) HandleGatewayEvent(ctx context.Context, payload []byte, signature string) error {
	if s.webhookSecret == "" {
		return apperr.Forbidden("gateway webhooks are not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return apperr.Unauthorized("invalid webhook signature")
	}
	if event.Data == nil {
		return apperr.Validation("webhook event %s has no data", event.ID)
	}

	log := s.log.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	switch string(event.Type) {
	case GatewayPaymentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return apperr.Validation("failed to parse payment intent: %v", err)
		}
		err = s.completeGatewayPayment(ctx, intent.ID, event.Data.Raw)
	case GatewayPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return apperr.Validation("failed to parse payment intent: %v", err)
		}
		err = s.moveGatewayPayment(ctx, intent.ID, EventFail, event.Data.Raw)
	case GatewayChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return apperr.Validation("failed to parse charge: %v", err)
		}
		transactionID := charge.ID
		if charge.PaymentIntent != nil && charge.PaymentIntent.ID != "" {
			transactionID = charge.PaymentIntent.ID
		}
		err = s.moveGatewayPayment(ctx, transactionID, EventRefund, event.Data.Raw)
	default:
		log.Debug("Ignoring gateway event")
		return nil
	}

	switch {
	case err == nil:
		log.Info("Processed gateway event")
		return nil
	case apperr.IsInvalidTransition(err) && string(event.Type) == GatewayPaymentSucceeded:
		// keep the gateway retrying
		log.WithError(err).Error("Gateway payment collected but could not be applied")
		return err
	case apperr.IsNotFound(err) || apperr.IsInvalidTransition(err):
		log.WithError(err).Warn("Gateway event does not apply")
		return nil
	default:
		return err
	}
}

// lockPaymentByTransactionTx locks the payment recorded for a gateway
// transaction
func lockPaymentByTransactionTx(ctx context.Context, q database.DBTX, transactionID string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = $1 FOR UPDATE`
	payment, err := scanPayment(q.QueryRowContext(ctx, query, transactionID))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("payment for transaction", transactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock payment: %w", err)
	}
	return payment, nil
}

// completeGatewayPayment marks a gateway payment COMPLETED and runs the
// approval cascade in the same transaction. A manual review still pending is
// closed as approved. A payment that is already completed is left alone.
func (s *PostgresService) completeGatewayPayment(ctx context.Context, transactionID string, raw json.RawMessage) error {
	ctx, span := tracer.Start(ctx, "billing.completeGatewayPayment")
	defer span.End()

	var result *ApprovalResult
	var tenant *tenants.Tenant
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := lockPaymentByTransactionTx(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if current.Status == PaymentCompleted {
			return nil
		}
		status, err := PaymentTransitions.Next(current.Status, EventComplete)
		if err != nil {
			return err
		}

		verification := current.VerificationStatus
		if current.PendingVerification() {
			approved, err := VerificationTransitions.Next(*current.VerificationStatus, EventApprove)
			if err != nil {
				return err
			}
			verification = &approved
		}

		now := s.now()
		query := `
			UPDATE payments SET status = $1, paid_at = $2, gateway_response = $3, verification_status = $4, updated_at = $2
			WHERE id = $5
			RETURNING ` + paymentColumns
		payment, err := scanPayment(tx.QueryRowContext(ctx, query, status, now, string(raw), verification, current.ID))
		if err != nil {
			return fmt.Errorf("failed to complete payment: %w", err)
		}

		result, tenant, err = s.activateTx(ctx, tx, payment, nil, now)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if result == nil {
		return nil
	}
	s.observeVerification("gateway", "success")
	s.afterApproval(ctx, result, tenant)
	return nil
}

// moveGatewayPayment applies a failure or refund reported by the gateway
func (s *PostgresService) moveGatewayPayment(ctx context.Context, transactionID string, event PaymentEvent, raw json.RawMessage) error {
	var payment *Payment
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := lockPaymentByTransactionTx(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		next, err := PaymentTransitions.Next(current.Status, event)
		if err != nil {
			return err
		}

		query := `
			UPDATE payments SET status = $1, gateway_response = $2, updated_at = NOW()
			WHERE id = $3
			RETURNING ` + paymentColumns
		payment, err = scanPayment(tx.QueryRowContext(ctx, query, next, string(raw), current.ID))
		if err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	description := "Payment failed at gateway"
	if event == EventRefund {
		description = "Payment refunded at gateway"
	}
	s.record(ctx, payment.TenantID, audit.ActionPayment, audit.ResourcePayment, payment.ID, description,
		map[string]interface{}{"status": payment.Status, "transaction_id": transactionID})

	if event == EventFail {
		s.notifyTenant(ctx, payment.TenantID, notify.TemplatePaymentFailed, notify.Data{
			"Amount":   payment.Amount.StringFixed(2),
			"Currency": payment.Currency,
		})
	}
	return nil
}
