package billing

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/plans"
	"github.com/platinummonkey/tenancy/pkg/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// CreatePayment records a payment against a subscription
func (s *PostgresService) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*Payment, error) {
	var payment *Payment
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		sub, err := lockSubscriptionTx(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		payment, err = CreatePaymentTx(ctx, tx, sub, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, payment.TenantID, audit.ActionPayment, audit.ResourcePayment, payment.ID,
		fmt.Sprintf("Payment of %s %s submitted", payment.Amount.StringFixed(2), payment.Currency),
		map[string]interface{}{"method": payment.PaymentMethod})
	return payment, nil
}

// CreatePaymentTx inserts a PENDING payment inside the caller's transaction.
// Manual payments wait for an administrator; gateway payments are confirmed
// by the gateway and carry no verification status.
func CreatePaymentTx(ctx context.Context, q database.DBTX, sub *Subscription, req *CreatePaymentRequest) (*Payment, error) {
	if !req.PaymentMethod.Valid() {
		return nil, apperr.Validation("invalid payment method: %s", req.PaymentMethod)
	}
	if req.Amount.IsNegative() {
		return nil, apperr.Validation("amount must not be negative")
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = plans.DefaultCurrency
	}

	var verification interface{}
	if req.PaymentMethod.NeedsVerification() {
		verification = VerificationPending
	}

	query := `
		INSERT INTO payments (subscription_id, tenant_id, amount, currency, payment_method, status,
			verification_status, transaction_id, gateway, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + paymentColumns
	payment, err := scanPayment(q.QueryRowContext(ctx, query,
		sub.ID, sub.TenantID, req.Amount, currency, req.PaymentMethod, PaymentPending,
		verification, database.NullString(req.TransactionID), req.Gateway, req.Notes,
	))
	if err != nil {
		return nil, apperr.ConflictOnUnique(err, "create payment",
			fmt.Sprintf("transaction %q has already been recorded", req.TransactionID))
	}
	return payment, nil
}

// GetPayment retrieves a payment by ID
func (s *PostgresService) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	payment, err := scanPayment(s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("payment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return payment, nil
}

// lockPaymentTx retrieves a payment and locks its row
func lockPaymentTx(ctx context.Context, q database.DBTX, id int64) (*Payment, error) {
	payment, err := scanPayment(q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("payment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock payment: %w", err)
	}
	return payment, nil
}

// ListPayments lists payments matching filter, newest first
func (s *PostgresService) ListPayments(ctx context.Context, filter PaymentFilter) ([]*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if filter.TenantID != nil {
		query += fmt.Sprintf(" AND tenant_id = $%d", argCount)
		args = append(args, *filter.TenantID)
		argCount++
	}
	if filter.SubscriptionID != nil {
		query += fmt.Sprintf(" AND subscription_id = $%d", argCount)
		args = append(args, *filter.SubscriptionID)
		argCount++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filter.Status)
		argCount++
	}
	if filter.VerificationStatus != "" {
		query += fmt.Sprintf(" AND verification_status = $%d", argCount)
		args = append(args, filter.VerificationStatus)
		argCount++
	}
	if filter.PaymentMethod != "" {
		query += fmt.Sprintf(" AND payment_method = $%d", argCount)
		args = append(args, filter.PaymentMethod)
		argCount++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, limit, filter.Offset)

	return s.queryPayments(ctx, query, args...)
}

// ListPendingVerification lists manual payments waiting for review, oldest
// first
func (s *PostgresService) ListPendingVerification(ctx context.Context) ([]*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE payment_method = $1 AND verification_status = $2
		ORDER BY created_at ASC, id ASC`
	return s.queryPayments(ctx, query, MethodManual, VerificationPending)
}

func (s *PostgresService) queryPayments(ctx context.Context, query string, args ...interface{}) ([]*Payment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// AttachProof uploads a proof of payment and stores its key on the payment.
// A proof can be replaced until the payment has been reviewed.
func (s *PostgresService) AttachProof(ctx context.Context, paymentID int64, filename string, content io.Reader) (*Payment, error) {
	if s.store == nil {
		return nil, fmt.Errorf("no object store configured for payment proofs")
	}
	current, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !current.PendingVerification() {
		return nil, apperr.NotPending("payment %d is not pending verification", paymentID)
	}

	key := storage.ProofKey(current.TenantID, current.ID, filename)
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.store.Put(ctx, key, content, contentType); err != nil {
		return nil, fmt.Errorf("failed to store payment proof: %w", err)
	}

	var payment *Payment
	var previous string
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		locked, err := lockPaymentTx(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if !locked.PendingVerification() {
			return apperr.NotPending("payment %d is not pending verification", paymentID)
		}
		previous = locked.PaymentProof

		query := `UPDATE payments SET payment_proof = $1, updated_at = NOW() WHERE id = $2 RETURNING ` + paymentColumns
		payment, err = scanPayment(tx.QueryRowContext(ctx, query, key, paymentID))
		if err != nil {
			return fmt.Errorf("failed to attach payment proof: %w", err)
		}
		return nil
	})
	if err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.log.WithError(delErr).WithField("key", key).Warn("Failed to remove orphaned payment proof")
		}
		return nil, err
	}

	if previous != "" && previous != key {
		if err := s.store.Delete(ctx, previous); err != nil {
			s.log.WithError(err).WithField("key", previous).Warn("Failed to remove replaced payment proof")
		}
	}

	s.record(ctx, payment.TenantID, audit.ActionUpload, audit.ResourcePayment, payment.ID, "Payment proof uploaded",
		map[string]interface{}{"key": key})
	return payment, nil
}

// RefundPayment marks a completed payment as refunded
func (s *PostgresService) RefundPayment(ctx context.Context, paymentID int64, reason string) (*Payment, error) {
	var payment *Payment
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := lockPaymentTx(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		payment, err = refundLockedTx(ctx, tx, current, reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, payment.TenantID, audit.ActionPayment, audit.ResourcePayment, payment.ID, "Payment refunded",
		map[string]interface{}{"reason": reason})
	return payment, nil
}

func refundLockedTx(ctx context.Context, q database.DBTX, current *Payment, reason string) (*Payment, error) {
	next, err := PaymentTransitions.Next(current.Status, EventRefund)
	if err != nil {
		return nil, err
	}

	notes := current.Notes
	if reason = strings.TrimSpace(reason); reason != "" {
		if notes != "" {
			notes += "\n\n"
		}
		notes += "Refunded: " + reason
	}

	query := `UPDATE payments SET status = $1, notes = $2, updated_at = NOW() WHERE id = $3 RETURNING ` + paymentColumns
	payment, err := scanPayment(q.QueryRowContext(ctx, query, next, notes, current.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to refund payment: %w", err)
	}
	return payment, nil
}
