package billing

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/notify"
	"github.com/platinummonkey/tenancy/pkg/plans"
)

var hundred = decimal.NewFromInt(100)

// Totals are the computed amounts of an invoice
type Totals struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	Total     decimal.Decimal `json:"total"`
}

// LineAmount returns quantity times unit price, rounded to cents
func LineAmount(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return quantity.Mul(unitPrice).Round(2)
}

// CalculateTotal computes subtotal, tax and total from line amounts.
// tax_amount = subtotal * tax_rate / 100; total = subtotal + tax - discount.
func CalculateTotal(items []InvoiceItem, taxRate, discount decimal.Decimal) Totals {
	subtotal := lo.Reduce(items, func(sum decimal.Decimal, item InvoiceItem, _ int) decimal.Decimal {
		return sum.Add(item.Amount)
	}, decimal.Zero)
	tax := subtotal.Mul(taxRate).Div(hundred).Round(2)
	return Totals{
		Subtotal:  subtotal,
		TaxAmount: tax,
		Total:     subtotal.Add(tax).Sub(discount),
	}
}

// GenerateInvoiceNumber returns INV-<timestamp>-<4 random digits>
func GenerateInvoiceNumber(now time.Time) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("failed to generate invoice number: %w", err)
	}
	return fmt.Sprintf("INV-%s-%04d", now.Format("20060102150405"), n.Int64()), nil
}

// CreateInvoice creates an invoice and its items in one transaction
func (s *PostgresService) CreateInvoice(ctx context.Context, req *CreateInvoiceRequest) (*Invoice, error) {
	if len(req.Items) == 0 {
		return nil, apperr.Validation("an invoice needs at least one item")
	}
	if req.TaxRate.IsNegative() || req.TaxRate.GreaterThan(hundred) {
		return nil, apperr.Validation("tax rate must be between 0 and 100")
	}
	if req.DiscountAmount.IsNegative() {
		return nil, apperr.Validation("discount must not be negative")
	}

	now := s.now()
	if req.DueDate.IsZero() || req.DueDate.Before(truncateDay(now)) {
		return nil, apperr.Validation("due date must not be before the issue date")
	}

	items := make([]InvoiceItem, len(req.Items))
	for i, in := range req.Items {
		if strings.TrimSpace(in.Description) == "" {
			return nil, apperr.Validation("item %d needs a description", i+1)
		}
		quantity := in.Quantity
		if quantity.IsZero() {
			quantity = decimal.NewFromInt(1)
		}
		if quantity.IsNegative() || in.UnitPrice.IsNegative() {
			return nil, apperr.Validation("item %d has a negative quantity or price", i+1)
		}
		items[i] = InvoiceItem{
			Description: in.Description,
			Quantity:    quantity,
			UnitPrice:   in.UnitPrice,
			Amount:      LineAmount(quantity, in.UnitPrice),
		}
	}

	totals := CalculateTotal(items, req.TaxRate, req.DiscountAmount)
	if totals.Total.IsNegative() {
		return nil, apperr.Validation("discount exceeds the invoice amount")
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = plans.DefaultCurrency
	}
	number, err := GenerateInvoiceNumber(now)
	if err != nil {
		return nil, err
	}

	var invoice *Invoice
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO invoices (number, tenant_id, subscription_id, payment_id, status, subtotal, tax_rate,
				tax_amount, discount_amount, total, currency, issue_date, due_date, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING ` + invoiceColumns
		invoice, err = scanInvoice(tx.QueryRowContext(ctx, query,
			number, req.TenantID, database.NullInt64(req.SubscriptionID), database.NullInt64(req.PaymentID),
			InvoiceDraft, totals.Subtotal, req.TaxRate, totals.TaxAmount, req.DiscountAmount, totals.Total,
			currency, now, req.DueDate, req.Notes,
		))
		if err != nil {
			return apperr.ConflictOnUnique(err, "create invoice", fmt.Sprintf("invoice number %s already exists", number))
		}

		itemQuery := `
			INSERT INTO invoice_items (invoice_id, description, quantity, unit_price, amount)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`
		for i := range items {
			items[i].InvoiceID = invoice.ID
			err := tx.QueryRowContext(ctx, itemQuery,
				invoice.ID, items[i].Description, items[i].Quantity, items[i].UnitPrice, items[i].Amount,
			).Scan(&items[i].ID)
			if err != nil {
				return fmt.Errorf("failed to create invoice item: %w", err)
			}
		}
		invoice.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, invoice.TenantID, audit.ActionCreate, audit.ResourceInvoice, invoice.ID,
		fmt.Sprintf("Invoice %s created", invoice.Number),
		map[string]interface{}{"total": invoice.Total.StringFixed(2)})
	return invoice, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// GetInvoice retrieves an invoice and its items
func (s *PostgresService) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	invoice, err := scanInvoice(s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("invoice", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	if err := s.loadItems(ctx, s.db, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *PostgresService) loadItems(ctx context.Context, q database.DBTX, invoices ...*Invoice) error {
	if len(invoices) == 0 {
		return nil
	}
	byID := lo.KeyBy(invoices, func(inv *Invoice) int64 { return inv.ID })

	query := `
		SELECT id, invoice_id, description, quantity, unit_price, amount
		FROM invoice_items
		WHERE invoice_id = ANY($1)
		ORDER BY invoice_id, id
	`
	rows, err := q.QueryContext(ctx, query, pq.Array(lo.Keys(byID)))
	if err != nil {
		return fmt.Errorf("failed to get invoice items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item InvoiceItem
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.Description, &item.Quantity, &item.UnitPrice, &item.Amount); err != nil {
			return fmt.Errorf("failed to scan invoice item: %w", err)
		}
		if inv, ok := byID[item.InvoiceID]; ok {
			inv.Items = append(inv.Items, item)
		}
	}
	return rows.Err()
}

// ListInvoices lists invoices matching filter, newest first, with items
func (s *PostgresService) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if filter.TenantID != nil {
		query += fmt.Sprintf(" AND tenant_id = $%d", argCount)
		args = append(args, *filter.TenantID)
		argCount++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filter.Status)
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

	invoices, err := s.queryInvoices(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, s.db, invoices...); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *PostgresService) queryInvoices(ctx context.Context, query string, args ...interface{}) ([]*Invoice, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func lockInvoiceTx(ctx context.Context, q database.DBTX, id int64) (*Invoice, error) {
	invoice, err := scanInvoice(q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("invoice", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock invoice: %w", err)
	}
	return invoice, nil
}

// transitionInvoice applies event to an invoice. paidAt is stamped only when
// given.
func (s *PostgresService) transitionInvoice(ctx context.Context, id int64, event InvoiceEvent, paidAt *time.Time) (*Invoice, error) {
	var invoice *Invoice
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := lockInvoiceTx(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := InvoiceTransitions.Next(current.Status, event)
		if err != nil {
			return err
		}

		query := `
			UPDATE invoices SET status = $1, paid_at = COALESCE($2, paid_at), updated_at = NOW()
			WHERE id = $3
			RETURNING ` + invoiceColumns
		invoice, err = scanInvoice(tx.QueryRowContext(ctx, query, next, database.NullTime(paidAt), id))
		if err != nil {
			return fmt.Errorf("failed to %s invoice: %w", event, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// SendInvoice issues a DRAFT invoice and emails it to the tenant
func (s *PostgresService) SendInvoice(ctx context.Context, id int64) (*Invoice, error) {
	invoice, err := s.transitionInvoice(ctx, id, EventSend, nil)
	if err != nil {
		return nil, err
	}

	s.record(ctx, invoice.TenantID, audit.ActionUpdate, audit.ResourceInvoice, invoice.ID,
		fmt.Sprintf("Invoice %s sent", invoice.Number), nil)
	s.notifyTenant(ctx, invoice.TenantID, notify.TemplateInvoice, notify.Data{
		"Number":   invoice.Number,
		"Total":    invoice.Total.StringFixed(2),
		"Currency": invoice.Currency,
		"DueDate":  invoice.DueDate.Format("2006-01-02"),
	})
	return invoice, nil
}

// MarkInvoicePaid marks a SENT or OVERDUE invoice as paid
func (s *PostgresService) MarkInvoicePaid(ctx context.Context, id int64) (*Invoice, error) {
	now := s.now()
	invoice, err := s.transitionInvoice(ctx, id, EventPay, &now)
	if err != nil {
		return nil, err
	}
	s.record(ctx, invoice.TenantID, audit.ActionPayment, audit.ResourceInvoice, invoice.ID,
		fmt.Sprintf("Invoice %s paid", invoice.Number), nil)
	return invoice, nil
}

// CancelInvoice voids an unpaid invoice
func (s *PostgresService) CancelInvoice(ctx context.Context, id int64) (*Invoice, error) {
	invoice, err := s.transitionInvoice(ctx, id, EventVoid, nil)
	if err != nil {
		return nil, err
	}
	s.record(ctx, invoice.TenantID, audit.ActionUpdate, audit.ResourceInvoice, invoice.ID,
		fmt.Sprintf("Invoice %s cancelled", invoice.Number), nil)
	return invoice, nil
}

// RecalculateInvoice recomputes line amounts and totals from the stored
// items. Totals are otherwise never recomputed after creation.
func (s *PostgresService) RecalculateInvoice(ctx context.Context, id int64) (*Invoice, error) {
	var invoice *Invoice
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := lockInvoiceTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if InvoiceTransitions.Terminal(current.Status) {
			return apperr.InvalidTransition("invoice", string(current.Status), "recalculate")
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE invoice_items SET amount = ROUND(quantity * unit_price, 2) WHERE invoice_id = $1`, id); err != nil {
			return fmt.Errorf("failed to recalculate invoice items: %w", err)
		}
		if err := s.loadItems(ctx, tx, current); err != nil {
			return err
		}

		totals := CalculateTotal(current.Items, current.TaxRate, current.DiscountAmount)
		query := `
			UPDATE invoices SET subtotal = $1, tax_amount = $2, total = $3, updated_at = NOW()
			WHERE id = $4
			RETURNING ` + invoiceColumns
		invoice, err = scanInvoice(tx.QueryRowContext(ctx, query, totals.Subtotal, totals.TaxAmount, totals.Total, id))
		if err != nil {
			return fmt.Errorf("failed to update invoice totals: %w", err)
		}
		invoice.Items = current.Items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// MarkOverdueInvoices moves SENT invoices whose due date has passed to
// OVERDUE and returns how many were moved
func (s *PostgresService) MarkOverdueInvoices(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE invoices SET status = $1, updated_at = $2
		WHERE status = $3 AND due_date < $2::date
	`
	result, err := s.db.ExecContext(ctx, query, InvoiceOverdue, now, InvoiceSent)
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue invoices: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		s.log.WithField("count", n).Info("Marked invoices overdue")
	}
	return n, nil
}
