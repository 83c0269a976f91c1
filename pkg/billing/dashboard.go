package billing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const recentLimit = 10

// GetDashboard summarizes a tenant's billing. The independent queries run
// concurrently.
func (s *PostgresService) GetDashboard(ctx context.Context, tenantID int64) (*Dashboard, error) {
	dash := &Dashboard{TenantID: tenantID}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		query := `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE tenant_id = $1 AND status = $2`
		var total decimal.Decimal
		if err := s.db.QueryRowContext(gctx, query, tenantID, PaymentCompleted).Scan(&total); err != nil {
			return fmt.Errorf("failed to sum payments: %w", err)
		}
		dash.TotalPaid = total
		return nil
	})

	g.Go(func() error {
		query := `SELECT COUNT(*) FROM payments WHERE tenant_id = $1 AND status = $2`
		if err := s.db.QueryRowContext(gctx, query, tenantID, PaymentPending).Scan(&dash.PendingPayments); err != nil {
			return fmt.Errorf("failed to count pending payments: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		query := `SELECT COUNT(*) FROM invoices WHERE tenant_id = $1 AND status = $2`
		if err := s.db.QueryRowContext(gctx, query, tenantID, InvoiceOverdue).Scan(&dash.OverdueInvoices); err != nil {
			return fmt.Errorf("failed to count overdue invoices: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		query := `SELECT ` + paymentColumns + ` FROM payments WHERE tenant_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
		payments, err := s.queryPayments(gctx, query, tenantID, recentLimit)
		if err != nil {
			return err
		}
		dash.RecentPayments = payments
		return nil
	})

	g.Go(func() error {
		query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE tenant_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
		invoices, err := s.queryInvoices(gctx, query, tenantID, recentLimit)
		if err != nil {
			return err
		}
		dash.RecentInvoices = invoices
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dash, nil
}
