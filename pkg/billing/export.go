package billing

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	paymentsSheet = "Payments"
	invoicesSheet = "Invoices"
	exportLimit   = 10000
)

var (
	paymentHeaders = []interface{}{
		"ID", "Tenant ID", "Subscription ID", "Amount", "Currency", "Method", "Status",
		"Verification", "Transaction ID", "Paid At", "Created At",
	}
	invoiceHeaders = []interface{}{
		"Number", "Tenant ID", "Status", "Subtotal", "Tax", "Discount", "Total", "Currency",
		"Issue Date", "Due Date", "Paid At",
	}
)

// Export writes payments and invoices as an XLSX workbook with one sheet
// each. A nil tenantID exports every tenant.
func (s *PostgresService) Export(ctx context.Context, tenantID *int64, w io.Writer) error {
	where, args := "", []interface{}{exportLimit}
	if tenantID != nil {
		where = "WHERE tenant_id = $2"
		args = append(args, *tenantID)
	}

	payments, err := s.queryPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments `+where+` ORDER BY created_at DESC, id DESC LIMIT $1`, args...)
	if err != nil {
		return err
	}
	invoices, err := s.queryInvoices(ctx,
		`SELECT `+invoiceColumns+` FROM invoices `+where+` ORDER BY created_at DESC, id DESC LIMIT $1`, args...)
	if err != nil {
		return err
	}

	f, err := buildWorkbook(payments, invoices)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func buildWorkbook(payments []*Payment, invoices []*Invoice) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", paymentsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(invoicesSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	rows := make([][]interface{}, 0, len(payments)+1)
	rows = append(rows, paymentHeaders)
	for _, p := range payments {
		verification := ""
		if p.VerificationStatus != nil {
			verification = string(*p.VerificationStatus)
		}
		transactionID := ""
		if p.TransactionID != nil {
			transactionID = *p.TransactionID
		}
		rows = append(rows, []interface{}{
			p.ID, p.TenantID, p.SubscriptionID, p.Amount.InexactFloat64(), p.Currency, string(p.PaymentMethod),
			string(p.Status), verification, transactionID, formatTime(p.PaidAt), p.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	if err := writeSheet(f, paymentsSheet, rows, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	rows = make([][]interface{}, 0, len(invoices)+1)
	rows = append(rows, invoiceHeaders)
	for _, inv := range invoices {
		rows = append(rows, []interface{}{
			inv.Number, inv.TenantID, string(inv.Status), inv.Subtotal.InexactFloat64(), inv.TaxAmount.InexactFloat64(),
			inv.DiscountAmount.InexactFloat64(), inv.Total.InexactFloat64(), inv.Currency,
			inv.IssueDate.Format("2006-01-02"), inv.DueDate.Format("2006-01-02"), formatTime(inv.PaidAt),
		})
	}
	if err := writeSheet(f, invoicesSheet, rows, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	return f, nil
}

func writeSheet(f *excelize.File, sheet string, rows [][]interface{}, headerStyle int) error {
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		row := rows[i]
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}

	last, err := excelize.ColumnNumberToName(len(rows[0]))
	if err != nil {
		return fmt.Errorf("failed to convert column number: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", last+"1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	if err := f.SetColWidth(sheet, "A", last, 16); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}
