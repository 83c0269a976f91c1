package billing

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/notify"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

var (
	subscriptionRowColumns = []string{
		"id", "tenant_id", "plan_id", "status", "current_period_start", "current_period_end",
		"trial_start", "trial_end", "auto_renew", "cancel_at_period_end", "cancelled_at", "is_current",
		"created_at", "updated_at",
	}
	paymentRowColumns = []string{
		"id", "subscription_id", "tenant_id", "amount", "currency", "payment_method", "status",
		"verification_status", "transaction_id", "gateway", "gateway_response", "payment_proof", "notes",
		"verification_notes", "verified_by", "verified_at", "paid_at", "created_at", "updated_at",
	}
	invoiceRowColumns = []string{
		"id", "number", "tenant_id", "subscription_id", "payment_id", "status", "subtotal", "tax_rate",
		"tax_amount", "discount_amount", "total", "currency", "issue_date", "due_date", "paid_at", "notes",
		"created_at", "updated_at",
	}
	tenantRowColumns = []string{
		"id", "name", "slug", "company_name", "company_email", "phone", "address", "primary_color",
		"status", "is_approved", "approved_at", "approved_by", "current_subscription_id",
		"max_users", "max_teams", "max_projects", "max_storage_gb",
		"current_users_count", "current_teams_count", "current_projects_count", "current_storage_gb",
		"allow_user_registration", "require_email_verification", "two_factor_auth_required",
		"trial_ends_at", "notes", "metadata", "created_at", "updated_at",
	}
	planRowColumns = []string{
		"id", "name", "slug", "description", "price", "currency", "billing_interval",
		"max_users", "max_teams", "max_projects", "max_storage_gb",
		"api_access", "advanced_reports", "priority_support", "custom_branding", "sso", "audit_logs",
		"is_popular", "is_active", "sort_order", "trial_days", "created_at", "updated_at",
	}
)

type subFixture struct {
	id          int64
	tenantID    int64
	planID      int64
	status      SubscriptionStatus
	cancelAtEnd bool
	autoRenew   bool
}

func subscriptionRows(fixtures ...subFixture) *sqlmock.Rows {
	rows := sqlmock.NewRows(subscriptionRowColumns)
	now := time.Now()
	for _, f := range fixtures {
		rows.AddRow(
			f.id, f.tenantID, f.planID, string(f.status), now, now.AddDate(0, 0, 30),
			nil, nil, f.autoRenew, f.cancelAtEnd, nil, true,
			now, now,
		)
	}
	return rows
}

type paymentFixture struct {
	id           int64
	subID        int64
	tenantID     int64
	method       PaymentMethod
	status       PaymentStatus
	verification interface{}
	txID         interface{}
	proof        string
}

func paymentRows(fixtures ...paymentFixture) *sqlmock.Rows {
	rows := sqlmock.NewRows(paymentRowColumns)
	now := time.Now()
	for _, f := range fixtures {
		rows.AddRow(
			f.id, f.subID, f.tenantID, "49.00", "USD", string(f.method), string(f.status),
			f.verification, f.txID, "", nil, f.proof, "",
			"", nil, nil, nil, now, now,
		)
	}
	return rows
}

func invoiceRows(id int64, number string, status InvoiceStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(invoiceRowColumns).AddRow(
		id, number, int64(1), nil, nil, string(status), "25.50", "10",
		"2.55", "1.00", "27.05", "USD", now, now.AddDate(0, 0, 14), nil, "",
		now, now,
	)
}

func tenantRows(id int64, status tenants.Status, approved bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(tenantRowColumns).AddRow(
		id, "Acme", "acme", "Acme Inc", "ops@acme.test", "", "", "#3B82F6",
		string(status), approved, nil, nil, nil,
		5, 2, 10, "1.00",
		1, 0, 0, "0.00",
		true, true, false,
		nil, "", []byte(`{}`), now, now,
	)
}

func planRows(id int64, trialDays int, apiAccess bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(planRowColumns).AddRow(
		id, "Pro", "pro", "", "49.00", "USD", "MONTHLY",
		25, 5, 50, "10.00",
		apiAccess, false, false, false, false, true,
		false, true, 1, trialDays, now, now,
	)
}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

type captureSender struct {
	mu   sync.Mutex
	msgs []*notify.Message
}

func (s *captureSender) Send(ctx context.Context, msg *notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *captureSender) subjects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = m.Subject
	}
	return out
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) inc(key string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[key] += n
}

func (o *countingObserver) RecordPaymentVerification(action, outcome string) {
	o.inc("verify/"+action+"/"+outcome, 1)
}

func (o *countingObserver) RecordTenantTransition(event string) {
	o.inc("tenant/"+event, 1)
}

func (o *countingObserver) RecordSubscriptionSweep(status string, count int) {
	o.inc("sweep/"+status, count)
}

func newTestService(db *sql.DB, opts Options) (*PostgresService, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	opts.Logger = log
	return NewPostgresService(db, opts), hook
}

func TestCalculateTotal(t *testing.T) {
	items := []InvoiceItem{
		{Amount: LineAmount(decimal.NewFromInt(2), decimal.RequireFromString("10.00"))},
		{Amount: LineAmount(decimal.NewFromInt(1), decimal.RequireFromString("5.50"))},
	}

	tests := []struct {
		name     string
		taxRate  string
		discount string
		subtotal string
		tax      string
		total    string
	}{
		{"no tax", "0", "0", "25.50", "0.00", "25.50"},
		{"tax and discount", "10", "1", "25.50", "2.55", "27.05"},
		{"rounded tax", "7.25", "0", "25.50", "1.85", "27.35"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			totals := CalculateTotal(items, decimal.RequireFromString(tt.taxRate), decimal.RequireFromString(tt.discount))
			assert.Equal(t, tt.subtotal, totals.Subtotal.StringFixed(2))
			assert.Equal(t, tt.tax, totals.TaxAmount.StringFixed(2))
			assert.Equal(t, tt.total, totals.Total.StringFixed(2))
		})
	}

	empty := CalculateTotal(nil, decimal.NewFromInt(10), decimal.Zero)
	assert.True(t, empty.Total.IsZero())
}

func TestLineAmountRounds(t *testing.T) {
	got := LineAmount(decimal.RequireFromString("3"), decimal.RequireFromString("0.333"))
	assert.Equal(t, "1.00", got.StringFixed(2))
}

func TestGenerateInvoiceNumber(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	number, err := GenerateInvoiceNumber(now)
	require.NoError(t, err)
	assert.Regexp(t, `^INV-20260301120000-\d{4}$`, number)
}

func TestTransitionTables(t *testing.T) {
	t.Run("subscription", func(t *testing.T) {
		next, err := SubscriptionTransitions.Next(SubscriptionTrial, EventActivate)
		require.NoError(t, err)
		assert.Equal(t, SubscriptionActive, next)

		next, err = SubscriptionTransitions.Next(SubscriptionActive, EventLapse)
		require.NoError(t, err)
		assert.Equal(t, SubscriptionPastDue, next)

		_, err = SubscriptionTransitions.Next(SubscriptionCancelled, EventRenew)
		assert.Error(t, err)
		_, err = SubscriptionTransitions.Next(SubscriptionTrial, EventLapse)
		assert.Error(t, err)

		for _, ended := range []SubscriptionStatus{SubscriptionCancelled, SubscriptionExpired} {
			assert.Equal(t, []SubscriptionEvent{EventReactivate}, SubscriptionTransitions.Events(ended))
			next, err = SubscriptionTransitions.Next(ended, EventReactivate)
			require.NoError(t, err)
			assert.Equal(t, SubscriptionActive, next)
		}
		_, err = SubscriptionTransitions.Next(SubscriptionTrial, EventReactivate)
		assert.Error(t, err)
		assert.False(t, SubscriptionTransitions.Terminal(SubscriptionPastDue))
	})

	t.Run("payment", func(t *testing.T) {
		assert.True(t, PaymentTransitions.Can(PaymentPending, EventComplete))
		assert.True(t, PaymentTransitions.Can(PaymentCompleted, EventRefund))
		assert.False(t, PaymentTransitions.Can(PaymentFailed, EventComplete))
		assert.False(t, PaymentTransitions.Can(PaymentPending, EventRefund))
	})

	t.Run("verification", func(t *testing.T) {
		assert.True(t, VerificationTransitions.Can(VerificationPending, EventApprove))
		assert.False(t, VerificationTransitions.Can(VerificationApproved, EventReject))
		assert.False(t, VerificationTransitions.Can(VerificationRejected, EventApprove))
	})

	t.Run("invoice", func(t *testing.T) {
		assert.True(t, InvoiceTransitions.Can(InvoiceDraft, EventSend))
		assert.True(t, InvoiceTransitions.Can(InvoiceOverdue, EventPay))
		assert.False(t, InvoiceTransitions.Can(InvoiceDraft, EventPay))
		assert.False(t, InvoiceTransitions.Can(InvoicePaid, EventVoid))
		assert.True(t, InvoiceTransitions.Terminal(InvoicePaid))
	})
}

func TestPaymentMethod(t *testing.T) {
	for _, m := range []PaymentMethod{MethodCard, MethodBankTransfer, MethodPayPal, MethodManual, MethodOther} {
		assert.True(t, m.Valid(), string(m))
		assert.Equal(t, m == MethodManual, m.NeedsVerification(), string(m))
	}
	assert.False(t, PaymentMethod("CASH").Valid())
}

func TestSubscriptionHelpers(t *testing.T) {
	now := time.Now()
	sub := &Subscription{Status: SubscriptionTrial, CurrentPeriodEnd: now.Add(72*time.Hour + time.Minute)}
	assert.True(t, sub.IsActive())
	assert.Equal(t, 3, sub.DaysUntilRenewal(now))

	sub.Status = SubscriptionPastDue
	assert.False(t, sub.IsActive())
	assert.False(t, sub.Ended())
	sub.Status = SubscriptionExpired
	assert.True(t, sub.Ended())
	sub.CurrentPeriodEnd = now.Add(-time.Hour)
	assert.Equal(t, 0, sub.DaysUntilRenewal(now))
}

func TestTenantURL(t *testing.T) {
	assert.Equal(t, "", tenantURL("acme", ""))
	assert.Equal(t, fmt.Sprintf("https://%s", tenants.DefaultSubdomain("acme", "example.com")), tenantURL("acme", "example.com"))
}
