package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/notify"
	"github.com/platinummonkey/tenancy/pkg/plans"
	"github.com/platinummonkey/tenancy/pkg/storage"
)

// Service defines subscription, payment and invoice operations
type Service interface {
	CreateSubscription(ctx context.Context, req *CreateSubscriptionRequest) (*Subscription, error)
	GetSubscription(ctx context.Context, id int64) (*Subscription, error)
	GetCurrentSubscription(ctx context.Context, tenantID int64) (*Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID int64) ([]*Subscription, error)
	CancelSubscription(ctx context.Context, id int64, immediately bool) (*Subscription, error)
	RenewSubscription(ctx context.Context, id int64) (*Subscription, error)
	ResumeSubscription(ctx context.Context, id int64) (*Subscription, error)
	ChangePlan(ctx context.Context, id, planID int64) (*Subscription, error)
	ProcessPeriodEnds(ctx context.Context, now time.Time) (SweepResult, error)
	SendTrialReminders(ctx context.Context, now time.Time, daysAhead int) (int, error)
	CheckFeatureAccess(ctx context.Context, tenantID int64, feature plans.Feature) (bool, error)

	CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*Payment, error)
	AttachProof(ctx context.Context, paymentID int64, filename string, content io.Reader) (*Payment, error)
	GetPayment(ctx context.Context, id int64) (*Payment, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]*Payment, error)
	ListPendingVerification(ctx context.Context) ([]*Payment, error)
	ApprovePayment(ctx context.Context, paymentID, reviewerID int64, notes string) (*ApprovalResult, error)
	RejectPayment(ctx context.Context, paymentID, reviewerID int64, notes string) (*Payment, error)
	RefundPayment(ctx context.Context, paymentID int64, reason string) (*Payment, error)
	HandleGatewayEvent(ctx context.Context, payload []byte, signature string) error

	CreateInvoice(ctx context.Context, req *CreateInvoiceRequest) (*Invoice, error)
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]*Invoice, error)
	SendInvoice(ctx context.Context, id int64) (*Invoice, error)
	MarkInvoicePaid(ctx context.Context, id int64) (*Invoice, error)
	CancelInvoice(ctx context.Context, id int64) (*Invoice, error)
	RecalculateInvoice(ctx context.Context, id int64) (*Invoice, error)
	MarkOverdueInvoices(ctx context.Context, now time.Time) (int64, error)

	GetDashboard(ctx context.Context, tenantID int64) (*Dashboard, error)
	Export(ctx context.Context, tenantID *int64, w io.Writer) error
}

// Observer is told about billing outcomes, typically a metrics sink
type Observer interface {
	RecordPaymentVerification(action, outcome string)
	RecordTenantTransition(event string)
	RecordSubscriptionSweep(status string, count int)
}

// Options wires the collaborators of the billing service. Every field is
// optional.
type Options struct {
	Catalog       *plans.Catalog
	Store         storage.ObjectStore
	Recorder      *audit.Recorder
	Notifier      *notify.Dispatcher
	Observer      Observer
	Logger        *logrus.Logger
	WebhookSecret string
	BaseDomain    string
}

// PostgresService implements Service using PostgreSQL
type PostgresService struct {
	db            *sql.DB
	catalog       *plans.Catalog
	store         storage.ObjectStore
	recorder      *audit.Recorder
	notifier      *notify.Dispatcher
	observer      Observer
	log           *logrus.Logger
	webhookSecret string
	baseDomain    string
	now           func() time.Time
}

// NewPostgresService creates a new PostgreSQL-backed billing service
func NewPostgresService(db *sql.DB, opts Options) *PostgresService {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PostgresService{
		db:            db,
		catalog:       opts.Catalog,
		store:         opts.Store,
		recorder:      opts.Recorder,
		notifier:      opts.Notifier,
		observer:      opts.Observer,
		log:           log,
		webhookSecret: opts.WebhookSecret,
		baseDomain:    opts.BaseDomain,
		now:           time.Now,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const subscriptionColumns = `id, tenant_id, plan_id, status, current_period_start, current_period_end,
	trial_start, trial_end, auto_renew, cancel_at_period_end, cancelled_at, is_current,
	created_at, updated_at`

func scanSubscription(row rowScanner) (*Subscription, error) {
	sub := &Subscription{}
	var trialStart, trialEnd, cancelledAt sql.NullTime
	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.PlanID, &sub.Status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&trialStart, &trialEnd, &sub.AutoRenew, &sub.CancelAtPeriodEnd, &cancelledAt, &sub.IsCurrent,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.TrialStart = nullTime(trialStart)
	sub.TrialEnd = nullTime(trialEnd)
	sub.CancelledAt = nullTime(cancelledAt)
	return sub, nil
}

const paymentColumns = `id, subscription_id, tenant_id, amount, currency, payment_method, status,
	verification_status, transaction_id, gateway, gateway_response, payment_proof, notes,
	verification_notes, verified_by, verified_at, paid_at, created_at, updated_at`

func scanPayment(row rowScanner) (*Payment, error) {
	p := &Payment{}
	var verification, transactionID sql.NullString
	var verifiedBy sql.NullInt64
	var verifiedAt, paidAt sql.NullTime
	var response []byte
	err := row.Scan(
		&p.ID, &p.SubscriptionID, &p.TenantID, &p.Amount, &p.Currency, &p.PaymentMethod, &p.Status,
		&verification, &transactionID, &p.Gateway, &response, &p.PaymentProof, &p.Notes,
		&p.VerificationNotes, &verifiedBy, &verifiedAt, &paidAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if verification.Valid {
		v := VerificationStatus(verification.String)
		p.VerificationStatus = &v
	}
	if transactionID.Valid {
		p.TransactionID = &transactionID.String
	}
	if verifiedBy.Valid {
		p.VerifiedBy = &verifiedBy.Int64
	}
	p.VerifiedAt = nullTime(verifiedAt)
	p.PaidAt = nullTime(paidAt)
	if len(response) > 0 {
		if err := json.Unmarshal(response, &p.GatewayResponse); err != nil {
			return nil, err
		}
	}
	return p, nil
}

const invoiceColumns = `id, number, tenant_id, subscription_id, payment_id, status, subtotal, tax_rate,
	tax_amount, discount_amount, total, currency, issue_date, due_date, paid_at, notes,
	created_at, updated_at`

func scanInvoice(row rowScanner) (*Invoice, error) {
	inv := &Invoice{}
	var subscriptionID, paymentID sql.NullInt64
	var paidAt sql.NullTime
	err := row.Scan(
		&inv.ID, &inv.Number, &inv.TenantID, &subscriptionID, &paymentID, &inv.Status, &inv.Subtotal, &inv.TaxRate,
		&inv.TaxAmount, &inv.DiscountAmount, &inv.Total, &inv.Currency, &inv.IssueDate, &inv.DueDate, &paidAt, &inv.Notes,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if subscriptionID.Valid {
		inv.SubscriptionID = &subscriptionID.Int64
	}
	if paymentID.Valid {
		inv.PaymentID = &paymentID.Int64
	}
	inv.PaidAt = nullTime(paidAt)
	return inv, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// record writes an activity entry after a commit
func (s *PostgresService) record(ctx context.Context, tenantID int64, action audit.Action, resource string, resourceID int64, description string, metadata map[string]interface{}) {
	s.recorder.Activity(ctx, audit.ActivityLog{
		TenantID:     &tenantID,
		Action:       action,
		ResourceType: resource,
		ResourceID:   strconv.FormatInt(resourceID, 10),
		Description:  description,
		Metadata:     metadata,
	})
}

func (s *PostgresService) observeVerification(action, outcome string) {
	if s.observer != nil {
		s.observer.RecordPaymentVerification(action, outcome)
	}
}

func (s *PostgresService) observeTenantTransition(event string) {
	if s.observer != nil {
		s.observer.RecordTenantTransition(event)
	}
}

func (s *PostgresService) observeSweep(status string, count int) {
	if s.observer != nil && count > 0 {
		s.observer.RecordSubscriptionSweep(status, count)
	}
}
