package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	SubscriptionTrial     SubscriptionStatus = "TRIAL"
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionPastDue   SubscriptionStatus = "PAST_DUE"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionExpired   SubscriptionStatus = "EXPIRED"
)

// Subscription binds a tenant to a plan for a billing period
type Subscription struct {
	ID                 int64              `json:"id"`
	TenantID           int64              `json:"tenant_id"`
	PlanID             int64              `json:"plan_id"`
	Status             SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	TrialStart         *time.Time         `json:"trial_start,omitempty"`
	TrialEnd           *time.Time         `json:"trial_end,omitempty"`
	AutoRenew          bool               `json:"auto_renew"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	IsCurrent          bool               `json:"is_current"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// IsActive reports whether the subscription currently grants access
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionTrial || s.Status == SubscriptionActive
}

// Ended reports whether the subscription was cancelled or expired
func (s *Subscription) Ended() bool {
	return s.Status == SubscriptionCancelled || s.Status == SubscriptionExpired
}

// DaysUntilRenewal returns whole days until the period ends, floored at zero
func (s *Subscription) DaysUntilRenewal(now time.Time) int {
	if !now.Before(s.CurrentPeriodEnd) {
		return 0
	}
	return int(s.CurrentPeriodEnd.Sub(now).Hours() / 24)
}

// PaymentMethod is how a payment was made
type PaymentMethod string

const (
	MethodCard         PaymentMethod = "CARD"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodPayPal       PaymentMethod = "PAYPAL"
	MethodManual       PaymentMethod = "MANUAL"
	MethodOther        PaymentMethod = "OTHER"
)

// Valid reports whether the method is known
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodBankTransfer, MethodPayPal, MethodManual, MethodOther:
		return true
	}
	return false
}

// NeedsVerification reports whether payments made this way are reviewed by
// an administrator instead of being confirmed by a gateway
func (m PaymentMethod) NeedsVerification() bool {
	return m == MethodManual
}

// PaymentStatus represents where a payment is in its processing
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
)

// VerificationStatus is the manual review outcome of a payment
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "PENDING"
	VerificationApproved VerificationStatus = "APPROVED"
	VerificationRejected VerificationStatus = "REJECTED"
)

// Payment is money received, or expected, for a subscription
type Payment struct {
	ID                 int64               `json:"id"`
	SubscriptionID     int64               `json:"subscription_id"`
	TenantID           int64               `json:"tenant_id"`
	Amount             decimal.Decimal     `json:"amount"`
	Currency           string              `json:"currency"`
	PaymentMethod      PaymentMethod       `json:"payment_method"`
	Status             PaymentStatus       `json:"status"`
	VerificationStatus *VerificationStatus `json:"verification_status,omitempty"`
	TransactionID      *string             `json:"transaction_id,omitempty"`
	Gateway            string              `json:"gateway,omitempty"`
	GatewayResponse    map[string]any      `json:"gateway_response,omitempty"`
	PaymentProof       string              `json:"payment_proof,omitempty"`
	Notes              string              `json:"notes,omitempty"`
	VerificationNotes  string              `json:"verification_notes,omitempty"`
	VerifiedBy         *int64              `json:"verified_by,omitempty"`
	VerifiedAt         *time.Time          `json:"verified_at,omitempty"`
	PaidAt             *time.Time          `json:"paid_at,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// PendingVerification reports whether an administrator still has to review
// the payment
func (p *Payment) PendingVerification() bool {
	return p.VerificationStatus != nil && *p.VerificationStatus == VerificationPending
}

// InvoiceStatus represents the status of an invoice
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "DRAFT"
	InvoiceSent      InvoiceStatus = "SENT"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceOverdue   InvoiceStatus = "OVERDUE"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

// Invoice is a billing document derived from a subscription or payment
type Invoice struct {
	ID             int64           `json:"id"`
	Number         string          `json:"number"`
	TenantID       int64           `json:"tenant_id"`
	SubscriptionID *int64          `json:"subscription_id,omitempty"`
	PaymentID      *int64          `json:"payment_id,omitempty"`
	Status         InvoiceStatus   `json:"status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
	Currency       string          `json:"currency"`
	IssueDate      time.Time       `json:"issue_date"`
	DueDate        time.Time       `json:"due_date"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	Items          []InvoiceItem   `json:"items,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// InvoiceItem is one line of an invoice
type InvoiceItem struct {
	ID          int64           `json:"id"`
	InvoiceID   int64           `json:"invoice_id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// CreateSubscriptionRequest starts a new subscription for a tenant
type CreateSubscriptionRequest struct {
	TenantID  int64 `json:"tenant_id" validate:"required"`
	PlanID    int64 `json:"plan_id" validate:"required"`
	AutoRenew *bool `json:"auto_renew,omitempty"`
}

// CreatePaymentRequest records a payment against a subscription
type CreatePaymentRequest struct {
	SubscriptionID int64           `json:"subscription_id" validate:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency,omitempty" validate:"omitempty,len=3"`
	PaymentMethod  PaymentMethod   `json:"payment_method" validate:"required,oneof=CARD BANK_TRANSFER PAYPAL MANUAL OTHER"`
	TransactionID  string          `json:"transaction_id,omitempty" validate:"max=255"`
	Gateway        string          `json:"gateway,omitempty" validate:"max=50"`
	Notes          string          `json:"notes,omitempty"`
}

// PaymentFilter narrows ListPayments
type PaymentFilter struct {
	TenantID           *int64
	SubscriptionID     *int64
	Status             PaymentStatus
	VerificationStatus VerificationStatus
	PaymentMethod      PaymentMethod
	Limit              int
	Offset             int
}

// VerifyAction is an administrator's decision on a manual payment
type VerifyAction string

const (
	VerifyApprove VerifyAction = "approve"
	VerifyReject  VerifyAction = "reject"
)

// VerifyPaymentRequest is the body of a verification decision
type VerifyPaymentRequest struct {
	Action VerifyAction `json:"action" validate:"required,oneof=approve reject"`
	Notes  string       `json:"notes,omitempty"`
}

// ApprovalResult reports what an approval changed
type ApprovalResult struct {
	Payment             *Payment      `json:"payment"`
	Subscription        *Subscription `json:"subscription"`
	TenantID            int64         `json:"tenant_id"`
	TenantActivated     bool          `json:"tenant_activated"`
	SubscriptionChanged bool          `json:"subscription_activated"`
}

// InvoiceItemRequest is one line of a new invoice
type InvoiceItemRequest struct {
	Description string          `json:"description" validate:"required,max=255"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// CreateInvoiceRequest creates an invoice with its items
type CreateInvoiceRequest struct {
	TenantID       int64                `json:"tenant_id" validate:"required"`
	SubscriptionID *int64               `json:"subscription_id,omitempty"`
	PaymentID      *int64               `json:"payment_id,omitempty"`
	TaxRate        decimal.Decimal      `json:"tax_rate"`
	DiscountAmount decimal.Decimal      `json:"discount_amount"`
	Currency       string               `json:"currency,omitempty" validate:"omitempty,len=3"`
	DueDate        time.Time            `json:"due_date" validate:"required"`
	Notes          string               `json:"notes,omitempty"`
	Items          []InvoiceItemRequest `json:"items" validate:"required,min=1,dive"`
}

// InvoiceFilter narrows ListInvoices
type InvoiceFilter struct {
	TenantID *int64
	Status   InvoiceStatus
	Limit    int
	Offset   int
}

// SweepResult counts what ProcessPeriodEnds changed
type SweepResult struct {
	Cancelled int `json:"cancelled"`
	Expired   int `json:"expired"`
	PastDue   int `json:"past_due"`
}

// Total returns the number of subscriptions the sweep moved
func (r SweepResult) Total() int {
	return r.Cancelled + r.Expired + r.PastDue
}

// Dashboard summarizes a tenant's billing
type Dashboard struct {
	TenantID        int64           `json:"tenant_id"`
	TotalPaid       decimal.Decimal `json:"total_paid"`
	PendingPayments int             `json:"pending_payments"`
	OverdueInvoices int             `json:"overdue_invoices"`
	RecentPayments  []*Payment      `json:"recent_payments"`
	RecentInvoices  []*Invoice      `json:"recent_invoices"`
}
