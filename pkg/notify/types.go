package notify

import (
	"time"
)

// TemplateType identifies a system email
type TemplateType string

const (
	TemplateWelcome              TemplateType = "WELCOME"
	TemplateTenantApproved       TemplateType = "TENANT_APPROVED"
	TemplateTenantSuspended      TemplateType = "TENANT_SUSPENDED"
	TemplatePaymentSuccess       TemplateType = "PAYMENT_SUCCESS"
	TemplatePaymentFailed        TemplateType = "PAYMENT_FAILED"
	TemplatePaymentRejected      TemplateType = "PAYMENT_REJECTED"
	TemplateInvoice              TemplateType = "INVOICE"
	TemplateInvitation           TemplateType = "INVITATION"
	TemplateSubscriptionExpiring TemplateType = "SUBSCRIPTION_EXPIRING"
)

// Valid reports whether t is a known template type
func (t TemplateType) Valid() bool {
	_, ok := defaultTemplates[t]
	return ok
}

// Template is a stored email template. Subject and Body are Go text/template
// sources rendered with the notification data.
type Template struct {
	ID        int64        `json:"id"`
	Type      TemplateType `json:"type"`
	Subject   string       `json:"subject"`
	Body      string       `json:"body"`
	IsActive  bool         `json:"is_active"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Message is a rendered email
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Data is the value a template is rendered with
type Data map[string]interface{}
