package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/billing"
	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/plans"
)

const (
	// maxWebhookBytes bounds a gateway event payload
	maxWebhookBytes = 64 << 10
	// maxProofBytes bounds an uploaded payment proof
	maxProofBytes = 10 << 20

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// BillingHandlers handles billing-related HTTP requests
type BillingHandlers struct {
	billingService billing.Service
}

// NewBillingHandlers creates a new BillingHandlers
func NewBillingHandlers(billingService billing.Service) *BillingHandlers {
	return &BillingHandlers{
		billingService: billingService,
	}
}

// RegisterRoutes registers billing routes
func (h *BillingHandlers) RegisterRoutes(router *mux.Router) {
	// Subscriptions
	router.Handle("/subscriptions", authenticated(h.CreateSubscription)).Methods("POST")
	router.Handle("/subscriptions/{id}", authenticated(h.GetSubscription)).Methods("GET")
	router.Handle("/subscriptions/{id}/cancel", authenticated(h.CancelSubscription)).Methods("POST")
	router.Handle("/subscriptions/{id}/renew", authenticated(h.RenewSubscription)).Methods("POST")
	router.Handle("/subscriptions/{id}/resume", authenticated(h.ResumeSubscription)).Methods("POST")
	router.Handle("/subscriptions/{id}/change-plan", authenticated(h.ChangePlan)).Methods("POST")
	router.Handle("/tenants/{id}/subscription", authenticated(h.GetCurrentSubscription)).Methods("GET")
	router.Handle("/tenants/{id}/subscriptions", authenticated(h.ListSubscriptions)).Methods("GET")
	router.Handle("/tenants/{id}/features/{feature}", authenticated(h.CheckFeature)).Methods("GET")

	// Payments
	router.Handle("/payments", authenticated(h.CreatePayment)).Methods("POST")
	router.Handle("/payments", authenticated(h.ListPayments)).Methods("GET")
	router.Handle("/payments/pending-verification", superAdmin(h.ListPendingVerification)).Methods("GET")
	router.Handle("/payments/{id}", authenticated(h.GetPayment)).Methods("GET")
	router.Handle("/payments/{id}/proof", authenticated(h.UploadProof)).Methods("POST")
	router.Handle("/payments/{id}/verify", superAdmin(h.VerifyPayment)).Methods("POST")
	router.Handle("/payments/{id}/refund", superAdmin(h.RefundPayment)).Methods("POST")

	// Invoices
	router.Handle("/invoices", superAdmin(h.CreateInvoice)).Methods("POST")
	router.Handle("/invoices", authenticated(h.ListInvoices)).Methods("GET")
	router.Handle("/invoices/{id}", authenticated(h.GetInvoice)).Methods("GET")
	router.Handle("/invoices/{id}/send", superAdmin(h.SendInvoice)).Methods("POST")
	router.Handle("/invoices/{id}/mark-paid", superAdmin(h.MarkInvoicePaid)).Methods("POST")
	router.Handle("/invoices/{id}/cancel", superAdmin(h.CancelInvoice)).Methods("POST")
	router.Handle("/invoices/{id}/recalculate", superAdmin(h.RecalculateInvoice)).Methods("POST")

	// Reporting
	router.Handle("/billing/dashboard", authenticated(h.GetDashboard)).Methods("GET")
	router.Handle("/billing/export", authenticated(h.Export)).Methods("GET")

	// Webhooks
	router.HandleFunc("/billing/webhook", h.HandleWebhook).Methods("POST")
}

// ownedSubscription loads {id} and checks the caller administers its tenant
func (h *BillingHandlers) ownedSubscription(w http.ResponseWriter, r *http.Request) (*billing.Subscription, bool) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return nil, false
	}
	sub, err := h.billingService.GetSubscription(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return nil, false
	}
	if !canManage(r, sub.TenantID) {
		forbidden(w)
		return nil, false
	}
	return sub, true
}

// CreateSubscription handles POST /subscriptions
func (h *BillingHandlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req billing.CreateSubscriptionRequest
	if !decode(w, r, &req) {
		return
	}
	if !canManage(r, req.TenantID) {
		forbidden(w)
		return
	}

	subscription, err := h.billingService.CreateSubscription(r.Context(), &req)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, "Subscription created", subscription)
}

// GetSubscription handles GET /subscriptions/{id}
func (h *BillingHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubscription(w, r)
	if !ok {
		return
	}
	httputil.WriteOK(w, "", sub)
}

// GetCurrentSubscription handles GET /tenants/{id}/subscription
func (h *BillingHandlers) GetCurrentSubscription(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !canView(r, tenantID) {
		forbidden(w)
		return
	}

	sub, err := h.billingService.GetCurrentSubscription(r.Context(), tenantID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", sub)
}

// ListSubscriptions handles GET /tenants/{id}/subscriptions
func (h *BillingHandlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !canManage(r, tenantID) {
		forbidden(w)
		return
	}

	subs, err := h.billingService.ListSubscriptions(r.Context(), tenantID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", subs)
}

// CheckFeature handles GET /tenants/{id}/features/{feature}
func (h *BillingHandlers) CheckFeature(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !canView(r, tenantID) {
		forbidden(w)
		return
	}
	feature := plans.Feature(mux.Vars(r)["feature"])

	allowed, err := h.billingService.CheckFeatureAccess(r.Context(), tenantID, feature)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", map[string]interface{}{
		"feature": feature,
		"allowed": allowed,
	})
}

type cancelSubscriptionRequest struct {
	Immediately bool `json:"immediately"`
}

// CancelSubscription handles POST /subscriptions/{id}/cancel
func (h *BillingHandlers) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubscription(w, r)
	if !ok {
		return
	}
	var req cancelSubscriptionRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	subscription, err := h.billingService.CancelSubscription(r.Context(), sub.ID, req.Immediately)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "Subscription cancelled", subscription)
}

// RenewSubscription handles POST /subscriptions/{id}/renew
func (h *BillingHandlers) RenewSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubscription(w, r)
	if !ok {
		return
	}
	subscription, err := h.billingService.RenewSubscription(r.Context(), sub.ID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "Subscription renewed", subscription)
}

// ResumeSubscription handles POST /subscriptions/{id}/resume
func (h *BillingHandlers) ResumeSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubscription(w, r)
	if !ok {
		return
	}
	subscription, err := h.billingService.ResumeSubscription(r.Context(), sub.ID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "Subscription resumed", subscription)
}

type changePlanRequest struct {
	PlanID int64 `json:"plan_id" validate:"required"`
}

// ChangePlan handles POST /subscriptions/{id}/change-plan
func (h *BillingHandlers) ChangePlan(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubscription(w, r)
	if !ok {
		return
	}
	var req changePlanRequest
	if !decode(w, r, &req) {
		return
	}

	subscription, err := h.billingService.ChangePlan(r.Context(), sub.ID, req.PlanID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "Plan changed", subscription)
}

// CreatePayment handles POST /payments
func (h *BillingHandlers) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req billing.CreatePaymentRequest
	if !decode(w, r, &req) {
		return
	}
	sub, err := h.billingService.GetSubscription(r.Context(), req.SubscriptionID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if !canManage(r, sub.TenantID) {
		forbidden(w)
		return
	}

	payment, err := h.billingService.CreatePayment(r.Context(), &req)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, "Payment recorded", payment)
}

// ListPayments handles GET /payments
func (h *BillingHandlers) ListPayments(w http.ResponseWriter, r *http.Request) {
	tenantID, err := scopedTenantID(r)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	subscriptionID, err := httputil.ParseQueryInt64(r, "subscription_id")
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	limit, offset, err := paging(r)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	payments, err := h.billingService.ListPayments(r.Context(), billing.PaymentFilter{
		TenantID:           tenantID,
		SubscriptionID:     subscriptionID,
		Status:             billing.PaymentStatus(httputil.ParseQueryString(r, "status", "")),
		VerificationStatus: billing.VerificationStatus(httputil.ParseQueryString(r, "verification_status", "")),
		PaymentMethod:      billing.PaymentMethod(httputil.ParseQueryString(r, "payment_method", "")),
		Limit:              limit,
		Offset:             offset,
	})
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", payments)
}

// ListPendingVerification handles GET /payments/pending-verification
func (h *BillingHandlers) ListPendingVerification(w http.ResponseWriter, r *http.Request) {
	payments, err := h.billingService.ListPendingVerification(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", payments)
}

// ownedPayment loads {id} and checks the caller may see its tenant
func (h *BillingHandlers) ownedPayment(w http.ResponseWriter, r *http.Request) (*billing.Payment, bool) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return nil, false
	}
	payment, err := h.billingService.GetPayment(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return nil, false
	}
	if !canView(r, payment.TenantID) {
		forbidden(w)
		return nil, false
	}
	return payment, true
}

// GetPayment handles GET /payments/{id}
func (h *BillingHandlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, ok := h.ownedPayment(w, r)
	if !ok {
		return
	}
	httputil.WriteOK(w, "", payment)
}

// UploadProof handles POST /payments/{id}/proof as multipart form data with
// the document in the "file" field
func (h *BillingHandlers) UploadProof(w http.ResponseWriter, r *http.Request) {
	payment, ok := h.ownedPayment(w, r)
	if !ok {
		return
	}
	if !canManage(r, payment.TenantID) {
		forbidden(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxProofBytes)
	if err := r.ParseMultipartForm(maxProofBytes); err != nil {
		httputil.WriteServiceError(w, apperr.Validation("invalid upload: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteServiceError(w, apperr.Validation("file is required"))
		return
	}
	defer file.Close()

	updated, err := h.billingService.AttachProof(r.Context(), payment.ID, header.Filename, file)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "Payment proof uploaded", updated)
}

// VerifyPayment handles POST /payments/{id}/verify
func (h *BillingHandlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req billing.VerifyPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	reviewer := caller(r).UserID

	switch req.Action {
	case billing.VerifyApprove:
		result, err := h.billingService.ApprovePayment(r.Context(), id, reviewer, req.Notes)
		if err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
		httputil.WriteOK(w, "Payment approved", result)
	default:
		payment, err := h.billingService.RejectPayment(r.Context(), id, reviewer, req.Notes)
		if err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
		httputil.WriteOK(w, "Payment rejected", payment)
	}
}

type refundRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// RefundPayment handles POST /payments/{id}/refund
func (h *BillingHandlers) RefundPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req refundRequest
	if !decode(w, r, &req) {
		return
	}

	payment, err := h.billingService.RefundPayment(r.Context(), id, req.Reason)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "Payment refunded", payment)
}

// CreateInvoice handles POST /invoices
func (h *BillingHandlers) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req billing.CreateInvoiceRequest
	if !decode(w, r, &req) {
		return
	}
	invoice, err := h.billingService.CreateInvoice(r.Context(), &req)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, "Invoice created", invoice)
}

// ListInvoices handles GET /invoices
func (h *BillingHandlers) ListInvoices(w http.ResponseWriter, r *http.Request) {
	tenantID, err := scopedTenantID(r)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	limit, offset, err := paging(r)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	invoices, err := h.billingService.ListInvoices(r.Context(), billing.InvoiceFilter{
		TenantID: tenantID,
		Status:   billing.InvoiceStatus(httputil.ParseQueryString(r, "status", "")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", invoices)
}

// GetInvoice handles GET /invoices/{id}
func (h *BillingHandlers) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	invoice, err := h.billingService.GetInvoice(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if !canView(r, invoice.TenantID) {
		forbidden(w)
		return
	}
	httputil.WriteOK(w, "", invoice)
}

// invoiceAction runs an administrative invoice operation on {id}
func (h *BillingHandlers) invoiceAction(w http.ResponseWriter, r *http.Request, message string,
	apply func(*http.Request, int64) (*billing.Invoice, error)) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	invoice, err := apply(r, id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, message, invoice)
}

// SendInvoice handles POST /invoices/{id}/send
func (h *BillingHandlers) SendInvoice(w http.ResponseWriter, r *http.Request) {
	h.invoiceAction(w, r, "Invoice sent", func(r *http.Request, id int64) (*billing.Invoice, error) {
		return h.billingService.SendInvoice(r.Context(), id)
	})
}

// MarkInvoicePaid handles POST /invoices/{id}/mark-paid
func (h *BillingHandlers) MarkInvoicePaid(w http.ResponseWriter, r *http.Request) {
	h.invoiceAction(w, r, "Invoice marked paid", func(r *http.Request, id int64) (*billing.Invoice, error) {
		return h.billingService.MarkInvoicePaid(r.Context(), id)
	})
}

// CancelInvoice handles POST /invoices/{id}/cancel
func (h *BillingHandlers) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	h.invoiceAction(w, r, "Invoice cancelled", func(r *http.Request, id int64) (*billing.Invoice, error) {
		return h.billingService.CancelInvoice(r.Context(), id)
	})
}

// RecalculateInvoice handles POST /invoices/{id}/recalculate
func (h *BillingHandlers) RecalculateInvoice(w http.ResponseWriter, r *http.Request) {
	h.invoiceAction(w, r, "Invoice recalculated", func(r *http.Request, id int64) (*billing.Invoice, error) {
		return h.billingService.RecalculateInvoice(r.Context(), id)
	})
}

// GetDashboard handles GET /billing/dashboard
func (h *BillingHandlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	tenantID, err := scopedTenantID(r)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if tenantID == nil {
		httputil.WriteServiceError(w, apperr.Validation("tenant_id is required"))
		return
	}

	dashboard, err := h.billingService.GetDashboard(r.Context(), *tenantID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", dashboard)
}

// Export handles GET /billing/export and streams an xlsx workbook. Super
// admins without a tenant_id get every tenant.
func (h *BillingHandlers) Export(w http.ResponseWriter, r *http.Request) {
	tenantID, err := scopedTenantID(r)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if tenantID != nil && !canManage(r, *tenantID) {
		forbidden(w)
		return
	}

	filename := fmt.Sprintf("billing-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := h.billingService.Export(r.Context(), tenantID, w); err != nil {
		httputil.WriteServiceError(w, err)
	}
}

// HandleWebhook handles POST /billing/webhook from the payment gateway
func (h *BillingHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		httputil.WriteServiceError(w, apperr.Validation("failed to read webhook payload"))
		return
	}

	if err := h.billingService.HandleGatewayEvent(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "Event processed", nil)
}
