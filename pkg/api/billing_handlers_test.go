package api

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/billing"
)

func pendingPayment(id, tenantID int64) *billing.Payment {
	pending := billing.VerificationPending
	return &billing.Payment{
		ID:                 id,
		SubscriptionID:     3,
		TenantID:           tenantID,
		Amount:             decimal.NewFromInt(49),
		Currency:           "USD",
		PaymentMethod:      billing.PaymentMethod("BANK_TRANSFER"),
		Status:             billing.PaymentPending,
		VerificationStatus: &pending,
	}
}

func TestCreateSubscriptionScopedToTenant(t *testing.T) {
	h := newHarness(t, activeTenant(5), activeTenant(6))
	h.billing.createSubscriptionFunc = func(req *billing.CreateSubscriptionRequest) (*billing.Subscription, error) {
		return &billing.Subscription{ID: 3, TenantID: req.TenantID, PlanID: req.PlanID, Status: billing.SubscriptionTrial}, nil
	}
	admin := tenantUser(10, 5, auth.RoleTenantAdmin)

	rec := h.do(t, "POST", "/subscriptions", billing.CreateSubscriptionRequest{TenantID: 6, PlanID: 2}, admin)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, "POST", "/subscriptions", billing.CreateSubscriptionRequest{TenantID: 5, PlanID: 2}, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sub billing.Subscription
	readData(t, rec, &sub)
	assert.Equal(t, billing.SubscriptionTrial, sub.Status)
}

func TestCancelSubscription(t *testing.T) {
	h := newHarness(t, activeTenant(5))
	h.billing.getSubscriptionFunc = func(id int64) (*billing.Subscription, error) {
		return &billing.Subscription{ID: id, TenantID: 5, Status: billing.SubscriptionActive}, nil
	}
	var immediate bool
	h.billing.cancelSubscriptionFunc = func(id int64, immediately bool) (*billing.Subscription, error) {
		immediate = immediately
		return &billing.Subscription{ID: id, TenantID: 5, Status: billing.SubscriptionCancelled}, nil
	}

	rec := h.do(t, "POST", "/subscriptions/3/cancel", map[string]bool{"immediately": true}, tenantUser(10, 5, auth.RoleTenantAdmin))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, immediate)

	rec = h.do(t, "POST", "/subscriptions/3/cancel", nil, tenantUser(11, 5, auth.RoleMember))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListPaymentsScope(t *testing.T) {
	tests := []struct {
		name   string
		user   *auth.User
		query  string
		want   *int64
		status int
	}{
		{"tenant admin sees own tenant", tenantUser(10, 5, auth.RoleTenantAdmin), "?tenant_id=6", int64Ptr(5), http.StatusOK},
		{"super admin filters by tenant", superAdmin1(), "?tenant_id=6", int64Ptr(6), http.StatusOK},
		{"super admin sees all", superAdmin1(), "", nil, http.StatusOK},
		{"bad tenant id", superAdmin1(), "?tenant_id=abc", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, activeTenant(5), activeTenant(6))
			var got billing.PaymentFilter
			h.billing.listPaymentsFunc = func(filter billing.PaymentFilter) ([]*billing.Payment, error) {
				got = filter
				return nil, nil
			}

			rec := h.do(t, "GET", "/payments"+tt.query, nil, tt.user)

			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.want, got.TenantID)
				assert.Equal(t, 50, got.Limit)
			}
		})
	}
}

func TestVerifyPayment(t *testing.T) {
	t.Run("approve", func(t *testing.T) {
		h := newHarness(t)
		h.billing.approvePaymentFunc = func(paymentID, reviewerID int64, notes string) (*billing.ApprovalResult, error) {
			assert.Equal(t, int64(8), paymentID)
			assert.Equal(t, int64(1), reviewerID)
			assert.Equal(t, "matches bank statement", notes)
			return &billing.ApprovalResult{Payment: pendingPayment(8, 5), TenantID: 5, TenantActivated: true}, nil
		}

		rec := h.do(t, "POST", "/payments/8/verify",
			billing.VerifyPaymentRequest{Action: billing.VerifyApprove, Notes: "matches bank statement"}, superAdmin1())

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var result billing.ApprovalResult
		readData(t, rec, &result)
		assert.True(t, result.TenantActivated)
	})

	t.Run("reject", func(t *testing.T) {
		h := newHarness(t)
		h.billing.rejectPaymentFunc = func(paymentID, reviewerID int64, notes string) (*billing.Payment, error) {
			return pendingPayment(paymentID, 5), nil
		}

		rec := h.do(t, "POST", "/payments/8/verify",
			billing.VerifyPaymentRequest{Action: billing.VerifyReject, Notes: "blurry"}, superAdmin1())

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "Payment rejected", readEnvelope(t, rec).Message)
	})

	t.Run("already reviewed", func(t *testing.T) {
		h := newHarness(t)
		h.billing.approvePaymentFunc = func(paymentID, reviewerID int64, notes string) (*billing.ApprovalResult, error) {
			return nil, apperr.NotPending("payment %d is not pending verification", paymentID)
		}

		rec := h.do(t, "POST", "/payments/8/verify", billing.VerifyPaymentRequest{Action: billing.VerifyApprove}, superAdmin1())

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperr.CodeNotPending, readEnvelope(t, rec).Code)
	})

	t.Run("unknown action", func(t *testing.T) {
		h := newHarness(t)
		rec := h.do(t, "POST", "/payments/8/verify", map[string]string{"action": "maybe"}, superAdmin1())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("tenant admin", func(t *testing.T) {
		h := newHarness(t, activeTenant(5))
		rec := h.do(t, "POST", "/payments/8/verify", billing.VerifyPaymentRequest{Action: billing.VerifyApprove}, tenantUser(10, 5, auth.RoleTenantAdmin))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestUploadProof(t *testing.T) {
	h := newHarness(t, activeTenant(5))
	h.billing.getPaymentFunc = func(id int64) (*billing.Payment, error) {
		return pendingPayment(id, 5), nil
	}
	var gotName string
	var gotContent []byte
	h.billing.attachProofFunc = func(paymentID int64, filename string, content []byte) (*billing.Payment, error) {
		gotName, gotContent = filename, content
		p := pendingPayment(paymentID, 5)
		p.PaymentProof = "proofs/5/8/" + filename
		return p, nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "receipt.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", APIPrefix+"/payments/8/proof", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+h.token(t, tenantUser(10, 5, auth.RoleTenantAdmin)))
	rec := httptest.NewRecorder()
	h.server().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "receipt.pdf", gotName)
	assert.Equal(t, []byte("%PDF-1.4"), gotContent)
}

func TestGetPaymentOtherTenant(t *testing.T) {
	h := newHarness(t, activeTenant(5))
	h.billing.getPaymentFunc = func(id int64) (*billing.Payment, error) {
		return pendingPayment(id, 6), nil
	}

	rec := h.do(t, "GET", "/payments/8", nil, tenantUser(10, 5, auth.RoleMember))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleWebhook(t *testing.T) {
	h := newHarness(t)
	h.billing.handleEventFunc = func(payload []byte, signature string) error {
		if signature != "t=1,v1=good" {
			return apperr.Unauthorized("invalid webhook signature")
		}
		assert.JSONEq(t, `{"id":"evt_1"}`, string(payload))
		return nil
	}

	rec := h.do(t, "POST", "/billing/webhook", map[string]string{"id": "evt_1"}, nil, "Stripe-Signature", "t=1,v1=good")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, "POST", "/billing/webhook", map[string]string{"id": "evt_1"}, nil, "Stripe-Signature", "t=1,v1=bad")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExport(t *testing.T) {
	h := newHarness(t, activeTenant(5))
	var scoped *int64
	h.billing.exportFunc = func(tenantID *int64, w io.Writer) error {
		scoped = tenantID
		_, err := w.Write([]byte("PK"))
		return err
	}

	rec := h.do(t, "GET", "/billing/export", nil, tenantUser(10, 5, auth.RoleTenantAdmin))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	assert.Equal(t, "PK", rec.Body.String())
	require.NotNil(t, scoped)
	assert.Equal(t, int64(5), *scoped)

	rec = h.do(t, "GET", "/billing/export", nil, tenantUser(11, 5, auth.RoleMember))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDashboard(t *testing.T) {
	h := newHarness(t, activeTenant(5))
	h.billing.getDashboardFunc = func(tenantID int64) (*billing.Dashboard, error) {
		return &billing.Dashboard{TenantID: tenantID, PendingPayments: 2}, nil
	}

	rec := h.do(t, "GET", "/billing/dashboard", nil, superAdmin1())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, "GET", "/billing/dashboard?tenant_id=5", nil, superAdmin1())
	require.Equal(t, http.StatusOK, rec.Code)
	var dash billing.Dashboard
	readData(t, rec, &dash)
	assert.Equal(t, 2, dash.PendingPayments)

	rec = h.do(t, "GET", "/billing/dashboard", nil, tenantUser(11, 5, auth.RoleMember))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListInvoicesByStatus(t *testing.T) {
	h := newHarness(t, activeTenant(5))
	var got billing.InvoiceFilter
	h.billing.listInvoicesFunc = func(filter billing.InvoiceFilter) ([]*billing.Invoice, error) {
		got = filter
		return []*billing.Invoice{{ID: 1, Number: "INV-20260101-0001", TenantID: 5, Status: billing.InvoiceOverdue}}, nil
	}

	rec := h.do(t, "GET", "/invoices?status=OVERDUE&limit=1000", nil, tenantUser(10, 5, auth.RoleTenantAdmin))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, billing.InvoiceOverdue, got.Status)
	assert.Equal(t, 500, got.Limit)
	require.NotNil(t, got.TenantID)
	assert.Equal(t, int64(5), *got.TenantID)
}
