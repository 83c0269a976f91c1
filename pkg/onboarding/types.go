package onboarding

import (
	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/billing"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

// SignupRequest registers a tenant together with its first administrator
// and the subscription it signs up for
type SignupRequest struct {
	Name         string `json:"name" validate:"required,max=255"`
	Slug         string `json:"slug,omitempty" validate:"omitempty,max=100"`
	CompanyName  string `json:"company_name,omitempty" validate:"max=255"`
	CompanyEmail string `json:"company_email" validate:"required,email"`
	Phone        string `json:"phone,omitempty" validate:"max=50"`
	Address      string `json:"address,omitempty"`

	AdminEmail     string `json:"admin_email" validate:"required,email"`
	AdminPassword  string `json:"admin_password" validate:"required,min=8"`
	AdminFirstName string `json:"admin_first_name" validate:"required,max=100"`
	AdminLastName  string `json:"admin_last_name" validate:"required,max=100"`

	PlanID        int64                 `json:"plan_id" validate:"required"`
	PaymentMethod billing.PaymentMethod `json:"payment_method,omitempty" validate:"omitempty,oneof=CARD BANK_TRANSFER PAYPAL MANUAL OTHER"`
	TransactionID string                `json:"transaction_id,omitempty" validate:"max=255"`
	AutoRenew     *bool                 `json:"auto_renew,omitempty"`
}

func (r *SignupRequest) tenantRequest() *tenants.CreateTenantRequest {
	return &tenants.CreateTenantRequest{
		Name:         r.Name,
		Slug:         r.Slug,
		CompanyName:  r.CompanyName,
		CompanyEmail: r.CompanyEmail,
		Phone:        r.Phone,
		Address:      r.Address,
	}
}

// SignupResult is everything created by a signup
type SignupResult struct {
	Tenant       *tenants.Tenant       `json:"tenant"`
	Admin        *auth.User            `json:"admin"`
	Domain       *tenants.Domain       `json:"domain,omitempty"`
	Subscription *billing.Subscription `json:"subscription"`
	Payment      *billing.Payment      `json:"payment"`
}

// AcceptInvitationRequest turns an invitation into an account
type AcceptInvitationRequest struct {
	Token     string `json:"-"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
}

// AcceptInvitationResult is the consumed invitation and the new account
type AcceptInvitationResult struct {
	Invitation *tenants.Invitation `json:"invitation"`
	User       *auth.User          `json:"user"`
}
