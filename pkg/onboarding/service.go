package onboarding

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/billing"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/notify"
	"github.com/platinummonkey/tenancy/pkg/plans"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

// Observer is told about tenant lifecycle events
type Observer interface {
	RecordTenantTransition(event string)
}

// Options wires the collaborators of the onboarding service. Every field is
// optional.
type Options struct {
	Recorder   *audit.Recorder
	Notifier   *notify.Dispatcher
	Observer   Observer
	Logger     *logrus.Logger
	BaseDomain string
}

// Service registers tenants and accepts invitations
type Service struct {
	db         *sql.DB
	recorder   *audit.Recorder
	notifier   *notify.Dispatcher
	observer   Observer
	log        *logrus.Logger
	baseDomain string
	now        func() time.Time
}

// NewService creates an onboarding service
func NewService(db *sql.DB, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		db:         db,
		recorder:   opts.Recorder,
		notifier:   opts.Notifier,
		observer:   opts.Observer,
		log:        log,
		baseDomain: opts.BaseDomain,
		now:        time.Now,
	}
}

// Signup creates a PENDING tenant, its TENANT_ADMIN, default settings, the
// default subdomain, a subscription to the chosen plan and the PENDING
// payment for it. Either everything is created or nothing is.
func (s *Service) Signup(ctx context.Context, req *SignupRequest) (*SignupResult, error) {
	method := req.PaymentMethod
	if method == "" {
		method = billing.MethodManual
	}
	if !method.Valid() {
		return nil, apperr.Validation("invalid payment method: %s", method)
	}
	autoRenew := true
	if req.AutoRenew != nil {
		autoRenew = *req.AutoRenew
	}

	now := s.now()
	result := &SignupResult{}
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		plan, err := plans.GetPlanTx(ctx, tx, req.PlanID)
		if err != nil {
			return err
		}
		if !plan.IsActive {
			return apperr.Validation("plan %s is not available", plan.Slug)
		}

		ceilings := tenants.Ceilings{
			MaxUsers:     plan.MaxUsers,
			MaxTeams:     plan.MaxTeams,
			MaxProjects:  plan.MaxProjects,
			MaxStorageGB: plan.MaxStorageGB,
		}
		if result.Tenant, err = tenants.CreateTenantTx(ctx, tx, req.tenantRequest(), &ceilings); err != nil {
			return err
		}
		tenantID := result.Tenant.ID

		result.Admin, err = auth.CreateUserTx(ctx, tx, &auth.CreateUserRequest{
			Email:     req.AdminEmail,
			Password:  req.AdminPassword,
			FirstName: req.AdminFirstName,
			LastName:  req.AdminLastName,
			Role:      auth.RoleTenantAdmin,
			TenantID:  &tenantID,
		})
		if err != nil {
			return err
		}
		// The first administrator always gets a seat, whatever the plan says.
		if err := tenants.IncrementUsageTx(ctx, tx, tenantID, tenants.ResourceUsers); err != nil {
			return err
		}
		result.Tenant.CurrentUsersCount++

		if err := tenants.CreateSettingsTx(ctx, tx, tenantID); err != nil {
			return err
		}
		if s.baseDomain != "" {
			result.Domain, err = tenants.CreateDomainTx(ctx, tx, tenantID,
				tenants.DefaultSubdomain(result.Tenant.Slug, s.baseDomain), tenants.DomainSubdomain, true)
			if err != nil {
				return err
			}
		}

		if result.Subscription, err = billing.CreateSubscriptionTx(ctx, tx, tenantID, plan, autoRenew, now); err != nil {
			return err
		}
		result.Tenant.CurrentSubscriptionID = &result.Subscription.ID
		result.Tenant.TrialEndsAt = result.Subscription.TrialEnd

		result.Payment, err = billing.CreatePaymentTx(ctx, tx, result.Subscription, &billing.CreatePaymentRequest{
			SubscriptionID: result.Subscription.ID,
			Amount:         plan.Price,
			Currency:       plan.Currency,
			PaymentMethod:  method,
			TransactionID:  strings.TrimSpace(req.TransactionID),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	tenant := result.Tenant
	s.log.WithFields(logrus.Fields{
		"tenant_id":       tenant.ID,
		"slug":            tenant.Slug,
		"plan_id":         req.PlanID,
		"subscription_id": result.Subscription.ID,
		"payment_id":      result.Payment.ID,
	}).Info("Tenant signed up")

	if s.observer != nil {
		s.observer.RecordTenantTransition("signup")
	}
	s.recorder.Activity(ctx, audit.ActivityLog{
		TenantID:     &tenant.ID,
		Action:       audit.ActionCreate,
		ResourceType: audit.ResourceTenant,
		ResourceID:   strconv.FormatInt(tenant.ID, 10),
		Description:  fmt.Sprintf("New tenant created: %s", tenant.Name),
		Metadata: map[string]interface{}{
			"plan_id":        req.PlanID,
			"payment_method": method,
			"admin_user_id":  result.Admin.ID,
		},
	})
	s.notifier.Notify(ctx, notify.TemplateWelcome, result.Admin.Email, notify.Data{
		"Name":       result.Admin.FullName(),
		"TenantName": tenant.Name,
	})
	return result, nil
}

// AcceptInvitation consumes a PENDING invitation and creates the invited
// account. The account takes a seat from the tenant's user ceiling.
func (s *Service) AcceptInvitation(ctx context.Context, req *AcceptInvitationRequest) (*AcceptInvitationResult, error) {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return nil, apperr.Validation("invitation token is required")
	}

	result := &AcceptInvitationResult{}
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		inv, err := tenants.AcceptInvitationTx(ctx, tx, token, s.now())
		if err != nil {
			return err
		}
		result.Invitation = inv

		role := auth.Role(inv.Role)
		if role == "" {
			role = auth.RoleMember
		}
		if role == auth.RoleSuperAdmin {
			return apperr.Validation("invitations cannot grant role %s", role)
		}

		if err := tenants.ReserveTx(ctx, tx, inv.TenantID, tenants.ResourceUsers); err != nil {
			return err
		}
		tenantID := inv.TenantID
		result.User, err = auth.CreateUserTx(ctx, tx, &auth.CreateUserRequest{
			Email:     inv.Email,
			Password:  req.Password,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Role:      role,
			TenantID:  &tenantID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	inv, user := result.Invitation, result.User
	s.log.WithFields(logrus.Fields{
		"tenant_id":     inv.TenantID,
		"invitation_id": inv.ID,
		"user_id":       user.ID,
	}).Info("Invitation accepted")

	s.recorder.Activity(audit.WithActor(ctx, user.ID), audit.ActivityLog{
		TenantID:     &inv.TenantID,
		UserID:       &user.ID,
		Action:       audit.ActionAcceptInvite,
		ResourceType: audit.ResourceInvitation,
		ResourceID:   strconv.FormatInt(inv.ID, 10),
		Description:  fmt.Sprintf("%s joined as %s", user.Email, user.Role),
	})
	return result, nil
}
