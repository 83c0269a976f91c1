package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenancy/pkg/async"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/middleware"
	"github.com/platinummonkey/tenancy/pkg/notify"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/onboarding"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

// invalidateTimeout bounds the background host cache eviction
const invalidateTimeout = 5 * time.Second

// TenantHandlerOptions wires the optional collaborators of TenantHandlers
type TenantHandlerOptions struct {
	Recorder   *audit.Recorder
	Notifier   *notify.Dispatcher
	Observer   Observer
	Resolver   *middleware.TenantResolver
	BaseDomain string
	Logger     *logrus.Logger
}

// TenantHandlers serves signup, the tenant registry and its lifecycle
type TenantHandlers struct {
	tenants    tenants.Service
	onboarding Onboarding
	recorder   *audit.Recorder
	notifier   *notify.Dispatcher
	observer   Observer
	resolver   *middleware.TenantResolver
	baseDomain string
	log        *logrus.Logger
}

// NewTenantHandlers creates tenant handlers
func NewTenantHandlers(svc tenants.Service, ob Onboarding, opts TenantHandlerOptions) *TenantHandlers {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TenantHandlers{
		tenants:    svc,
		onboarding: ob,
		recorder:   opts.Recorder,
		notifier:   opts.Notifier,
		observer:   opts.Observer,
		resolver:   opts.Resolver,
		baseDomain: opts.BaseDomain,
		log:        log,
	}
}

// RegisterRoutes registers tenant routes. limit guards the public signup.
func (h *TenantHandlers) RegisterRoutes(router *mux.Router, limit func(http.Handler) http.Handler) {
	router.Handle("/tenants", guard(h.signup, limit)).Methods("POST")
	router.Handle("/tenants", superAdmin(h.listTenants)).Methods("GET")
	router.Handle("/tenants/{id}", authenticated(h.getTenant)).Methods("GET")
	router.Handle("/tenants/{id}", authenticated(h.updateTenant)).Methods("PUT")

	// Lifecycle
	router.Handle("/tenants/{id}/approve", superAdmin(h.approveTenant)).Methods("POST")
	router.Handle("/tenants/{id}/suspend", superAdmin(h.suspendTenant)).Methods("POST")
	router.Handle("/tenants/{id}/activate", superAdmin(h.activateTenant)).Methods("POST")
	router.Handle("/tenants/{id}/toggle-status", superAdmin(h.toggleStatus)).Methods("POST")
	router.Handle("/tenants/{id}/cancel", superAdmin(h.cancelTenant)).Methods("POST")

	// Usage
	router.Handle("/tenants/{id}/stats", authenticated(h.getStats)).Methods("GET")
	router.Handle("/tenants/{id}/limits", authenticated(h.getLimits)).Methods("GET")

	// Domains
	router.Handle("/tenants/{id}/domains", authenticated(h.listDomains)).Methods("GET")
	router.Handle("/tenants/{id}/domains", authenticated(h.addDomain)).Methods("POST")
	router.Handle("/tenants/{id}/domains/{domain_id}/verify", superAdmin(h.verifyDomain)).Methods("POST")
	router.Handle("/tenants/{id}/domains/{domain_id}", authenticated(h.removeDomain)).Methods("DELETE")

	// Settings
	router.Handle("/tenants/{id}/settings", authenticated(h.getSettings)).Methods("GET")
	router.Handle("/tenants/{id}/settings", authenticated(h.updateSettings)).Methods("PUT")

	// Invitations
	router.Handle("/tenants/{id}/invitations", authenticated(h.listInvitations)).Methods("GET")
	router.Handle("/tenants/{id}/invitations", authenticated(h.createInvitation)).Methods("POST")
	router.Handle("/tenants/{id}/invitations/{invitation_id}", authenticated(h.revokeInvitation)).Methods("DELETE")
	router.HandleFunc("/invitations/{token}/accept", h.acceptInvitation).Methods("POST")
}

// managedTenantID parses {id} and checks the caller may administer it
func (h *TenantHandlers) managedTenantID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return 0, false
	}
	if !canManage(r, id) {
		forbidden(w)
		return 0, false
	}
	return id, true
}

// signup handles POST /tenants
func (h *TenantHandlers) signup(w http.ResponseWriter, r *http.Request) {
	var req onboarding.SignupRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.onboarding.Signup(r.Context(), &req)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, "Tenant registered and pending approval", result)
}

// listTenants handles GET /tenants
func (h *TenantHandlers) listTenants(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	filter := tenants.ListFilter{
		Status: tenants.Status(httputil.ParseQueryString(r, "status", "")),
		Search: httputil.ParseQueryString(r, "search", ""),
		Limit:  limit,
		Offset: offset,
	}

	list, total, err := h.tenants.ListTenants(r.Context(), filter)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", map[string]interface{}{
		"tenants": list,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// getTenant handles GET /tenants/{id}
func (h *TenantHandlers) getTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := h.managedTenantID(w, r)
	if !ok {
		return
	}
	tenant, err := h.tenants.GetTenant(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", tenant)
}

// updateTenant handles PUT /tenants/{id}
func (h *TenantHandlers) updateTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := h.managedTenantID(w, r)
	if !ok {
		return
	}
	var req tenants.UpdateTenantRequest
	if !decode(w, r, &req) {
		return
	}

	before, err := h.tenants.GetTenant(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	tenant, err := h.tenants.UpdateTenant(r.Context(), id, &req)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	h.recorder.Activity(r.Context(), audit.ActivityLog{
		TenantID:     &id,
		Action:       audit.ActionUpdate,
		ResourceType: audit.ResourceTenant,
		ResourceID:   strconv.FormatInt(id, 10),
		Description:  "Tenant profile updated",
	})
	h.recordAdmin(r, "UPDATE_TENANT", id, before, tenant, "")
	httputil.WriteOK(w, "Tenant updated", tenant)
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// approveTenant handles POST /tenants/{id}/approve
func (h *TenantHandlers) approveTenant(w http.ResponseWriter, r *http.Request) {
	approver := caller(r).UserID
	h.transition(w, r, "approve", audit.ActionApprove, "", func(ctx context.Context, id int64) (*tenants.Tenant, error) {
		return h.tenants.ApproveTenant(ctx, id, approver)
	})
}

// suspendTenant handles POST /tenants/{id}/suspend
func (h *TenantHandlers) suspendTenant(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	h.transition(w, r, "suspend", audit.ActionSuspend, req.Reason, func(ctx context.Context, id int64) (*tenants.Tenant, error) {
		return h.tenants.SuspendTenant(ctx, id, req.Reason)
	})
}

// activateTenant handles POST /tenants/{id}/activate
func (h *TenantHandlers) activateTenant(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "activate", audit.ActionActivate, "", h.tenants.ActivateTenant)
}

// toggleStatus handles POST /tenants/{id}/toggle-status
func (h *TenantHandlers) toggleStatus(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "toggle", audit.ActionUpdate, "", h.tenants.ToggleStatus)
}

// cancelTenant handles POST /tenants/{id}/cancel
func (h *TenantHandlers) cancelTenant(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	h.transition(w, r, "cancel", audit.ActionUpdate, req.Reason, func(ctx context.Context, id int64) (*tenants.Tenant, error) {
		return h.tenants.CancelTenant(ctx, id, req.Reason)
	})
}

// transition applies a lifecycle change and runs its side effects: audit
// entries, the transition metric and the tenant email
func (h *TenantHandlers) transition(w http.ResponseWriter, r *http.Request, event string, action audit.Action, reason string,
	apply func(ctx context.Context, id int64) (*tenants.Tenant, error)) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()

	before, err := h.tenants.GetTenant(ctx, id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	tenant, err := apply(ctx, id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	changed := before.Status != tenant.Status || before.IsApproved != tenant.IsApproved
	if changed {
		h.recorder.Activity(ctx, audit.ActivityLog{
			TenantID:     &id,
			Action:       action,
			ResourceType: audit.ResourceTenant,
			ResourceID:   strconv.FormatInt(id, 10),
			Description:  "Tenant " + string(before.Status) + " -> " + string(tenant.Status),
			Metadata:     map[string]interface{}{"event": event, "reason": reason},
		})
		h.recordAdmin(r, "TENANT_"+string(tenant.Status), id, before, tenant, reason)
		if h.observer != nil {
			h.observer.RecordTenantTransition(event)
		}
		h.notifyTransition(ctx, tenant, reason)
	}

	observability.EntryFromContext(ctx, h.log).WithFields(logrus.Fields{
		"tenant_id": id,
		"event":     event,
		"status":    tenant.Status,
		"changed":   changed,
	}).Info("Tenant transition applied")
	httputil.WriteOK(w, "Tenant "+event+" applied", tenant)
}

func (h *TenantHandlers) notifyTransition(ctx context.Context, tenant *tenants.Tenant, reason string) {
	switch tenant.Status {
	case tenants.StatusActive:
		data := notify.Data{"TenantName": tenant.Name}
		if h.baseDomain != "" {
			data["URL"] = "https://" + tenants.DefaultSubdomain(tenant.Slug, h.baseDomain)
		}
		h.notifier.Notify(ctx, notify.TemplateTenantApproved, tenant.CompanyEmail, data)
	case tenants.StatusSuspended:
		h.notifier.Notify(ctx, notify.TemplateTenantSuspended, tenant.CompanyEmail, notify.Data{
			"TenantName": tenant.Name,
			"Reason":     reason,
		})
	}
}

func (h *TenantHandlers) recordAdmin(r *http.Request, action string, tenantID int64, before, after interface{}, notes string) {
	h.recorder.Admin(r.Context(), audit.AdminAuditLog{
		AdminUserID: caller(r).ActorID(),
		Action:      action,
		TargetModel: audit.ResourceTenant,
		TargetID:    strconv.FormatInt(tenantID, 10),
		OldValues:   audit.Snapshot(before),
		NewValues:   audit.Snapshot(after),
		Notes:       notes,
		IPAddress:   audit.ClientIP(r),
	})
}

// getStats handles GET /tenants/{id}/stats
func (h *TenantHandlers) getStats(w http.ResponseWriter, r *http.Request) {
	id, ok := h.managedTenantID(w, r)
	if !ok {
		return
	}
	stats, err := h.tenants.GetStats(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", stats)
}

// getLimits handles GET /tenants/{id}/limits
func (h *TenantHandlers) getLimits(w http.ResponseWriter, r *http.Request) {
	id, ok := h.managedTenantID(w, r)
	if !ok {
		return
	}
	limits, err := h.tenants.CheckLimits(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", limits)
}

// listDomains handles GET /tenants/{id}/domains
func (h *TenantHandlers) listDomains(w http.ResponseWriter, r *http.Request) {
	id, ok := h.managedTenantID(w, r)
	if !ok {
		return
	}
	domains, err := h.tenants.ListDomains(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", domains)
}

type addDomainRequest struct {
	Domain string             `json:"domain" validate:"required,fqdn"`
	Type   tenants.DomainType `json:"type" validate:"omitempty,oneof=PRIMARY SUBDOMAIN CUSTOM"`
}

// addDomain handles POST /tenants/{id}/domains
func (h *TenantHandlers) addDomain(w http.ResponseWriter, r *http.Request) {
	id, ok := h.managedTenantID(w, r)
	if !ok {
		return
	}
	var req addDomainRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = tenants.DomainCustom
	}

	domain, err := h.tenants.AddDomain(r.Context(), id, req.Domain, req.Type)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	h.recorder.Activity(r.Context(), audit.ActivityLog{
		TenantID:     &id,
		Action:       audit.ActionCreate,
		ResourceType: audit.ResourceDomain,
		ResourceID:   strconv.FormatInt(domain.ID, 10),
		Description:  "Domain " + domain.Domain + " added",
	})
	httputil.WriteCreated(w, "Domain added", domain)
}

// verifyDomain handles POST /tenants/{id}/domains/{domain_id}/verify
func (h *TenantHandlers) verifyDomain(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	domainID, ok := httputil.ParsePathInt64OrError(w, r, "domain_id")
	if !ok {
		return
	}

	domain, err := h.tenants.VerifyDomain(r.Context(), id, domainID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	h.recordAdmin(r, "VERIFY_DOMAIN", id, nil, domain, domain.Domain)
	httputil.WriteOK(w, "Domain verified", domain)
}

// removeDomain handles DELETE /tenants/{id}/domains/{domain_id}
func (h *TenantHandlers) removeDomain(w http.ResponseWriter, r *http.Request) {
	id, ok := h.managedTenantID(w, r)
	if !ok {
		return
	}
	domainID, ok := httputil.ParsePathInt64OrError(w, r, "domain_id")
	if !ok {
		return
	}
	ctx := r.Context()

	var host string
	if domains, err := h.tenants.ListDomains(ctx, id); err == nil {
		for _, d := range domains {
			if d.ID == domainID {
				host = d.Domain
			}
		}
	}

	if err := h.tenants.RemoveDomain(ctx, id, domainID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if host != "" && h.resolver != nil {
		normalized := tenants.NormalizeHost(host)
		async.SafeGo(ctx, h.log, invalidateTimeout, "host cache invalidation", func(ctx context.Context) error {
			h.resolver.Invalidate(ctx, normalized)
			return nil
		})
	}
	h.recorder.Activity(ctx, audit.ActivityLog{
		TenantID:     &id,
		Action:       audit.ActionDelete,
		ResourceType: audit.ResourceDomain,
		ResourceID:   strconv.FormatInt(domainID, 10),
		Description:  "Domain " + host + " removed",
	})
	httputil.WriteNoContent(w)
}

// getSettings handles GET /tenants/{id}/settings
func (h *TenantHandlers) getSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := h.managedTenantID(w, r)
	if !ok {
		return
	}
	settings, err := h.tenants.GetSettings(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", settings)
}

// updateSettings handles PUT /tenants/{id}/settings
func (h *TenantHandlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := h.managedTenantID(w, r)
	if !ok {
		return
	}
	var req tenants.UpdateSettingsRequest
	if !decode(w, r, &req) {
		return
	}

	settings, err := h.tenants.UpdateSettings(r.Context(), id, &req)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	h.recorder.Activity(r.Context(), audit.ActivityLog{
		TenantID:     &id,
		Action:       audit.ActionUpdate,
		ResourceType: audit.ResourceSettings,
		ResourceID:   strconv.FormatInt(id, 10),
		Description:  "Tenant settings updated",
	})
	httputil.WriteOK(w, "Settings updated", settings)
}

// listInvitations handles GET /tenants/{id}/invitations
func (h *TenantHandlers) listInvitations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.managedTenantID(w, r)
	if !ok {
		return
	}
	status := tenants.InvitationStatus(httputil.ParseQueryString(r, "status", ""))

	invitations, err := h.tenants.ListInvitations(r.Context(), id, status)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	for _, inv := range invitations {
		inv.Token = ""
	}
	httputil.WriteOK(w, "", invitations)
}

// createInvitation handles POST /tenants/{id}/invitations
func (h *TenantHandlers) createInvitation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.managedTenantID(w, r)
	if !ok {
		return
	}
	var req tenants.CreateInvitationRequest
	if !decode(w, r, &req) {
		return
	}
	req.InvitedBy = caller(r).ActorID()
	ctx := r.Context()

	invitation, err := h.tenants.CreateInvitation(ctx, id, &req)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	h.recorder.Activity(ctx, audit.ActivityLog{
		TenantID:     &id,
		Action:       audit.ActionInvite,
		ResourceType: audit.ResourceInvitation,
		ResourceID:   strconv.FormatInt(invitation.ID, 10),
		Description:  "Invited " + invitation.Email + " as " + invitation.Role,
	})

	tenantName := ""
	if tenant, err := h.tenants.GetTenant(ctx, id); err == nil {
		tenantName = tenant.Name
	}
	h.notifier.Notify(ctx, notify.TemplateInvitation, invitation.Email, notify.Data{
		"TenantName": tenantName,
		"Role":       invitation.Role,
		"Token":      invitation.Token,
		"ExpiresAt":  invitation.ExpiresAt.Format("2006-01-02"),
	})
	httputil.WriteCreated(w, "Invitation sent", invitation)
}

// revokeInvitation handles DELETE /tenants/{id}/invitations/{invitation_id}
func (h *TenantHandlers) revokeInvitation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.managedTenantID(w, r)
	if !ok {
		return
	}
	invitationID, ok := httputil.ParsePathInt64OrError(w, r, "invitation_id")
	if !ok {
		return
	}

	invitation, err := h.tenants.RevokeInvitation(r.Context(), id, invitationID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	invitation.Token = ""
	h.recorder.Activity(r.Context(), audit.ActivityLog{
		TenantID:     &id,
		Action:       audit.ActionDelete,
		ResourceType: audit.ResourceInvitation,
		ResourceID:   strconv.FormatInt(invitationID, 10),
		Description:  "Invitation for " + invitation.Email + " revoked",
	})
	httputil.WriteOK(w, "Invitation revoked", invitation)
}

// acceptInvitation handles POST /invitations/{token}/accept
func (h *TenantHandlers) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req onboarding.AcceptInvitationRequest
	if !decode(w, r, &req) {
		return
	}
	req.Token = mux.Vars(r)["token"]

	result, err := h.onboarding.AcceptInvitation(r.Context(), &req)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	result.Invitation.Token = ""
	httputil.WriteCreated(w, "Invitation accepted", result)
}
