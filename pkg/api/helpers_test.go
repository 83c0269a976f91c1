package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/billing"
	"github.com/platinummonkey/tenancy/pkg/middleware"
	"github.com/platinummonkey/tenancy/pkg/notify"
	"github.com/platinummonkey/tenancy/pkg/onboarding"
	"github.com/platinummonkey/tenancy/pkg/plans"
	"github.com/platinummonkey/tenancy/pkg/tasks"
	"github.com/platinummonkey/tenancy/pkg/teams"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

const testBaseDomain = "example.com"

func int64Ptr(v int64) *int64 { return &v }

func superAdmin1() *auth.User {
	return &auth.User{ID: 1, Email: "ops@example.com", Role: auth.RoleSuperAdmin, IsActive: true}
}

func tenantUser(id, tenantID int64, role auth.Role) *auth.User {
	return &auth.User{ID: id, Email: "user@acme.test", Role: role, TenantID: int64Ptr(tenantID), IsActive: true}
}

// activeTenant returns an approved tenant with room under every ceiling
func activeTenant(id int64) *tenants.Tenant {
	return &tenants.Tenant{
		ID:           id,
		Name:         "Acme",
		Slug:         "acme",
		CompanyEmail: "billing@acme.test",
		Status:       tenants.StatusActive,
		IsApproved:   true,
		MaxUsers:     10,
		MaxTeams:     5,
		MaxProjects:  20,
	}
}

// mockTenantService serves tenants from an in-memory map unless a func field
// overrides the call
type mockTenantService struct {
	tenants.Service

	mu   sync.Mutex
	byID map[int64]*tenants.Tenant

	listTenantsFunc       func(filter tenants.ListFilter) ([]*tenants.Tenant, int, error)
	approveTenantFunc     func(id, approverID int64) (*tenants.Tenant, error)
	suspendTenantFunc     func(id int64, reason string) (*tenants.Tenant, error)
	activateTenantFunc    func(id int64) (*tenants.Tenant, error)
	cancelTenantFunc      func(id int64, reason string) (*tenants.Tenant, error)
	updateTenantFunc      func(id int64, req *tenants.UpdateTenantRequest) (*tenants.Tenant, error)
	checkLimitsFunc       func(id int64) (tenants.LimitStatus, error)
	listDomainsFunc       func(tenantID int64) ([]*tenants.Domain, error)
	addDomainFunc         func(tenantID int64, domain string, typ tenants.DomainType) (*tenants.Domain, error)
	removeDomainFunc      func(tenantID, domainID int64) error
	createInvitationFunc  func(tenantID int64, req *tenants.CreateInvitationRequest) (*tenants.Invitation, error)
	listInvitationsFunc   func(tenantID int64, status tenants.InvitationStatus) ([]*tenants.Invitation, error)
	updateSettingsFunc    func(tenantID int64, req *tenants.UpdateSettingsRequest) (*tenants.Settings, error)
	getSettingsFunc       func(tenantID int64) (*tenants.Settings, error)
	resolveHostFunc       func(host string) (*tenants.Tenant, error)
}

func newMockTenantService(list ...*tenants.Tenant) *mockTenantService {
	m := &mockTenantService{byID: make(map[int64]*tenants.Tenant)}
	for _, t := range list {
		m.byID[t.ID] = t
	}
	return m
}

func (m *mockTenantService) put(t *tenants.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[t.ID] = t
}

func (m *mockTenantService) GetTenant(ctx context.Context, id int64) (*tenants.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("tenant", id)
	}
	cp := *t
	return &cp, nil
}

func (m *mockTenantService) ResolveHost(ctx context.Context, host, baseDomain string) (*tenants.Tenant, error) {
	if m.resolveHostFunc != nil {
		return m.resolveHostFunc(host)
	}
	return nil, apperr.NotFound("tenant for host", host)
}

func (m *mockTenantService) ListTenants(ctx context.Context, filter tenants.ListFilter) ([]*tenants.Tenant, int, error) {
	return m.listTenantsFunc(filter)
}

// applied stores the result of a lifecycle call so later reads see it
func (m *mockTenantService) applied(t *tenants.Tenant, err error) (*tenants.Tenant, error) {
	if err == nil {
		m.put(t)
	}
	return t, err
}

func (m *mockTenantService) ApproveTenant(ctx context.Context, id, approverID int64) (*tenants.Tenant, error) {
	return m.applied(m.approveTenantFunc(id, approverID))
}

func (m *mockTenantService) SuspendTenant(ctx context.Context, id int64, reason string) (*tenants.Tenant, error) {
	return m.applied(m.suspendTenantFunc(id, reason))
}

func (m *mockTenantService) ActivateTenant(ctx context.Context, id int64) (*tenants.Tenant, error) {
	return m.applied(m.activateTenantFunc(id))
}

func (m *mockTenantService) CancelTenant(ctx context.Context, id int64, reason string) (*tenants.Tenant, error) {
	return m.applied(m.cancelTenantFunc(id, reason))
}

func (m *mockTenantService) UpdateTenant(ctx context.Context, id int64, req *tenants.UpdateTenantRequest) (*tenants.Tenant, error) {
	return m.applied(m.updateTenantFunc(id, req))
}

func (m *mockTenantService) CheckLimits(ctx context.Context, id int64) (tenants.LimitStatus, error) {
	return m.checkLimitsFunc(id)
}

func (m *mockTenantService) ListDomains(ctx context.Context, tenantID int64) ([]*tenants.Domain, error) {
	return m.listDomainsFunc(tenantID)
}

func (m *mockTenantService) AddDomain(ctx context.Context, tenantID int64, domain string, typ tenants.DomainType) (*tenants.Domain, error) {
	return m.addDomainFunc(tenantID, domain, typ)
}

func (m *mockTenantService) RemoveDomain(ctx context.Context, tenantID, domainID int64) error {
	return m.removeDomainFunc(tenantID, domainID)
}

func (m *mockTenantService) CreateInvitation(ctx context.Context, tenantID int64, req *tenants.CreateInvitationRequest) (*tenants.Invitation, error) {
	return m.createInvitationFunc(tenantID, req)
}

func (m *mockTenantService) ListInvitations(ctx context.Context, tenantID int64, status tenants.InvitationStatus) ([]*tenants.Invitation, error) {
	return m.listInvitationsFunc(tenantID, status)
}

func (m *mockTenantService) GetSettings(ctx context.Context, tenantID int64) (*tenants.Settings, error) {
	return m.getSettingsFunc(tenantID)
}

func (m *mockTenantService) UpdateSettings(ctx context.Context, tenantID int64, req *tenants.UpdateSettingsRequest) (*tenants.Settings, error) {
	return m.updateSettingsFunc(tenantID, req)
}

type mockOnboarding struct {
	signupFunc func(req *onboarding.SignupRequest) (*onboarding.SignupResult, error)
	acceptFunc func(req *onboarding.AcceptInvitationRequest) (*onboarding.AcceptInvitationResult, error)
}

func (m *mockOnboarding) Signup(ctx context.Context, req *onboarding.SignupRequest) (*onboarding.SignupResult, error) {
	return m.signupFunc(req)
}

func (m *mockOnboarding) AcceptInvitation(ctx context.Context, req *onboarding.AcceptInvitationRequest) (*onboarding.AcceptInvitationResult, error) {
	return m.acceptFunc(req)
}

type mockUserStore struct {
	auth.UserStore

	authenticateFunc    func(email, password string) (*auth.User, error)
	getUserFunc         func(id int64) (*auth.User, error)
	listTenantUsersFunc func(tenantID int64) ([]*auth.User, error)
	deactivateUserFunc  func(id int64) error
}

func (m *mockUserStore) ListTenantUsers(ctx context.Context, tenantID int64) ([]*auth.User, error) {
	return m.listTenantUsersFunc(tenantID)
}

func (m *mockUserStore) DeactivateUser(ctx context.Context, id int64) error {
	return m.deactivateUserFunc(id)
}

func (m *mockUserStore) Authenticate(ctx context.Context, email, password string) (*auth.User, error) {
	return m.authenticateFunc(email, password)
}

func (m *mockUserStore) GetUser(ctx context.Context, id int64) (*auth.User, error) {
	return m.getUserFunc(id)
}

type mockPlanService struct {
	plans.Service

	listPlansFunc  func(activeOnly bool) ([]*plans.Plan, error)
	getPlanFunc    func(id int64) (*plans.Plan, error)
	createPlanFunc func(req *plans.CreatePlanRequest) (*plans.Plan, error)
	updatePlanFunc func(id int64, req *plans.UpdatePlanRequest) (*plans.Plan, error)
	getCalls       int
}

func (m *mockPlanService) ListPlans(ctx context.Context, activeOnly bool) ([]*plans.Plan, error) {
	return m.listPlansFunc(activeOnly)
}

func (m *mockPlanService) GetPlan(ctx context.Context, id int64) (*plans.Plan, error) {
	m.getCalls++
	return m.getPlanFunc(id)
}

func (m *mockPlanService) CreatePlan(ctx context.Context, req *plans.CreatePlanRequest) (*plans.Plan, error) {
	return m.createPlanFunc(req)
}

func (m *mockPlanService) UpdatePlan(ctx context.Context, id int64, req *plans.UpdatePlanRequest) (*plans.Plan, error) {
	return m.updatePlanFunc(id, req)
}

type mockBillingService struct {
	billing.Service

	getSubscriptionFunc    func(id int64) (*billing.Subscription, error)
	createSubscriptionFunc func(req *billing.CreateSubscriptionRequest) (*billing.Subscription, error)
	cancelSubscriptionFunc func(id int64, immediately bool) (*billing.Subscription, error)
	getPaymentFunc         func(id int64) (*billing.Payment, error)
	listPaymentsFunc       func(filter billing.PaymentFilter) ([]*billing.Payment, error)
	attachProofFunc        func(paymentID int64, filename string, content []byte) (*billing.Payment, error)
	approvePaymentFunc     func(paymentID, reviewerID int64, notes string) (*billing.ApprovalResult, error)
	rejectPaymentFunc      func(paymentID, reviewerID int64, notes string) (*billing.Payment, error)
	listInvoicesFunc       func(filter billing.InvoiceFilter) ([]*billing.Invoice, error)
	getDashboardFunc       func(tenantID int64) (*billing.Dashboard, error)
	exportFunc             func(tenantID *int64, w io.Writer) error
	handleEventFunc        func(payload []byte, signature string) error
}

func (m *mockBillingService) GetSubscription(ctx context.Context, id int64) (*billing.Subscription, error) {
	return m.getSubscriptionFunc(id)
}

func (m *mockBillingService) CreateSubscription(ctx context.Context, req *billing.CreateSubscriptionRequest) (*billing.Subscription, error) {
	return m.createSubscriptionFunc(req)
}

func (m *mockBillingService) CancelSubscription(ctx context.Context, id int64, immediately bool) (*billing.Subscription, error) {
	return m.cancelSubscriptionFunc(id, immediately)
}

func (m *mockBillingService) GetPayment(ctx context.Context, id int64) (*billing.Payment, error) {
	return m.getPaymentFunc(id)
}

func (m *mockBillingService) ListPayments(ctx context.Context, filter billing.PaymentFilter) ([]*billing.Payment, error) {
	return m.listPaymentsFunc(filter)
}

func (m *mockBillingService) AttachProof(ctx context.Context, paymentID int64, filename string, content io.Reader) (*billing.Payment, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	return m.attachProofFunc(paymentID, filename, data)
}

func (m *mockBillingService) ApprovePayment(ctx context.Context, paymentID, reviewerID int64, notes string) (*billing.ApprovalResult, error) {
	return m.approvePaymentFunc(paymentID, reviewerID, notes)
}

func (m *mockBillingService) RejectPayment(ctx context.Context, paymentID, reviewerID int64, notes string) (*billing.Payment, error) {
	return m.rejectPaymentFunc(paymentID, reviewerID, notes)
}

func (m *mockBillingService) ListInvoices(ctx context.Context, filter billing.InvoiceFilter) ([]*billing.Invoice, error) {
	return m.listInvoicesFunc(filter)
}

func (m *mockBillingService) GetDashboard(ctx context.Context, tenantID int64) (*billing.Dashboard, error) {
	return m.getDashboardFunc(tenantID)
}

func (m *mockBillingService) Export(ctx context.Context, tenantID *int64, w io.Writer) error {
	return m.exportFunc(tenantID, w)
}

func (m *mockBillingService) HandleGatewayEvent(ctx context.Context, payload []byte, signature string) error {
	return m.handleEventFunc(payload, signature)
}

type mockTeamService struct {
	teams.Service

	createTeamFunc   func(tenantID int64, req *teams.CreateTeamRequest, ownerID *int64, bypassLimits bool) (*teams.Team, error)
	listTeamsFunc    func(tenantID int64) ([]*teams.Team, error)
	deleteTeamFunc   func(tenantID, id int64) error
	addMemberFunc    func(tenantID, teamID int64, req *teams.AddMemberRequest, invitedBy *int64) (*teams.Member, error)
	removeMemberFunc func(tenantID, teamID, userID int64) error
}

func (m *mockTeamService) CreateTeam(ctx context.Context, tenantID int64, req *teams.CreateTeamRequest, ownerID *int64, bypassLimits bool) (*teams.Team, error) {
	return m.createTeamFunc(tenantID, req, ownerID, bypassLimits)
}

func (m *mockTeamService) ListTeams(ctx context.Context, tenantID int64) ([]*teams.Team, error) {
	return m.listTeamsFunc(tenantID)
}

func (m *mockTeamService) DeleteTeam(ctx context.Context, tenantID, id int64) error {
	return m.deleteTeamFunc(tenantID, id)
}

func (m *mockTeamService) AddMember(ctx context.Context, tenantID, teamID int64, req *teams.AddMemberRequest, invitedBy *int64) (*teams.Member, error) {
	return m.addMemberFunc(tenantID, teamID, req, invitedBy)
}

func (m *mockTeamService) RemoveMember(ctx context.Context, tenantID, teamID, userID int64) error {
	return m.removeMemberFunc(tenantID, teamID, userID)
}

type mockTaskService struct {
	tasks.Service

	createTaskFunc   func(tenantID int64, req *tasks.CreateTaskRequest, createdBy *int64, bypassLimits bool) (*tasks.Task, error)
	listTasksFunc    func(tenantID int64, filter tasks.Filter) ([]*tasks.Task, error)
	changeStatusFunc func(tenantID, id int64, status tasks.Status) (*tasks.Task, error)
	deleteTaskFunc   func(tenantID, id int64) error
}

func (m *mockTaskService) CreateTask(ctx context.Context, tenantID int64, req *tasks.CreateTaskRequest, createdBy *int64, bypassLimits bool) (*tasks.Task, error) {
	return m.createTaskFunc(tenantID, req, createdBy, bypassLimits)
}

func (m *mockTaskService) ListTasks(ctx context.Context, tenantID int64, filter tasks.Filter) ([]*tasks.Task, error) {
	return m.listTasksFunc(tenantID, filter)
}

func (m *mockTaskService) ChangeStatus(ctx context.Context, tenantID, id int64, status tasks.Status) (*tasks.Task, error) {
	return m.changeStatusFunc(tenantID, id, status)
}

func (m *mockTaskService) DeleteTask(ctx context.Context, tenantID, id int64) error {
	return m.deleteTaskFunc(tenantID, id)
}

// memoryAuditLogger keeps audit entries in memory
type memoryAuditLogger struct {
	mu       sync.Mutex
	activity []*audit.ActivityLog
	admin    []*audit.AdminAuditLog
}

func (l *memoryAuditLogger) LogActivity(ctx context.Context, entry *audit.ActivityLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activity = append(l.activity, entry)
	return nil
}

func (l *memoryAuditLogger) LogAdminAction(ctx context.Context, entry *audit.AdminAuditLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.admin = append(l.admin, entry)
	return nil
}

func (l *memoryAuditLogger) Close() error { return nil }

func (l *memoryAuditLogger) actions() []audit.Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]audit.Action, len(l.activity))
	for i, e := range l.activity {
		out[i] = e.Action
	}
	return out
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

type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
	rejections  []string
}

func (o *recordingObserver) RecordTenantTransition(event string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, event)
}

func (o *recordingObserver) RecordLimitRejection(resource string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejections = append(o.rejections, resource)
}

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, key string) (middleware.Decision, error) {
	return middleware.Decision{Allowed: false, Limit: 1, ResetIn: time.Minute}, nil
}

// harness wires a Server to mocks
type harness struct {
	tenants    *mockTenantService
	onboarding *mockOnboarding
	users      *mockUserStore
	plans      *mockPlanService
	billing    *mockBillingService
	teams      *mockTeamService
	tasks      *mockTaskService
	audit      *memoryAuditLogger
	sender     *captureSender
	observer   *recordingObserver
	tokens     *auth.TokenManager
	logHook    *test.Hook
	deps       Deps
}

func newHarness(t *testing.T, list ...*tenants.Tenant) *harness {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	h := &harness{
		tenants:    newMockTenantService(list...),
		onboarding: &mockOnboarding{},
		users:      &mockUserStore{},
		plans:      &mockPlanService{},
		billing:    &mockBillingService{},
		teams:      &mockTeamService{},
		tasks:      &mockTaskService{},
		audit:      &memoryAuditLogger{},
		sender:     &captureSender{},
		observer:   &recordingObserver{},
		tokens:     auth.NewTokenManager(testJWTSecret, time.Hour),
		logHook:    hook,
	}
	h.deps = Deps{
		Tenants:     h.tenants,
		Plans:       h.plans,
		Billing:     h.billing,
		Onboarding:  h.onboarding,
		Teams:       h.teams,
		Tasks:       h.tasks,
		Users:       h.users,
		Tokens:      h.tokens,
		AuditLogger: h.audit,
		Recorder:    audit.NewRecorder(h.audit, log),
		Notifier:    notify.NewDispatcher(nil, h.sender, nil, log, nil),
		Observer:    h.observer,
		Resolver:    middleware.NewTenantResolver(h.tenants, nil, testBaseDomain, time.Minute, log),
		BaseDomain:  testBaseDomain,
		Logger:      log,
	}
	return h
}

func (h *harness) server() *Server {
	return NewServer(h.deps)
}

func (h *harness) token(t *testing.T, user *auth.User) string {
	t.Helper()
	token, _, err := h.tokens.IssueToken(user)
	require.NoError(t, err)
	return token
}

// do sends a JSON request through a fresh server
func (h *harness) do(t *testing.T, method, path string, body interface{}, user *auth.User, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	return h.doWith(t, h.server(), method, path, body, user, headers...)
}

// doWith sends a JSON request through srv
func (h *harness) doWith(t *testing.T, srv *Server, method, path string, body interface{}, user *auth.User, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, APIPrefix+path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		req.Header.Set("Authorization", "Bearer "+h.token(t, user))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func readEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func readData(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	env := readEnvelope(t, rec)
	require.True(t, env.Success, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dest))
}

var _ http.Handler = (*Server)(nil)
