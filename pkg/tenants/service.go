package tenants

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/database"
)

// Service defines the tenant registry
type Service interface {
	CreateTenant(ctx context.Context, req *CreateTenantRequest) (*Tenant, error)
	GetTenant(ctx context.Context, id int64) (*Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error)
	ListTenants(ctx context.Context, filter ListFilter) ([]*Tenant, int, error)
	UpdateTenant(ctx context.Context, id int64, req *UpdateTenantRequest) (*Tenant, error)

	ApproveTenant(ctx context.Context, id, approverID int64) (*Tenant, error)
	SuspendTenant(ctx context.Context, id int64, reason string) (*Tenant, error)
	ActivateTenant(ctx context.Context, id int64) (*Tenant, error)
	ToggleStatus(ctx context.Context, id int64) (*Tenant, error)
	CancelTenant(ctx context.Context, id int64, reason string) (*Tenant, error)

	CheckLimits(ctx context.Context, id int64) (LimitStatus, error)
	GetStats(ctx context.Context, id int64) (*Stats, error)

	DomainService
	InvitationService
	SettingsService
	CounterService
}

// PostgresService implements Service using PostgreSQL
type PostgresService struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresService creates a new PostgreSQL-backed tenant registry
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db, now: time.Now}
}

const tenantColumns = `id, name, slug, company_name, company_email, phone, address, primary_color,
	status, is_approved, approved_at, approved_by, current_subscription_id,
	max_users, max_teams, max_projects, max_storage_gb,
	current_users_count, current_teams_count, current_projects_count, current_storage_gb,
	allow_user_registration, require_email_verification, two_factor_auth_required,
	trial_ends_at, notes, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row rowScanner) (*Tenant, error) {
	t := &Tenant{}
	var metadataJSON []byte
	err := row.Scan(
		&t.ID, &t.Name, &t.Slug, &t.CompanyName, &t.CompanyEmail, &t.Phone, &t.Address, &t.PrimaryColor,
		&t.Status, &t.IsApproved, &t.ApprovedAt, &t.ApprovedBy, &t.CurrentSubscriptionID,
		&t.MaxUsers, &t.MaxTeams, &t.MaxProjects, &t.MaxStorageGB,
		&t.CurrentUsersCount, &t.CurrentTeamsCount, &t.CurrentProjectsCount, &t.CurrentStorageGB,
		&t.AllowUserRegistration, &t.RequireEmailVerify, &t.TwoFactorRequired,
		&t.TrialEndsAt, &t.Notes, &metadataJSON, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tenant metadata: %w", err)
		}
	}
	return t, nil
}

// CreateTenant registers a new tenant in PENDING status
func (s *PostgresService) CreateTenant(ctx context.Context, req *CreateTenantRequest) (*Tenant, error) {
	return CreateTenantTx(ctx, s.db, req, nil)
}

// CreateTenantTx registers a new tenant using the caller's transaction. An
// explicit slug must be free; a slug derived from the name gets a numeric
// suffix until it is unique. Ceilings default to the column defaults when nil.
func CreateTenantTx(ctx context.Context, q database.DBTX, req *CreateTenantRequest, ceilings *Ceilings) (*Tenant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("tenant name is required")
	}
	if strings.TrimSpace(req.CompanyEmail) == "" {
		return nil, apperr.Validation("company email is required")
	}

	slug := GenerateSlug(req.Slug)
	if req.Slug != "" && slug != req.Slug {
		return nil, apperr.Validation("slug may only contain lowercase letters, digits and dashes")
	}
	if slug == "" {
		base := GenerateSlug(name)
		if base == "" {
			return nil, apperr.Validation("cannot derive a slug from name %q", name)
		}
		var err error
		slug, err = uniqueSlugTx(ctx, q, base)
		if err != nil {
			return nil, err
		}
	}

	columns := `name, slug, company_name, company_email, phone, address`
	values := `$1, $2, $3, $4, $5, $6`
	args := []interface{}{name, slug, req.CompanyName, req.CompanyEmail, req.Phone, req.Address}
	if ceilings != nil {
		columns += `, max_users, max_teams, max_projects, max_storage_gb`
		values += `, $7, $8, $9, $10`
		args = append(args, ceilings.MaxUsers, ceilings.MaxTeams, ceilings.MaxProjects, ceilings.MaxStorageGB)
	}

	query := `INSERT INTO tenants (` + columns + `) VALUES (` + values + `) RETURNING ` + tenantColumns
	tenant, err := scanTenant(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, apperr.ConflictOnUnique(err, "create tenant", fmt.Sprintf("slug %q is already registered", slug))
	}
	return tenant, nil
}

// GetTenant retrieves a tenant by ID
func (s *PostgresService) GetTenant(ctx context.Context, id int64) (*Tenant, error) {
	return GetTenantTx(ctx, s.db, id)
}

// GetTenantTx retrieves a tenant by ID using the caller's transaction
func GetTenantTx(ctx context.Context, q database.DBTX, id int64) (*Tenant, error) {
	tenant, err := scanTenant(q.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("tenant", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return tenant, nil
}

// LockTenantTx retrieves a tenant and locks its row until the transaction ends
func LockTenantTx(ctx context.Context, q database.DBTX, id int64) (*Tenant, error) {
	tenant, err := scanTenant(q.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("tenant", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock tenant: %w", err)
	}
	return tenant, nil
}

// GetTenantBySlug retrieves a tenant by slug
func (s *PostgresService) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	tenant, err := scanTenant(s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("tenant", slug)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return tenant, nil
}

// ListTenants lists tenants matching filter, newest first, with the total
// number of matches
func (s *PostgresService) ListTenants(ctx context.Context, filter ListFilter) ([]*Tenant, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filter.Status)
		argCount++
	}
	if filter.Search != "" {
		where += fmt.Sprintf(" AND (name ILIKE $%d OR slug ILIKE $%d OR company_email ILIKE $%d)", argCount, argCount, argCount)
		args = append(args, "%"+filter.Search+"%")
		argCount++
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tenants`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tenants: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + tenantColumns + ` FROM tenants` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var result []*Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan tenant: %w", err)
		}
		result = append(result, tenant)
	}
	return result, total, rows.Err()
}

// UpdateTenant applies a partial profile update
func (s *PostgresService) UpdateTenant(ctx context.Context, id int64, req *UpdateTenantRequest) (*Tenant, error) {
	sets := []string{}
	args := []interface{}{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, apperr.Validation("tenant name cannot be empty")
		}
		add("name", strings.TrimSpace(*req.Name))
	}
	if req.CompanyName != nil {
		add("company_name", *req.CompanyName)
	}
	if req.CompanyEmail != nil {
		add("company_email", *req.CompanyEmail)
	}
	if req.Phone != nil {
		add("phone", *req.Phone)
	}
	if req.Address != nil {
		add("address", *req.Address)
	}
	if req.PrimaryColor != nil {
		add("primary_color", *req.PrimaryColor)
	}
	if req.AllowUserRegistration != nil {
		add("allow_user_registration", *req.AllowUserRegistration)
	}
	if req.RequireEmailVerify != nil {
		add("require_email_verification", *req.RequireEmailVerify)
	}
	if req.TwoFactorRequired != nil {
		add("two_factor_auth_required", *req.TwoFactorRequired)
	}

	if len(sets) == 0 {
		return s.GetTenant(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE tenants SET %s, updated_at = NOW() WHERE id = $%d RETURNING `+tenantColumns,
		strings.Join(sets, ", "), len(args))
	tenant, err := scanTenant(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("tenant", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}
	return tenant, nil
}

// ApproveTenant approves a tenant and makes it ACTIVE. Approving an already
// approved, active tenant returns it unchanged.
func (s *PostgresService) ApproveTenant(ctx context.Context, id, approverID int64) (*Tenant, error) {
	var tenant *Tenant
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		tenant, _, err = ApproveTenantTx(ctx, tx, id, &approverID, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// ApproveTenantTx approves a tenant inside the caller's transaction. The
// boolean reports whether anything changed. approverID is nil when the
// approval comes from a gateway confirmation.
func ApproveTenantTx(ctx context.Context, q database.DBTX, id int64, approverID *int64, now time.Time) (*Tenant, bool, error) {
	tenant, err := LockTenantTx(ctx, q, id)
	if err != nil {
		return nil, false, err
	}
	return ApproveLockedTx(ctx, q, tenant, approverID, now)
}

// ApproveLockedTx approves a tenant row the caller already holds a lock on
func ApproveLockedTx(ctx context.Context, q database.DBTX, tenant *Tenant, approverID *int64, now time.Time) (*Tenant, bool, error) {
	next, err := Transitions.Next(tenant.Status, EventApprove)
	if err != nil {
		return nil, false, err
	}
	if tenant.Status == next && tenant.IsApproved {
		return tenant, false, nil
	}

	query := `
		UPDATE tenants
		SET status = $1, is_approved = true, approved_at = $2, approved_by = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING ` + tenantColumns
	updated, err := scanTenant(q.QueryRowContext(ctx, query, next, now, database.NullInt64(approverID), tenant.ID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to approve tenant: %w", err)
	}
	return updated, true, nil
}

// SuspendTenant suspends an ACTIVE tenant and records the reason in its
// notes. A reason is mandatory.
func (s *PostgresService) SuspendTenant(ctx context.Context, id int64, reason string) (*Tenant, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.MissingReason("a suspension reason is required")
	}
	return s.transition(ctx, id, EventSuspend, "Suspended: "+reason)
}

// ActivateTenant reactivates a SUSPENDED tenant
func (s *PostgresService) ActivateTenant(ctx context.Context, id int64) (*Tenant, error) {
	return s.transition(ctx, id, EventActivate, "")
}

// ToggleStatus flips a tenant between ACTIVE and SUSPENDED
func (s *PostgresService) ToggleStatus(ctx context.Context, id int64) (*Tenant, error) {
	return s.transition(ctx, id, EventToggle, "")
}

// CancelTenant moves a tenant to CANCELLED. This is an administrative
// override available from every non-terminal status.
func (s *PostgresService) CancelTenant(ctx context.Context, id int64, reason string) (*Tenant, error) {
	note := ""
	if reason = strings.TrimSpace(reason); reason != "" {
		note = "Cancelled: " + reason
	}
	return s.transition(ctx, id, EventCancel, note)
}

// transition locks the tenant, applies event through the transition table
// and optionally appends note to the tenant's notes
func (s *PostgresService) transition(ctx context.Context, id int64, event Event, note string) (*Tenant, error) {
	var tenant *Tenant
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := LockTenantTx(ctx, tx, id)
		if err != nil {
			return err
		}

		next, err := Transitions.Next(current.Status, event)
		if err != nil {
			return err
		}

		query := `
			UPDATE tenants SET status = $1, notes = $2, updated_at = NOW()
			WHERE id = $3
			RETURNING ` + tenantColumns
		tenant, err = scanTenant(tx.QueryRowContext(ctx, query, next, appendNote(current.Notes, note), id))
		if err != nil {
			return fmt.Errorf("failed to %s tenant: %w", event, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// appendNote adds note as a new paragraph of notes
func appendNote(notes, note string) string {
	if note == "" {
		return notes
	}
	if notes == "" {
		return note
	}
	return notes + "\n\n" + note
}

// CheckLimits reports which ceilings the tenant has reached. Pure read.
func (s *PostgresService) CheckLimits(ctx context.Context, id int64) (LimitStatus, error) {
	tenant, err := s.GetTenant(ctx, id)
	if err != nil {
		return LimitStatus{}, err
	}
	return tenant.LimitStatus(), nil
}

// GetStats summarizes the tenant's usage
func (s *PostgresService) GetStats(ctx context.Context, id int64) (*Stats, error) {
	tenant, err := s.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TenantID:      tenant.ID,
		Status:        tenant.Status,
		UsersCount:    tenant.CurrentUsersCount,
		TeamsCount:    tenant.CurrentTeamsCount,
		ProjectsCount: tenant.CurrentProjectsCount,
		StorageUsedGB: tenant.CurrentStorageGB,
		Ceilings:      tenant.Ceilings(),
		Limits:        tenant.LimitStatus(),
	}
	now := s.now()
	stats.IsTrial = tenant.IsTrial(now)
	stats.TrialDaysLeft = tenant.TrialDaysRemaining(now)

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE tenant_id = $1 AND status NOT IN ('COMPLETED', 'CANCELLED')
	`, id).Scan(&stats.OpenTasksCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count open tasks: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM teams WHERE tenant_id = $1`, id).
		Scan(&stats.ActiveTeamsCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count teams: %w", err)
	}

	return stats, nil
}
