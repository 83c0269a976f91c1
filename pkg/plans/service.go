package plans

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/database"
)

// Service defines the plan catalog
type Service interface {
	CreatePlan(ctx context.Context, req *CreatePlanRequest) (*Plan, error)
	GetPlan(ctx context.Context, id int64) (*Plan, error)
	GetPlanBySlug(ctx context.Context, slug string) (*Plan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]*Plan, error)
	UpdatePlan(ctx context.Context, id int64, req *UpdatePlanRequest) (*Plan, error)
	UpsertPlan(ctx context.Context, req *CreatePlanRequest) (*Plan, error)
}

// PostgresService implements Service using PostgreSQL
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgreSQL-backed plan catalog
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

const planColumns = `id, name, slug, description, price, currency, billing_interval,
	max_users, max_teams, max_projects, max_storage_gb,
	api_access, advanced_reports, priority_support, custom_branding, sso, audit_logs,
	is_popular, is_active, sort_order, trial_days, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row rowScanner) (*Plan, error) {
	p := &Plan{}
	err := row.Scan(
		&p.ID, &p.Name, &p.Slug, &p.Description, &p.Price, &p.Currency, &p.BillingInterval,
		&p.MaxUsers, &p.MaxTeams, &p.MaxProjects, &p.MaxStorageGB,
		&p.APIAccess, &p.AdvancedReports, &p.PrioritySupport, &p.CustomBranding, &p.SSO, &p.AuditLogs,
		&p.IsPopular, &p.IsActive, &p.SortOrder, &p.TrialDays, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreatePlan adds a plan to the catalog
func (s *PostgresService) CreatePlan(ctx context.Context, req *CreatePlanRequest) (*Plan, error) {
	plan := req.toPlan()
	if !plan.BillingInterval.Valid() {
		return nil, apperr.Validation("invalid billing interval: %s", plan.BillingInterval)
	}
	if plan.Price.IsNegative() {
		return nil, apperr.Validation("price must not be negative")
	}

	query := `
		INSERT INTO plans (name, slug, description, price, currency, billing_interval,
			max_users, max_teams, max_projects, max_storage_gb,
			api_access, advanced_reports, priority_support, custom_branding, sso, audit_logs,
			is_popular, is_active, sort_order, trial_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		plan.Name, plan.Slug, plan.Description, plan.Price, plan.Currency, plan.BillingInterval,
		plan.MaxUsers, plan.MaxTeams, plan.MaxProjects, plan.MaxStorageGB,
		plan.APIAccess, plan.AdvancedReports, plan.PrioritySupport, plan.CustomBranding, plan.SSO, plan.AuditLogs,
		plan.IsPopular, plan.IsActive, plan.SortOrder, plan.TrialDays,
	).Scan(&plan.ID, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return nil, apperr.ConflictOnUnique(err, "create plan", fmt.Sprintf("plan slug %q already exists", plan.Slug))
	}

	return plan, nil
}

// GetPlan retrieves a plan by ID
func (s *PostgresService) GetPlan(ctx context.Context, id int64) (*Plan, error) {
	return GetPlanTx(ctx, s.db, id)
}

// GetPlanTx retrieves a plan by ID using the caller's transaction
func GetPlanTx(ctx context.Context, q database.DBTX, id int64) (*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1`
	plan, err := scanPlan(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("plan", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return plan, nil
}

// GetPlanBySlug retrieves a plan by slug
func (s *PostgresService) GetPlanBySlug(ctx context.Context, slug string) (*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE slug = $1`
	plan, err := scanPlan(s.db.QueryRowContext(ctx, query, slug))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("plan", slug)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return plan, nil
}

// ListPlans lists plans ordered for display
func (s *PostgresService) ListPlans(ctx context.Context, activeOnly bool) ([]*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans`
	if activeOnly {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY sort_order, price`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var result []*Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		result = append(result, plan)
	}
	return result, rows.Err()
}

// UpdatePlan applies a partial update to a plan. Existing subscriptions keep
// the limits they were granted.
func (s *PostgresService) UpdatePlan(ctx context.Context, id int64, req *UpdatePlanRequest) (*Plan, error) {
	sets := []string{}
	args := []interface{}{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if req.Name != nil {
		add("name", *req.Name)
	}
	if req.Description != nil {
		add("description", *req.Description)
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return nil, apperr.Validation("price must not be negative")
		}
		add("price", *req.Price)
	}
	if req.IsPopular != nil {
		add("is_popular", *req.IsPopular)
	}
	if req.IsActive != nil {
		add("is_active", *req.IsActive)
	}
	if req.SortOrder != nil {
		add("sort_order", *req.SortOrder)
	}
	if req.TrialDays != nil {
		if *req.TrialDays < 0 {
			return nil, apperr.Validation("trial_days must not be negative")
		}
		add("trial_days", *req.TrialDays)
	}
	if req.Limits != nil {
		add("max_users", req.Limits.MaxUsers)
		add("max_teams", req.Limits.MaxTeams)
		add("max_projects", req.Limits.MaxProjects)
		add("max_storage_gb", req.Limits.MaxStorageGB)
	}
	if req.Features != nil {
		add("api_access", req.Features.APIAccess)
		add("advanced_reports", req.Features.AdvancedReports)
		add("priority_support", req.Features.PrioritySupport)
		add("custom_branding", req.Features.CustomBranding)
		add("sso", req.Features.SSO)
		add("audit_logs", req.Features.AuditLogs)
	}

	if len(sets) == 0 {
		return s.GetPlan(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE plans SET %s, updated_at = NOW() WHERE id = $%d RETURNING `+planColumns,
		strings.Join(sets, ", "), len(args))

	plan, err := scanPlan(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("plan", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}
	return plan, nil
}

// UpsertPlan creates the plan or refreshes it by slug. Used when syncing the
// catalog from a seed file.
func (s *PostgresService) UpsertPlan(ctx context.Context, req *CreatePlanRequest) (*Plan, error) {
	plan := req.toPlan()
	if !plan.BillingInterval.Valid() {
		return nil, apperr.Validation("invalid billing interval: %s", plan.BillingInterval)
	}

	query := `
		INSERT INTO plans (name, slug, description, price, currency, billing_interval,
			max_users, max_teams, max_projects, max_storage_gb,
			api_access, advanced_reports, priority_support, custom_branding, sso, audit_logs,
			is_popular, is_active, sort_order, trial_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			billing_interval = EXCLUDED.billing_interval,
			max_users = EXCLUDED.max_users,
			max_teams = EXCLUDED.max_teams,
			max_projects = EXCLUDED.max_projects,
			max_storage_gb = EXCLUDED.max_storage_gb,
			api_access = EXCLUDED.api_access,
			advanced_reports = EXCLUDED.advanced_reports,
			priority_support = EXCLUDED.priority_support,
			custom_branding = EXCLUDED.custom_branding,
			sso = EXCLUDED.sso,
			audit_logs = EXCLUDED.audit_logs,
			is_popular = EXCLUDED.is_popular,
			is_active = EXCLUDED.is_active,
			sort_order = EXCLUDED.sort_order,
			trial_days = EXCLUDED.trial_days,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		plan.Name, plan.Slug, plan.Description, plan.Price, plan.Currency, plan.BillingInterval,
		plan.MaxUsers, plan.MaxTeams, plan.MaxProjects, plan.MaxStorageGB,
		plan.APIAccess, plan.AdvancedReports, plan.PrioritySupport, plan.CustomBranding, plan.SSO, plan.AuditLogs,
		plan.IsPopular, plan.IsActive, plan.SortOrder, plan.TrialDays,
	).Scan(&plan.ID, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert plan %s: %w", plan.Slug, err)
	}
	return plan, nil
}
