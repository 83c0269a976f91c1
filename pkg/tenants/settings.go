package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/database"
)

// SettingsService manages per-tenant settings
type SettingsService interface {
	GetSettings(ctx context.Context, tenantID int64) (*Settings, error)
	UpdateSettings(ctx context.Context, tenantID int64, req *UpdateSettingsRequest) (*Settings, error)
}

const settingsColumns = `tenant_id, enable_teams, enable_tasks, enable_file_uploads, enable_api_access,
	email_notifications, task_reminders, timezone, language, date_format, updated_at`

func scanSettings(row rowScanner) (*Settings, error) {
	st := &Settings{}
	err := row.Scan(&st.TenantID, &st.EnableTeams, &st.EnableTasks, &st.EnableFileUploads, &st.EnableAPIAccess,
		&st.EmailNotifications, &st.TaskReminders, &st.Timezone, &st.Language, &st.DateFormat, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// CreateSettingsTx creates default settings for a tenant. Existing settings
// are left untouched.
func CreateSettingsTx(ctx context.Context, q database.DBTX, tenantID int64) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO tenant_settings (tenant_id) VALUES ($1) ON CONFLICT (tenant_id) DO NOTHING`, tenantID)
	if err != nil {
		return fmt.Errorf("failed to create tenant settings: %w", err)
	}
	return nil
}

// GetSettings retrieves a tenant's settings
func (s *PostgresService) GetSettings(ctx context.Context, tenantID int64) (*Settings, error) {
	st, err := scanSettings(s.db.QueryRowContext(ctx,
		`SELECT `+settingsColumns+` FROM tenant_settings WHERE tenant_id = $1`, tenantID))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("settings for tenant", tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant settings: %w", err)
	}
	return st, nil
}

// UpdateSettings applies a partial settings update
func (s *PostgresService) UpdateSettings(ctx context.Context, tenantID int64, req *UpdateSettingsRequest) (*Settings, error) {
	sets := []string{}
	args := []interface{}{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if req.EnableTeams != nil {
		add("enable_teams", *req.EnableTeams)
	}
	if req.EnableTasks != nil {
		add("enable_tasks", *req.EnableTasks)
	}
	if req.EnableFileUploads != nil {
		add("enable_file_uploads", *req.EnableFileUploads)
	}
	if req.EnableAPIAccess != nil {
		add("enable_api_access", *req.EnableAPIAccess)
	}
	if req.EmailNotifications != nil {
		add("email_notifications", *req.EmailNotifications)
	}
	if req.TaskReminders != nil {
		add("task_reminders", *req.TaskReminders)
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			return nil, apperr.Validation("unknown timezone %q", *req.Timezone)
		}
		add("timezone", *req.Timezone)
	}
	if req.Language != nil {
		add("language", *req.Language)
	}
	if req.DateFormat != nil {
		add("date_format", *req.DateFormat)
	}

	if len(sets) == 0 {
		return s.GetSettings(ctx, tenantID)
	}

	args = append(args, tenantID)
	query := fmt.Sprintf(`UPDATE tenant_settings SET %s, updated_at = NOW() WHERE tenant_id = $%d RETURNING `+settingsColumns,
		strings.Join(sets, ", "), len(args))
	st, err := scanSettings(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("settings for tenant", tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update tenant settings: %w", err)
	}
	return st, nil
}
