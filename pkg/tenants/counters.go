package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/database"
)

// CounterService maintains the denormalized usage counters on a tenant.
// Every update is a single atomic statement; counters are never read,
// modified and written back by the application.
type CounterService interface {
	IncrementUsage(ctx context.Context, tenantID int64, resource Resource) error
	DecrementUsage(ctx context.Context, tenantID int64, resource Resource) error
	AddStorage(ctx context.Context, tenantID int64, deltaGB decimal.Decimal) error
}

// counterColumns returns the counter and ceiling columns of a resource
func counterColumns(resource Resource) (string, string, error) {
	switch resource {
	case ResourceUsers:
		return "current_users_count", "max_users", nil
	case ResourceTeams:
		return "current_teams_count", "max_teams", nil
	case ResourceProjects:
		return "current_projects_count", "max_projects", nil
	}
	return "", "", fmt.Errorf("resource %s has no counter", resource)
}

// IncrementUsage adds one to the resource counter
func (s *PostgresService) IncrementUsage(ctx context.Context, tenantID int64, resource Resource) error {
	return IncrementUsageTx(ctx, s.db, tenantID, resource)
}

// DecrementUsage subtracts one from the resource counter, never below zero
func (s *PostgresService) DecrementUsage(ctx context.Context, tenantID int64, resource Resource) error {
	return DecrementUsageTx(ctx, s.db, tenantID, resource)
}

// AddStorage adjusts the storage counter by deltaGB, never below zero
func (s *PostgresService) AddStorage(ctx context.Context, tenantID int64, deltaGB decimal.Decimal) error {
	return AddStorageTx(ctx, s.db, tenantID, deltaGB)
}

// IncrementUsageTx adds one to the resource counter without checking the
// ceiling. Used for super admin actions that bypass limits.
func IncrementUsageTx(ctx context.Context, q database.DBTX, tenantID int64, resource Resource) error {
	col, _, err := counterColumns(resource)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE tenants SET %s = %s + 1, updated_at = NOW() WHERE id = $1`, col, col)
	return execOne(ctx, q, query, tenantID, "increment "+string(resource)+" counter", tenantID)
}

// DecrementUsageTx subtracts one from the resource counter, floored at zero
func DecrementUsageTx(ctx context.Context, q database.DBTX, tenantID int64, resource Resource) error {
	col, _, err := counterColumns(resource)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE tenants SET %s = GREATEST(%s - 1, 0), updated_at = NOW() WHERE id = $1`, col, col)
	return execOne(ctx, q, query, tenantID, "decrement "+string(resource)+" counter", tenantID)
}

// AddStorageTx adjusts storage usage by deltaGB, floored at zero
func AddStorageTx(ctx context.Context, q database.DBTX, tenantID int64, deltaGB decimal.Decimal) error {
	query := `UPDATE tenants SET current_storage_gb = GREATEST(current_storage_gb + $1, 0), updated_at = NOW() WHERE id = $2`
	return execOne(ctx, q, query, tenantID, "update storage usage", deltaGB, tenantID)
}

// ReserveTx claims one unit of resource for the tenant if it is below its
// ceiling. The check and the increment are one conditional UPDATE, so
// concurrent reservations cannot overshoot the limit. A rejected reservation
// returns a *LimitExceededError marked as apperr.ErrLimitExceeded.
func ReserveTx(ctx context.Context, q database.DBTX, tenantID int64, resource Resource) error {
	col, maxCol, err := counterColumns(resource)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		`UPDATE tenants SET %s = %s + 1, updated_at = NOW() WHERE id = $1 AND %s < %s`,
		col, col, col, maxCol,
	)
	result, err := q.ExecContext(ctx, query, tenantID)
	if err != nil {
		return fmt.Errorf("failed to reserve %s: %w", resource, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var current, limit int64
	err = q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s, %s FROM tenants WHERE id = $1`, col, maxCol), tenantID,
	).Scan(&current, &limit)
	if err == sql.ErrNoRows {
		return apperr.NotFound("tenant", tenantID)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s usage: %w", resource, err)
	}
	return apperr.LimitExceeded(&LimitExceededError{Resource: resource, Current: current, Limit: limit})
}

// ApplyCeilingsTx copies plan limits onto the tenant. The copy is a snapshot:
// later plan edits do not change it.
func ApplyCeilingsTx(ctx context.Context, q database.DBTX, tenantID int64, c Ceilings) error {
	query := `
		UPDATE tenants
		SET max_users = $1, max_teams = $2, max_projects = $3, max_storage_gb = $4, updated_at = NOW()
		WHERE id = $5
	`
	return execOne(ctx, q, query, tenantID, "apply plan limits",
		c.MaxUsers, c.MaxTeams, c.MaxProjects, c.MaxStorageGB, tenantID)
}

// SetCurrentSubscriptionTx points the tenant at its current subscription and
// records the trial end, if any
func SetCurrentSubscriptionTx(ctx context.Context, q database.DBTX, tenantID, subscriptionID int64, trialEndsAt *time.Time) error {
	query := `
		UPDATE tenants SET current_subscription_id = $1, trial_ends_at = $2, updated_at = NOW()
		WHERE id = $3
	`
	return execOne(ctx, q, query, tenantID, "set current subscription",
		subscriptionID, database.NullTime(trialEndsAt), tenantID)
}

// execOne runs an UPDATE expected to touch exactly one tenant row
func execOne(ctx context.Context, q database.DBTX, query string, tenantID int64, op string, args ...interface{}) error {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperr.NotFound("tenant", tenantID)
	}
	return nil
}
