package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DBLogger writes activity and audit entries to PostgreSQL
type DBLogger struct {
	db  *sql.DB
	now func() time.Time
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db, now: time.Now}, nil
}

// LogActivity inserts an activity entry
func (l *DBLogger) LogActivity(ctx context.Context, entry *ActivityLog) error {
	fillRequestInfo(ctx, entry)
	if !entry.Action.Valid() {
		entry.Action = ActionOther
	}
	entry.UserAgent = truncate(entry.UserAgent, MaxUserAgentLength)

	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO activity_logs (
			tenant_id, user_id, action, resource_type, resource_id, description,
			ip_address, user_agent, path, method, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	entry.CreatedAt = l.now().UTC()
	err = l.db.QueryRowContext(ctx, query,
		entry.TenantID, entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID, entry.Description,
		entry.IPAddress, entry.UserAgent, entry.Path, entry.Method, metadataJSON, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert activity log: %w", err)
	}
	return nil
}

// LogAdminAction inserts an admin audit entry
func (l *DBLogger) LogAdminAction(ctx context.Context, entry *AdminAuditLog) error {
	if entry.IPAddress == "" {
		if info, ok := RequestInfoFromContext(ctx); ok {
			entry.IPAddress = info.IPAddress
		}
	}

	oldJSON, err := marshalSnapshot(entry.OldValues)
	if err != nil {
		return fmt.Errorf("failed to marshal old values: %w", err)
	}
	newJSON, err := marshalSnapshot(entry.NewValues)
	if err != nil {
		return fmt.Errorf("failed to marshal new values: %w", err)
	}

	query := `
		INSERT INTO audit_logs (
			admin_user_id, action, target_model, target_id,
			old_values, new_values, notes, ip_address, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	entry.CreatedAt = l.now().UTC()
	err = l.db.QueryRowContext(ctx, query,
		entry.AdminUserID, entry.Action, entry.TargetModel, entry.TargetID,
		oldJSON, newJSON, entry.Notes, entry.IPAddress, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// marshalSnapshot returns nil for an absent snapshot so the column stays NULL
func marshalSnapshot(values map[string]interface{}) ([]byte, error) {
	if values == nil {
		return nil, nil
	}
	return json.Marshal(values)
}

// SearchActivity searches activity entries, newest first
func (l *DBLogger) SearchActivity(ctx context.Context, filter ActivityFilter) ([]*ActivityLog, error) {
	query := `
		SELECT
			id, tenant_id, user_id, action, resource_type, resource_id, description,
			ip_address, user_agent, path, method, metadata, created_at
		FROM activity_logs
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if filter.TenantID != nil {
		query += fmt.Sprintf(" AND tenant_id = $%d", argCount)
		args = append(args, *filter.TenantID)
		argCount++
	}

	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filter.UserID)
		argCount++
	}

	if len(filter.Actions) > 0 {
		query += fmt.Sprintf(" AND action = ANY($%d)", argCount)
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		args = append(args, pq.Array(actions))
		argCount++
	}

	if filter.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argCount)
		args = append(args, filter.ResourceType)
		argCount++
	}

	if filter.ResourceID != "" {
		query += fmt.Sprintf(" AND resource_id = $%d", argCount)
		args = append(args, filter.ResourceID)
		argCount++
	}

	if filter.IPAddress != "" {
		query += fmt.Sprintf(" AND ip_address = $%d", argCount)
		args = append(args, filter.IPAddress)
		argCount++
	}

	query += " ORDER BY created_at DESC, id DESC"
	query, args = paginate(query, args, argCount, filter.Limit, filter.Offset)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search activity logs: %w", err)
	}
	defer rows.Close()

	entries := make([]*ActivityLog, 0)
	for rows.Next() {
		entry := &ActivityLog{}
		var metadataJSON []byte
		err := rows.Scan(
			&entry.ID, &entry.TenantID, &entry.UserID, &entry.Action, &entry.ResourceType,
			&entry.ResourceID, &entry.Description, &entry.IPAddress, &entry.UserAgent,
			&entry.Path, &entry.Method, &metadataJSON, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity logs: %w", err)
	}
	return entries, nil
}

// SearchAdminActions searches admin audit entries, newest first
func (l *DBLogger) SearchAdminActions(ctx context.Context, filter AdminFilter) ([]*AdminAuditLog, error) {
	query := `
		SELECT
			id, admin_user_id, action, target_model, target_id,
			old_values, new_values, notes, ip_address, created_at
		FROM audit_logs
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if filter.AdminUserID != nil {
		query += fmt.Sprintf(" AND admin_user_id = $%d", argCount)
		args = append(args, *filter.AdminUserID)
		argCount++
	}

	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argCount)
		args = append(args, filter.Action)
		argCount++
	}

	if filter.TargetModel != "" {
		query += fmt.Sprintf(" AND target_model = $%d", argCount)
		args = append(args, filter.TargetModel)
		argCount++
	}

	if filter.TargetID != "" {
		query += fmt.Sprintf(" AND target_id = $%d", argCount)
		args = append(args, filter.TargetID)
		argCount++
	}

	query += " ORDER BY created_at DESC, id DESC"
	query, args = paginate(query, args, argCount, filter.Limit, filter.Offset)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	entries := make([]*AdminAuditLog, 0)
	for rows.Next() {
		entry := &AdminAuditLog{}
		var oldJSON, newJSON []byte
		err := rows.Scan(
			&entry.ID, &entry.AdminUserID, &entry.Action, &entry.TargetModel, &entry.TargetID,
			&oldJSON, &newJSON, &entry.Notes, &entry.IPAddress, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(oldJSON) > 0 {
			if err := json.Unmarshal(oldJSON, &entry.OldValues); err != nil {
				return nil, fmt.Errorf("failed to unmarshal old values: %w", err)
			}
		}
		if len(newJSON) > 0 {
			if err := json.Unmarshal(newJSON, &entry.NewValues); err != nil {
				return nil, fmt.Errorf("failed to unmarshal new values: %w", err)
			}
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return entries, nil
}

// CleanupActivity removes activity entries older than the retention period.
// Admin audit entries are never removed.
func (l *DBLogger) CleanupActivity(ctx context.Context, policy RetentionPolicy) (int64, error) {
	if policy.RetentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive")
	}
	cutoff := l.now().AddDate(0, 0, -policy.RetentionDays)

	result, err := l.db.ExecContext(ctx, "DELETE FROM activity_logs WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up activity logs: %w", err)
	}
	return result.RowsAffected()
}

// Close is a no-op; the database handle is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}

func paginate(query string, args []interface{}, argCount, limit, offset int) (string, []interface{}) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, limit)
	argCount++

	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, offset)
	}
	return query, args
}
