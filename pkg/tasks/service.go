package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Service manages the tasks of a tenant
type Service interface {
	CreateTask(ctx context.Context, tenantID int64, req *CreateTaskRequest, createdBy *int64, bypassLimits bool) (*Task, error)
	GetTask(ctx context.Context, tenantID, id int64) (*Task, error)
	ListTasks(ctx context.Context, tenantID int64, filter Filter) ([]*Task, error)
	UpdateTask(ctx context.Context, tenantID, id int64, req *UpdateTaskRequest) (*Task, error)
	ChangeStatus(ctx context.Context, tenantID, id int64, status Status) (*Task, error)
	DeleteTask(ctx context.Context, tenantID, id int64) error
}

// PostgresService implements Service using PostgreSQL
type PostgresService struct {
	db       *sql.DB
	recorder *audit.Recorder
	log      *logrus.Logger
	now      func() time.Time
}

// NewPostgresService creates a new PostgreSQL-backed task service. recorder
// may be nil.
func NewPostgresService(db *sql.DB, recorder *audit.Recorder, log *logrus.Logger) *PostgresService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PostgresService{db: db, recorder: recorder, log: log, now: time.Now}
}

const taskColumns = `id, tenant_id, team_id, title, description, status, priority, assigned_to,
	created_by, due_date, parent_task_id, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresService) scanTask(row rowScanner) (*Task, error) {
	t := &Task{}
	err := row.Scan(&t.ID, &t.TenantID, &t.TeamID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.AssignedTo,
		&t.CreatedBy, &t.DueDate, &t.ParentTaskID, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Overdue = t.IsOverdue(s.now())
	return t, nil
}

// CreateTask creates a task and takes one unit of the tenant's project
// ceiling. The tenant row is locked while the ceiling is checked and the
// counter incremented. Subtasks may only hang off top-level tasks.
func (s *PostgresService) CreateTask(ctx context.Context, tenantID int64, req *CreateTaskRequest, createdBy *int64, bypassLimits bool) (*Task, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperr.Validation("task title is required")
	}
	priority := req.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.Valid() {
		return nil, apperr.Validation("invalid priority %q", priority)
	}

	var task *Task
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		tenant, err := tenants.LockTenantTx(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if !bypassLimits {
			if err := tenant.Guard(tenants.ResourceProjects); err != nil {
				return err
			}
		}
		if err := tenants.IncrementUsageTx(ctx, tx, tenantID, tenants.ResourceProjects); err != nil {
			return err
		}

		if req.TeamID != nil {
			if err := adjustTeamTasks(ctx, tx, tenantID, *req.TeamID, 1); err != nil {
				return err
			}
		}
		if req.ParentTaskID != nil {
			if err := checkParentTx(ctx, tx, tenantID, *req.ParentTaskID); err != nil {
				return err
			}
		}
		if req.AssignedTo != nil {
			if err := checkAssigneeTx(ctx, tx, tenantID, *req.AssignedTo); err != nil {
				return err
			}
		}

		query := `
			INSERT INTO tasks (tenant_id, team_id, title, description, status, priority, assigned_to,
				created_by, due_date, parent_task_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING ` + taskColumns
		task, err = s.scanTask(tx.QueryRowContext(ctx, query,
			tenantID, database.NullInt64(req.TeamID), title, req.Description, StatusTodo, priority,
			database.NullInt64(req.AssignedTo), database.NullInt64(createdBy), database.NullTime(req.DueDate),
			database.NullInt64(req.ParentTaskID),
		))
		if err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, tenantID, audit.ActionCreate, task.ID, fmt.Sprintf("Task %q created", task.Title))
	return task, nil
}

// adjustTeamTasks moves a team's task counter by delta. A team of another
// tenant is rejected.
func adjustTeamTasks(ctx context.Context, q database.DBTX, tenantID, teamID int64, delta int) error {
	result, err := q.ExecContext(ctx, `
		UPDATE teams SET tasks_count = GREATEST(tasks_count + $1, 0), updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3
	`, delta, teamID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update team task count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return apperr.Validation("team %d does not exist", teamID)
	}
	return nil
}

func checkParentTx(ctx context.Context, q database.DBTX, tenantID, parentID int64) error {
	var grandparent sql.NullInt64
	err := q.QueryRowContext(ctx,
		`SELECT parent_task_id FROM tasks WHERE id = $1 AND tenant_id = $2`, parentID, tenantID,
	).Scan(&grandparent)
	if err == sql.ErrNoRows {
		return apperr.Validation("parent task %d does not exist", parentID)
	}
	if err != nil {
		return fmt.Errorf("failed to get parent task: %w", err)
	}
	if grandparent.Valid {
		return apperr.Validation("subtasks cannot have subtasks")
	}
	return nil
}

func checkAssigneeTx(ctx context.Context, q database.DBTX, tenantID, userID int64) error {
	var userTenant sql.NullInt64
	err := q.QueryRowContext(ctx, `SELECT tenant_id FROM users WHERE id = $1`, userID).Scan(&userTenant)
	if err == sql.ErrNoRows || (err == nil && (!userTenant.Valid || userTenant.Int64 != tenantID)) {
		return apperr.Validation("user %d cannot be assigned in this tenant", userID)
	}
	if err != nil {
		return fmt.Errorf("failed to get assignee: %w", err)
	}
	return nil
}

// GetTask retrieves a task of the tenant
func (s *PostgresService) GetTask(ctx context.Context, tenantID, id int64) (*Task, error) {
	task, err := s.scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

func lockTaskTx(ctx context.Context, s *PostgresService, q database.DBTX, tenantID, id int64) (*Task, error) {
	task, err := s.scanTask(q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND tenant_id = $2 FOR UPDATE`, id, tenantID))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock task: %w", err)
	}
	return task, nil
}

// ListTasks returns the tenant's tasks, most urgent due date first
func (s *PostgresService) ListTasks(ctx context.Context, tenantID int64, filter Filter) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argCount := 1

	if filter.Status != "" {
		argCount++
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filter.Status)
	}
	if filter.Priority != "" {
		argCount++
		query += fmt.Sprintf(" AND priority = $%d", argCount)
		args = append(args, filter.Priority)
	}
	if filter.TeamID != nil {
		argCount++
		query += fmt.Sprintf(" AND team_id = $%d", argCount)
		args = append(args, *filter.TeamID)
	}
	if filter.AssignedTo != nil {
		argCount++
		query += fmt.Sprintf(" AND assigned_to = $%d", argCount)
		args = append(args, *filter.AssignedTo)
	}
	if filter.Overdue {
		argCount++
		query += fmt.Sprintf(" AND due_date < $%d AND status NOT IN ('COMPLETED', 'CANCELLED')", argCount)
		args = append(args, s.now())
	}
	if filter.Search != "" {
		argCount++
		query += fmt.Sprintf(" AND (title ILIKE $%d OR description ILIKE $%d)", argCount, argCount)
		args = append(args, "%"+filter.Search+"%")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = lo.Min([]int{limit, maxPageSize})
	query += fmt.Sprintf(" ORDER BY due_date ASC NULLS LAST, id DESC LIMIT $%d OFFSET $%d", argCount+1, argCount+2)
	args = append(args, limit, lo.Max([]int{filter.Offset, 0}))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := s.scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTask applies a partial update
func (s *PostgresService) UpdateTask(ctx context.Context, tenantID, id int64, req *UpdateTaskRequest) (*Task, error) {
	sets := []string{}
	args := []interface{}{}
	argCount := 0
	set := func(column string, value interface{}) {
		argCount++
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argCount))
		args = append(args, value)
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, apperr.Validation("task title is required")
		}
		set("title", title)
	}
	if req.Description != nil {
		set("description", *req.Description)
	}
	if req.Priority != nil {
		if !req.Priority.Valid() {
			return nil, apperr.Validation("invalid priority %q", *req.Priority)
		}
		set("priority", *req.Priority)
	}
	if req.AssignedTo != nil {
		set("assigned_to", *req.AssignedTo)
	}
	if req.DueDate != nil {
		set("due_date", *req.DueDate)
	}
	if len(sets) == 0 {
		return s.GetTask(ctx, tenantID, id)
	}

	var task *Task
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if req.AssignedTo != nil {
			if err := checkAssigneeTx(ctx, tx, tenantID, *req.AssignedTo); err != nil {
				return err
			}
		}
		query := fmt.Sprintf(`UPDATE tasks SET %s, updated_at = NOW() WHERE id = $%d AND tenant_id = $%d RETURNING %s`,
			strings.Join(sets, ", "), argCount+1, argCount+2, taskColumns)
		var err error
		task, err = s.scanTask(tx.QueryRowContext(ctx, query, append(args, id, tenantID)...))
		if err == sql.ErrNoRows {
			return apperr.NotFound("task", id)
		}
		if err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, tenantID, audit.ActionUpdate, task.ID, fmt.Sprintf("Task %q updated", task.Title))
	return task, nil
}

// eventFor finds the event that moves a task from one status to another
func eventFor(from, to Status) (Event, bool) {
	return lo.Find(Transitions.Events(from), func(e Event) bool {
		next, err := Transitions.Next(from, e)
		return err == nil && next == to
	})
}

// ChangeStatus moves a task to status through the transition table.
// completed_at is stamped on completion and cleared when a task is reopened.
func (s *PostgresService) ChangeStatus(ctx context.Context, tenantID, id int64, status Status) (*Task, error) {
	var task *Task
	var from Status
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := lockTaskTx(ctx, s, tx, tenantID, id)
		if err != nil {
			return err
		}
		from = current.Status
		event, ok := eventFor(current.Status, status)
		if !ok {
			return apperr.InvalidTransition("task", string(current.Status), "move to "+string(status))
		}

		var completedAt interface{}
		if event == EventComplete {
			completedAt = s.now()
		}
		task, err = s.scanTask(tx.QueryRowContext(ctx, `
			UPDATE tasks SET status = $1, completed_at = $2, updated_at = NOW()
			WHERE id = $3
			RETURNING `+taskColumns,
			status, completedAt, id))
		if err != nil {
			return fmt.Errorf("failed to change task status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"task_id":   id,
		"from":      from,
		"to":        status,
	}).Debug("Task status changed")
	s.record(ctx, tenantID, audit.ActionUpdate, task.ID,
		fmt.Sprintf("Task %q moved from %s to %s", task.Title, from, status))
	return task, nil
}

// DeleteTask removes a task with its subtasks and gives their units back to
// the tenant's project ceiling
func (s *PostgresService) DeleteTask(ctx context.Context, tenantID, id int64) error {
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			DELETE FROM tasks WHERE tenant_id = $1 AND (id = $2 OR parent_task_id = $2)
			RETURNING team_id
		`, tenantID, id)
		if err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
		var teams []sql.NullInt64
		for rows.Next() {
			var teamID sql.NullInt64
			if err := rows.Scan(&teamID); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan deleted task: %w", err)
			}
			teams = append(teams, teamID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
		if len(teams) == 0 {
			return apperr.NotFound("task", id)
		}

		for _, teamID := range teams {
			if err := tenants.DecrementUsageTx(ctx, tx, tenantID, tenants.ResourceProjects); err != nil {
				return err
			}
			if teamID.Valid {
				if err := adjustTeamTasks(ctx, tx, tenantID, teamID.Int64, -1); err != nil && !apperr.IsValidation(err) {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.record(ctx, tenantID, audit.ActionDelete, id, fmt.Sprintf("Task %d deleted", id))
	return nil
}

func (s *PostgresService) record(ctx context.Context, tenantID int64, action audit.Action, id int64, description string) {
	s.recorder.Activity(ctx, audit.ActivityLog{
		TenantID:     &tenantID,
		Action:       action,
		ResourceType: audit.ResourceTask,
		ResourceID:   strconv.FormatInt(id, 10),
		Description:  description,
	})
}
