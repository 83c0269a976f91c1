package teams

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
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

// Service manages teams and their members. Every operation is scoped to a
// tenant; a team of another tenant is reported as not found.
type Service interface {
	CreateTeam(ctx context.Context, tenantID int64, req *CreateTeamRequest, ownerID *int64, bypassLimits bool) (*Team, error)
	GetTeam(ctx context.Context, tenantID, id int64) (*Team, error)
	ListTeams(ctx context.Context, tenantID int64) ([]*Team, error)
	DeleteTeam(ctx context.Context, tenantID, id int64) error

	ListMembers(ctx context.Context, tenantID, teamID int64) ([]*Member, error)
	AddMember(ctx context.Context, tenantID, teamID int64, req *AddMemberRequest, invitedBy *int64) (*Member, error)
	RemoveMember(ctx context.Context, tenantID, teamID, userID int64) error
}

// PostgresService implements Service using PostgreSQL
type PostgresService struct {
	db       *sql.DB
	recorder *audit.Recorder
	log      *logrus.Logger
	now      func() time.Time
}

// NewPostgresService creates a new PostgreSQL-backed team service. recorder
// may be nil.
func NewPostgresService(db *sql.DB, recorder *audit.Recorder, log *logrus.Logger) *PostgresService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PostgresService{db: db, recorder: recorder, log: log, now: time.Now}
}

const teamColumns = `id, tenant_id, name, slug, description, owner_id, is_private,
	members_count, tasks_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTeam(row rowScanner) (*Team, error) {
	t := &Team{}
	err := row.Scan(&t.ID, &t.TenantID, &t.Name, &t.Slug, &t.Description, &t.OwnerID, &t.IsPrivate,
		&t.MembersCount, &t.TasksCount, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateTeam creates a team and takes one unit of the tenant's team ceiling.
// The tenant row is locked for the duration so concurrent creations are
// checked one after the other. The owner, if any, becomes the first member.
func (s *PostgresService) CreateTeam(ctx context.Context, tenantID int64, req *CreateTeamRequest, ownerID *int64, bypassLimits bool) (*Team, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("team name is required")
	}
	slug := tenants.GenerateSlug(req.Slug)
	if slug == "" {
		slug = tenants.GenerateSlug(name)
	}
	if slug == "" {
		return nil, apperr.Validation("cannot derive a slug from name %q", name)
	}

	var team *Team
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		tenant, err := tenants.LockTenantTx(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if !bypassLimits {
			if err := tenant.Guard(tenants.ResourceTeams); err != nil {
				return err
			}
		}
		if err := tenants.IncrementUsageTx(ctx, tx, tenantID, tenants.ResourceTeams); err != nil {
			return err
		}

		members := 0
		if ownerID != nil {
			members = 1
		}
		query := `
			INSERT INTO teams (tenant_id, name, slug, description, owner_id, is_private, members_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING ` + teamColumns
		team, err = scanTeam(tx.QueryRowContext(ctx, query,
			tenantID, name, slug, req.Description, database.NullInt64(ownerID), req.IsPrivate, members))
		if err != nil {
			return apperr.ConflictOnUnique(err, "create team", fmt.Sprintf("team slug %q is already taken", slug))
		}

		if ownerID != nil {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO team_members (team_id, user_id, role) VALUES ($1, $2, $3)`,
				team.ID, *ownerID, RoleOwner)
			if err != nil {
				return fmt.Errorf("failed to add team owner: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, tenantID, audit.ActionCreate, audit.ResourceTeam, team.ID,
		fmt.Sprintf("Team %s created", team.Name))
	return team, nil
}

// GetTeam retrieves a team of the tenant
func (s *PostgresService) GetTeam(ctx context.Context, tenantID, id int64) (*Team, error) {
	team, err := scanTeam(s.db.QueryRowContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("team", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return team, nil
}

// ListTeams returns the tenant's teams ordered by name
func (s *PostgresService) ListTeams(ctx context.Context, tenantID int64) ([]*Team, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE tenant_id = $1 ORDER BY name ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []*Team
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, team)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate teams: %w", err)
	}
	return teams, nil
}

// DeleteTeam removes a team and gives its unit back to the tenant's ceiling.
// Tasks of the team are kept without a team.
func (s *PostgresService) DeleteTeam(ctx context.Context, tenantID, id int64) error {
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM teams WHERE id = $1 AND tenant_id = $2`, id, tenantID)
		if err != nil {
			return fmt.Errorf("failed to delete team: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return apperr.NotFound("team", id)
		}
		return tenants.DecrementUsageTx(ctx, tx, tenantID, tenants.ResourceTeams)
	})
	if err != nil {
		return err
	}

	s.record(ctx, tenantID, audit.ActionDelete, audit.ResourceTeam, id, fmt.Sprintf("Team %d deleted", id))
	return nil
}

func (s *PostgresService) record(ctx context.Context, tenantID int64, action audit.Action, resource string, id int64, description string) {
	s.recorder.Activity(ctx, audit.ActivityLog{
		TenantID:     &tenantID,
		Action:       action,
		ResourceType: resource,
		ResourceID:   strconv.FormatInt(id, 10),
		Description:  description,
	})
}
