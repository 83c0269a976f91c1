package teams

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/database"
)

// ListMembers returns the members of a team of the tenant
func (s *PostgresService) ListMembers(ctx context.Context, tenantID, teamID int64) ([]*Member, error) {
	if _, err := s.GetTeam(ctx, tenantID, teamID); err != nil {
		return nil, err
	}

	query := `
		SELECT m.id, m.team_id, m.user_id, m.role, m.invited_by, m.joined_at,
		       u.email, TRIM(u.first_name || ' ' || u.last_name)
		FROM team_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.team_id = $1
		ORDER BY m.joined_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m := &Member{}
		var fullName sql.NullString
		if err := rows.Scan(&m.ID, &m.TeamID, &m.UserID, &m.Role, &m.InvitedBy, &m.JoinedAt,
			&m.Email, &fullName); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.FullName = fullName.String
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return members, nil
}

// AddMember adds a user of the same tenant to a team
func (s *PostgresService) AddMember(ctx context.Context, tenantID, teamID int64, req *AddMemberRequest, invitedBy *int64) (*Member, error) {
	role := req.Role
	if role == "" {
		role = RoleMember
	}
	if !role.Valid() {
		return nil, apperr.Validation("invalid team role %q", role)
	}

	var member *Member
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var teamTenant int64
		err := tx.QueryRowContext(ctx, `SELECT tenant_id FROM teams WHERE id = $1 FOR UPDATE`, teamID).Scan(&teamTenant)
		if err == sql.ErrNoRows || (err == nil && teamTenant != tenantID) {
			return apperr.NotFound("team", teamID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock team: %w", err)
		}

		var userTenant sql.NullInt64
		err = tx.QueryRowContext(ctx, `SELECT tenant_id FROM users WHERE id = $1`, req.UserID).Scan(&userTenant)
		if err == sql.ErrNoRows {
			return apperr.NotFound("user", req.UserID)
		}
		if err != nil {
			return fmt.Errorf("failed to get user: %w", err)
		}
		if !userTenant.Valid || userTenant.Int64 != tenantID {
			return apperr.Validation("user %d does not belong to this tenant", req.UserID)
		}

		member = &Member{TeamID: teamID, UserID: req.UserID, Role: role, InvitedBy: invitedBy}
		query := `
			INSERT INTO team_members (team_id, user_id, role, invited_by)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (team_id, user_id) DO NOTHING
			RETURNING id, joined_at
		`
		err = tx.QueryRowContext(ctx, query, teamID, req.UserID, role, database.NullInt64(invitedBy)).
			Scan(&member.ID, &member.JoinedAt)
		if err == sql.ErrNoRows {
			return apperr.Conflict("user %d is already a member of this team", req.UserID)
		}
		if err != nil {
			return fmt.Errorf("failed to add member: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE teams SET members_count = members_count + 1, updated_at = NOW() WHERE id = $1`, teamID)
		if err != nil {
			return fmt.Errorf("failed to update members count: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recorder.Activity(ctx, audit.ActivityLog{
		TenantID:     &tenantID,
		Action:       audit.ActionUpdate,
		ResourceType: audit.ResourceTeam,
		ResourceID:   fmt.Sprint(teamID),
		Description:  fmt.Sprintf("User %d added to team as %s", req.UserID, role),
	})
	return member, nil
}

// RemoveMember removes a user from a team
func (s *PostgresService) RemoveMember(ctx context.Context, tenantID, teamID, userID int64) error {
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		query := `
			DELETE FROM team_members m
			USING teams t
			WHERE m.team_id = t.id AND t.id = $1 AND t.tenant_id = $2 AND m.user_id = $3
		`
		result, err := tx.ExecContext(ctx, query, teamID, tenantID, userID)
		if err != nil {
			return fmt.Errorf("failed to remove member: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return apperr.NotFound("team member", userID)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE teams SET members_count = GREATEST(members_count - 1, 0), updated_at = NOW() WHERE id = $1`, teamID)
		if err != nil {
			return fmt.Errorf("failed to update members count: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.recorder.Activity(ctx, audit.ActivityLog{
		TenantID:     &tenantID,
		Action:       audit.ActionUpdate,
		ResourceType: audit.ResourceTeam,
		ResourceID:   fmt.Sprint(teamID),
		Description:  fmt.Sprintf("User %d removed from team", userID),
	})
	return nil
}
