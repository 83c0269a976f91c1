package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/statemachine"
)

// InvitationEvent drives invitation transitions
type InvitationEvent string

const (
	InvitationEventAccept InvitationEvent = "accept"
	InvitationEventRevoke InvitationEvent = "revoke"
	InvitationEventExpire InvitationEvent = "expire"
)

// InvitationTransitions is the invitation lifecycle. Only PENDING invitations
// move; every other status is terminal.
var InvitationTransitions = statemachine.New[InvitationStatus, InvitationEvent]("invitation",
	invitationRule{From: InvitationPending, Event: InvitationEventAccept, To: InvitationAccepted},
	invitationRule{From: InvitationPending, Event: InvitationEventRevoke, To: InvitationRevoked},
	invitationRule{From: InvitationPending, Event: InvitationEventExpire, To: InvitationExpired},
)

type invitationRule = statemachine.Rule[InvitationStatus, InvitationEvent]

// CreateInvitationRequest invites an email address into a tenant
type CreateInvitationRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Role      string `json:"role" validate:"omitempty,oneof=TENANT_ADMIN MANAGER MEMBER"`
	InvitedBy *int64 `json:"-"`
}

// InvitationService manages tenant invitations
type InvitationService interface {
	CreateInvitation(ctx context.Context, tenantID int64, req *CreateInvitationRequest) (*Invitation, error)
	GetInvitation(ctx context.Context, token string) (*Invitation, error)
	ListInvitations(ctx context.Context, tenantID int64, status InvitationStatus) ([]*Invitation, error)
	RevokeInvitation(ctx context.Context, tenantID, invitationID int64) (*Invitation, error)
	CleanupExpiredInvitations(ctx context.Context) (int64, error)
}

const invitationColumns = `id, tenant_id, email, role, token, invited_by, status, expires_at, accepted_at, created_at`

func scanInvitation(row rowScanner) (*Invitation, error) {
	inv := &Invitation{}
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.Email, &inv.Role, &inv.Token, &inv.InvitedBy,
		&inv.Status, &inv.ExpiresAt, &inv.AcceptedAt, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// CreateInvitation issues a new invitation valid for InvitationTTL. An email
// may hold only one pending invitation per tenant.
func (s *PostgresService) CreateInvitation(ctx context.Context, tenantID int64, req *CreateInvitationRequest) (*Invitation, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, apperr.Validation("email is required")
	}
	role := req.Role
	if role == "" {
		role = "MEMBER"
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}
	expiresAt := s.now().Add(InvitationTTL)

	var inv *Invitation
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		tenant, err := GetTenantTx(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if !tenant.IsActive() {
			return apperr.Forbidden(fmt.Sprintf("tenant %s is not active", tenant.Slug))
		}

		var exists bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM tenant_invitations
				WHERE tenant_id = $1 AND email = $2 AND status = 'PENDING' AND expires_at > NOW()
			)
		`, tenantID, email).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check pending invitations: %w", err)
		}
		if exists {
			return apperr.Conflict("%s already has a pending invitation", email)
		}

		query := `
			INSERT INTO tenant_invitations (tenant_id, email, role, token, invited_by, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING ` + invitationColumns
		inv, err = scanInvitation(tx.QueryRowContext(ctx, query,
			tenantID, email, role, token, database.NullInt64(req.InvitedBy), expiresAt))
		if err != nil {
			return fmt.Errorf("failed to create invitation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// GetInvitation retrieves an invitation by its token
func (s *PostgresService) GetInvitation(ctx context.Context, token string) (*Invitation, error) {
	inv, err := scanInvitation(s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM tenant_invitations WHERE token = $1`, token))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("invitation", "token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// ListInvitations lists a tenant's invitations, optionally by status
func (s *PostgresService) ListInvitations(ctx context.Context, tenantID int64, status InvitationStatus) ([]*Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM tenant_invitations WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var result []*Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		result = append(result, inv)
	}
	return result, rows.Err()
}

// RevokeInvitation withdraws a pending invitation
func (s *PostgresService) RevokeInvitation(ctx context.Context, tenantID, invitationID int64) (*Invitation, error) {
	var inv *Invitation
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := scanInvitation(tx.QueryRowContext(ctx,
			`SELECT `+invitationColumns+` FROM tenant_invitations WHERE id = $1 AND tenant_id = $2 FOR UPDATE`,
			invitationID, tenantID))
		if err == sql.ErrNoRows {
			return apperr.NotFound("invitation", invitationID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock invitation: %w", err)
		}
		next, err := InvitationTransitions.Next(current.Status, InvitationEventRevoke)
		if err != nil {
			return err
		}
		inv, err = scanInvitation(tx.QueryRowContext(ctx,
			`UPDATE tenant_invitations SET status = $1 WHERE id = $2 RETURNING `+invitationColumns,
			next, invitationID))
		if err != nil {
			return fmt.Errorf("failed to revoke invitation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// AcceptInvitationTx consumes an invitation inside the caller's transaction.
// The caller creates the user and reserves the seat in the same transaction.
// Expired invitations are rejected; the cleanup sweep marks them EXPIRED.
func AcceptInvitationTx(ctx context.Context, q database.DBTX, token string, now time.Time) (*Invitation, error) {
	inv, err := scanInvitation(q.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM tenant_invitations WHERE token = $1 FOR UPDATE`, token))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("invitation", "token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock invitation: %w", err)
	}

	next, err := InvitationTransitions.Next(inv.Status, InvitationEventAccept)
	if err != nil {
		return nil, err
	}
	if inv.IsExpired(now) {
		return nil, apperr.Validation("invitation has expired")
	}

	updated, err := scanInvitation(q.QueryRowContext(ctx,
		`UPDATE tenant_invitations SET status = $1, accepted_at = $2 WHERE id = $3 RETURNING `+invitationColumns,
		next, now, inv.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}
	return updated, nil
}

// CleanupExpiredInvitations marks every pending invitation past its expiry
// as EXPIRED and returns how many were changed
func (s *PostgresService) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tenant_invitations SET status = 'EXPIRED'
		WHERE status = 'PENDING' AND expires_at <= $1
	`, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}
	return result.RowsAffected()
}
