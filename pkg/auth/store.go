package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

// UserStore manages accounts
type UserStore interface {
	CreateUser(ctx context.Context, req *CreateUserRequest, bypassLimits bool) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListTenantUsers(ctx context.Context, tenantID int64) ([]*User, error)
	DeactivateUser(ctx context.Context, id int64) error
	Authenticate(ctx context.Context, email, password string) (*User, error)
}

// PostgresUserStore implements UserStore using PostgreSQL
type PostgresUserStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresUserStore creates a new PostgreSQL-backed user store
func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db, now: time.Now}
}

const userColumns = `id, email, password_hash, first_name, last_name, role, tenant_id, is_active,
	last_login_at, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role, &u.TenantID,
		&u.IsActive, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser creates an account. Tenant users take a seat from the tenant's
// user ceiling unless bypassLimits is set.
func (s *PostgresUserStore) CreateUser(ctx context.Context, req *CreateUserRequest, bypassLimits bool) (*User, error) {
	var user *User
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if req.TenantID != nil {
			reserve := tenants.ReserveTx
			if bypassLimits {
				reserve = tenants.IncrementUsageTx
			}
			if err := reserve(ctx, tx, *req.TenantID, tenants.ResourceUsers); err != nil {
				return err
			}
		}
		var err error
		user, err = CreateUserTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUserTx inserts an account using the caller's transaction. It does not
// touch tenant counters.
func CreateUserTx(ctx context.Context, q database.DBTX, req *CreateUserRequest) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, apperr.Validation("email is required")
	}
	if !req.Role.Valid() {
		return nil, apperr.Validation("invalid role %q", req.Role)
	}
	if req.Role == RoleSuperAdmin && req.TenantID != nil {
		return nil, apperr.Validation("super admins cannot belong to a tenant")
	}
	if req.Role != RoleSuperAdmin && req.TenantID == nil {
		return nil, apperr.Validation("tenant is required for role %s", req.Role)
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO users (email, password_hash, first_name, last_name, role, tenant_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userColumns
	user, err := scanUser(q.QueryRowContext(ctx, query,
		email, hash, req.FirstName, req.LastName, req.Role, database.NullInt64(req.TenantID)))
	if err != nil {
		return nil, apperr.ConflictOnUnique(err, "create user", fmt.Sprintf("email %s is already registered", email))
	}
	return user, nil
}

// GetUser retrieves a user by ID
func (s *PostgresUserStore) GetUser(ctx context.Context, id int64) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email, case-insensitively
func (s *PostgresUserStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("user", email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListTenantUsers lists a tenant's users
func (s *PostgresUserStore) ListTenantUsers(ctx context.Context, tenantID int64) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 ORDER BY email`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var result []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		result = append(result, user)
	}
	return result, rows.Err()
}

// DeactivateUser disables an account and releases its tenant seat
func (s *PostgresUserStore) DeactivateUser(ctx context.Context, id int64) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var tenantID *int64
		err := tx.QueryRowContext(ctx, `
			UPDATE users SET is_active = false, updated_at = NOW()
			WHERE id = $1 AND is_active = true
			RETURNING tenant_id
		`, id).Scan(&tenantID)
		if err == sql.ErrNoRows {
			return apperr.NotFound("active user", id)
		}
		if err != nil {
			return fmt.Errorf("failed to deactivate user: %w", err)
		}
		if tenantID == nil {
			return nil
		}
		return tenants.DecrementUsageTx(ctx, tx, *tenantID, tenants.ResourceUsers)
	})
}

// Authenticate checks credentials and stamps the login time. Unknown emails,
// bad passwords and inactive accounts are indistinguishable to the caller.
func (s *PostgresUserStore) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if apperr.IsNotFound(err) {
		return nil, apperr.Unauthorized("invalid email or password")
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive || !CheckPassword(user.PasswordHash, password) {
		return nil, apperr.Unauthorized("invalid email or password")
	}

	now := s.now()
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at = $1 WHERE id = $2`, now, user.ID); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	user.LastLoginAt = &now
	return user, nil
}
