package auth

import (
	"strings"
	"time"
)

// Role is a user's system role
type Role string

const (
	RoleSuperAdmin  Role = "SUPER_ADMIN"  // Operates the platform, bypasses tenant limits
	RoleTenantAdmin Role = "TENANT_ADMIN" // Manages one tenant
	RoleManager     Role = "MANAGER"      // Manages teams and tasks inside a tenant
	RoleMember      Role = "MEMBER"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleTenantAdmin, RoleManager, RoleMember:
		return true
	}
	return false
}

// User is an account. Super admins have no tenant.
type User struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"first_name,omitempty"`
	LastName     string     `json:"last_name,omitempty"`
	Role         Role       `json:"role"`
	TenantID     *int64     `json:"tenant_id,omitempty"`
	IsActive     bool       `json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// FullName joins first and last name, falling back to the email
func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// CreateUserRequest represents a new account
type CreateUserRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name,omitempty" validate:"max=100"`
	LastName  string `json:"last_name,omitempty" validate:"max=100"`
	Role      Role   `json:"role" validate:"required"`
	TenantID  *int64 `json:"tenant_id,omitempty"`
}

// LoginRequest carries credentials
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is returned after a successful login
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// AuthContext holds the authenticated caller
type AuthContext struct {
	UserID   int64
	Email    string
	Role     Role
	TenantID *int64
}

// IsSuperAdmin reports whether the caller operates the platform
func (ac *AuthContext) IsSuperAdmin() bool {
	return ac != nil && ac.Role == RoleSuperAdmin
}

// BelongsTo reports whether the caller is a member of tenantID
func (ac *AuthContext) BelongsTo(tenantID int64) bool {
	return ac != nil && ac.TenantID != nil && *ac.TenantID == tenantID
}

// CanManageTenant reports whether the caller may administer tenantID
func (ac *AuthContext) CanManageTenant(tenantID int64) bool {
	if ac.IsSuperAdmin() {
		return true
	}
	return ac.BelongsTo(tenantID) && ac.Role == RoleTenantAdmin
}

// CanManageWork reports whether the caller may manage teams inside its tenant
func (ac *AuthContext) CanManageWork() bool {
	if ac == nil {
		return false
	}
	switch ac.Role {
	case RoleSuperAdmin, RoleTenantAdmin, RoleManager:
		return true
	}
	return false
}

// ActorID returns a pointer to the caller's user ID, nil when anonymous
func (ac *AuthContext) ActorID() *int64 {
	if ac == nil || ac.UserID == 0 {
		return nil
	}
	id := ac.UserID
	return &id
}
