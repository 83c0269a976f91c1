package tenants

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle status of a tenant
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusCancelled Status = "CANCELLED"
)

// Tenant is a customer organization, the unit of billing and isolation
type Tenant struct {
	ID                    int64           `json:"id"`
	Name                  string          `json:"name"`
	Slug                  string          `json:"slug"`
	CompanyName           string          `json:"company_name,omitempty"`
	CompanyEmail          string          `json:"company_email"`
	Phone                 string          `json:"phone,omitempty"`
	Address               string          `json:"address,omitempty"`
	PrimaryColor          string          `json:"primary_color"`
	Status                Status          `json:"status"`
	IsApproved            bool            `json:"is_approved"`
	ApprovedAt            *time.Time      `json:"approved_at,omitempty"`
	ApprovedBy            *int64          `json:"approved_by,omitempty"`
	CurrentSubscriptionID *int64          `json:"current_subscription_id,omitempty"`
	MaxUsers              int             `json:"max_users"`
	MaxTeams              int             `json:"max_teams"`
	MaxProjects           int             `json:"max_projects"`
	MaxStorageGB          decimal.Decimal `json:"max_storage_gb"`
	CurrentUsersCount     int             `json:"current_users_count"`
	CurrentTeamsCount     int             `json:"current_teams_count"`
	CurrentProjectsCount  int             `json:"current_projects_count"`
	CurrentStorageGB      decimal.Decimal `json:"current_storage_gb"`
	AllowUserRegistration bool            `json:"allow_user_registration"`
	RequireEmailVerify    bool            `json:"require_email_verification"`
	TwoFactorRequired     bool            `json:"two_factor_auth_required"`
	TrialEndsAt           *time.Time      `json:"trial_ends_at,omitempty"`
	Notes                 string          `json:"notes,omitempty"`
	Metadata              map[string]any  `json:"metadata,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// IsActive reports whether the tenant may use the product
func (t *Tenant) IsActive() bool {
	return t.Status == StatusActive
}

// IsTrial reports whether the tenant is inside its trial window at now
func (t *Tenant) IsTrial(now time.Time) bool {
	return t.TrialEndsAt != nil && now.Before(*t.TrialEndsAt)
}

// TrialDaysRemaining returns whole days left in the trial, floored at zero
func (t *Tenant) TrialDaysRemaining(now time.Time) int {
	if !t.IsTrial(now) {
		return 0
	}
	return int(t.TrialEndsAt.Sub(now).Hours() / 24)
}

// Resource names a limited tenant resource
type Resource string

const (
	ResourceUsers    Resource = "users"
	ResourceTeams    Resource = "teams"
	ResourceProjects Resource = "projects"
	ResourceStorage  Resource = "storage"
)

// Ceilings are the limits copied onto a tenant from its plan
type Ceilings struct {
	MaxUsers     int             `json:"max_users"`
	MaxTeams     int             `json:"max_teams"`
	MaxProjects  int             `json:"max_projects"`
	MaxStorageGB decimal.Decimal `json:"max_storage_gb"`
}

// LimitStatus reports, per resource, whether the tenant is at or over its
// ceiling
type LimitStatus struct {
	Users    bool `json:"users"`
	Teams    bool `json:"teams"`
	Projects bool `json:"projects"`
	Storage  bool `json:"storage"`
}

// Reached reports whether the ceiling for resource has been reached
func (l LimitStatus) Reached(resource Resource) bool {
	switch resource {
	case ResourceUsers:
		return l.Users
	case ResourceTeams:
		return l.Teams
	case ResourceProjects:
		return l.Projects
	case ResourceStorage:
		return l.Storage
	}
	return false
}

// Stats summarizes a tenant's usage
type Stats struct {
	TenantID         int64           `json:"tenant_id"`
	Status           Status          `json:"status"`
	UsersCount       int             `json:"users_count"`
	TeamsCount       int             `json:"teams_count"`
	ProjectsCount    int             `json:"projects_count"`
	StorageUsedGB    decimal.Decimal `json:"storage_used_gb"`
	Ceilings         Ceilings        `json:"limits"`
	Limits           LimitStatus     `json:"limits_reached"`
	OpenTasksCount   int             `json:"open_tasks_count"`
	ActiveTeamsCount int             `json:"active_teams_count"`
	IsTrial          bool            `json:"is_trial"`
	TrialDaysLeft    int             `json:"trial_days_remaining"`
}

// LimitExceededError represents a tenant hitting a plan ceiling
type LimitExceededError struct {
	Resource Resource
	Current  int64
	Limit    int64
}

func (e *LimitExceededError) Error() string {
	switch e.Resource {
	case ResourceTeams:
		return "Team limit reached. Please upgrade your plan."
	case ResourceProjects:
		return "Project limit reached. Please upgrade your plan."
	case ResourceUsers:
		return "User limit reached. Please upgrade your plan."
	case ResourceStorage:
		return "Storage limit reached. Please upgrade your plan."
	}
	return fmt.Sprintf("%s limit reached (%d/%d)", e.Resource, e.Current, e.Limit)
}

// CreateTenantRequest represents a tenant registration
type CreateTenantRequest struct {
	Name         string `json:"name" validate:"required,max=255"`
	Slug         string `json:"slug,omitempty" validate:"omitempty,max=100"`
	CompanyName  string `json:"company_name,omitempty" validate:"max=255"`
	CompanyEmail string `json:"company_email" validate:"required,email"`
	Phone        string `json:"phone,omitempty" validate:"max=50"`
	Address      string `json:"address,omitempty"`
}

// UpdateTenantRequest represents a partial tenant profile update
type UpdateTenantRequest struct {
	Name                  *string `json:"name,omitempty" validate:"omitempty,max=255"`
	CompanyName           *string `json:"company_name,omitempty"`
	CompanyEmail          *string `json:"company_email,omitempty" validate:"omitempty,email"`
	Phone                 *string `json:"phone,omitempty"`
	Address               *string `json:"address,omitempty"`
	PrimaryColor          *string `json:"primary_color,omitempty" validate:"omitempty,hexcolor"`
	AllowUserRegistration *bool   `json:"allow_user_registration,omitempty"`
	RequireEmailVerify    *bool   `json:"require_email_verification,omitempty"`
	TwoFactorRequired     *bool   `json:"two_factor_auth_required,omitempty"`
}

// ListFilter narrows a tenant listing
type ListFilter struct {
	Status Status
	Search string
	Limit  int
	Offset int
}

// DomainType classifies a tenant domain
type DomainType string

const (
	DomainPrimary   DomainType = "PRIMARY"
	DomainSubdomain DomainType = "SUBDOMAIN"
	DomainCustom    DomainType = "CUSTOM"
)

// Domain maps a hostname to a tenant
type Domain struct {
	ID         int64      `json:"id"`
	TenantID   int64      `json:"tenant_id"`
	Domain     string     `json:"domain"`
	Type       DomainType `json:"type"`
	IsVerified bool       `json:"is_verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// InvitationStatus represents the state of an invitation
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationExpired  InvitationStatus = "EXPIRED"
	InvitationRevoked  InvitationStatus = "REVOKED"
)

// InvitationTTL is how long an invitation stays valid
const InvitationTTL = 7 * 24 * time.Hour

// Invitation invites an email address to join a tenant
type Invitation struct {
	ID         int64            `json:"id"`
	TenantID   int64            `json:"tenant_id"`
	Email      string           `json:"email"`
	Role       string           `json:"role"`
	Token      string           `json:"token,omitempty"`
	InvitedBy  *int64           `json:"invited_by,omitempty"`
	Status     InvitationStatus `json:"status"`
	ExpiresAt  time.Time        `json:"expires_at"`
	AcceptedAt *time.Time       `json:"accepted_at,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// IsExpired reports whether the invitation can no longer be accepted
func (i *Invitation) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// Settings are per-tenant feature and notification toggles
type Settings struct {
	TenantID           int64     `json:"tenant_id"`
	EnableTeams        bool      `json:"enable_teams"`
	EnableTasks        bool      `json:"enable_tasks"`
	EnableFileUploads  bool      `json:"enable_file_uploads"`
	EnableAPIAccess    bool      `json:"enable_api_access"`
	EmailNotifications bool      `json:"email_notifications"`
	TaskReminders      bool      `json:"task_reminders"`
	Timezone           string    `json:"timezone"`
	Language           string    `json:"language"`
	DateFormat         string    `json:"date_format"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// UpdateSettingsRequest represents a partial settings update
type UpdateSettingsRequest struct {
	EnableTeams        *bool   `json:"enable_teams,omitempty"`
	EnableTasks        *bool   `json:"enable_tasks,omitempty"`
	EnableFileUploads  *bool   `json:"enable_file_uploads,omitempty"`
	EnableAPIAccess    *bool   `json:"enable_api_access,omitempty"`
	EmailNotifications *bool   `json:"email_notifications,omitempty"`
	TaskReminders      *bool   `json:"task_reminders,omitempty"`
	Timezone           *string `json:"timezone,omitempty"`
	Language           *string `json:"language,omitempty" validate:"omitempty,max=10"`
	DateFormat         *string `json:"date_format,omitempty" validate:"omitempty,max=20"`
}
