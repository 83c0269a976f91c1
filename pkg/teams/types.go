package teams

import (
	"time"
)

// MemberRole is a user's role inside one team
type MemberRole string

const (
	RoleOwner  MemberRole = "OWNER"
	RoleAdmin  MemberRole = "ADMIN"
	RoleMember MemberRole = "MEMBER"
)

// Valid reports whether r is a known team role
func (r MemberRole) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// Team groups users of a tenant
type Team struct {
	ID           int64     `json:"id"`
	TenantID     int64     `json:"tenant_id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description,omitempty"`
	OwnerID      *int64    `json:"owner_id,omitempty"`
	IsPrivate    bool      `json:"is_private"`
	MembersCount int       `json:"members_count"`
	TasksCount   int       `json:"tasks_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Member is a user's membership in a team
type Member struct {
	ID        int64      `json:"id"`
	TeamID    int64      `json:"team_id"`
	UserID    int64      `json:"user_id"`
	Role      MemberRole `json:"role"`
	InvitedBy *int64     `json:"invited_by,omitempty"`
	JoinedAt  time.Time  `json:"joined_at"`
	Email     string     `json:"email,omitempty"`
	FullName  string     `json:"full_name,omitempty"`
}

// CreateTeamRequest represents a new team
type CreateTeamRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Slug        string `json:"slug,omitempty" validate:"omitempty,max=100"`
	Description string `json:"description,omitempty"`
	IsPrivate   bool   `json:"is_private"`
}

// AddMemberRequest adds a tenant user to a team
type AddMemberRequest struct {
	UserID int64      `json:"user_id" validate:"required"`
	Role   MemberRole `json:"role,omitempty" validate:"omitempty,oneof=OWNER ADMIN MEMBER"`
}
