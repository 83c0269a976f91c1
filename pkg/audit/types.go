package audit

import (
	"encoding/json"
	"time"
)

// Action classifies an activity log entry
type Action string

const (
	ActionCreate       Action = "CREATE"
	ActionUpdate       Action = "UPDATE"
	ActionDelete       Action = "DELETE"
	ActionLogin        Action = "LOGIN"
	ActionLogout       Action = "LOGOUT"
	ActionView         Action = "VIEW"
	ActionDownload     Action = "DOWNLOAD"
	ActionUpload       Action = "UPLOAD"
	ActionApprove      Action = "APPROVE"
	ActionReject       Action = "REJECT"
	ActionSuspend      Action = "SUSPEND"
	ActionActivate     Action = "ACTIVATE"
	ActionInvite       Action = "INVITE"
	ActionAcceptInvite Action = "ACCEPT_INVITE"
	ActionPayment      Action = "PAYMENT"
	ActionOther        Action = "OTHER"
)

var validActions = map[Action]bool{
	ActionCreate: true, ActionUpdate: true, ActionDelete: true, ActionLogin: true,
	ActionLogout: true, ActionView: true, ActionDownload: true, ActionUpload: true,
	ActionApprove: true, ActionReject: true, ActionSuspend: true, ActionActivate: true,
	ActionInvite: true, ActionAcceptInvite: true, ActionPayment: true, ActionOther: true,
}

// Valid reports whether a is a known action
func (a Action) Valid() bool {
	return validActions[a]
}

// Resource types recorded in activity and audit logs
const (
	ResourceTenant       = "tenant"
	ResourceUser         = "user"
	ResourceSubscription = "subscription"
	ResourcePayment      = "payment"
	ResourceInvoice      = "invoice"
	ResourcePlan         = "plan"
	ResourceTeam         = "team"
	ResourceTask         = "task"
	ResourceInvitation   = "invitation"
	ResourceDomain       = "domain"
	ResourceSettings     = "settings"
)

// MaxUserAgentLength is the longest user agent stored on an activity entry
const MaxUserAgentLength = 500

// ActivityLog is a tenant scoped record of something a user did
type ActivityLog struct {
	ID           int64                  `json:"id"`
	TenantID     *int64                 `json:"tenant_id,omitempty"`
	UserID       *int64                 `json:"user_id,omitempty"`
	Action       Action                 `json:"action"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Description  string                 `json:"description,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	UserAgent    string                 `json:"user_agent,omitempty"`
	Path         string                 `json:"path,omitempty"`
	Method       string                 `json:"method,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// AdminAuditLog records an administrative action with before/after snapshots
type AdminAuditLog struct {
	ID          int64                  `json:"id"`
	AdminUserID *int64                 `json:"admin_user_id,omitempty"`
	Action      string                 `json:"action"`
	TargetModel string                 `json:"target_model"`
	TargetID    string                 `json:"target_id"`
	OldValues   map[string]interface{} `json:"old_values,omitempty"`
	NewValues   map[string]interface{} `json:"new_values,omitempty"`
	Notes       string                 `json:"notes,omitempty"`
	IPAddress   string                 `json:"ip_address,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// ToJSON converts the entry to JSON
func (e *ActivityLog) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ActivityFilter narrows SearchActivity
type ActivityFilter struct {
	StartTime    *time.Time
	EndTime      *time.Time
	TenantID     *int64
	UserID       *int64
	Actions      []Action
	ResourceType string
	ResourceID   string
	IPAddress    string

	Limit  int
	Offset int
}

// AdminFilter narrows SearchAdminActions
type AdminFilter struct {
	StartTime   *time.Time
	EndTime     *time.Time
	AdminUserID *int64
	Action      string
	TargetModel string
	TargetID    string

	Limit  int
	Offset int
}

// RetentionPolicy controls how long activity entries are kept
type RetentionPolicy struct {
	RetentionDays int
}

// DefaultRetentionPolicy keeps activity for a year
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{RetentionDays: 365}
}
