package plans

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingInterval is how often a plan is billed
type BillingInterval string

const (
	IntervalMonthly   BillingInterval = "MONTHLY"
	IntervalQuarterly BillingInterval = "QUARTERLY"
	IntervalYearly    BillingInterval = "YEARLY"
)

// Valid reports whether the interval is known
func (i BillingInterval) Valid() bool {
	switch i {
	case IntervalMonthly, IntervalQuarterly, IntervalYearly:
		return true
	}
	return false
}

// PeriodDays returns the length of one billing period in days
func (i BillingInterval) PeriodDays() int {
	switch i {
	case IntervalQuarterly:
		return 90
	case IntervalYearly:
		return 365
	default:
		return 30
	}
}

// PeriodEnd returns the end of a billing period that starts at start
func (i BillingInterval) PeriodEnd(start time.Time) time.Time {
	return start.AddDate(0, 0, i.PeriodDays())
}

// Feature names a boolean plan capability
type Feature string

const (
	FeatureAPIAccess       Feature = "api_access"
	FeatureAdvancedReports Feature = "advanced_reports"
	FeaturePrioritySupport Feature = "priority_support"
	FeatureCustomBranding  Feature = "custom_branding"
	FeatureSSO             Feature = "sso"
	FeatureAuditLogs       Feature = "audit_logs"
)

// DefaultTrialDays applies when a plan does not set one
const DefaultTrialDays = 14

// DefaultCurrency is the currency of plans and payments unless set
const DefaultCurrency = "USD"

// Limits are the resource ceilings a plan grants a tenant
type Limits struct {
	MaxUsers     int             `json:"max_users" yaml:"max_users"`
	MaxTeams     int             `json:"max_teams" yaml:"max_teams"`
	MaxProjects  int             `json:"max_projects" yaml:"max_projects"`
	MaxStorageGB decimal.Decimal `json:"max_storage_gb" yaml:"max_storage_gb"`
}

// Features are the boolean capabilities of a plan
type Features struct {
	APIAccess       bool `json:"api_access" yaml:"api_access"`
	AdvancedReports bool `json:"advanced_reports" yaml:"advanced_reports"`
	PrioritySupport bool `json:"priority_support" yaml:"priority_support"`
	CustomBranding  bool `json:"custom_branding" yaml:"custom_branding"`
	SSO             bool `json:"sso" yaml:"sso"`
	AuditLogs       bool `json:"audit_logs" yaml:"audit_logs"`
}

// Has reports whether the feature is enabled
func (f Features) Has(feature Feature) bool {
	switch feature {
	case FeatureAPIAccess:
		return f.APIAccess
	case FeatureAdvancedReports:
		return f.AdvancedReports
	case FeaturePrioritySupport:
		return f.PrioritySupport
	case FeatureCustomBranding:
		return f.CustomBranding
	case FeatureSSO:
		return f.SSO
	case FeatureAuditLogs:
		return f.AuditLogs
	}
	return false
}

// Plan is a priced tier of the catalog
type Plan struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Slug            string          `json:"slug"`
	Description     string          `json:"description,omitempty"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	BillingInterval BillingInterval `json:"billing_interval"`
	Limits
	Features
	IsPopular bool      `json:"is_popular"`
	IsActive  bool      `json:"is_active"`
	SortOrder int       `json:"sort_order"`
	TrialDays int       `json:"trial_days"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasTrial reports whether subscriptions to this plan start in trial
func (p *Plan) HasTrial() bool {
	return p.TrialDays > 0
}

// CreatePlanRequest represents a request to add a plan to the catalog
type CreatePlanRequest struct {
	Name            string          `json:"name" yaml:"name" validate:"required,max=100"`
	Slug            string          `json:"slug" yaml:"slug" validate:"required,max=100"`
	Description     string          `json:"description,omitempty" yaml:"description"`
	Price           decimal.Decimal `json:"price" yaml:"price"`
	Currency        string          `json:"currency,omitempty" yaml:"currency" validate:"omitempty,len=3"`
	BillingInterval BillingInterval `json:"billing_interval" yaml:"billing_interval" validate:"required,oneof=MONTHLY QUARTERLY YEARLY"`
	Limits          `yaml:",inline"`
	Features        `yaml:",inline"`
	IsPopular       bool `json:"is_popular" yaml:"is_popular"`
	IsActive        *bool `json:"is_active,omitempty" yaml:"is_active"`
	SortOrder       int   `json:"sort_order" yaml:"sort_order"`
	TrialDays       *int  `json:"trial_days,omitempty" yaml:"trial_days"`
}

// UpdatePlanRequest represents a partial plan update
type UpdatePlanRequest struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	IsPopular   *bool            `json:"is_popular,omitempty"`
	IsActive    *bool            `json:"is_active,omitempty"`
	SortOrder   *int             `json:"sort_order,omitempty"`
	TrialDays   *int             `json:"trial_days,omitempty"`
	Limits      *Limits          `json:"limits,omitempty"`
	Features    *Features        `json:"features,omitempty"`
}

// toPlan applies defaults and converts the request into a plan
func (r *CreatePlanRequest) toPlan() *Plan {
	plan := &Plan{
		Name:            r.Name,
		Slug:            r.Slug,
		Description:     r.Description,
		Price:           r.Price,
		Currency:        r.Currency,
		BillingInterval: r.BillingInterval,
		Limits:          r.Limits,
		Features:        r.Features,
		IsPopular:       r.IsPopular,
		IsActive:        true,
		SortOrder:       r.SortOrder,
		TrialDays:       DefaultTrialDays,
	}
	if plan.Currency == "" {
		plan.Currency = DefaultCurrency
	}
	if r.IsActive != nil {
		plan.IsActive = *r.IsActive
	}
	if r.TrialDays != nil {
		plan.TrialDays = *r.TrialDays
	}
	return plan
}
