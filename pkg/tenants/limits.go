package tenants

import "github.com/platinummonkey/tenancy/pkg/apperr"

// Ceilings returns the limits currently copied onto the tenant
func (t *Tenant) Ceilings() Ceilings {
	return Ceilings{
		MaxUsers:     t.MaxUsers,
		MaxTeams:     t.MaxTeams,
		MaxProjects:  t.MaxProjects,
		MaxStorageGB: t.MaxStorageGB,
	}
}

// LimitStatus reports which ceilings are reached. A resource is at its limit
// when current >= max.
func (t *Tenant) LimitStatus() LimitStatus {
	return LimitStatus{
		Users:    t.CurrentUsersCount >= t.MaxUsers,
		Teams:    t.CurrentTeamsCount >= t.MaxTeams,
		Projects: t.CurrentProjectsCount >= t.MaxProjects,
		Storage:  t.CurrentStorageGB.GreaterThanOrEqual(t.MaxStorageGB),
	}
}

// Guard returns a limit error when the tenant may not create another unit of
// resource. Super admins skip this check at the call site.
func (t *Tenant) Guard(resource Resource) error {
	if !t.LimitStatus().Reached(resource) {
		return nil
	}
	current, limit := t.usage(resource)
	return apperr.LimitExceeded(&LimitExceededError{Resource: resource, Current: current, Limit: limit})
}

func (t *Tenant) usage(resource Resource) (int64, int64) {
	switch resource {
	case ResourceUsers:
		return int64(t.CurrentUsersCount), int64(t.MaxUsers)
	case ResourceTeams:
		return int64(t.CurrentTeamsCount), int64(t.MaxTeams)
	case ResourceProjects:
		return int64(t.CurrentProjectsCount), int64(t.MaxProjects)
	case ResourceStorage:
		return t.CurrentStorageGB.IntPart(), t.MaxStorageGB.IntPart()
	}
	return 0, 0
}
