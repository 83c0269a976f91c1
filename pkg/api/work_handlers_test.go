package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/tasks"
	"github.com/platinummonkey/tenancy/pkg/teams"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

func TestWorkRoutesRequireApprovedTenant(t *testing.T) {
	suspended := activeTenant(6)
	suspended.Status = tenants.StatusSuspended
	pending := activeTenant(7)
	pending.Status = tenants.StatusPending
	pending.IsApproved = false

	h := newHarness(t, activeTenant(5), suspended, pending)
	h.teams.listTeamsFunc = func(tenantID int64) ([]*teams.Team, error) {
		return []*teams.Team{{ID: 1, TenantID: tenantID, Name: "Core"}}, nil
	}

	tests := []struct {
		name    string
		user    *auth.User
		headers []string
		want    int
		message string
	}{
		{"active tenant member", tenantUser(11, 5, auth.RoleMember), nil, http.StatusOK, ""},
		{"suspended tenant", tenantUser(12, 6, auth.RoleMember), nil, http.StatusForbidden, "Your organization is suspended"},
		{"pending tenant", tenantUser(13, 7, auth.RoleTenantAdmin), nil, http.StatusForbidden, "Your organization is pending approval"},
		{"super admin without tenant", superAdmin1(), nil, http.StatusBadRequest, "X-Tenant header is required"},
		{"super admin acting in tenant", superAdmin1(), []string{"X-Tenant", "6"}, http.StatusOK, ""},
		{"anonymous", nil, nil, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, "GET", "/teams", nil, tt.user, tt.headers...)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.message != "" {
				assert.Equal(t, tt.message, readEnvelope(t, rec).Error)
			}
		})
	}
}

func TestCreateTeamLimitGuard(t *testing.T) {
	full := activeTenant(5)
	full.CurrentTeamsCount = full.MaxTeams

	h := newHarness(t, full)
	var bypass bool
	var calls int
	h.teams.createTeamFunc = func(tenantID int64, req *teams.CreateTeamRequest, ownerID *int64, bypassLimits bool) (*teams.Team, error) {
		calls++
		bypass = bypassLimits
		return &teams.Team{ID: 2, TenantID: tenantID, Name: req.Name, OwnerID: ownerID}, nil
	}
	body := teams.CreateTeamRequest{Name: "Platform"}

	rec := h.do(t, "POST", "/teams", body, tenantUser(10, 5, auth.RoleTenantAdmin))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperr.CodeLimitExceeded, readEnvelope(t, rec).Code)
	assert.Equal(t, []string{"teams"}, h.observer.rejections)
	assert.Zero(t, calls)

	rec = h.do(t, "POST", "/teams", body, superAdmin1(), "X-Tenant", "5")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, bypass)
}

func TestTeamManagementRequiresManager(t *testing.T) {
	h := newHarness(t, activeTenant(5))
	var ownerID *int64
	h.teams.createTeamFunc = func(tenantID int64, req *teams.CreateTeamRequest, owner *int64, bypassLimits bool) (*teams.Team, error) {
		ownerID = owner
		assert.False(t, bypassLimits)
		return &teams.Team{ID: 2, TenantID: tenantID, Name: req.Name}, nil
	}
	h.teams.removeMemberFunc = func(tenantID, teamID, userID int64) error {
		assert.Equal(t, int64(5), tenantID)
		assert.Equal(t, int64(2), teamID)
		assert.Equal(t, int64(30), userID)
		return nil
	}

	rec := h.do(t, "POST", "/teams", teams.CreateTeamRequest{Name: "Ops"}, tenantUser(11, 5, auth.RoleMember))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, "POST", "/teams", teams.CreateTeamRequest{Name: "Ops"}, tenantUser(12, 5, auth.RoleManager))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, ownerID)
	assert.Equal(t, int64(12), *ownerID)

	rec = h.do(t, "DELETE", "/teams/2/members/30", nil, tenantUser(11, 5, auth.RoleMember))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, "DELETE", "/teams/2/members/30", nil, tenantUser(12, 5, auth.RoleManager))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAddMemberRecordsInviter(t *testing.T) {
	h := newHarness(t, activeTenant(5))
	h.teams.addMemberFunc = func(tenantID, teamID int64, req *teams.AddMemberRequest, invitedBy *int64) (*teams.Member, error) {
		require.NotNil(t, invitedBy)
		assert.Equal(t, int64(10), *invitedBy)
		return &teams.Member{ID: 1, TeamID: teamID, UserID: req.UserID, Role: req.Role, InvitedBy: invitedBy}, nil
	}

	rec := h.do(t, "POST", "/teams/2/members", map[string]interface{}{"user_id": 30, "role": "MEMBER"}, tenantUser(10, 5, auth.RoleTenantAdmin))

	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreateTaskLimitGuard(t *testing.T) {
	full := activeTenant(5)
	full.CurrentProjectsCount = full.MaxProjects

	h := newHarness(t, full)
	rec := h.do(t, "POST", "/tasks", tasks.CreateTaskRequest{Title: "Ship it"}, tenantUser(11, 5, auth.RoleMember))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, []string{"projects"}, h.observer.rejections)
}

func TestCreateTaskByMember(t *testing.T) {
	h := newHarness(t, activeTenant(5))
	h.tasks.createTaskFunc = func(tenantID int64, req *tasks.CreateTaskRequest, createdBy *int64, bypassLimits bool) (*tasks.Task, error) {
		require.NotNil(t, createdBy)
		assert.Equal(t, int64(11), *createdBy)
		assert.False(t, bypassLimits)
		return &tasks.Task{ID: 4, TenantID: tenantID, Title: req.Title, Status: tasks.StatusTodo, Priority: tasks.PriorityMedium}, nil
	}

	rec := h.do(t, "POST", "/tasks", tasks.CreateTaskRequest{Title: "Ship it"}, tenantUser(11, 5, auth.RoleMember))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var task tasks.Task
	readData(t, rec, &task)
	assert.Equal(t, tasks.StatusTodo, task.Status)
}

func TestListTasksFilter(t *testing.T) {
	h := newHarness(t, activeTenant(5))
	var got tasks.Filter
	h.tasks.listTasksFunc = func(tenantID int64, filter tasks.Filter) ([]*tasks.Task, error) {
		assert.Equal(t, int64(5), tenantID)
		got = filter
		return nil, nil
	}

	rec := h.do(t, "GET", "/tasks?status=IN_PROGRESS&priority=HIGH&team_id=2&overdue=true&search=deploy", nil, tenantUser(11, 5, auth.RoleMember))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, tasks.StatusInProgress, got.Status)
	assert.Equal(t, tasks.PriorityHigh, got.Priority)
	require.NotNil(t, got.TeamID)
	assert.Equal(t, int64(2), *got.TeamID)
	assert.True(t, got.Overdue)
	assert.Equal(t, "deploy", got.Search)
}

func TestChangeTaskStatus(t *testing.T) {
	h := newHarness(t, activeTenant(5))
	h.tasks.changeStatusFunc = func(tenantID, id int64, status tasks.Status) (*tasks.Task, error) {
		if status == tasks.StatusCompleted {
			return nil, apperr.InvalidTransition("task", string(tasks.StatusTodo), "complete")
		}
		return &tasks.Task{ID: id, TenantID: tenantID, Status: status}, nil
	}
	member := tenantUser(11, 5, auth.RoleMember)

	rec := h.do(t, "POST", "/tasks/4/status", map[string]string{"status": "IN_PROGRESS"}, member)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, "POST", "/tasks/4/status", map[string]string{"status": "COMPLETED"}, member)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeInvalidTransition, readEnvelope(t, rec).Code)

	rec = h.do(t, "POST", "/tasks/4/status", map[string]string{"status": "DONE"}, member)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeValidation, readEnvelope(t, rec).Code)
}

func TestDeleteTaskRequiresManager(t *testing.T) {
	h := newHarness(t, activeTenant(5))
	h.tasks.deleteTaskFunc = func(tenantID, id int64) error { return nil }

	rec := h.do(t, "DELETE", "/tasks/4", nil, tenantUser(11, 5, auth.RoleMember))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, "DELETE", "/tasks/4", nil, tenantUser(10, 5, auth.RoleTenantAdmin))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
