package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/teams"
)

// TeamHandlers serves the teams of the resolved tenant
type TeamHandlers struct {
	teams teams.Service
}

// NewTeamHandlers creates team handlers
func NewTeamHandlers(svc teams.Service) *TeamHandlers {
	return &TeamHandlers{teams: svc}
}

// RegisterRoutes registers team routes on a router that already requires an
// approved tenant. limitGuard rejects creation once the team ceiling is hit.
func (h *TeamHandlers) RegisterRoutes(router *mux.Router, limitGuard func(http.Handler) http.Handler) {
	router.HandleFunc("/teams", h.listTeams).Methods("GET")
	router.Handle("/teams", guard(h.createTeam, limitGuard)).Methods("POST")
	router.HandleFunc("/teams/{id}", h.getTeam).Methods("GET")
	router.HandleFunc("/teams/{id}", h.deleteTeam).Methods("DELETE")
	router.HandleFunc("/teams/{id}/members", h.listMembers).Methods("GET")
	router.HandleFunc("/teams/{id}/members", h.addMember).Methods("POST")
	router.HandleFunc("/teams/{id}/members/{user_id}", h.removeMember).Methods("DELETE")
}

// requireWorkManager writes 403 unless the caller may change teams and tasks
func requireWorkManager(w http.ResponseWriter, r *http.Request) bool {
	if !caller(r).CanManageWork() {
		forbidden(w)
		return false
	}
	return true
}

// listTeams handles GET /teams
func (h *TeamHandlers) listTeams(w http.ResponseWriter, r *http.Request) {
	list, err := h.teams.ListTeams(r.Context(), requestTenant(r).ID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", list)
}

// createTeam handles POST /teams
func (h *TeamHandlers) createTeam(w http.ResponseWriter, r *http.Request) {
	if !requireWorkManager(w, r) {
		return
	}
	var req teams.CreateTeamRequest
	if !decode(w, r, &req) {
		return
	}
	ac := caller(r)

	team, err := h.teams.CreateTeam(r.Context(), requestTenant(r).ID, &req, ac.ActorID(), ac.IsSuperAdmin())
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, "Team created", team)
}

// getTeam handles GET /teams/{id}
func (h *TeamHandlers) getTeam(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	team, err := h.teams.GetTeam(r.Context(), requestTenant(r).ID, id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", team)
}

// deleteTeam handles DELETE /teams/{id}
func (h *TeamHandlers) deleteTeam(w http.ResponseWriter, r *http.Request) {
	if !requireWorkManager(w, r) {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.teams.DeleteTeam(r.Context(), requestTenant(r).ID, id); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listMembers handles GET /teams/{id}/members
func (h *TeamHandlers) listMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	members, err := h.teams.ListMembers(r.Context(), requestTenant(r).ID, id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", members)
}

// addMember handles POST /teams/{id}/members
func (h *TeamHandlers) addMember(w http.ResponseWriter, r *http.Request) {
	if !requireWorkManager(w, r) {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req teams.AddMemberRequest
	if !decode(w, r, &req) {
		return
	}

	member, err := h.teams.AddMember(r.Context(), requestTenant(r).ID, id, &req, caller(r).ActorID())
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, "Member added", member)
}

// removeMember handles DELETE /teams/{id}/members/{user_id}
func (h *TeamHandlers) removeMember(w http.ResponseWriter, r *http.Request) {
	if !requireWorkManager(w, r) {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	if err := h.teams.RemoveMember(r.Context(), requestTenant(r).ID, id, userID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
