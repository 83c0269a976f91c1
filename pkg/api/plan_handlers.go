package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/middleware"
	"github.com/platinummonkey/tenancy/pkg/plans"
)

// PlanHandlers serves the plan catalog
type PlanHandlers struct {
	plans plans.Service
}

// NewPlanHandlers creates plan handlers. Reads and updates go through catalog
// when one is given so its cache stays coherent.
func NewPlanHandlers(svc plans.Service, catalog *plans.Catalog) *PlanHandlers {
	h := &PlanHandlers{plans: svc}
	if catalog != nil {
		h.plans = catalog
	}
	return h
}

// RegisterRoutes registers plan routes
func (h *PlanHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/plans", h.listPlans).Methods("GET")
	router.Handle("/plans", superAdmin(h.createPlan)).Methods("POST")
	router.HandleFunc("/plans/slug/{slug}", h.getPlanBySlug).Methods("GET")
	router.HandleFunc("/plans/{id}", h.getPlan).Methods("GET")
	router.Handle("/plans/{id}", superAdmin(h.updatePlan)).Methods("PUT")
}

// isOperator reports whether the request comes from a super admin
func isOperator(r *http.Request) bool {
	return middleware.GetAuthContext(r).IsSuperAdmin()
}

// listPlans handles GET /plans. Anonymous callers and tenant users only see
// active plans; super admins may pass active_only=false.
func (h *PlanHandlers) listPlans(w http.ResponseWriter, r *http.Request) {
	activeOnly := true
	if isOperator(r) {
		var err error
		activeOnly, err = httputil.ParseQueryBool(r, "active_only", false)
		if err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
	}

	list, err := h.plans.ListPlans(r.Context(), activeOnly)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", list)
}

// getPlan handles GET /plans/{id}
func (h *PlanHandlers) getPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	plan, err := h.plans.GetPlan(r.Context(), id)
	h.writePlan(w, r, plan, err)
}

// getPlanBySlug handles GET /plans/slug/{slug}
func (h *PlanHandlers) getPlanBySlug(w http.ResponseWriter, r *http.Request) {
	plan, err := h.plans.GetPlanBySlug(r.Context(), mux.Vars(r)["slug"])
	h.writePlan(w, r, plan, err)
}

func (h *PlanHandlers) writePlan(w http.ResponseWriter, r *http.Request, plan *plans.Plan, err error) {
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if !plan.IsActive && !isOperator(r) {
		httputil.WriteServiceError(w, apperr.NotFound("plan", plan.ID))
		return
	}
	httputil.WriteOK(w, "", plan)
}

// createPlan handles POST /plans
func (h *PlanHandlers) createPlan(w http.ResponseWriter, r *http.Request) {
	var req plans.CreatePlanRequest
	if !decode(w, r, &req) {
		return
	}
	plan, err := h.plans.CreatePlan(r.Context(), &req)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, "Plan created", plan)
}

// updatePlan handles PUT /plans/{id}
func (h *PlanHandlers) updatePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req plans.UpdatePlanRequest
	if !decode(w, r, &req) {
		return
	}
	plan, err := h.plans.UpdatePlan(r.Context(), id, &req)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "Plan updated", plan)
}
