package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/tasks"
)

// TaskHandlers serves the tasks of the resolved tenant
type TaskHandlers struct {
	tasks tasks.Service
}

// NewTaskHandlers creates task handlers
func NewTaskHandlers(svc tasks.Service) *TaskHandlers {
	return &TaskHandlers{tasks: svc}
}

// RegisterRoutes registers task routes on a router that already requires an
// approved tenant. limitGuard rejects creation once the project ceiling is hit.
func (h *TaskHandlers) RegisterRoutes(router *mux.Router, limitGuard func(http.Handler) http.Handler) {
	router.HandleFunc("/tasks", h.listTasks).Methods("GET")
	router.Handle("/tasks", guard(h.createTask, limitGuard)).Methods("POST")
	router.HandleFunc("/tasks/{id}", h.getTask).Methods("GET")
	router.HandleFunc("/tasks/{id}", h.updateTask).Methods("PUT")
	router.HandleFunc("/tasks/{id}", h.deleteTask).Methods("DELETE")
	router.HandleFunc("/tasks/{id}/status", h.changeStatus).Methods("POST")
}

// listTasks handles GET /tasks
func (h *TaskHandlers) listTasks(w http.ResponseWriter, r *http.Request) {
	teamID, err := httputil.ParseQueryInt64(r, "team_id")
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	assignedTo, err := httputil.ParseQueryInt64(r, "assigned_to")
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	overdue, err := httputil.ParseQueryBool(r, "overdue", false)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	limit, offset, err := paging(r)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	list, err := h.tasks.ListTasks(r.Context(), requestTenant(r).ID, tasks.Filter{
		Status:     tasks.Status(httputil.ParseQueryString(r, "status", "")),
		Priority:   tasks.Priority(httputil.ParseQueryString(r, "priority", "")),
		TeamID:     teamID,
		AssignedTo: assignedTo,
		Overdue:    overdue,
		Search:     httputil.ParseQueryString(r, "search", ""),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", list)
}

// createTask handles POST /tasks
func (h *TaskHandlers) createTask(w http.ResponseWriter, r *http.Request) {
	var req tasks.CreateTaskRequest
	if !decode(w, r, &req) {
		return
	}
	ac := caller(r)

	task, err := h.tasks.CreateTask(r.Context(), requestTenant(r).ID, &req, ac.ActorID(), ac.IsSuperAdmin())
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, "Task created", task)
}

// getTask handles GET /tasks/{id}
func (h *TaskHandlers) getTask(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	task, err := h.tasks.GetTask(r.Context(), requestTenant(r).ID, id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "", task)
}

// updateTask handles PUT /tasks/{id}
func (h *TaskHandlers) updateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req tasks.UpdateTaskRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := h.tasks.UpdateTask(r.Context(), requestTenant(r).ID, id, &req)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "Task updated", task)
}

type changeStatusRequest struct {
	Status tasks.Status `json:"status" validate:"required,oneof=TODO IN_PROGRESS IN_REVIEW COMPLETED CANCELLED"`
}

// changeStatus handles POST /tasks/{id}/status
func (h *TaskHandlers) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req changeStatusRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := h.tasks.ChangeStatus(r.Context(), requestTenant(r).ID, id, req.Status)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteOK(w, "Task status changed", task)
}

// deleteTask handles DELETE /tasks/{id}
func (h *TaskHandlers) deleteTask(w http.ResponseWriter, r *http.Request) {
	if !requireWorkManager(w, r) {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.tasks.DeleteTask(r.Context(), requestTenant(r).ID, id); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
