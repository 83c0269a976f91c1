package audit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/httputil"
)

// Store is the read side of the audit trail
type Store interface {
	SearchActivity(ctx context.Context, filter ActivityFilter) ([]*ActivityLog, error)
	SearchAdminActions(ctx context.Context, filter AdminFilter) ([]*AdminAuditLog, error)
}

// Handlers serves the audit trail to super admins. Access control is applied
// by the router.
type Handlers struct {
	store Store
}

// NewHandlers creates new audit handlers
func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers audit routes on router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/activity", h.listActivity).Methods("GET")
	router.HandleFunc("/audit/activity/export", h.exportActivity).Methods("GET")
	router.HandleFunc("/audit/admin", h.listAdminActions).Methods("GET")
}

// listActivity handles GET /audit/activity
func (h *Handlers) listActivity(w http.ResponseWriter, r *http.Request) {
	filter, err := parseActivityFilter(r)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	entries, err := h.store.SearchActivity(r.Context(), filter)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	httputil.WriteOK(w, "", map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// exportActivity handles GET /audit/activity/export
func (h *Handlers) exportActivity(w http.ResponseWriter, r *http.Request) {
	filter, err := parseActivityFilter(r)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if r.URL.Query().Get("limit") == "" {
		filter.Limit = 1000
	}

	entries, err := h.store.SearchActivity(r.Context(), filter)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	data, err := ExportActivityCSV(entries)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=activity-logs.csv")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// listAdminActions handles GET /audit/admin
func (h *Handlers) listAdminActions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := AdminFilter{
		Action:      query.Get("action"),
		TargetModel: query.Get("target_model"),
		TargetID:    query.Get("target_id"),
	}

	var err error
	if filter.StartTime, err = parseTime(query.Get("start_time"), "start_time"); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if filter.EndTime, err = parseTime(query.Get("end_time"), "end_time"); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if filter.AdminUserID, err = parseID(query.Get("admin_user_id"), "admin_user_id"); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if filter.Limit, filter.Offset, err = parsePage(r); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	entries, err := h.store.SearchAdminActions(r.Context(), filter)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	httputil.WriteOK(w, "", map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

func parseActivityFilter(r *http.Request) (ActivityFilter, error) {
	query := r.URL.Query()
	filter := ActivityFilter{
		ResourceType: query.Get("resource_type"),
		ResourceID:   query.Get("resource_id"),
		IPAddress:    query.Get("ip_address"),
	}

	var err error
	if filter.StartTime, err = parseTime(query.Get("start_time"), "start_time"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = parseTime(query.Get("end_time"), "end_time"); err != nil {
		return filter, err
	}
	if filter.TenantID, err = parseID(query.Get("tenant_id"), "tenant_id"); err != nil {
		return filter, err
	}
	if filter.UserID, err = parseID(query.Get("user_id"), "user_id"); err != nil {
		return filter, err
	}

	for _, a := range strings.Split(query.Get("action"), ",") {
		a = strings.ToUpper(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if !Action(a).Valid() {
			return filter, apperr.Validation("unknown action %q", a)
		}
		filter.Actions = append(filter.Actions, Action(a))
	}

	filter.Limit, filter.Offset, err = parsePage(r)
	return filter, err
}

func parseTime(s, field string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, apperr.Validation("%s must be an RFC 3339 timestamp", field)
	}
	return &t, nil
}

func parseID(s, field string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return nil, apperr.Validation("%s must be a positive integer", field)
	}
	return &id, nil
}

func parsePage(r *http.Request) (int, int, error) {
	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		return 0, 0, apperr.Validation("%s", err.Error())
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		return 0, 0, apperr.Validation("%s", err.Error())
	}
	if limit < 1 || offset < 0 {
		return 0, 0, apperr.Validation("invalid page: limit=%d offset=%d", limit, offset)
	}
	return limit, offset, nil
}
