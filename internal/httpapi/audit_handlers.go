package httpapi

import (
	"net/http"
	"strings"
	"time"

	"stordesk.io/internal/audit"
)

// handleAuditLogs serves the trail, manager-only. Filters arrive as query
// parameters; timestamps are RFC 3339.
func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		UserID:       strings.TrimSpace(q.Get("user_id")),
		Action:       strings.TrimSpace(q.Get("action")),
		ResourceType: strings.TrimSpace(q.Get("resource_type")),
		Status:       strings.TrimSpace(q.Get("status")),
	}
	if v := q.Get("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "start_time must be RFC 3339")
			return
		}
		filter.Start = t
	}
	if v := q.Get("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "end_time must be RFC 3339")
			return
		}
		filter.End = t
	}
	if !filter.Start.IsZero() && !filter.End.IsZero() && filter.End.Before(filter.Start) {
		writeError(w, r, http.StatusBadRequest, "end_time must not precede start_time")
		return
	}

	page := pageFromQuery(r)
	events, total, err := a.trail.List(r.Context(), filter, page)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeList(w, events, total, page)
}
