package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/hubrelay/internal/audit"
)

// handleListAuditLogs returns one page of the activity log.
//
// Query parameters:
//   - action: filter by action (hub_started, notification_action, ...)
//   - subject: filter by subject (notification action name, entity id)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		errNotFound.write(w, "activity log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:  q.Get("action"),
		Subject: q.Get("subject"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		errInternal.write(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
