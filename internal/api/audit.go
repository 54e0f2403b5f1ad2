package api

import (
	"net/http"

	"github.com/nerrad567/gray-logic-grow/internal/audit"
	"github.com/nerrad567/gray-logic-grow/internal/auth"
)

// handleListAuditLogs returns paginated audit entries. Admin only.
//
// Query parameters:
//   - action: filter by action (create, publish, dispatch, ...)
//   - entity_type: filter by entity type (grow_cycle, command, recipe_revision, ...)
//   - entity_id: filter by specific entity ID
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.requireSite(r, auth.CapSiteManage); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if s.auditRepo == nil {
		writeInternalError(w, "audit logging not configured")
		return
	}

	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}
	q := r.URL.Query()
	result, err := s.auditRepo.List(r.Context(), audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
