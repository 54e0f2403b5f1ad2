package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type batchTargetsRequest struct {
	ZoneIDs []string `json:"zone_ids"`
}

// handleCycleTargets returns the effective targets of a cycle. Finished
// cycles answer {"snapshot": null}.
//
// GET /cycles/{id}/targets
func (s *Server) handleCycleTargets(w http.ResponseWriter, r *http.Request) {
	snap, err := s.targets.Resolve(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshot": snap})
}

// handleZoneTargets returns the effective targets of the zone's active
// cycle, or {"snapshot": null} when the zone is idle.
//
// GET /zones/{id}/targets
func (s *Server) handleZoneTargets(w http.ResponseWriter, r *http.Request) {
	snap, err := s.targets.ResolveZone(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshot": snap})
}

// handleBatchTargets resolves many zones in one call. Each zone maps to a
// snapshot, null, or {"error": {...}}.
//
// POST /targets/batch
// Body: {"zone_ids": ["zone-a", "zone-b"]}
func (s *Server) handleBatchTargets(w http.ResponseWriter, r *http.Request) {
	var req batchTargetsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entries, err := s.targets.ResolveBatch(r.Context(), actor(r), req.ZoneIDs)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"zones": entries})
}
