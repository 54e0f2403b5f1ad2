package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-grow/internal/growcycle"
)

type setPhaseRequest struct {
	PhaseID string `json:"phase_id"`
	Comment string `json:"comment"`
}

type changeRevisionRequest struct {
	RevisionID string              `json:"revision_id"`
	Mode       growcycle.ApplyMode `json:"mode"`
}

// cycleOp is a lifecycle operation addressed by cycle id alone.
type cycleOp func(s *Server, r *http.Request, id string) (*growcycle.Cycle, error)

// handleCycleOp adapts a cycleOp into a handler returning the updated cycle.
func (s *Server) handleCycleOp(op cycleOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := op(s, r, chi.URLParam(r, "id"))
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// handleListCycles lists cycles, newest first.
//
// GET /cycles?zone_id=zone-a&status=RUNNING&limit=50
func (s *Server) handleListCycles(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	q := r.URL.Query()
	cycles, err := s.cycles.ListCycles(r.Context(), actor(r), growcycle.CycleFilter{
		ZoneID: q.Get("zone_id"),
		Status: growcycle.Status(q.Get("status")),
		Limit:  limit,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if cycles == nil {
		cycles = []growcycle.Cycle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": cycles, "count": len(cycles)})
}

// handleCreateCycle creates a PLANNED cycle, or a RUNNING one when
// start_immediately is set.
//
// POST /cycles
func (s *Server) handleCreateCycle(w http.ResponseWriter, r *http.Request) {
	var in growcycle.CreateCycleInput
	if !decodeBody(w, r, &in) {
		return
	}
	c, err := s.cycles.CreateCycle(r.Context(), actor(r), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GET /cycles/{id}
func (s *Server) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	s.handleCycleOp(func(s *Server, r *http.Request, id string) (*growcycle.Cycle, error) {
		return s.cycles.GetCycle(r.Context(), actor(r), id)
	})(w, r)
}

// POST /cycles/{id}/start
func (s *Server) handleStartCycle(w http.ResponseWriter, r *http.Request) {
	s.handleCycleOp(func(s *Server, r *http.Request, id string) (*growcycle.Cycle, error) {
		return s.cycles.StartCycle(r.Context(), actor(r), id)
	})(w, r)
}

// POST /cycles/{id}/pause
func (s *Server) handlePauseCycle(w http.ResponseWriter, r *http.Request) {
	s.handleCycleOp(func(s *Server, r *http.Request, id string) (*growcycle.Cycle, error) {
		return s.cycles.Pause(r.Context(), actor(r), id)
	})(w, r)
}

// POST /cycles/{id}/resume
func (s *Server) handleResumeCycle(w http.ResponseWriter, r *http.Request) {
	s.handleCycleOp(func(s *Server, r *http.Request, id string) (*growcycle.Cycle, error) {
		return s.cycles.Resume(r.Context(), actor(r), id)
	})(w, r)
}

// POST /cycles/{id}/advance-phase
func (s *Server) handleAdvancePhase(w http.ResponseWriter, r *http.Request) {
	s.handleCycleOp(func(s *Server, r *http.Request, id string) (*growcycle.Cycle, error) {
		return s.cycles.AdvancePhase(r.Context(), actor(r), id)
	})(w, r)
}

// POST /cycles/{id}/sync-step
func (s *Server) handleSyncStep(w http.ResponseWriter, r *http.Request) {
	s.handleCycleOp(func(s *Server, r *http.Request, id string) (*growcycle.Cycle, error) {
		return s.cycles.SyncStep(r.Context(), actor(r), id)
	})(w, r)
}

// handleSetPhase jumps to an arbitrary phase of the current revision.
//
// POST /cycles/{id}/set-phase
// Body: {"phase_id": "...", "comment": "..."}
func (s *Server) handleSetPhase(w http.ResponseWriter, r *http.Request) {
	var req setPhaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.handleCycleOp(func(s *Server, r *http.Request, id string) (*growcycle.Cycle, error) {
		return s.cycles.SetPhase(r.Context(), actor(r), id, req.PhaseID, req.Comment)
	})(w, r)
}

// handleChangeRevision moves the cycle to another published revision of its recipe.
//
// POST /cycles/{id}/change-revision
// Body: {"revision_id": "...", "mode": "now" | "next_phase"}
func (s *Server) handleChangeRevision(w http.ResponseWriter, r *http.Request) {
	var req changeRevisionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.handleCycleOp(func(s *Server, r *http.Request, id string) (*growcycle.Cycle, error) {
		return s.cycles.ChangeRecipeRevision(r.Context(), actor(r), id, req.RevisionID, req.Mode)
	})(w, r)
}

// POST /cycles/{id}/harvest
func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	var in growcycle.HarvestInput
	if !decodeBody(w, r, &in) {
		return
	}
	s.handleCycleOp(func(s *Server, r *http.Request, id string) (*growcycle.Cycle, error) {
		return s.cycles.Harvest(r.Context(), actor(r), id, in)
	})(w, r)
}

// POST /cycles/{id}/abort
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	var in growcycle.AbortInput
	if !decodeBody(w, r, &in) {
		return
	}
	s.handleCycleOp(func(s *Server, r *http.Request, id string) (*growcycle.Cycle, error) {
		return s.cycles.Abort(r.Context(), actor(r), id, in)
	})(w, r)
}

// handleListTransitions returns the cycle's ledger, oldest first.
//
// GET /cycles/{id}/transitions
func (s *Server) handleListTransitions(w http.ResponseWriter, r *http.Request) {
	ts, err := s.cycles.ListTransitions(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if ts == nil {
		ts = []growcycle.Transition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": ts, "count": len(ts)})
}

// handleProgress reports progress through the current phase.
//
// GET /cycles/{id}/progress
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.cycles.Progress(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleListOverrides returns the cycle's overrides. With active=true only
// those in force now are returned.
//
// GET /cycles/{id}/overrides?active=true
func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	var (
		overrides []growcycle.Override
		err       error
	)
	id := chi.URLParam(r, "id")
	if r.URL.Query().Get("active") == "true" {
		overrides, err = s.cycles.ActiveOverridesFor(r.Context(), actor(r), id, time.Now().UTC())
	} else {
		overrides, err = s.cycles.ListOverrides(r.Context(), actor(r), id)
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if overrides == nil {
		overrides = []growcycle.Override{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"overrides": overrides, "count": len(overrides)})
}

// handleAddOverride records a manual parameter override.
//
// POST /cycles/{id}/overrides
func (s *Server) handleAddOverride(w http.ResponseWriter, r *http.Request) {
	var in growcycle.OverrideInput
	if !decodeBody(w, r, &in) {
		return
	}
	o, err := s.cycles.AddOverride(r.Context(), actor(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// handleDeactivateOverride switches an override off.
//
// POST /overrides/{id}/deactivate
func (s *Server) handleDeactivateOverride(w http.ResponseWriter, r *http.Request) {
	o, err := s.cycles.DeactivateOverride(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// handleGetActiveCycle returns the zone's PLANNED, RUNNING or PAUSED
// cycle. A zone without one answers 404 no_active_cycle.
//
// GET /zones/{id}/active-cycle
func (s *Server) handleGetActiveCycle(w http.ResponseWriter, r *http.Request) {
	c, err := s.cycles.GetActiveCycleForZone(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
