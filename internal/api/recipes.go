package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-grow/internal/recipe"
)

type createRecipeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// handleListRecipes returns all recipes.
//
// GET /recipes
func (s *Server) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	recipes, err := s.recipes.ListRecipes(r.Context(), actor(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if recipes == nil {
		recipes = []recipe.Recipe{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipes": recipes, "count": len(recipes)})
}

// handleCreateRecipe creates a recipe with no revisions.
//
// POST /recipes
// Body: {"name": "...", "description": "..."}
func (s *Server) handleCreateRecipe(w http.ResponseWriter, r *http.Request) {
	var req createRecipeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := s.recipes.CreateRecipe(r.Context(), actor(r), req.Name, req.Description)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleGetRecipe returns one recipe.
//
// GET /recipes/{id}
func (s *Server) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	rec, err := s.recipes.GetRecipe(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListRevisions returns a recipe's revisions, newest first.
//
// GET /recipes/{id}/revisions
func (s *Server) handleListRevisions(w http.ResponseWriter, r *http.Request) {
	revs, err := s.recipes.ListRevisions(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if revs == nil {
		revs = []recipe.Revision{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": revs, "count": len(revs)})
}

// handleCreateRevision creates a DRAFT revision, optionally cloned.
//
// POST /revisions
// Body: {"recipe_id": "...", "clone_from_revision_id": "..."}
func (s *Server) handleCreateRevision(w http.ResponseWriter, r *http.Request) {
	var in recipe.RevisionInput
	if !decodeBody(w, r, &in) {
		return
	}
	rev, err := s.recipes.CreateRevision(r.Context(), actor(r), in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rev)
}

// handleGetRevision returns a revision with its phase graph.
//
// GET /revisions/{id}
func (s *Server) handleGetRevision(w http.ResponseWriter, r *http.Request) {
	rev, err := s.recipes.GetRevision(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// handleUpdateRevision edits a DRAFT revision.
//
// PATCH /revisions/{id}
func (s *Server) handleUpdateRevision(w http.ResponseWriter, r *http.Request) {
	var upd recipe.RevisionUpdate
	if !decodeBody(w, r, &upd) {
		return
	}
	rev, err := s.recipes.UpdateRevision(r.Context(), actor(r), chi.URLParam(r, "id"), upd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// handlePublishRevision freezes a DRAFT revision.
//
// POST /revisions/{id}/publish
func (s *Server) handlePublishRevision(w http.ResponseWriter, r *http.Request) {
	rev, err := s.recipes.PublishRevision(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// handleCreatePhase adds a phase to a DRAFT revision.
//
// POST /revisions/{id}/phases
func (s *Server) handleCreatePhase(w http.ResponseWriter, r *http.Request) {
	var in recipe.Phase
	if !decodeBody(w, r, &in) {
		return
	}
	phase, err := s.recipes.CreatePhase(r.Context(), actor(r), chi.URLParam(r, "id"), &in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, phase)
}

// handleGetPhase returns a phase with its steps.
//
// GET /phases/{id}
func (s *Server) handleGetPhase(w http.ResponseWriter, r *http.Request) {
	phase, err := s.recipes.GetPhase(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, phase)
}

// handleUpdatePhase replaces a phase's editable fields.
//
// PUT /phases/{id}
func (s *Server) handleUpdatePhase(w http.ResponseWriter, r *http.Request) {
	var in recipe.Phase
	if !decodeBody(w, r, &in) {
		return
	}
	phase, err := s.recipes.UpdatePhase(r.Context(), actor(r), chi.URLParam(r, "id"), &in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, phase)
}

// handleDeletePhase removes a phase from a DRAFT revision.
//
// DELETE /phases/{id}
func (s *Server) handleDeletePhase(w http.ResponseWriter, r *http.Request) {
	if err := s.recipes.DeletePhase(r.Context(), actor(r), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateStep adds a step to a phase of a DRAFT revision.
//
// POST /phases/{id}/steps
func (s *Server) handleCreateStep(w http.ResponseWriter, r *http.Request) {
	var in recipe.Step
	if !decodeBody(w, r, &in) {
		return
	}
	step, err := s.recipes.CreateStep(r.Context(), actor(r), chi.URLParam(r, "id"), &in)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, step)
}

// handleDeleteStep removes a step.
//
// DELETE /steps/{id}
func (s *Server) handleDeleteStep(w http.ResponseWriter, r *http.Request) {
	if err := s.recipes.DeleteStep(r.Context(), actor(r), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
