package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-grow/internal/auth"
)

// actor returns the authenticated actor for r. authMiddleware guarantees
// one is present on protected routes; a missing actor yields the zero
// value, which every authorisation check rejects.
func actor(r *http.Request) auth.ActorContext {
	a, _ := auth.ActorFromContext(r.Context())
	return a
}

// handleMe returns the caller's identity and capabilities.
//
// GET /auth/me
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, actor(r))
}

// decodeBody decodes the JSON request body into v. An empty body leaves v
// untouched. Returns false after writing a 400 response.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// queryInt parses an optional integer query parameter. Returns false after
// writing a 400 response.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeBadRequest(w, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
