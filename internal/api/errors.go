package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-grow/internal/apperr"
)

// Error represents a structured error response.
type Error struct {
	Status  int         `json:"status"`
	Code    string      `json:"code"`
	Kind    apperr.Kind `json:"error_kind,omitempty"`
	Message string      `json:"message"`
	ID      string      `json:"id,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeInternal     = "internal_error"
)

// kindStatus maps domain error kinds to HTTP status codes.
var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation: http.StatusBadRequest,
	apperr.KindNotFound:   http.StatusNotFound,
	apperr.KindState:      http.StatusConflict,
	apperr.KindConflict:   http.StatusConflict,
	apperr.KindForbidden:  http.StatusForbidden,
	apperr.KindUpstream:   http.StatusServiceUnavailable,
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError renders err by its apperr kind. Unclassified errors are
// logged and reported as 500 without their text.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal server error")
		return
	}

	status, ok := kindStatus[ae.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed upstream",
			"path", r.URL.Path,
			"code", ae.Code,
			"error", err,
		)
	}
	writeJSON(w, status, Error{
		Status:  status,
		Code:    ae.Code,
		Kind:    ae.Kind,
		Message: ae.Message,
		ID:      ae.ID,
	})
}
