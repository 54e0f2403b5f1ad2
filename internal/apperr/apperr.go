// Package apperr defines the error taxonomy shared by the grow engine.
//
// Every domain error carries a Kind (how the caller should react), a stable
// Code (what happened), a human message and, when known, the id of the
// offending entity. Packages declare their errors as sentinels:
//
//	var ErrZoneHasActiveCycle = apperr.New(apperr.KindConflict, "zone_has_active_cycle", "zone already has an active grow cycle")
//
// and return annotated copies:
//
//	return ErrZoneHasActiveCycle.WithID(zoneID)
//
// errors.Is matches on Code, so annotated copies still match their sentinel.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how a caller should handle it.
type Kind string

// Error kinds.
const (
	// KindValidation is malformed or out-of-range input. Not retryable.
	KindValidation Kind = "validation"

	// KindState is a business-rule violation such as an illegal transition.
	KindState Kind = "state"

	// KindNotFound is a reference to an entity that does not exist.
	KindNotFound Kind = "not_found"

	// KindConflict is a genuine conflict with existing state.
	KindConflict Kind = "conflict"

	// KindForbidden is an actor lacking the capability for an operation.
	KindForbidden Kind = "forbidden"

	// KindUpstream is a collaborator (authorizer, telemetry, transport) that
	// could not be reached or answered with an error.
	KindUpstream Kind = "upstream"
)

// Error is a classified domain error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	ID      string
	Err     error
}

// New creates a sentinel error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Code + ": " + e.Message
	if e.ID != "" {
		msg += " (id=" + e.ID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithID returns a copy of e naming the offending entity.
func (e *Error) WithID(id string) *Error {
	c := *e
	c.ID = id
	return &c
}

// Withf returns a copy of e with a more specific message.
func (e *Error) Withf(format string, args ...any) *Error {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

// Wrap returns a copy of e carrying err as its cause.
func (e *Error) Wrap(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// Validation builds an ad hoc validation error.
func Validation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps a collaborator failure.
func Upstream(code, message string, err error) *Error {
	return &Error{Kind: KindUpstream, Code: code, Message: message, Err: err}
}
