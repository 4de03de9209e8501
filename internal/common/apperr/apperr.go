// Package apperr defines the stable error kinds the Service Layer
// translates repository and adapter failures into (spec.md §7).
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable, UI-translatable error identifier.
type Kind string

const (
	NotFound   Kind = "NotFound"
	Conflict   Kind = "Conflict"
	Validation Kind = "Validation"
	Auth       Kind = "Auth"
	Forbidden  Kind = "Forbidden"
	Transient  Kind = "Transient"
	Cancelled  Kind = "Cancelled"
	Orphaned   Kind = "Orphaned"
	Internal   Kind = "Internal"
)

// Error is the concrete type carried across the Service Layer boundary.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func new_(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func NotFoundf(format string, args ...any) *Error {
	return new_(NotFound, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) *Error {
	return new_(Conflict, fmt.Sprintf(format, args...))
}

// Busy is the Conflict used when a session already has a running task
// (spec.md §4.4 Concurrency: "a new prompt on a busy session is rejected
// with Busy").
func Busy(sessionID string) *Error {
	e := new_(Conflict, fmt.Sprintf("session %s already has a running task", sessionID))
	e.Details = map[string]any{"session_id": sessionID, "reason": "busy"}
	return e
}

func Validationf(format string, args ...any) *Error {
	return new_(Validation, fmt.Sprintf(format, args...))
}

func Authf(format string, args ...any) *Error {
	return new_(Auth, fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...any) *Error {
	return new_(Forbidden, fmt.Sprintf(format, args...))
}

func Transientf(format string, args ...any) *Error {
	return new_(Transient, fmt.Sprintf(format, args...))
}

func Cancelledf(format string, args ...any) *Error {
	return new_(Cancelled, fmt.Sprintf(format, args...))
}

func Orphanedf(format string, args ...any) *Error {
	return new_(Orphaned, fmt.Sprintf(format, args...))
}

// Internalf wraps cause, if non-nil, as an Internal kind — an invariant
// violation or bug, always logged with a correlation id by the caller.
func Internalf(cause error, format string, args ...any) *Error {
	e := new_(Internal, fmt.Sprintf(format, args...))
	e.cause = cause
	return e
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, defaulting
// to Internal for anything unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
