// Package clauderr defines the tagged error kinds shared across the daemon's
// internal boundary and the control-socket / HTTP response layer.
package clauderr

import (
	"errors"
	"fmt"
)

// Kind tags an error with how the daemon's outer boundary should present it.
type Kind string

const (
	KindValidation    Kind = "VALIDATION_ERROR"
	KindNotFound      Kind = "NOT_FOUND"
	KindConflict      Kind = "CONFLICT"
	KindStorage       Kind = "STORAGE_ERROR"
	KindBackend       Kind = "BACKEND_ERROR"
	KindProxy         Kind = "PROXY_ERROR"
	KindAuth          Kind = "AUTH_ERROR"
	KindExternalTool  Kind = "EXTERNAL_TOOL_ERROR"
	KindActionBlocked Kind = "ACTION_BLOCKED"
)

// Error is a tagged error: a Kind plus an underlying cause.
type Error struct {
	Kind      Kind
	Message   string
	Transient bool   // only meaningful for KindBackend
	Reason    string // only meaningful for KindActionBlocked
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error { return newErr(KindValidation, format, args...) }
func NotFound(format string, args ...any) *Error   { return newErr(KindNotFound, format, args...) }
func Conflict(format string, args ...any) *Error   { return newErr(KindConflict, format, args...) }
func Auth(format string, args ...any) *Error       { return newErr(KindAuth, format, args...) }
func Proxy(format string, args ...any) *Error      { return newErr(KindProxy, format, args...) }

func Storage(cause error, format string, args ...any) *Error {
	e := newErr(KindStorage, format, args...)
	e.Cause = cause
	return e
}

func Backend(transient bool, cause error, format string, args ...any) *Error {
	e := newErr(KindBackend, format, args...)
	e.Cause = cause
	e.Transient = transient
	return e
}

func ExternalTool(cause error, format string, args ...any) *Error {
	e := newErr(KindExternalTool, format, args...)
	e.Cause = cause
	return e
}

func ActionBlocked(reason string) *Error {
	e := newErr(KindActionBlocked, "action blocked: %s", reason)
	e.Reason = reason
	return e
}

// As extracts the first *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it (or something it wraps) is an *Error,
// otherwise KindStorage — callers at the outer boundary treat unclassified
// errors as internal/storage-grade failures.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindStorage
}

// HTTPStatus maps a Kind to the HTTP status the optional HTTP surface uses.
func HTTPStatus(k Kind) int {
	switch k {
	case KindNotFound:
		return 404
	case KindValidation:
		return 400
	default:
		return 500
	}
}
