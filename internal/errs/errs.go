// Package errs defines the closed set of error kinds the gateway
// translates into HTTP responses (see spec section 7).
package errs

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories surfaced to clients.
type Kind string

const (
	Validation   Kind = "validation"
	NotFound     Kind = "not_found"
	Conflict     Kind = "conflict"
	Unauthorized Kind = "unauthorized"
	Forbidden    Kind = "forbidden"
	KindLocked   Kind = "locked"
	KindInternal Kind = "internal"
)

// Error is the only error type the gateway knows how to translate to
// an HTTP status. Internal invariant violations should be wrapped with
// Internal() so a correlation id is attached rather than leaking raw
// causes to clients.
type Error struct {
	Kind     Kind
	Code     string
	Message  string
	Recovery string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func new(kind Kind, code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Cause: cause}
}

func Validationf(format string, args ...any) *Error {
	return new(Validation, "", fmt.Sprintf(format, args...), nil)
}

func NotFoundf(format string, args ...any) *Error {
	return new(NotFound, "", fmt.Sprintf(format, args...), nil)
}

func Conflictf(format string, args ...any) *Error {
	return new(Conflict, "", fmt.Sprintf(format, args...), nil)
}

func Unauthorizedf(format string, args ...any) *Error {
	return new(Unauthorized, "", fmt.Sprintf(format, args...), nil)
}

func Forbiddenf(format string, args ...any) *Error {
	return new(Forbidden, "", fmt.Sprintf(format, args...), nil)
}

// Locked builds a 423 carrying the recovery hint the gateway always
// sends for operation-mode blocks.
func Locked(code, msg, recovery string) *Error {
	return &Error{Kind: KindLocked, Code: code, Message: msg, Recovery: recovery}
}

func Internal(correlationID string, cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    correlationID,
		Message: "internal error",
		Cause:   cause,
	}
}

// As extracts an *Error from err, or wraps err as Internal if it isn't
// one already.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: "internal error", Cause: err}
}
