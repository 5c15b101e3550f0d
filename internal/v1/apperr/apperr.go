// Package apperr implements the concept-level error taxonomy shared by every
// adapter in lair-chat: the TCP protocol adapter, the WebSocket adapter, and
// the REST surface all translate a *apperr.Error into their own wire form
// instead of inventing their own error shapes.
package apperr

import "fmt"

// Kind is a machine-readable error category. Adapters map a Kind to a
// transport-specific representation (an HTTP status code, a TCP error frame
// reason, ...). Kind values are part of the wire contract and must not be
// renamed casually.
type Kind string

const (
	Validation     Kind = "Validation"
	NotFound       Kind = "NotFound"
	Conflict       Kind = "Conflict"
	Unauthorized   Kind = "Unauthorized"
	Forbidden      Kind = "Forbidden"
	StorageFailure Kind = "StorageFailure"
	Protocol       Kind = "ProtocolViolation"
	Internal       Kind = "Internal"
)

// Error is the structured error value returned by every component. It never
// crosses an adapter boundary directly — adapters read Kind and Message and
// discard the wrapped Cause, per the "no stack traces or internal
// identifiers cross the boundary" rule in §7.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) *Error {
	return New(Conflict, fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...any) *Error {
	return New(Forbidden, fmt.Sprintf(format, args...))
}

func Validationf(format string, args ...any) *Error {
	return New(Validation, fmt.Sprintf(format, args...))
}

func Unauthorizedf(format string, args ...any) *Error {
	return New(Unauthorized, fmt.Sprintf(format, args...))
}

func Protocolf(format string, args ...any) *Error {
	return New(Protocol, fmt.Sprintf(format, args...))
}

// KindOf extracts the Kind of err, defaulting to Internal for errors that
// did not originate in this package — callers must not let raw driver or I/O
// errors leak to a caller as anything but Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if ok := As(err, &ae); ok {
		return ae.Kind
	}
	return Internal
}

// As is a thin wrapper around errors.As kept local so callers of this
// package do not need a second import for the common case.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
