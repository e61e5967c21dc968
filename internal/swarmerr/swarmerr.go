// Package swarmerr defines the error kinds shared across the connection
// and request engine (spec §7).
package swarmerr

import "errors"

// Kind classifies an error for dispatch/logging purposes without requiring
// callers to inspect wrapped chains.
type Kind int

const (
	KindIO Kind = iota
	KindProtocolError
	KindAuthRejected
	KindVersionMismatch
	KindTooManyRequests
	KindHandlerError
	KindShutdownRequested
	KindTimedOut
	KindResourceExhausted
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindProtocolError:
		return "protocol_error"
	case KindAuthRejected:
		return "auth_rejected"
	case KindVersionMismatch:
		return "version_mismatch"
	case KindTooManyRequests:
		return "too_many_requests"
	case KindHandlerError:
		return "handler_error"
	case KindShutdownRequested:
		return "shutdown_requested"
	case KindTimedOut:
		return "timed_out"
	case KindResourceExhausted:
		return "resource_exhausted"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind, so connection teardown can
// branch on category while preserving the original error for logging.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind wrapping cause.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Is allows errors.Is(err, swarmerr.ErrShutdownRequested) style sentinel
// comparisons against a Kind-only Error (no specific cause).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind && other.Cause == nil
}

// Sentinel, cause-less errors usable with errors.Is.
var (
	ErrShutdownRequested = &Error{Kind: KindShutdownRequested}
	ErrTooManyRequests   = &Error{Kind: KindTooManyRequests}
)

// KindOf reports the Kind of err if it (or something it wraps) is a
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
