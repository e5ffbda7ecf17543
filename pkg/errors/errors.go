// Package errors defines the single error type surfaced by the data-access
// core. Every failure carries a Kind from the library taxonomy plus an
// HTTP-style status code; adapter errors are translated into this type once,
// at the adapter boundary, and then pass through the core verbatim.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind categorizes an error for programmatic handling.
type Kind string

const (
	// Domain failures
	KindValidation         Kind = "VALIDATION"
	KindBadRequest         Kind = "BAD_REQUEST"
	KindNotFound           Kind = "NOT_FOUND"
	KindConflict           Kind = "CONFLICT"
	KindPreconditionFailed Kind = "PRECONDITION_FAILED"
	KindFailedDependency   Kind = "FAILED_DEPENDENCY"
	KindNotSupported       Kind = "NOT_SUPPORTED"

	// Caller misuse (programmer errors, never masked as domain failures)
	KindReadOnly         Kind = "READ_ONLY"
	KindAlreadySaved     Kind = "ALREADY_SAVED"
	KindAlreadyConverted Kind = "ALREADY_CONVERTED"
	KindInvalidType      Kind = "INVALID_TYPE"

	// Infrastructure failures
	KindCancelled          Kind = "CANCELLED"
	KindServiceUnavailable Kind = "SERVICE_UNAVAILABLE"
	KindInternal           Kind = "INTERNAL"
)

// Error is the error type exposed to callers of the core.
type Error struct {
	Kind    Kind
	Message string
	// Fields maps a field name to its validation messages. Populated only
	// for KindValidation.
	Fields map[string][]string
	Cause  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is and errors.As to reach the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusCode returns the HTTP-style status code for the error.
func (e *Error) StatusCode() int {
	return statusFor(e.Kind)
}

func statusFor(kind Kind) int {
	switch kind {
	case KindValidation, KindBadRequest:
		return 400
	case KindNotFound:
		return 404
	case KindNotSupported:
		return 405
	case KindConflict:
		return 409
	case KindPreconditionFailed:
		return 412
	case KindFailedDependency:
		return 424
	case KindCancelled:
		return 499
	case KindServiceUnavailable:
		return 503
	default:
		// ReadOnly, AlreadySaved, AlreadyConverted and InvalidType are
		// caller bugs; they surface as internal failures on the wire.
		return 500
	}
}

// New creates an error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause. A nil cause
// yields nil.
func Wrap(cause error, kind Kind, message string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Wrapf wraps a cause with a formatted message. A nil cause yields nil.
func Wrapf(cause error, kind Kind, format string, args ...interface{}) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithFields attaches a field-to-messages map and returns the error.
func (e *Error) WithFields(fields map[string][]string) *Error {
	e.Fields = fields
	return e
}

// Validation creates a validation error carrying per-field messages.
func Validation(message string, fields map[string][]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// FromContext converts a context error into a Cancelled error. Deadline
// expiry is treated as cancellation; the caller composes timeouts via the
// context.
func FromContext(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindCancelled, Message: "operation cancelled", Cause: err}
}

// KindOf returns the kind of an error, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// StatusOf returns the status code of an error, or 500 for foreign errors.
func StatusOf(err error) int {
	return statusFor(KindOf(err))
}

// IsKind reports whether the error carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Kind checking helpers.

func IsValidation(err error) bool         { return IsKind(err, KindValidation) }
func IsBadRequest(err error) bool         { return IsKind(err, KindBadRequest) }
func IsNotFound(err error) bool           { return IsKind(err, KindNotFound) }
func IsConflict(err error) bool           { return IsKind(err, KindConflict) }
func IsPreconditionFailed(err error) bool { return IsKind(err, KindPreconditionFailed) }
func IsFailedDependency(err error) bool   { return IsKind(err, KindFailedDependency) }
func IsNotSupported(err error) bool       { return IsKind(err, KindNotSupported) }
func IsReadOnly(err error) bool           { return IsKind(err, KindReadOnly) }
func IsAlreadySaved(err error) bool       { return IsKind(err, KindAlreadySaved) }
func IsAlreadyConverted(err error) bool   { return IsKind(err, KindAlreadyConverted) }
func IsInvalidType(err error) bool        { return IsKind(err, KindInvalidType) }
func IsCancelled(err error) bool          { return IsKind(err, KindCancelled) }
func IsUnavailable(err error) bool        { return IsKind(err, KindServiceUnavailable) }
func IsInternal(err error) bool           { return IsKind(err, KindInternal) }

// IsRetryable reports whether retrying the operation can reasonably succeed
// without the caller changing anything. Conflicts and precondition failures
// are not retryable: the caller must re-read before trying again.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindServiceUnavailable, KindInternal:
		return true
	default:
		return false
	}
}
