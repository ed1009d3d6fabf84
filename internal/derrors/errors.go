// Package derrors defines the closed error taxonomy shared by every datahub
// component. Each externally visible failure carries a stable kind, a
// human-readable message, and (for validation failures) a corrective hint.
package derrors

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Kind identifies one of the reportable failure classes.
type Kind string

const (
	// KindValidation marks malformed or out-of-bound input. Never retried.
	KindValidation Kind = "validation"
	// KindUpstream marks an error or malformed payload from the raster engine.
	KindUpstream Kind = "upstream"
	// KindUnavailable marks an unreachable or rate-limited raster engine.
	// Callers should back off rather than fix the request.
	KindUnavailable Kind = "upstream_unavailable"
	// KindNotFound marks a reference to a job that does not exist.
	KindNotFound Kind = "not_found"
	// KindAlreadyClaimed is an internal concurrency-control signal raised when
	// two executors race to claim the same job. Not surfaced to external callers.
	KindAlreadyClaimed Kind = "already_claimed"
	// KindInternal marks any unanticipated failure.
	KindInternal Kind = "internal"
)

// Error is a classified datahub error.
type Error struct {
	Kind    Kind
	Message string
	Hint    string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		// The eris chain already renders as "message: cause".
		return e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a classified error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. The cause is retained with an eris
// stack so call sites can still format the full chain.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: eris.Wrap(err, message)}
}

// Validation creates a validation error with a corrective hint.
func Validation(message, hint string) *Error {
	return &Error{Kind: KindValidation, Message: message, Hint: hint}
}

// Validationf creates a validation error with a formatted message and hint.
func Validationf(hint, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...), Hint: hint}
}

// KindOf walks the error chain and returns the kind of the outermost
// classified error. Unclassified errors report KindInternal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// HintOf returns the corrective hint attached to the error chain, if any.
func HintOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Hint
	}
	return ""
}

// IsKind reports whether the error chain contains a classified error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}
