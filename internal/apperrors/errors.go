// Package apperrors defines the error taxonomy shared by every component of
// the control plane (see design §7). Components never return bare errors for
// conditions a caller needs to branch on; they wrap them in *Error with a
// Kind so the HTTP facade can map them to the right status code without
// re-deriving the classification from the error string.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind string

const (
	NotFound      Kind = "not-found"
	Validation    Kind = "validation"
	Conflict      Kind = "conflict"
	State         Kind = "state"
	Docker        Kind = "docker"
	NativeProcess Kind = "native-process"
	FileSystem    Kind = "file-system"
	Internal      Kind = "internal"
)

// Error is a classified, wrapped application error.
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

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind and message to an existing error.
func Wrap(kind Kind, message string, cause error) error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to Internal for unclassified
// errors (including nil-cause wraps performed by other packages).
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Internal
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
