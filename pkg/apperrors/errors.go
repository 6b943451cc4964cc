// Package apperrors is the error taxonomy shared by the invitation manager,
// the board engine and the HTTP layer. Store errors never leave a service
// without being classified into one of these kinds.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error class.
type Kind string

const (
	InvalidInput     Kind = "INVALID_INPUT"
	Forbidden        Kind = "FORBIDDEN"
	NotFound         Kind = "NOT_FOUND"
	AlreadyMember    Kind = "ALREADY_MEMBER"
	AlreadyUsed      Kind = "ALREADY_USED"
	Expired          Kind = "EXPIRED"
	EmailMismatch    Kind = "EMAIL_MISMATCH"
	PersistenceError Kind = "PERSISTENCE_ERROR"
)

// Retryable reports whether the caller may offer a retry.
func (k Kind) Retryable() bool {
	return k == PersistenceError
}

// Error is a classified failure. Message is safe to show to users; Cause
// carries the raw backend error for logs.
type Error struct {
	Kind     Kind
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so errors.Is(err, apperrors.New(NotFound, "")) works.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithMetadata returns a copy of e carrying an extra key.
func (e *Error) WithMetadata(key, value string) *Error {
	out := *e
	out.Metadata = make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		out.Metadata[k] = v
	}
	out.Metadata[key] = value
	return &out
}

// KindOf classifies err. Unclassified errors are persistence failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return PersistenceError
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// From returns err as an *Error, wrapping unclassified errors as PersistenceError.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(PersistenceError, "storage unavailable, please retry", err)
}
