// Package errs defines the error kinds surfaced by the completion workflow.
package errs

import (
	"errors"
	"net/http"
)

// Kind is a machine-readable error category.
type Kind string

const (
	KindNotFound     Kind = "NOT_FOUND"
	KindInvalidToken Kind = "INVALID_TOKEN"
	KindConflict     Kind = "CONFLICT"
	KindValidation   Kind = "VALIDATION"
	KindStorage      Kind = "STORAGE"
	KindNotification Kind = "NOTIFICATION"
	KindInternal     Kind = "INTERNAL"
)

// HTTPStatus maps the kind onto the status code returned by the API.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidToken, KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindStorage, KindNotification:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Kind-only sentinels for errors.Is comparisons. They carry no message, so
// they match every error of their kind.
var (
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrInvalidToken = &Error{Kind: KindInvalidToken}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrValidation   = &Error{Kind: KindValidation}
	ErrStorage      = &Error{Kind: KindStorage}
	ErrNotification = &Error{Kind: KindNotification}
)

// Error is the domain error type.
type Error struct {
	Kind    Kind   // Machine-readable category
	Message string // Internal message for logs
	Cause   error  // Wrapped underlying error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Cause == nil {
		return msg
	}
	return msg + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by kind. A target with a
// message additionally has to carry the same message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e.Kind != t.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// New creates a domain error with a kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of the first domain error in the chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
