// Package apperr defines the error taxonomy shared by every service:
// a small set of sentinel kinds plus a wrapper that carries the
// caller-facing message. Handlers map kinds to HTTP status codes;
// anything outside the taxonomy is treated as internal.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInternal     = errors.New("internal error")
)

// Error pairs a taxonomy kind with a human-readable message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

// New wraps kind with a message suitable for the caller.
func New(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with formatting.
func Newf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Status maps err's kind to an HTTP status code. Unknown errors are 500.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the caller-facing message for err. Errors outside the
// taxonomy get a generic message so internals never leak to clients.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	if Status(err) != http.StatusInternalServerError {
		return err.Error()
	}
	return "internal server error"
}

// IsDomain reports whether err belongs to the recognized taxonomy, i.e.
// it should be surfaced to the caller as-is rather than wrapped.
func IsDomain(err error) bool {
	return errors.Is(err, ErrBadRequest) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict)
}
