// Package apperr defines the error kinds surfaced by services and how they
// map onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure
type Kind string

const (
	KindValidation        Kind = "validation"
	KindForbidden         Kind = "forbidden"
	KindIllegalTransition Kind = "illegal_transition"
	KindNotAssigned       Kind = "not_assigned"
	KindInvalidState      Kind = "invalid_state"
	KindAlreadyDecided    Kind = "already_decided"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindUnauthorized      Kind = "unauthorized"
	KindUnavailable       Kind = "unavailable"
	KindInternal          Kind = "internal"
)

// Sentinels for errors.Is comparisons
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrIllegalTransition = &Error{Kind: KindIllegalTransition}
	ErrNotAssigned       = &Error{Kind: KindNotAssigned}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrAlreadyDecided    = &Error{Kind: KindAlreadyDecided}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrUnavailable       = &Error{Kind: KindUnavailable}
	ErrInternal          = &Error{Kind: KindInternal}
)

// Error is a classified failure with an optional cause
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so callers can compare against the
// package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to a cause
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns a client-safe message for err. Internal failures never
// leak their cause.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		if e.Message != "" {
			return e.Message
		}
		return string(e.Kind)
	}
	return "internal server error"
}

// HTTPStatus maps an error onto a response status
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden, KindNotAssigned:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindIllegalTransition, KindInvalidState, KindAlreadyDecided, KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
