package report

import (
	"errors"
	"fmt"
)

// Kind is the stable, caller-visible classification of an engine error.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindInvalidTransition Kind = "invalid_transition"
	KindMissingComment    Kind = "missing_comment"
	KindMissingAction     Kind = "missing_action"
	KindAlreadyDecided    Kind = "already_decided"
	KindUnknownResultCode Kind = "unknown_result_code"
	KindConflict          Kind = "conflict"
	KindAuthorization     Kind = "authorization_error"
	KindNotFound          Kind = "not_found"
)

// Error is returned by the Service and the stores for every recoverable
// failure. No state is committed when an Error is returned.
type Error struct {
	Kind    Kind
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrMissingComment    = &Error{Kind: KindMissingComment}
	ErrMissingAction     = &Error{Kind: KindMissingAction}
	ErrAlreadyDecided    = &Error{Kind: KindAlreadyDecided}
	ErrUnknownResultCode = &Error{Kind: KindUnknownResultCode}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrAuthorization     = &Error{Kind: KindAuthorization}
	ErrNotFound          = &Error{Kind: KindNotFound}
)

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or "" when err is not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
