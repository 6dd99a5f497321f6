// Package apperrors defines the error taxonomy shared by every service.
//
// Errors carry a Kind that callers match with errors.Is against the
// package sentinels, independent of the message or wrapped cause.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind identifies an error category
type Kind string

const (
	KindUnknownRole        Kind = "unknown_role"
	KindScopeMismatch      Kind = "scope_mismatch"
	KindScopeViolation     Kind = "scope_violation"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindAuth               Kind = "auth_error"
	KindMalformedRecord    Kind = "malformed_record"
	KindNotFound           Kind = "not_found"
	KindInvalidInput       Kind = "invalid_input"
	KindConflict           Kind = "conflict"
	KindForbidden          Kind = "forbidden"
)

// Sentinels for errors.Is matching
var (
	ErrUnknownRole        = &Error{Kind: KindUnknownRole}
	ErrScopeMismatch      = &Error{Kind: KindScopeMismatch}
	ErrScopeViolation     = &Error{Kind: KindScopeViolation}
	ErrStorageUnavailable = &Error{Kind: KindStorageUnavailable}
	ErrAuth               = &Error{Kind: KindAuth}
	ErrMalformedRecord    = &Error{Kind: KindMalformedRecord}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrForbidden          = &Error{Kind: KindForbidden}
)

// Error is a categorised failure
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with the given kind. An error that already carries a kind
// keeps it.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Kind: existing.Kind, Message: msg, Err: err}
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of err, or "" for uncategorised errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
