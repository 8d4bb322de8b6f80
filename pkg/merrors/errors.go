// Package merrors defines the single tagged error type surfaced across the
// ledger engine, replacing the struct-per-failure-mode hierarchy wider
// HTTP-facing services in this codebase family use.
package merrors

import (
	"errors"
	"fmt"
)

// Code is a closed enum of ledger failure classes.
type Code string

const (
	InvalidArgument      Code = "INVALID_ARGUMENT"
	NotFound             Code = "NOT_FOUND"
	Conflict             Code = "CONFLICT"
	InsufficientBalance  Code = "INSUFFICIENT_BALANCE"
	AccountFrozen        Code = "ACCOUNT_FROZEN"
	AccountClosed        Code = "ACCOUNT_CLOSED"
	LimitExceeded        Code = "LIMIT_EXCEEDED"
	LockTimeout          Code = "LOCK_TIMEOUT"
	ConcurrencyConflict  Code = "CONCURRENCY_CONFLICT"
	IntegrityViolation   Code = "INTEGRITY_VIOLATION"
	Internal             Code = "INTERNAL"
)

// Error is the single error type returned by every engine operation. Title
// and Entity are safe to surface to callers; Err carries the underlying
// cause for logs only and is never rendered by Error().
type Error struct {
	Code   Code
	Entity string
	Title  string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Entity, e.Title)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Title)
}

// Unwrap exposes the underlying cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error with no wrapped cause.
func New(code Code, title string) *Error {
	return &Error{Code: code, Title: title}
}

// Newf builds an *Error with a formatted title.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Title: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and title to an underlying cause, preserving it for
// Unwrap while keeping the caller-facing message generic.
func Wrap(code Code, title string, err error) *Error {
	return &Error{Code: code, Title: title, Err: err}
}

// WithEntity returns a copy of e annotated with the entity type that failed
// (e.g. "account", "hold", "transaction").
func (e *Error) WithEntity(entity string) *Error {
	cp := *e
	cp.Entity = entity
	return &cp
}

// Is reports whether err carries the given code, unwrapping as needed.
func Is(err error, code Code) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == code
	}

	return false
}

// CodeOf extracts the Code from err, defaulting to Internal if err is not
// (or does not wrap) an *Error.
func CodeOf(err error) Code {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}

	return Internal
}
