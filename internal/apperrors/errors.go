// Package apperrors defines the typed error taxonomy shared by the
// invitation, microclimate and participation engines. Handlers map these
// to HTTP statuses in one place; engines never return bare strings for
// conditions a caller needs to branch on.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError signals malformed input. Never retried automatically.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidStateError signals a state-machine transition not permitted from
// the current state. Surfaced to the caller, never silently coerced.
type InvalidStateError struct {
	Msg string
}

func (e *InvalidStateError) Error() string { return e.Msg }

// InvalidStatef builds an InvalidStateError.
func InvalidStatef(format string, args ...any) error {
	return &InvalidStateError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError signals a missing resource.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return e.Resource + " not found" }

// NotFound builds a NotFoundError for the named resource.
func NotFound(resource string) error {
	return &NotFoundError{Resource: resource}
}

// AccessDeniedError signals an authorization failure. It is distinguished
// from NotFoundError internally for audit logging only; handlers present
// both identically outward so existence is never leaked.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string { return "access denied: " + e.Reason }

// AccessDenied builds an AccessDeniedError.
func AccessDenied(reason string) error {
	return &AccessDeniedError{Reason: reason}
}

// StaleScheduleError signals an activation attempted more than the grace
// window past the scheduled start.
type StaleScheduleError struct {
	StartTime time.Time
}

func (e *StaleScheduleError) Error() string {
	return fmt.Sprintf("scheduled start %s is too far in the past", e.StartTime.Format(time.RFC3339))
}

// InsufficientDataError signals a forecast requested with no elapsed time.
type InsufficientDataError struct {
	Msg string
}

func (e *InsufficientDataError) Error() string { return e.Msg }

// InsufficientData builds an InsufficientDataError.
func InsufficientData(msg string) error {
	return &InsufficientDataError{Msg: msg}
}

// TransientStoreError wraps a persistence collaborator failure. Safe to
// retry by the caller with the same idempotent parameters.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TransientStoreError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientStoreError for the named operation.
func Transient(op string, err error) error {
	return &TransientStoreError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsInvalidState reports whether err is an InvalidStateError.
func IsInvalidState(err error) bool {
	var e *InvalidStateError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsAccessDenied reports whether err is an AccessDeniedError.
func IsAccessDenied(err error) bool {
	var e *AccessDeniedError
	return errors.As(err, &e)
}

// IsStaleSchedule reports whether err is a StaleScheduleError.
func IsStaleSchedule(err error) bool {
	var e *StaleScheduleError
	return errors.As(err, &e)
}

// IsInsufficientData reports whether err is an InsufficientDataError.
func IsInsufficientData(err error) bool {
	var e *InsufficientDataError
	return errors.As(err, &e)
}

// IsTransient reports whether err is a TransientStoreError.
func IsTransient(err error) bool {
	var e *TransientStoreError
	return errors.As(err, &e)
}
