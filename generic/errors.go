/*
errors.go - Centralized error types

PURPOSE:
  All error types in one place. Every error that leaves the timesheet or
  toil packages carries a Kind so the transport layer can map it to a
  status code without string matching.

ERROR KINDS:
  BAD_REQUEST          Validation: overlaps, daily cap, time order, comments,
                       below-minimum submissions, duplicate submissions
  UNAUTHORIZED         No caller identity
  FORBIDDEN            Caller lacks the role or does not own the record
  NOT_FOUND            Entry or submission missing for the tenant
  CONFLICT             State transition not allowed (already rejected...)
  PRECONDITION_FAILED  TOIL balance too low for a deduction
  INTERNAL             Anything else

USAGE:
  return generic.BadRequest("daily limit exceeded: %s + %s > %s", cur, req, limit).
      With("current_total", cur).With("limit", generic.DailyLimit)

  switch generic.KindOf(err) {
  case generic.KindNotFound: ...
  }
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned by stores when a lookup by id finds nothing.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientBalance is returned when a debit exceeds the TOIL balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConcurrentModification is returned when a compare-and-set write lost
	// a race with another writer.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateAccrual is returned when a submission has already been
	// accrued.
	ErrDuplicateAccrual = errors.New("submission already accrued")

	// ErrDuplicateSubmission is returned by stores when an active submission
	// already exists for the week.
	ErrDuplicateSubmission = errors.New("active submission already exists for week")
)

// =============================================================================
// KINDED ERRORS
// =============================================================================

type Kind string

const (
	KindBadRequest         Kind = "BAD_REQUEST"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindForbidden          Kind = "FORBIDDEN"
	KindNotFound           Kind = "NOT_FOUND"
	KindConflict           Kind = "CONFLICT"
	KindPreconditionFailed Kind = "PRECONDITION_FAILED"
	KindInternal           Kind = "INTERNAL"
)

// Error is a user-facing error with a kind and optional structured details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// With attaches a detail value and returns e for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) *Error {
	return newError(KindBadRequest, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return newError(KindUnauthorized, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return newError(KindForbidden, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newError(KindConflict, format, args...)
}

// NotFound wraps ErrNotFound so errors.Is keeps working.
func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found", Err: ErrNotFound}
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a TOIL shortage.
type InsufficientBalanceError struct {
	TenantID  string
	UserID    string
	Year      int
	Available Hours
	Requested Hours
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient TOIL balance: %s hours available, %s hours requested",
		e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

func (e *InsufficientBalanceError) Shortfall() Hours {
	return e.Requested.Sub(e.Available)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return KindPreconditionFailed
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicateAccrual),
		errors.Is(err, ErrConcurrentModification),
		errors.Is(err, ErrDuplicateSubmission):
		return KindConflict
	}
	return KindInternal
}

// IsClientError returns true if the caller can fix err by changing input.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindBadRequest, KindForbidden, KindNotFound, KindConflict,
		KindPreconditionFailed, KindUnauthorized:
		return true
	}
	return false
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
