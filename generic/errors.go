/*
errors.go - Centralized error types for the payroll engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Component packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Lookup errors - Missing payrolls, employees, rules, records
  2. Validation errors - Bad periods, bad absences, illegal transitions
  3. Domain errors - Requests that must be rejected (insufficient balance)
  4. Configuration errors - Ambiguous scope, malformed schemas

USAGE:
  if errors.Is(err, generic.ErrInsufficientBalance) {
      // reject the leave usage
  }

  var shortage *generic.InsufficientBalanceError
  if errors.As(err, &shortage) {
      log.Warn("short", "available", shortage.Available)
  }
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateIdempotencyKey is returned when an entry with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInsufficientBalance is returned when usage exceeds available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidPeriod is returned when a period is malformed.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrInvalidAbsence is returned for a leave-taking record that cannot be applied.
	ErrInvalidAbsence = errors.New("invalid absence")

	// ErrInvalidTransition is returned for a run status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnauthorized is returned when a non-linear transition lacks authorization.
	ErrUnauthorized = errors.New("action requires authorization")

	// ErrAmbiguousScope is returned when two leave accounts or policies match at the same scope.
	ErrAmbiguousScope = errors.New("ambiguous leave policy scope")

	// ErrConfiguration is returned for malformed configuration data.
	ErrConfiguration = errors.New("configuration error")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on account %s: available %s, requested %s, shortfall %s",
		e.AccountID, e.Available, e.Requested, e.Shortfall())
}

// Shortfall is how far the request exceeds the balance.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	From, To string
	Reason   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move from %s to %s: %v", e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return e.Reason
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidAbsence) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
