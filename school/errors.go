/*
errors.go - Centralized error taxonomy for the core workflows

PURPOSE:
  All domain error kinds in one place. Booking, ledger, and payments
  return these sentinels (or structured errors wrapping them) so callers
  can classify failures with errors.Is and map them to HTTP statuses.

ERROR CATEGORIES:
  1. Booking errors  - Slot lifecycle rule violations
  2. Ledger errors   - Hours balance violations
  3. Payment errors  - Reconciliation failures (dropped, not retried)
  4. Infra errors    - Transient store failures (retryable)

USAGE:
  if errors.Is(err, school.ErrInsufficientHours) {
      // surface to the student, leave state unchanged
  }
*/
package school

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidSchedule is returned when a slot is created for a past or
	// malformed date/time.
	ErrInvalidSchedule = errors.New("invalid schedule: slot must start in the future")

	// ErrSlotNotFound is returned when a slot does not exist in the
	// caller's school.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrSlotAlreadyReserved is returned when reserving a slot that
	// already has a student assigned.
	ErrSlotAlreadyReserved = errors.New("slot already reserved")

	// ErrSlotAlreadyCompleted is returned when cancelling or mutating a
	// slot whose Passed flag is already set.
	ErrSlotAlreadyCompleted = errors.New("slot already completed")

	// ErrCommentExists is returned when writing an instructor comment to
	// a slot that already carries one. Comments are write-once.
	ErrCommentExists = errors.New("slot already has an instructor comment")

	// ErrSlotNotCompleted is returned when commenting a slot that has not
	// elapsed yet.
	ErrSlotNotCompleted = errors.New("slot not completed yet")

	// ErrInsufficientHours is returned when a decrement would drive a
	// student's balance negative.
	ErrInsufficientHours = errors.New("insufficient hours remaining")

	// ErrUserNotFound is returned when a referenced user does not exist
	// in the caller's school.
	ErrUserNotFound = errors.New("user not found")

	// ErrUnknownCustomer is returned when a provider customer reference
	// cannot be resolved to a user. The event is dropped, not retried.
	ErrUnknownCustomer = errors.New("unknown payment customer")

	// ErrUnmappablePrice is returned when a paid amount matches no
	// package price exactly. The event is dropped, not retried.
	ErrUnmappablePrice = errors.New("paid amount matches no package")

	// ErrDuplicatePayment is returned when a payment with the same
	// provider reference was already recorded. Callers treat this as a
	// successful no-op.
	ErrDuplicatePayment = errors.New("payment reference already processed")

	// ErrUnauthorized is returned when the actor's role or school does
	// not permit the operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStoreUnavailable wraps transient storage failures. Webhook
	// handlers answer non-2xx on it so the provider redelivers.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientHoursError reports a balance shortage on decrement.
type InsufficientHoursError struct {
	UserID    string
	Available int
	Requested int
}

func (e *InsufficientHoursError) Error() string {
	return fmt.Sprintf("insufficient hours for %s: available %d, requested %d",
		e.UserID, e.Available, e.Requested)
}

func (e *InsufficientHoursError) Unwrap() error { return ErrInsufficientHours }

// UnauthorizedError reports which check rejected the actor.
type UnauthorizedError struct {
	Actor  Actor
	Reason string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: %s (user=%s role=%s school=%s)",
		e.Reason, e.Actor.UserID, e.Actor.Role, e.Actor.SchoolID)
}

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is a business-rule rejection
// that the caller must fix; retrying without change cannot succeed.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrSlotAlreadyReserved) ||
		errors.Is(err, ErrSlotAlreadyCompleted) ||
		errors.Is(err, ErrSlotNotCompleted) ||
		errors.Is(err, ErrCommentExists) ||
		errors.Is(err, ErrInsufficientHours)
}

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSlotNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
