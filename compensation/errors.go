/*
errors.go - Centralized error types for the compensation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer maps them to status codes with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Validation errors - Invalid plan parameters, rejected before persistence
  2. Conflict errors - Writes against a finalized record
  3. Not found errors - Missing, or outside the caller's scope
  4. Forbidden - The caller's role may not perform the operation

MISSING FACTS:
  Absent CSAT or budget data is NOT an error. The matching bonus component
  is zero and the fixed stipend is still paid.

SEE ALSO:
  - plan.go: Produces ValidationError
  - record.go: Produces ConflictError
  - engine.go: Produces NotFoundError for out-of-scope lookups
*/
package compensation

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is wrapped by every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is wrapped by every ConflictError.
	ErrConflict = errors.New("conflict")

	// ErrAlreadyFinalized is returned when a finalized record is asked to
	// change. It unwraps to ErrConflict.
	ErrAlreadyFinalized = fmt.Errorf("%w: record already finalized", ErrConflict)

	// ErrNotFound is wrapped by every NotFoundError.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller's role cannot perform the
	// operation at all. Scope misses are reported as ErrNotFound instead.
	ErrForbidden = errors.New("forbidden")

	// ErrPlanInactive is returned when assigning staff under a retired plan.
	ErrPlanInactive = errors.New("compensation plan is not active")

	// ErrRecordExists is returned when a staff member is already assigned to
	// the camp.
	ErrRecordExists = fmt.Errorf("%w: record already exists", ErrConflict)

	// ErrPlanExists is returned when creating a plan whose code is taken.
	ErrPlanExists = fmt.Errorf("%w: plan code already exists", ErrConflict)

	// ErrNotFinalized is returned when superseding a record that is still pending.
	ErrNotFinalized = fmt.Errorf("%w: record is not finalized", ErrConflict)

	// ErrStaleFacts is returned when a recompute carries facts older than
	// the ones the record was last computed from.
	ErrStaleFacts = fmt.Errorf("%w: record holds newer session facts", ErrConflict)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one invalid field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError reports a write refused because of the record's state.
// The stored record is left unchanged.
type ConflictError struct {
	Key    RecordKey
	Op     string
	Status Status
	Err    error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: record is %s", e.Op, e.Key, e.Status)
}

func (e *ConflictError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrConflict
}

// NotFoundError reports a lookup that found nothing visible to the caller.
// A record owned by another tenant produces the same error as a missing one.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict returns true if the error reports a state conflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrPlanInactive)
}
