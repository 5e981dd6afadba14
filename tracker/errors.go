/*
errors.go - Error taxonomy for the merge engine

PURPOSE:
  All core error types in one place. The transport layer maps these to HTTP
  statuses; nothing here knows about HTTP.

CATEGORIES:
  ValidationError    - malformed or empty input; never retried
  ConflictError      - concurrent-write race on the compare-then-write
                       backend; whole batch safe to retry
  StorageUnavailable - connectivity/transaction failure; surfaced as a
                       server error, no built-in retry
  SchemaProbeFailure - never surfaces: the capability probe degrades to the
                       narrow schema instead of propagating

USAGE:
  if errors.Is(err, tracker.ErrConflict) { ... retry whole batch ... }

  var verr *tracker.ValidationError
  if errors.As(err, &verr) { ... verr.Field ... }
*/
package tracker

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all client-input failures.
	ErrValidation = errors.New("invalid input")

	// ErrEmptyBatch is returned when an upsert batch contains no records.
	// An empty batch is a caller error, not a zero-count success.
	ErrEmptyBatch = errors.New("empty batch")

	// ErrConflict is returned when a concurrent writer won the race between
	// the lookup and the write on the compare-then-write backend. The batch
	// was rolled back; retrying the whole batch is safe.
	ErrConflict = errors.New("concurrent write conflict")

	// ErrStorageUnavailable is returned for connectivity or transaction
	// failures. The batch was rolled back.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrEntryNotFound is returned by single-entry operations.
	ErrEntryNotFound = errors.New("entry not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports which record and field failed validation. The
// whole batch is rejected; nothing was written.
type ValidationError struct {
	Index   int    // position in the submitted batch, -1 for batch-level
	Field   string // offending field, empty for batch-level
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("record %d: %s: %s", e.Index, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ConflictError identifies the key that lost a concurrent-write race.
type ConflictError struct {
	Key Key
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting concurrent write for %s on %s", e.Key.UserKey, e.Key.Date)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrEmptyBatch)
}

// IsRetryable reports whether resubmitting the same batch might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
