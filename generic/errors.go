/*
errors.go - Centralized error types for the generic engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages should wrap these errors with additional context.

ERROR CATEGORIES:
  1. Configuration errors - Malformed cycle/policy configuration
  2. Lookup errors - Missing accounts, categories, transactions
  3. Store errors - Database-level failures

NOT ERRORS:
  A transaction with no matching cashback policy is a normal outcome
  (reason "no_policy", rate 0). A zero or negative amount is a guard
  condition: callers get zeroed results, never an error.

USAGE:
  if errors.Is(err, generic.ErrInvalidConfig) {
      // reject at the configuration boundary
  }

SEE ALSO:
  - period.go: Returns InvalidConfigError for bad statement days
  - store/sqlite/sqlite.go: Returns the not-found sentinels
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
	// ErrInvalidConfig is returned when a cycle or cashback configuration is
	// structurally invalid (statement day out of range, negative rate or cap).
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrCategoryNotFound is returned when a referenced category doesn't exist.
	ErrCategoryNotFound = errors.New("category not found")

	// ErrTransactionNotFound is returned when a referenced transaction doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrSnapshotNotFound is returned when no closed-cycle snapshot exists.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrInvalidPeriod is returned when a period is malformed (end not after start).
	ErrInvalidPeriod = errors.New("invalid period: end not after start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidConfigError describes which configuration field is malformed.
type InvalidConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s=%q %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrCategoryNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrSnapshotNotFound)
}
