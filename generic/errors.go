/*
errors.go - Shared error types for the generic primitives and stores

PURPOSE:
  Sentinel errors that cross package boundaries (stores, engine, API).
  Domain packages wrap these with additional context.

USAGE:
  if errors.Is(err, generic.ErrConcurrentModification) {
      // someone else won the compare-and-set; re-read and decide
  }

SEE ALSO:
  - payout/errors.go: Domain errors built on top of these
  - store/sqlite/sqlite.go: Returns these from CAS updates
*/
package generic

import (
	"errors"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConcurrentModification is returned when a compare-and-set update loses
	// against another writer.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrEntityNotFound is returned when a referenced row doesn't exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConcurrentModification returns true if a compare-and-set lost to another writer.
func IsConcurrentModification(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}
