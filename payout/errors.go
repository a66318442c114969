/*
errors.go - Domain errors for payout calculation and execution

PURPOSE:
  Every expected failure of CalculatePayout / ExecutePayout is a typed error so
  the operator API and the scheduler can tell "nothing to do" from "try again
  later" from "money partially moved".

ERROR CATEGORIES:
  1. Not found      - venue or payout does not exist
  2. Validation     - nothing to distribute, missing bank details, not onboarded
  3. Conflict       - payout not pending, period already covered
  4. Funds          - platform balance too low (payout stays pending)
  5. Partial        - some transfers failed; retry only re-attempts those

SEE ALSO:
  - generic/errors.go: Store-level sentinel errors
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package payout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/warp/payout-engine/generic"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrVenueNotFound   = errors.New("venue not found")
	ErrPayoutNotFound  = errors.New("payout not found")
	ErrEmployeeMissing = errors.New("employee not found")

	// ErrNoEligibleEmployees is returned when nobody was active during the period.
	ErrNoEligibleEmployees = errors.New("no eligible employees for period")

	// ErrNoTipsInPeriod is returned when the period has no succeeded tips.
	ErrNoTipsInPeriod = errors.New("no succeeded tips in period")

	// ErrPayoutNotPending is returned when executing a payout that is not pending.
	// It is also what a second concurrent executor sees.
	ErrPayoutNotPending = errors.New("payout is not pending")

	// ErrPayoutNotRetryable is returned when retrying a payout that has no
	// failed distributions to re-attempt.
	ErrPayoutNotRetryable = errors.New("payout is not partially completed or failed")

	// ErrVenueNotOnboarded is returned when the venue has no collection account.
	ErrVenueNotOnboarded = errors.New("venue has no collection account")

	// ErrMissingPayeeDetails is returned when an employee lacks banking details.
	ErrMissingPayeeDetails = errors.New("missing payee banking details")

	// ErrInsufficientPlatformBalance is returned when the holding balance cannot
	// cover the distributions about to be paid.
	ErrInsufficientPlatformBalance = errors.New("insufficient platform balance")

	// ErrPeriodOverlap is returned when a payout already covers part of the period.
	ErrPeriodOverlap = errors.New("period overlaps an existing payout")

	// ErrPartialFailure is returned when some but not all transfers succeeded.
	ErrPartialFailure = errors.New("some transfers failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// MissingPayeeDetailsError lists every employee without complete bank details.
type MissingPayeeDetailsError struct {
	Employees []string // names, or ids when the name is unknown
}

func (e *MissingPayeeDetailsError) Error() string {
	return fmt.Sprintf("missing bank details for: %s", strings.Join(e.Employees, ", "))
}

func (e *MissingPayeeDetailsError) Unwrap() error { return ErrMissingPayeeDetails }

// InsufficientBalanceError provides details about a holding balance shortfall.
type InsufficientBalanceError struct {
	Available generic.Amount
	Needed    generic.Amount
	Currency  string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient platform balance: available %s, needed %s",
		e.Available.Format(e.Currency), e.Needed.Format(e.Currency))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientPlatformBalance }

// PeriodOverlapError names the payout that already covers the period.
type PeriodOverlapError struct {
	ExistingPayoutID string
	Existing         generic.Period
}

func (e *PeriodOverlapError) Error() string {
	return fmt.Sprintf("period overlaps payout %s %s", e.ExistingPayoutID, e.Existing)
}

func (e *PeriodOverlapError) Unwrap() error { return ErrPeriodOverlap }

// PartialFailureError carries the per-employee failures of an execution.
type PartialFailureError struct {
	Status   Status
	Failures []TransferResult
}

func (e *PartialFailureError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.EmployeeName, f.Error))
	}
	return fmt.Sprintf("some payouts failed: %s", strings.Join(parts, "; "))
}

func (e *PartialFailureError) Unwrap() error { return ErrPartialFailure }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to input the operator can fix.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNoEligibleEmployees) ||
		errors.Is(err, ErrNoTipsInPeriod) ||
		errors.Is(err, ErrMissingPayeeDetails) ||
		errors.Is(err, ErrVenueNotOnboarded) ||
		errors.Is(err, generic.ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrVenueNotFound) ||
		errors.Is(err, ErrPayoutNotFound) ||
		generic.IsNotFound(err)
}

// IsConflict returns true if the error reflects the payout's current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrPayoutNotPending) ||
		errors.Is(err, ErrPayoutNotRetryable) ||
		errors.Is(err, ErrPeriodOverlap) ||
		generic.IsConcurrentModification(err)
}
