/*
store.go - Persistence contracts for the payout engine

PURPOSE:
  Defines what the engine needs from the datastore. The datastore itself is a
  plain CRUD/query service; all payout rules live in this package.

KEY INTERFACES:
  VenueStore:    Venue lookup and the optimistic auto-payout cursor
  EmployeeStore: Roster lookup and set-if-null payee identity
  TipLedger:     Read-only settled tips (the Tip Ledger Reader)
  RecordStore:   Payouts and distributions, CAS status transitions

NOT-FOUND CONVENTION:
  Get* methods return (nil, nil) when the row does not exist. Callers turn
  that into a domain error (ErrVenueNotFound, ErrPayoutNotFound).

COMPARE-AND-SET:
  CompareAndSetStatus and AdvanceAutoPayoutCursor only write when the row
  still holds the expected value, otherwise they return
  generic.ErrConcurrentModification. The payout status is the execution lock.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - store/memory/memory.go: In-memory for tests and local runs
*/
package payout

import (
	"context"
	"time"

	"github.com/warp/payout-engine/generic"
)

// VenueStore reads venues and advances the auto-payout cursor.
type VenueStore interface {
	GetVenue(ctx context.Context, id string) (*Venue, error)

	// ListAutoPayoutVenues returns venues with auto payouts enabled, ordered by id.
	ListAutoPayoutVenues(ctx context.Context) ([]Venue, error)

	// AdvanceAutoPayoutCursor sets last_auto_payout_at to next only if it still
	// equals expected (nil meaning never run).
	AdvanceAutoPayoutCursor(ctx context.Context, venueID string, expected *time.Time, next time.Time) error
}

// EmployeeStore reads the roster and records payee identities.
type EmployeeStore interface {
	GetEmployee(ctx context.Context, id string) (*Employee, error)

	// ListEmployees returns every employee of a venue, active or not.
	ListEmployees(ctx context.Context, venueID string) ([]Employee, error)

	// SetPayeeID stores payeeID if the employee has none yet and returns the
	// identity now on record (the existing one if another writer won).
	SetPayeeID(ctx context.Context, employeeID, payeeID string) (string, error)
}

// TipLedger is the Tip Ledger Reader: succeeded tips for a venue with
// created_at in [period.Start 00:00, period.End+1 00:00) UTC.
type TipLedger interface {
	SettledTips(ctx context.Context, venueID string, period generic.Period) ([]Tip, error)
}

// RecordStore persists payouts and distributions.
type RecordStore interface {
	// CreatePayout inserts the payout row only. It returns a
	// *PeriodOverlapError when the venue already has a payout sharing a day,
	// checked atomically with the insert.
	CreatePayout(ctx context.Context, p *Payout) error

	// CreateDistributions inserts all rows atomically: all or none.
	CreateDistributions(ctx context.Context, ds []Distribution) error

	// DeletePayout removes a payout and its distributions.
	DeletePayout(ctx context.Context, id string) error

	// GetPayout returns the payout with its distributions, ordered by employee id.
	GetPayout(ctx context.Context, id string) (*Payout, error)

	// ListPayouts returns a venue's payouts, newest period first, with distributions.
	ListPayouts(ctx context.Context, venueID string) ([]Payout, error)

	// CompareAndSetStatus moves a payout from one status to another.
	// processedAt is written when non-nil.
	CompareAndSetStatus(ctx context.Context, id string, from, to Status, processedAt *time.Time) error

	// UpdateDistribution writes the status, transfer reference, error and attempt count.
	UpdateDistribution(ctx context.Context, d Distribution) error
}

// Store is everything the engine needs.
type Store interface {
	VenueStore
	EmployeeStore
	TipLedger
	RecordStore
}
