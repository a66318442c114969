// Package payout implements the tip pool distribution engine.
// It turns a venue's settled tips for a period into per-employee distributions
// and moves the money through the external payment processor.
package payout

import (
	"strings"
	"time"

	"github.com/warp/payout-engine/generic"
)

// =============================================================================
// VENUE
// =============================================================================

type Frequency string

const (
	FrequencyWeekly      Frequency = "weekly"
	FrequencyFortnightly Frequency = "fortnightly"
	FrequencyMonthly     Frequency = "monthly"
)

// Valid reports whether f is a known payout cadence.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyFortnightly, FrequencyMonthly:
		return true
	}
	return false
}

// Venue collects tips and employs the staff who share them.
type Venue struct {
	ID                   string
	Name                 string
	CollectionAccountRef string // processor account tips are forwarded to; empty until onboarded
	AutoPayoutEnabled    bool
	PayoutFrequency      Frequency
	PayoutDay            int // weekday 0-6 for weekly/fortnightly, day-of-month 1-28 for monthly
	LastAutoPayoutAt     *time.Time
}

// Onboarded reports whether the venue has a collection account.
func (v Venue) Onboarded() bool { return v.CollectionAccountRef != "" }

// =============================================================================
// EMPLOYEE
// =============================================================================

// BankDetails are the payee banking details used to create a payee identity.
type BankDetails struct {
	RoutingCode   string // BSB or equivalent
	AccountNumber string
	AccountName   string
}

// Complete reports whether every field needed for a transfer is present.
func (b BankDetails) Complete() bool {
	return strings.TrimSpace(b.RoutingCode) != "" &&
		strings.TrimSpace(b.AccountNumber) != "" &&
		strings.TrimSpace(b.AccountName) != ""
}

type Employee struct {
	ID            string
	VenueID       string
	Name          string
	Email         string
	Bank          BankDetails
	PayeeID       string // processor payee identity, created lazily
	ActivatedAt   *time.Time
	DeactivatedAt *time.Time
	IsActive      bool
}

// ActiveWindow returns the employee's active window. ok is false for employees
// who were never activated.
func (e Employee) ActiveWindow() (generic.Window, bool) {
	if e.ActivatedAt == nil {
		return generic.Window{}, false
	}
	return generic.Window{From: *e.ActivatedAt, To: e.DeactivatedAt}, true
}

// =============================================================================
// TIP
// =============================================================================

type TipStatus string

const (
	TipPending   TipStatus = "pending"
	TipSucceeded TipStatus = "succeeded"
	TipFailed    TipStatus = "failed"
	TipRefunded  TipStatus = "refunded"
)

// Tip is a settled customer gratuity. Read-only to this engine.
type Tip struct {
	ID          string
	VenueID     string
	EmployeeID  string // empty means venue-wide pool
	Amount      generic.Amount
	Currency    string
	Status      TipStatus
	PaymentRef  string // processor payment reference
	TransferRef string // auto-forward transfer to the venue's collection account
	CreatedAt   time.Time
}

// =============================================================================
// PAYOUT
// =============================================================================

type Status string

const (
	StatusPending            Status = "pending"
	StatusProcessing         Status = "processing"
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusFailed             Status = "failed"
)

// Terminal reports whether the status is a final execution outcome.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusPartiallyCompleted || s == StatusFailed
}

// Retryable reports whether failed distributions of a payout in this status
// may be attempted again.
func (s Status) Retryable() bool {
	return s == StatusPartiallyCompleted || s == StatusFailed
}

type Payout struct {
	ID            string
	VenueID       string
	Period        generic.Period
	TotalAmount   generic.Amount
	PlatformFee   generic.Amount
	NetAmount     generic.Amount
	Status        Status
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	Distributions []Distribution
}

// =============================================================================
// DISTRIBUTION
// =============================================================================

type DistributionStatus string

const (
	DistributionPending   DistributionStatus = "pending"
	DistributionCompleted DistributionStatus = "completed"
	DistributionFailed    DistributionStatus = "failed"
)

// Distribution is one employee's share of a payout.
type Distribution struct {
	ID              string
	PayoutID        string
	EmployeeID      string
	EmployeeName    string
	Amount          generic.Amount
	DaysActive      int
	TotalPeriodDays int
	IsProrated      bool
	Status          DistributionStatus
	TransferRef     string
	ErrorMessage    string
	Attempts        int
}

// Outstanding reports whether money still has to move for this distribution.
func (d Distribution) Outstanding() bool {
	return d.Status != DistributionCompleted
}
