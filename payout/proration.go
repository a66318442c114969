/*
proration.go - Proration Calculator (pure)

PURPOSE:
  Splits a venue's net tip pool between the employees who were active during
  the period, in proportion to the number of days each was active.

ALGORITHM:
  1. Eligible = employees whose active window intersects the period
  2. total = sum of succeeded tips; fee = round(total * feeBPS / 10000)
  3. days_active = inclusive calendar days of the clipped window (minimum 1)
  4. share = round(net * days_active / sum(days_active))
  5. remainder (net - sum(shares)) goes to the FIRST employee

ORDERING:
  Employees are ordered by ID before shares are computed. The remainder
  correction is order-dependent, so the same inputs always put the leftover
  cent(s) on the same person.

  Rounding every share up can overshoot net (remainder < 0). The deficit is
  taken from the first share down to zero, then from the next share in ID
  order, and so on. No share is ever negative.

SEE ALSO:
  - generic/period.go: Window.Clip and Period.DayCount
  - recorder.go: Persists a Calculation
*/
package payout

import (
	"sort"

	"github.com/warp/payout-engine/generic"
)

// DefaultFeeBPS is the platform fee in basis points (5%).
const DefaultFeeBPS int64 = 500

// CalculationInput is everything the calculator needs. It performs no I/O.
type CalculationInput struct {
	Period    generic.Period
	Employees []Employee
	Tips      []Tip
	FeeBPS    int64
}

// Share is one employee's computed slice of the pool.
type Share struct {
	EmployeeID      string
	EmployeeName    string
	Amount          generic.Amount
	DaysActive      int
	TotalPeriodDays int
	IsProrated      bool
}

// Calculation is the result of a successful proration.
type Calculation struct {
	Period      generic.Period
	TotalAmount generic.Amount
	PlatformFee generic.Amount
	NetAmount   generic.Amount
	TipCount    int
	Shares      []Share
}

// Calculate computes per-employee shares for a period.
func Calculate(in CalculationInput) (Calculation, error) {
	if err := in.Period.Validate(); err != nil {
		return Calculation{}, err
	}

	type eligible struct {
		emp  Employee
		days int
	}
	var roster []eligible
	for _, emp := range in.Employees {
		window, ok := emp.ActiveWindow()
		if !ok {
			continue
		}
		clipped, ok := window.Clip(in.Period)
		if !ok {
			continue
		}
		roster = append(roster, eligible{emp: emp, days: clipped.DayCount()})
	}
	if len(roster) == 0 {
		return Calculation{}, ErrNoEligibleEmployees
	}
	sort.SliceStable(roster, func(i, j int) bool { return roster[i].emp.ID < roster[j].emp.ID })

	var total generic.Amount
	tipCount := 0
	for _, t := range in.Tips {
		if t.Status != TipSucceeded {
			continue
		}
		total = total.Add(t.Amount)
		tipCount++
	}
	if tipCount == 0 {
		return Calculation{}, ErrNoTipsInPeriod
	}

	feeBPS := in.FeeBPS
	if feeBPS <= 0 {
		feeBPS = DefaultFeeBPS
	}
	fee := total.BasisPoints(feeBPS)
	net := total.Sub(fee)

	periodDays := in.Period.DayCount()
	sumDays := 0
	for _, r := range roster {
		sumDays += r.days
	}

	shares := make([]Share, len(roster))
	var distributed generic.Amount
	for i, r := range roster {
		amount := net.Share(int64(r.days), int64(sumDays))
		distributed = distributed.Add(amount)
		shares[i] = Share{
			EmployeeID:      r.emp.ID,
			EmployeeName:    r.emp.Name,
			Amount:          amount,
			DaysActive:      r.days,
			TotalPeriodDays: periodDays,
			IsProrated:      r.days < periodDays,
		}
	}
	applyRemainder(shares, net.Sub(distributed))

	return Calculation{
		Period:      in.Period,
		TotalAmount: total,
		PlatformFee: fee,
		NetAmount:   net,
		TipCount:    tipCount,
		Shares:      shares,
	}, nil
}

// applyRemainder adds a positive remainder to the first share, or takes a
// negative one from the shares in order without pushing any below zero.
func applyRemainder(shares []Share, remainder generic.Amount) {
	if remainder.IsPositive() {
		shares[0].Amount = shares[0].Amount.Add(remainder)
		return
	}
	deficit := -remainder
	for i := range shares {
		if !deficit.IsPositive() {
			return
		}
		take := min(deficit, shares[i].Amount)
		shares[i].Amount = shares[i].Amount.Sub(take)
		deficit = deficit.Sub(take)
	}
}
