/*
Package generic provides domain-agnostic primitives for the payout engine.

PURPOSE:
  Calendar arithmetic and money math that every payout component relies on.
  Nothing in this package knows about venues, tips or employees.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: integer minor currency units (cents). No floats, ever.
  - Basis points and proportional shares, rounded to the nearest unit.

DESIGN PRINCIPLES:
  1. Precision: intermediate math uses decimal.Decimal, results are int64
  2. Rounding: nearest integer, halves away from zero (amounts are non-negative)
  3. Determinism: the same inputs always produce the same cents

USAGE:
  fee := generic.Amount(10000).BasisPoints(500)   // 500
  share := generic.Amount(9500).Share(7, 10)      // 6650

SEE ALSO:
  - period.go: Period and Window
  - time.go: TimePoint and Clock
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Minor currency units
// =============================================================================

// Amount is a quantity of money in minor units (e.g. cents).
type Amount int64

func (a Amount) Add(b Amount) Amount      { return a + b }
func (a Amount) Sub(b Amount) Amount      { return a - b }
func (a Amount) IsZero() bool             { return a == 0 }
func (a Amount) IsPositive() bool         { return a > 0 }
func (a Amount) IsNegative() bool         { return a < 0 }
func (a Amount) LessThan(b Amount) bool   { return a < b }
func (a Amount) Int64() int64             { return int64(a) }
func (a Amount) Decimal() decimal.Decimal { return decimal.NewFromInt(int64(a)) }

// BasisPoints returns round(a * bps / 10000).
func (a Amount) BasisPoints(bps int64) Amount {
	return a.Share(bps, 10000)
}

// Share returns round(a * num / den). den must be positive.
func (a Amount) Share(num, den int64) Amount {
	if den <= 0 {
		return 0
	}
	v := a.Decimal().Mul(decimal.NewFromInt(num)).Div(decimal.NewFromInt(den))
	return Amount(v.Round(0).IntPart())
}

// Format renders the amount as major units with two decimals ("95.00 AUD").
func (a Amount) Format(currency string) string {
	major := a.Decimal().Shift(-2).StringFixed(2)
	if currency == "" {
		return major
	}
	return fmt.Sprintf("%s %s", major, currency)
}

// Sum adds up a list of amounts.
func Sum(amounts ...Amount) Amount {
	var total Amount
	for _, a := range amounts {
		total += a
	}
	return total
}
