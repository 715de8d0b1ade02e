// Package types provides common money and quantity primitives.
package types

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Money is a decimal amount in major currency units, used only at API and
// storage boundaries. Arithmetic happens on MinorUnits.
type Money = decimal.Decimal

// CurrencyExponent is the number of minor-unit digits of the settlement currency.
const CurrencyExponent int32 = 2

// MinorUnits represents a monetary value in minor currency units (cents, kopecks, paise).
// Storage: int64 - sufficient for ±922 trillion minor units.
type MinorUnits int64

// MaxAmount bounds every price, discount and total the engine accepts
// (10^13 in major units), so sums of a few amounts never leave int64.
const MaxAmount MinorUnits = 1_000_000_000_000_000

// MinorUnitsFromDecimal converts a major-unit amount to minor units,
// rounding half-up on the dropped digits.
func MinorUnitsFromDecimal(d decimal.Decimal) MinorUnits {
	return MinorUnits(RoundHalfUp(d.Shift(CurrencyExponent)))
}

// ParseMinorUnits parses a major-unit string like "12.345".
func ParseMinorUnits(s string) (MinorUnits, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return MinorUnitsFromDecimal(d), nil
}

// Decimal converts minor units back to a major-unit decimal for display and storage.
func (m MinorUnits) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -CurrencyExponent)
}

// String renders the amount in major units with a fixed number of digits.
func (m MinorUnits) String() string {
	return m.Decimal().StringFixed(CurrencyExponent)
}

func (m MinorUnits) IsZero() bool     { return m == 0 }
func (m MinorUnits) IsPositive() bool { return m > 0 }
func (m MinorUnits) IsNegative() bool { return m < 0 }
func (m MinorUnits) Neg() MinorUnits  { return -m }

// InRange reports whether m is in [0, MaxAmount].
func (m MinorUnits) InRange() bool { return m >= 0 && m <= MaxAmount }

// MulQty returns m × qty. ok is false when either operand is out of range
// or the product exceeds MaxAmount.
func (m MinorUnits) MulQty(qty int64) (MinorUnits, bool) {
	if !m.InRange() || qty < 0 {
		return 0, false
	}
	if qty > 0 && m > MaxAmount/MinorUnits(qty) {
		return 0, false
	}
	return m * MinorUnits(qty), true
}

// AddChecked returns a + b. ok is false when either operand is out of range
// or the sum exceeds MaxAmount.
func AddChecked(a, b MinorUnits) (MinorUnits, bool) {
	if !a.InRange() || !b.InRange() {
		return 0, false
	}
	sum := a + b
	return sum, sum <= MaxAmount
}

// Min returns the smaller of two amounts.
func Min(a, b MinorUnits) MinorUnits {
	if a < b {
		return a
	}
	return b
}

var (
	half     = decimal.New(5, -1)
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
	minInt64 = decimal.NewFromInt(math.MinInt64)
)

// RoundHalfUp rounds d to an integer, ties going toward positive infinity.
// Values outside int64 saturate at the nearest bound.
func RoundHalfUp(d decimal.Decimal) int64 {
	floor := d.Floor()
	if d.Sub(floor).GreaterThanOrEqual(half) {
		floor = floor.Add(decimal.NewFromInt(1))
	}
	switch {
	case floor.GreaterThan(maxInt64):
		return math.MaxInt64
	case floor.LessThan(minInt64):
		return math.MinInt64
	}
	return floor.IntPart()
}
