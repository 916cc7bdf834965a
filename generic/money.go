/*
Package generic provides the primitives shared by every payroll component.

PURPOSE:
  Domain-agnostic building blocks: money rounding, calendar and period math,
  fiscal period resolution, centralized errors, diagnostics and identifiers.
  Nothing in here knows what a perception, deduction or leave policy is.

KEY CONCEPTS IN THIS FILE (money.go):
  - RoundMoney: the single rounding policy for monetary amounts
  - Percent: percentage-of-base arithmetic on decimals

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64 for money
  2. One rounding rule: half away from zero, two places
  3. Round at the edge: intermediate math keeps full precision, values are
     rounded right before they are stored or summed

USAGE:
  gross := generic.RoundMoney(salary.Mul(days).Div(daysInMonth))
  tax := generic.Percent(gross, decimal.NewFromInt(10))

SEE ALSO:
  - time.go: Calendar helpers (inclusive day counts, month lengths)
  - period.go: Pay periods, overlap checks, fiscal periods
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places monetary amounts are quantized to.
const MoneyPlaces = 2

var (
	// Hundred is the percentage divisor.
	Hundred = decimal.NewFromInt(100)
)

// RoundMoney quantizes an amount to two decimal places, rounding half away
// from zero (10.005 -> 10.01, -10.005 -> -10.01).
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// FormatMoney renders an amount with exactly two decimal digits.
func FormatMoney(d decimal.Decimal) string {
	return RoundMoney(d).StringFixed(MoneyPlaces)
}

// Percent returns pct percent of base, unrounded.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(Hundred)
}

// NonNegative floors an amount at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// MustParseDecimal parses s or returns zero. Intended for literals and fixtures.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// DecimalPtr returns a pointer to a parsed literal, handy for optional config fields.
func DecimalPtr(s string) *decimal.Decimal {
	d := MustParseDecimal(s)
	return &d
}
