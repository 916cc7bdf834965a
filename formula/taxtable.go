package formula

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TAX TABLES - Progressive bracket lookup
// =============================================================================

// Bracket is one row of a progressive table. Upper nil means open-ended.
// Rate is a fraction: 0.20 means 20%.
type Bracket struct {
	Lower      decimal.Decimal  `json:"lower"`
	Upper      *decimal.Decimal `json:"upper,omitempty"`
	Rate       decimal.Decimal  `json:"rate"`
	Fixed      decimal.Decimal  `json:"fixed"`
	ExcessOver decimal.Decimal  `json:"excess_over"`
}

// Matches reports whether v falls inside the bracket.
func (b Bracket) Matches(v decimal.Decimal) bool {
	if v.LessThan(b.Lower) {
		return false
	}
	return b.Upper == nil || v.LessThanOrEqual(*b.Upper)
}

// Apply computes fixed + rate * (v - excess_over).
func (b Bracket) Apply(v decimal.Decimal) decimal.Decimal {
	return b.Fixed.Add(b.Rate.Mul(v.Sub(b.ExcessOver)))
}

// TaxTable is a named, ordered set of brackets.
type TaxTable struct {
	Name     string
	Brackets []Bracket
}

// NewTaxTable sorts brackets by lower bound and validates them.
func NewTaxTable(name string, brackets []Bracket) (*TaxTable, error) {
	if len(brackets) == 0 {
		return nil, fmt.Errorf("table %q has no brackets", name)
	}
	sorted := make([]Bracket, len(brackets))
	copy(sorted, brackets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Lower.LessThan(sorted[j].Lower)
	})

	for i, b := range sorted {
		if b.Rate.IsNegative() {
			return nil, fmt.Errorf("table %q bracket %d: negative rate", name, i)
		}
		if b.Upper == nil && i != len(sorted)-1 {
			return nil, fmt.Errorf("table %q bracket %d: only the last bracket may be open-ended", name, i)
		}
		if b.Upper != nil && b.Upper.LessThan(b.Lower) {
			return nil, fmt.Errorf("table %q bracket %d: upper %s below lower %s", name, i, b.Upper, b.Lower)
		}
	}
	return &TaxTable{Name: name, Brackets: sorted}, nil
}

// Lookup finds the bracket containing v and applies it.
func (t *TaxTable) Lookup(v decimal.Decimal) (decimal.Decimal, error) {
	for _, b := range t.Brackets {
		if b.Matches(v) {
			return b.Apply(v), nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %s in table %q", ErrNoBracket, v, t.Name)
}
