package catalog

import (
	"context"
	"time"
)

// Directory is live, per-period data the engine reads while executing a run.
type Directory interface {
	Payroll(ctx context.Context, id string) (Payroll, error)
	PayrollEmployees(ctx context.Context, payrollID string) ([]Employee, error)
	Novelties(ctx context.Context, employeeID, payrollID string, from, to time.Time) ([]Novelty, error)
	Loans(ctx context.Context, employeeID string) ([]Loan, error)
}

// ConfigSource is the configuration a calculation depends on. Runs capture it
// into a snapshot so recalculation reads the same values.
type ConfigSource interface {
	// Parameters for a company, falling back to the global row.
	Parameters(ctx context.Context, companyID string) (CalculationParameters, error)

	// Assignments of a payroll with their concepts.
	Assignments(ctx context.Context, payrollID string) ([]AssignedConcept, error)

	// TaxRule effective at a date, by explicit reference first, then by the
	// owning concept's code. Returns generic.ErrNotFound when neither matches.
	TaxRule(ctx context.Context, ref, conceptCode string, at time.Time) (TaxRule, error)

	// ExchangeRate most recent on or before at.
	ExchangeRate(ctx context.Context, from, to string, at time.Time) (ExchangeRate, error)
}

// SelectTaxRule picks the newest-version rule effective at a date among
// candidates, preferring ref over conceptCode. Shared by every ConfigSource.
func SelectTaxRule(rules []TaxRule, ref, conceptCode string, at time.Time) (TaxRule, bool) {
	pick := func(match func(TaxRule) bool) (TaxRule, bool) {
		var best TaxRule
		found := false
		for _, r := range rules {
			if !match(r) || !r.EffectiveAt(at) {
				continue
			}
			if !found || r.Version > best.Version ||
				(r.Version == best.Version && r.EffectiveFrom.After(best.EffectiveFrom)) {
				best, found = r, true
			}
		}
		return best, found
	}
	if ref != "" {
		if r, ok := pick(func(r TaxRule) bool { return r.ID == ref || r.Code == ref }); ok {
			return r, true
		}
	}
	if conceptCode != "" {
		return pick(func(r TaxRule) bool { return r.ConceptCode == conceptCode })
	}
	return TaxRule{}, false
}

// SelectExchangeRate returns the most recent rate on or before at.
func SelectExchangeRate(rates []ExchangeRate, from, to string, at time.Time) (ExchangeRate, bool) {
	var best ExchangeRate
	found := false
	for _, r := range rates {
		if r.From != from || r.To != to || r.EffectiveDate.After(at) {
			continue
		}
		if !found || r.EffectiveDate.After(best.EffectiveDate) {
			best, found = r, true
		}
	}
	return best, found
}
