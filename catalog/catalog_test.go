package catalog_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/catalog"
	"github.com/warp/payroll-engine/generic"
)

func TestKind_TextRoundTrip(t *testing.T) {
	for _, k := range []catalog.Kind{
		catalog.KindFixed, catalog.KindPercentOfBase, catalog.KindPercentOfGross,
		catalog.KindHours, catalog.KindDays, catalog.KindFormula, catalog.KindTaxRule,
	} {
		parsed, err := catalog.ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := catalog.ParseKind("lookup")
	assert.Error(t, err)

	var c catalog.Concept
	require.NoError(t, json.Unmarshal([]byte(`{"code":"OT","kind":"hours"}`), &c))
	assert.Equal(t, catalog.KindHours, c.Kind)
}

func TestAssignedConcept_OverrideWins(t *testing.T) {
	ac := catalog.AssignedConcept{
		Concept:    catalog.Concept{DefaultAmount: generic.DecimalPtr("100"), Percentage: generic.DecimalPtr("5")},
		Assignment: catalog.Assignment{AmountOverride: generic.DecimalPtr("150")},
	}
	assert.Equal(t, "150", ac.Amount().String())
	assert.Equal(t, "5", ac.Percentage().String())
}

func TestParameters_WithDefaults(t *testing.T) {
	p := catalog.CalculationParameters{PeriodDays: map[catalog.Periodicity]int{catalog.Biweekly: 15}}.WithDefaults()

	assert.Equal(t, 30, p.DaysPerMonth)
	assert.True(t, p.HoursPerDay.Equal(decimal.NewFromInt(8)))
	assert.Equal(t, 15, p.BasisDays(catalog.Biweekly))
	assert.Equal(t, 7, p.BasisDays(catalog.Weekly))
	assert.Equal(t, time.January, p.FiscalYearStartMonth)
}

func TestConcept_ActiveAt(t *testing.T) {
	from := generic.Date(2025, time.February, 1)
	c := catalog.Concept{State: catalog.StateApproved, ValidFrom: &from}

	assert.False(t, c.ActiveAt(generic.Date(2025, time.January, 31)))
	assert.True(t, c.ActiveAt(from))

	c.State = catalog.StateDraft
	assert.False(t, c.ActiveAt(from))
}

func TestSelectTaxRule(t *testing.T) {
	end2024 := generic.Date(2024, time.December, 31)
	rules := []catalog.TaxRule{
		{ID: "r1", Code: "ISR-2024", ConceptCode: "ISR", Version: 1, EffectiveFrom: generic.Date(2024, time.January, 1), EffectiveTo: &end2024},
		{ID: "r2", Code: "ISR-2025", ConceptCode: "ISR", Version: 2, EffectiveFrom: generic.Date(2025, time.January, 1)},
		{ID: "r3", Code: "SS", ConceptCode: "SS", Version: 1, EffectiveFrom: generic.Date(2020, time.January, 1)},
	}

	// explicit reference first
	r, ok := catalog.SelectTaxRule(rules, "SS", "ISR", generic.Date(2025, time.March, 1))
	require.True(t, ok)
	assert.Equal(t, "r3", r.ID)

	// fallback by concept code, effective version
	r, ok = catalog.SelectTaxRule(rules, "", "ISR", generic.Date(2024, time.June, 1))
	require.True(t, ok)
	assert.Equal(t, "r1", r.ID)

	r, ok = catalog.SelectTaxRule(rules, "missing", "ISR", generic.Date(2025, time.June, 1))
	require.True(t, ok)
	assert.Equal(t, "r2", r.ID)

	_, ok = catalog.SelectTaxRule(rules, "", "ISR", generic.Date(2023, time.June, 1))
	assert.False(t, ok)
}

func TestSelectExchangeRate_MostRecentOnOrBefore(t *testing.T) {
	rates := []catalog.ExchangeRate{
		{From: "USD", To: "MXN", Rate: decimal.NewFromInt(17), EffectiveDate: generic.Date(2025, time.January, 1)},
		{From: "USD", To: "MXN", Rate: decimal.NewFromInt(18), EffectiveDate: generic.Date(2025, time.February, 1)},
		{From: "USD", To: "MXN", Rate: decimal.NewFromInt(19), EffectiveDate: generic.Date(2025, time.March, 1)},
	}

	r, ok := catalog.SelectExchangeRate(rates, "USD", "MXN", generic.Date(2025, time.February, 20))
	require.True(t, ok)
	assert.True(t, r.Rate.Equal(decimal.NewFromInt(18)))

	_, ok = catalog.SelectExchangeRate(rates, "USD", "MXN", generic.Date(2024, time.December, 1))
	assert.False(t, ok)
}

func TestLoan_NextInstallment(t *testing.T) {
	l := catalog.Loan{Installment: decimal.NewFromInt(500), Remaining: decimal.NewFromInt(200)}
	assert.True(t, l.NextInstallment().Equal(decimal.NewFromInt(200)))
}
