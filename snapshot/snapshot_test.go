package snapshot_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/catalog"
	"github.com/warp/payroll-engine/formula"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/snapshot"
	"github.com/warp/payroll-engine/store/memory"
)

var calcDate = generic.Date(2025, time.January, 31)

func fixture(t *testing.T) (*memory.Catalog, catalog.Payroll) {
	t.Helper()
	schema, err := formula.ParseSchema([]byte(`{
		"steps": [{"name": "tax", "type": "calculation", "expression": "taxable_gross * 0.1"}],
		"output": "tax"
	}`))
	require.NoError(t, err)

	cat := memory.NewCatalog()
	p := catalog.Payroll{ID: "pay-1", CompanyID: "acme", Currency: "MXN", Active: true}
	cat.PutPayroll(p)
	cat.PutParameters(catalog.CalculationParameters{CompanyID: "acme", DaysPerMonth: 30, HoursPerDay: decimal.NewFromInt(8)})
	cat.PutConcept(catalog.Concept{ID: "c-bonus", Code: "BONUS", Class: catalog.ClassPerception, Kind: catalog.KindFixed, DefaultAmount: generic.DecimalPtr("500")})
	cat.PutConcept(catalog.Concept{ID: "c-isr", Code: "ISR", Class: catalog.ClassDeduction, Kind: catalog.KindTaxRule})
	cat.Assign(catalog.Assignment{ID: "a-1", PayrollID: p.ID, ConceptID: "c-bonus", Order: 1})
	cat.Assign(catalog.Assignment{ID: "a-2", PayrollID: p.ID, ConceptID: "c-isr", Priority: 1})
	cat.AddTaxRule(catalog.TaxRule{ID: "r-1", ConceptCode: "ISR", Version: 1, EffectiveFrom: generic.Date(2024, time.January, 1), Schema: schema})
	cat.AddExchangeRate(catalog.ExchangeRate{From: "USD", To: "MXN", Rate: decimal.NewFromInt(17), EffectiveDate: generic.Date(2025, time.January, 2)})
	return cat, p
}

func TestCapture_FrozenSourceSurvivesConfigChanges(t *testing.T) {
	ctx := context.Background()
	cat, p := fixture(t)
	svc := snapshot.NewService(memory.NewSnapshots(), nil)

	// GIVEN: a captured snapshot
	snap, err := svc.Capture(ctx, cat, snapshot.Request{
		Payroll: p, CompanyIDs: []string{"acme"}, Currencies: []string{"USD", "MXN"}, CalculationDate: calcDate,
	})
	require.NoError(t, err)
	require.NoError(t, snap.Verify())
	assert.Len(t, snap.Assignments, 2)
	assert.Len(t, snap.TaxRules, 1)
	assert.Len(t, snap.ExchangeRates, 1)

	// WHEN: live configuration changes afterwards
	cat.PutConcept(catalog.Concept{ID: "c-bonus", Code: "BONUS", Class: catalog.ClassPerception, Kind: catalog.KindFixed, DefaultAmount: generic.DecimalPtr("9999")})
	cat.PutParameters(catalog.CalculationParameters{CompanyID: "acme", DaysPerMonth: 31})

	// THEN: the frozen source still serves the captured values
	src := snap.Source()
	assigned, err := src.Assignments(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "500", assigned[0].Amount().String())

	params, err := src.Parameters(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 30, params.DaysPerMonth)

	rule, err := src.TaxRule(ctx, "", "ISR", calcDate)
	require.NoError(t, err)
	assert.Equal(t, "r-1", rule.ID)

	rate, err := src.ExchangeRate(ctx, "USD", "MXN", calcDate)
	require.NoError(t, err)
	assert.True(t, rate.Rate.Equal(decimal.NewFromInt(17)))

	_, err = src.TaxRule(ctx, "", "SS", calcDate)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestSnapshot_ParametersFallBackToGlobal(t *testing.T) {
	ctx := context.Background()
	cat, p := fixture(t)
	cat.PutParameters(catalog.CalculationParameters{DaysPerMonth: 28})

	snap, err := snapshot.NewService(memory.NewSnapshots(), nil).Capture(ctx, cat, snapshot.Request{Payroll: p, CalculationDate: calcDate})
	require.NoError(t, err)

	params, err := snap.Source().Parameters(ctx, "unknown-co")
	require.NoError(t, err)
	assert.Equal(t, 28, params.DaysPerMonth)
}

func TestSnapshot_VerifyDetectsTampering(t *testing.T) {
	ctx := context.Background()
	cat, p := fixture(t)
	store := memory.NewSnapshots()
	svc := snapshot.NewService(store, nil)

	snap, err := svc.Capture(ctx, cat, snapshot.Request{Payroll: p, CalculationDate: calcDate})
	require.NoError(t, err)

	loaded, err := svc.Load(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.Checksum, loaded.Checksum)

	loaded.Parameters["acme"] = catalog.CalculationParameters{DaysPerMonth: 1}
	assert.ErrorIs(t, loaded.Verify(), snapshot.ErrChecksumMismatch)
}

func TestSnapshot_JSONRoundTripKeepsChecksum(t *testing.T) {
	ctx := context.Background()
	cat, p := fixture(t)

	snap, err := snapshot.NewService(nil, nil).Capture(ctx, cat, snapshot.Request{Payroll: p, CalculationDate: calcDate})
	require.NoError(t, err)

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var back snapshot.Snapshot
	require.NoError(t, json.Unmarshal(data, &back))
	assert.NoError(t, back.Verify())

	rule, err := back.Source().TaxRule(ctx, "", "ISR", calcDate)
	require.NoError(t, err)
	v, err := rule.Schema.Evaluate(formula.Env{"taxable_gross": decimal.NewFromInt(1000)})
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(100)))
}
