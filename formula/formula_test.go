package formula_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/formula"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const isrSchema = `{
  "steps": [{"name": "isr", "type": "tax_table", "input": "taxable_gross", "table": "monthly"}],
  "output": "isr",
  "tables": {
    "monthly": [
      {"lower": "5000.01", "upper": "10000", "rate": "0.20", "fixed": "200", "excess_over": "5000"},
      {"lower": "0", "upper": "5000", "rate": "0.04", "fixed": "0", "excess_over": "0"},
      {"lower": "10000.01", "rate": "0.30", "fixed": "1200", "excess_over": "10000"}
    ]
  }
}`

// =============================================================================
// CALCULATION STEPS
// =============================================================================

func TestEvaluate_SimpleCalculation(t *testing.T) {
	// GIVEN: a = base * rate with declared defaults
	schema, err := formula.ParseSchema([]byte(`{
		"inputs": [
			{"name": "base", "type": "decimal", "default": 100},
			{"name": "rate", "type": "decimal", "default": "0.1"}
		],
		"steps": [{"name": "a", "type": "calculation", "expression": "base * rate"}],
		"output": "a"
	}`))
	require.NoError(t, err)

	// WHEN: evaluated with an empty env
	got, err := schema.Evaluate(nil)

	// THEN: defaults are used
	require.NoError(t, err)
	assert.Equal(t, "10.00", got.StringFixed(2))

	// WHEN: env overrides one input
	got, err = formula.Evaluate(schema, formula.Env{"base": d("250")})
	require.NoError(t, err)
	assert.True(t, got.Equal(d("25")))
}

func TestEvaluate_StepsChainInOrder(t *testing.T) {
	schema, err := formula.ParseSchema([]byte(`{
		"steps": [
			{"name": "taxable", "type": "calculation", "expression": "max(0, gross - pre_tax_deductions)"},
			{"name": "capped", "type": "calculation", "expression": "min(taxable, 1000) * 0.05"},
			{"name": "flag", "type": "calculation", "expression": "(taxable > 500) * capped"}
		],
		"output": "flag"
	}`))
	require.NoError(t, err)

	got, err := schema.Evaluate(formula.Env{"gross": d("1200"), "pre_tax_deductions": d("300")})
	require.NoError(t, err)
	assert.True(t, got.Equal(d("45")), "got %s", got)

	got, err = schema.Evaluate(formula.Env{"gross": d("400"), "pre_tax_deductions": d("0")})
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestParseExpr_Precedence(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"1 + 2 * 3", "7"},
		{"(1 + 2) * 3", "9"},
		{"-2 * -3", "6"},
		{"10 / 4", "2.5"},
		{"abs(-3.5)", "3.5"},
		{"round(2.345)", "2.35"},
		{"round(2.345, 1)", "2.3"},
		{"3 >= 3", "1"},
		{"2 != 2", "0"},
		{"ytd.gross + 1", "11"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			schema, err := formula.NewSchema(formula.SchemaJSON{
				Steps:  []formula.StepJSON{{Name: "r", Type: "calculation", Expression: tt.expr}},
				Output: "r",
			})
			require.NoError(t, err)
			got, err := schema.Evaluate(formula.Env{"ytd.gross": d("10")})
			require.NoError(t, err)
			assert.True(t, got.Equal(d(tt.want)), "%s = %s, want %s", tt.expr, got, tt.want)
		})
	}
}

// =============================================================================
// TAX TABLES
// =============================================================================

func TestEvaluate_TaxTable(t *testing.T) {
	schema, err := formula.ParseSchema([]byte(isrSchema))
	require.NoError(t, err)

	tests := []struct {
		taxable string
		want    string
	}{
		{"6000", "400.00"},
		{"5000", "200.00"},
		{"0", "0.00"},
		{"12000", "1800.00"},
	}
	for _, tt := range tests {
		got, err := schema.Evaluate(formula.Env{"taxable_gross": d(tt.taxable)})
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.StringFixed(2), "taxable %s", tt.taxable)
	}
}

func TestTaxTable_ProgressiveLookup(t *testing.T) {
	// GIVEN: [0-1000: 0%] [1000.01-5000: 10% over 1000] [5000.01-: 400 + 20% over 5000]
	first, second := d("1000"), d("5000")
	table, err := formula.NewTaxTable("progressive", []formula.Bracket{
		{Lower: d("0"), Upper: &first},
		{Lower: d("1000.01"), Upper: &second, Rate: d("0.10"), ExcessOver: d("1000")},
		{Lower: d("5000.01"), Rate: d("0.20"), Fixed: d("400"), ExcessOver: d("5000")},
	})
	require.NoError(t, err)

	// WHEN / THEN
	got, err := table.Lookup(d("6000"))
	require.NoError(t, err)
	assert.Equal(t, "600.00", got.StringFixed(2))

	got, err = table.Lookup(d("3000"))
	require.NoError(t, err)
	assert.Equal(t, "200.00", got.StringFixed(2))
}

func TestTaxTable_NoBracket(t *testing.T) {
	upper := d("100")
	table, err := formula.NewTaxTable("small", []formula.Bracket{{Lower: d("0"), Upper: &upper, Rate: d("0.1")}})
	require.NoError(t, err)

	_, err = table.Lookup(d("150"))
	assert.ErrorIs(t, err, formula.ErrNoBracket)
}

func TestTaxTable_OnlyLastOpenEnded(t *testing.T) {
	_, err := formula.NewTaxTable("bad", []formula.Bracket{
		{Lower: d("0"), Rate: d("0.1")},
		{Lower: d("100"), Rate: d("0.2")},
	})
	assert.Error(t, err)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestEvaluate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		expr   string
		target error
	}{
		{"undefined name", "missing * 2", formula.ErrUndefinedName},
		{"division by zero", "10 / (gross - gross)", formula.ErrDivisionByZero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema, err := formula.NewSchema(formula.SchemaJSON{
				Steps:  []formula.StepJSON{{Name: "boom", Type: "calculation", Expression: tt.expr}},
				Output: "boom",
			})
			require.NoError(t, err)

			_, err = schema.Evaluate(formula.Env{"gross": d("5")})
			require.Error(t, err)
			assert.ErrorIs(t, err, formula.ErrFormula)
			assert.ErrorIs(t, err, tt.target)

			var ferr *formula.Error
			require.True(t, errors.As(err, &ferr))
			assert.Equal(t, "boom", ferr.Step)
		})
	}
}

func TestParseSchema_Invalid(t *testing.T) {
	tests := map[string]string{
		"output not a step":  `{"steps": [{"name": "a", "type": "calculation", "expression": "1"}], "output": "b"}`,
		"duplicate step":     `{"steps": [{"name": "a", "type": "calculation", "expression": "1"}, {"name": "a", "type": "calculation", "expression": "2"}], "output": "a"}`,
		"unknown step type":  `{"steps": [{"name": "a", "type": "lookup"}], "output": "a"}`,
		"bad expression":     `{"steps": [{"name": "a", "type": "calculation", "expression": "1 +"}], "output": "a"}`,
		"unknown function":   `{"steps": [{"name": "a", "type": "calculation", "expression": "pow(2, 3)"}], "output": "a"}`,
		"missing table":      `{"steps": [{"name": "a", "type": "tax_table", "input": "x", "table": "t"}], "output": "a"}`,
		"unknown input type": `{"inputs": [{"name": "x", "type": "text"}], "steps": [{"name": "a", "type": "calculation", "expression": "x"}], "output": "a"}`,
		"no steps":           `{"output": "a"}`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := formula.ParseSchema([]byte(src))
			assert.ErrorIs(t, err, formula.ErrInvalidSchema)
		})
	}
}

func TestSchema_InputTypesCoerce(t *testing.T) {
	schema, err := formula.ParseSchema([]byte(`{
		"inputs": [
			{"name": "n", "type": "integer", "default": 2},
			{"name": "on", "type": "boolean", "default": true}
		],
		"steps": [{"name": "r", "type": "calculation", "expression": "n * on"}],
		"output": "r"
	}`))
	require.NoError(t, err)

	got, err := schema.Evaluate(formula.Env{"n": d("3.9")})
	require.NoError(t, err)
	assert.True(t, got.Equal(d("3")))

	got, err = schema.Evaluate(formula.Env{"on": d("0")})
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestSchema_JSONRoundTrip(t *testing.T) {
	schema, err := formula.ParseSchema([]byte(isrSchema))
	require.NoError(t, err)

	type holder struct {
		Formula *formula.Schema `json:"formula"`
	}
	data, err := json.Marshal(holder{Formula: schema})
	require.NoError(t, err)

	var back holder
	require.NoError(t, json.Unmarshal(data, &back))
	require.NotNil(t, back.Formula)

	got, err := back.Formula.Evaluate(formula.Env{"taxable_gross": d("6000")})
	require.NoError(t, err)
	assert.Equal(t, "400.00", got.StringFixed(2))
	assert.Equal(t, schema.Source(), back.Formula.Source())
	assert.Equal(t, []string{"taxable_gross"}, back.Formula.Names())
}
