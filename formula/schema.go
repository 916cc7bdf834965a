/*
Package formula evaluates externally supplied calculation schemas.

PURPOSE:
  Tax and benefit rules are data, not code. A schema declares typed inputs,
  an ordered list of steps and the step whose value is the result. Steps are
  either arithmetic expressions or progressive tax-table lookups.

KEY CONCEPTS:
  - Schema: parsed and validated once at load, evaluated many times
  - Step: a named unit producing one decimal, bound into scope for later steps
  - Env: caller-supplied variables (novelties, context totals, YTD values)

SCHEMA FORMAT:
  {
    "inputs":  [{"name": "rate", "type": "decimal", "default": "0.1"}],
    "steps":   [{"name": "a", "type": "calculation", "expression": "base * rate"},
                {"name": "isr", "type": "tax_table", "input": "taxable_gross", "table": "monthly"}],
    "output":  "a",
    "tables":  {"monthly": [{"lower": "0", "upper": "5000", "rate": "0", "fixed": "0", "excess_over": "0"}]}
  }

SEE ALSO:
  - expr.go: Expression parser
  - taxtable.go: Bracket lookup
*/
package formula

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrFormula is wrapped by every evaluation failure.
	ErrFormula = errors.New("formula evaluation failed")

	// ErrInvalidSchema is returned by ParseSchema for malformed definitions.
	ErrInvalidSchema = errors.New("invalid formula schema")

	ErrUndefinedName  = errors.New("undefined name")
	ErrDivisionByZero = errors.New("division by zero")
	ErrNoBracket      = errors.New("no matching bracket")
)

// Error reports the step that failed and why.
type Error struct {
	Step string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("formula step %q: %v", e.Step, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrFormula, e.Err}
}

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// Env is the variable environment handed to Evaluate.
type Env map[string]decimal.Decimal

// ValueType is the declared type of an input.
type ValueType string

const (
	TypeDecimal ValueType = "decimal"
	TypeInteger ValueType = "integer"
	TypeBoolean ValueType = "boolean"
)

// Input is a declared variable with its default.
type Input struct {
	Name    string
	Type    ValueType
	Default decimal.Decimal
}

// coerce normalizes v to the input's type.
func (in Input) coerce(v decimal.Decimal) decimal.Decimal {
	switch in.Type {
	case TypeInteger:
		return v.Truncate(0)
	case TypeBoolean:
		return truth(!v.IsZero())
	}
	return v
}

// Step produces one named value.
type Step interface {
	Name() string
	Evaluate(scope Env) (decimal.Decimal, error)
}

// CalculationStep evaluates an arithmetic expression.
type CalculationStep struct {
	name       string
	Expression string
	expr       Expr
}

func (s *CalculationStep) Name() string { return s.name }

func (s *CalculationStep) Evaluate(scope Env) (decimal.Decimal, error) {
	return s.expr.eval(scope)
}

// TaxTableStep looks a variable up in a progressive table.
type TaxTableStep struct {
	name  string
	Input string
	Table *TaxTable
}

func (s *TaxTableStep) Name() string { return s.name }

func (s *TaxTableStep) Evaluate(scope Env) (decimal.Decimal, error) {
	v, ok := scope[s.Input]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUndefinedName, s.Input)
	}
	return s.Table.Lookup(v)
}

// Schema is a validated, ready-to-run formula.
type Schema struct {
	Inputs []Input
	Steps  []Step
	Output string

	source []byte
}

// =============================================================================
// WIRE FORMAT
// =============================================================================

// SchemaJSON is the stored representation of a schema.
type SchemaJSON struct {
	Inputs []InputJSON          `json:"inputs,omitempty"`
	Steps  []StepJSON           `json:"steps"`
	Output string               `json:"output"`
	Tables map[string][]Bracket `json:"tables,omitempty"`
}

type InputJSON struct {
	Name    string          `json:"name"`
	Type    ValueType       `json:"type"`
	Default json.RawMessage `json:"default,omitempty"`
}

type StepJSON struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Expression string `json:"expression,omitempty"`
	Input      string `json:"input,omitempty"`
	Table      string `json:"table,omitempty"`
}

// ParseSchema decodes and validates a JSON schema.
func ParseSchema(data []byte) (*Schema, error) {
	var raw SchemaJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return NewSchema(raw)
}

// NewSchema validates raw and compiles its steps.
func NewSchema(raw SchemaJSON) (*Schema, error) {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidSchema, fmt.Sprintf(format, args...))
	}

	s := &Schema{Output: raw.Output}
	seen := make(map[string]bool)

	for _, in := range raw.Inputs {
		if in.Name == "" {
			return nil, invalid("input with empty name")
		}
		if seen[in.Name] {
			return nil, invalid("duplicate name %q", in.Name)
		}
		seen[in.Name] = true

		input := Input{Name: in.Name, Type: in.Type}
		switch in.Type {
		case TypeDecimal, TypeInteger, TypeBoolean:
		case "":
			input.Type = TypeDecimal
		default:
			return nil, invalid("input %q: unknown type %q", in.Name, in.Type)
		}
		def, err := parseDefault(in.Default)
		if err != nil {
			return nil, invalid("input %q: %v", in.Name, err)
		}
		input.Default = input.coerce(def)
		s.Inputs = append(s.Inputs, input)
	}

	tables := make(map[string]*TaxTable, len(raw.Tables))
	for name, brackets := range raw.Tables {
		t, err := NewTaxTable(name, brackets)
		if err != nil {
			return nil, invalid("%v", err)
		}
		tables[name] = t
	}

	if len(raw.Steps) == 0 {
		return nil, invalid("no steps")
	}
	stepNames := make(map[string]bool)
	for _, st := range raw.Steps {
		if st.Name == "" {
			return nil, invalid("step with empty name")
		}
		if seen[st.Name] {
			return nil, invalid("duplicate name %q", st.Name)
		}
		seen[st.Name] = true
		stepNames[st.Name] = true

		switch st.Type {
		case "calculation":
			expr, err := ParseExpr(st.Expression)
			if err != nil {
				return nil, invalid("step %q: %v", st.Name, err)
			}
			s.Steps = append(s.Steps, &CalculationStep{name: st.Name, Expression: st.Expression, expr: expr})
		case "tax_table":
			if st.Input == "" {
				return nil, invalid("step %q: tax_table needs an input", st.Name)
			}
			t, ok := tables[st.Table]
			if !ok {
				return nil, invalid("step %q: unknown table %q", st.Name, st.Table)
			}
			s.Steps = append(s.Steps, &TaxTableStep{name: st.Name, Input: st.Input, Table: t})
		default:
			return nil, invalid("step %q: unknown type %q", st.Name, st.Type)
		}
	}

	if !stepNames[raw.Output] {
		return nil, invalid("output %q is not a step", raw.Output)
	}

	src, err := json.Marshal(raw)
	if err != nil {
		return nil, invalid("%v", err)
	}
	s.source = src
	return s, nil
}

func parseDefault(raw json.RawMessage) (decimal.Decimal, error) {
	text := strings.TrimSpace(string(raw))
	switch text {
	case "", "null", "false":
		return decimal.Zero, nil
	case "true":
		return one, nil
	}
	return decimal.NewFromString(strings.Trim(text, `"`))
}

// Source returns the canonical JSON the schema was built from.
func (s *Schema) Source() []byte {
	out := make([]byte, len(s.source))
	copy(out, s.source)
	return out
}

// MarshalJSON emits the canonical source, so schemas embedded in other
// structures survive a JSON round trip.
func (s *Schema) MarshalJSON() ([]byte, error) {
	if s == nil || len(s.source) == 0 {
		return []byte("null"), nil
	}
	return s.Source(), nil
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSchema(data)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// Names returns every identifier read by the schema's steps.
func (s *Schema) Names() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, st := range s.Steps {
		switch step := st.(type) {
		case *CalculationStep:
			step.expr.names(add)
		case *TaxTableStep:
			add(step.Input)
		}
	}
	return out
}

// =============================================================================
// EVALUATION
// =============================================================================

// Evaluate runs every step in order and returns the output step's value.
//
// Scope starts with the env, then each declared input: an env value of the
// same name overrides its default. Step results are bound as they complete.
func (s *Schema) Evaluate(env Env) (decimal.Decimal, error) {
	scope := make(Env, len(env)+len(s.Inputs)+len(s.Steps))
	for k, v := range env {
		scope[k] = v
	}
	for _, in := range s.Inputs {
		if v, ok := env[in.Name]; ok {
			scope[in.Name] = in.coerce(v)
		} else {
			scope[in.Name] = in.Default
		}
	}

	for _, st := range s.Steps {
		v, err := st.Evaluate(scope)
		if err != nil {
			return decimal.Zero, &Error{Step: st.Name(), Err: err}
		}
		scope[st.Name()] = v
	}
	return scope[s.Output], nil
}

// Evaluate is shorthand for schema.Evaluate(env).
func Evaluate(schema *Schema, env Env) (decimal.Decimal, error) {
	if schema == nil {
		return decimal.Zero, &Error{Err: errors.New("no schema")}
	}
	return schema.Evaluate(env)
}
