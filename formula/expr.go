package formula

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AST - Parsed calculation expressions
// =============================================================================

// Expr is a parsed arithmetic expression.
type Expr interface {
	eval(scope Env) (decimal.Decimal, error)
	// names reports every identifier the expression reads.
	names(visit func(string))
}

type numberLit struct{ value decimal.Decimal }

type ident struct{ name string }

type negate struct{ x Expr }

type binary struct {
	op   string
	l, r Expr
}

type call struct {
	fn   string
	args []Expr
}

var (
	one = decimal.NewFromInt(1)
)

func (n numberLit) eval(Env) (decimal.Decimal, error) { return n.value, nil }
func (n numberLit) names(func(string))                {}

func (i ident) eval(scope Env) (decimal.Decimal, error) {
	v, ok := scope[i.name]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUndefinedName, i.name)
	}
	return v, nil
}
func (i ident) names(visit func(string)) { visit(i.name) }

func (n negate) eval(scope Env) (decimal.Decimal, error) {
	v, err := n.x.eval(scope)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Neg(), nil
}
func (n negate) names(visit func(string)) { n.x.names(visit) }

func (b binary) eval(scope Env) (decimal.Decimal, error) {
	l, err := b.l.eval(scope)
	if err != nil {
		return decimal.Zero, err
	}
	r, err := b.r.eval(scope)
	if err != nil {
		return decimal.Zero, err
	}
	switch b.op {
	case "+":
		return l.Add(r), nil
	case "-":
		return l.Sub(r), nil
	case "*":
		return l.Mul(r), nil
	case "/":
		if r.IsZero() {
			return decimal.Zero, ErrDivisionByZero
		}
		return l.Div(r), nil
	case "<":
		return truth(l.LessThan(r)), nil
	case "<=":
		return truth(l.LessThanOrEqual(r)), nil
	case ">":
		return truth(l.GreaterThan(r)), nil
	case ">=":
		return truth(l.GreaterThanOrEqual(r)), nil
	case "==":
		return truth(l.Equal(r)), nil
	case "!=":
		return truth(!l.Equal(r)), nil
	}
	return decimal.Zero, fmt.Errorf("unknown operator %q", b.op)
}
func (b binary) names(visit func(string)) { b.l.names(visit); b.r.names(visit) }

func (c call) eval(scope Env) (decimal.Decimal, error) {
	args := make([]decimal.Decimal, len(c.args))
	for i, a := range c.args {
		v, err := a.eval(scope)
		if err != nil {
			return decimal.Zero, err
		}
		args[i] = v
	}
	switch c.fn {
	case "min":
		return decimal.Min(args[0], args[1:]...), nil
	case "max":
		return decimal.Max(args[0], args[1:]...), nil
	case "abs":
		return args[0].Abs(), nil
	case "round":
		places := int32(2)
		if len(args) == 2 {
			places = int32(args[1].IntPart())
		}
		return args[0].Round(places), nil
	}
	return decimal.Zero, fmt.Errorf("unknown function %q", c.fn)
}
func (c call) names(visit func(string)) {
	for _, a := range c.args {
		a.names(visit)
	}
}

func truth(b bool) decimal.Decimal {
	if b {
		return one
	}
	return decimal.Zero
}

// arity bounds per builtin: min args, max args (-1 = variadic).
var builtins = map[string][2]int{
	"min":   {2, -1},
	"max":   {2, -1},
	"abs":   {1, 1},
	"round": {1, 2},
}

// =============================================================================
// LEXER
// =============================================================================

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case unicode.IsDigit(c) || (c == '.' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1]))):
			start := i
			for i < len(src) && (unicode.IsDigit(rune(src[i])) || src[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i], pos: start})
		case c == '_' || unicode.IsLetter(c):
			start := i
			for i < len(src) && (src[i] == '_' || src[i] == '.' || unicode.IsLetter(rune(src[i])) || unicode.IsDigit(rune(src[i]))) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], pos: start})
		default:
			if i+1 < len(src) {
				two := src[i : i+2]
				if two == "<=" || two == ">=" || two == "==" || two == "!=" {
					toks = append(toks, token{kind: tokOp, text: two, pos: i})
					i += 2
					continue
				}
			}
			if strings.ContainsRune("+-*/(),<>", c) {
				toks = append(toks, token{kind: tokOp, text: string(c), pos: i})
				i++
				continue
			}
			return nil, fmt.Errorf("unexpected character %q at %d", c, i)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

// =============================================================================
// PARSER - Recursive descent, lowest precedence first
// =============================================================================

type parser struct {
	toks []token
	pos  int
}

// ParseExpr parses an expression such as "max(0, gross - pre_tax_deductions) * 0.1".
func ParseExpr(src string) (Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.comparison()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at %d", p.peek().text, p.peek().pos)
	}
	return e, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *parser) comparison() (Expr, error) {
	l, err := p.additive()
	if err != nil {
		return nil, err
	}
	if op, ok := p.acceptOp("<", "<=", ">", ">=", "==", "!="); ok {
		r, err := p.additive()
		if err != nil {
			return nil, err
		}
		return binary{op: op, l: l, r: r}, nil
	}
	return l, nil
}

func (p *parser) additive() (Expr, error) {
	l, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return l, nil
		}
		r, err := p.term()
		if err != nil {
			return nil, err
		}
		l = binary{op: op, l: l, r: r}
	}
}

func (p *parser) term() (Expr, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("*", "/")
		if !ok {
			return l, nil
		}
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		l = binary{op: op, l: l, r: r}
	}
}

func (p *parser) unary() (Expr, error) {
	if op, ok := p.acceptOp("-", "+"); ok {
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		if op == "-" {
			return negate{x: x}, nil
		}
		return x, nil
	}
	return p.primary()
}

func (p *parser) primary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		v, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, fmt.Errorf("bad number %q at %d", t.text, t.pos)
		}
		return numberLit{value: v}, nil
	case tokIdent:
		if _, ok := p.acceptOp("("); ok {
			return p.call(t)
		}
		return ident{name: t.text}, nil
	case tokOp:
		if t.text == "(" {
			e, err := p.comparison()
			if err != nil {
				return nil, err
			}
			if _, ok := p.acceptOp(")"); !ok {
				return nil, fmt.Errorf("missing ')' at %d", p.peek().pos)
			}
			return e, nil
		}
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
}

func (p *parser) call(name token) (Expr, error) {
	arity, ok := builtins[name.text]
	if !ok {
		return nil, fmt.Errorf("unknown function %q at %d", name.text, name.pos)
	}
	var args []Expr
	if _, closed := p.acceptOp(")"); !closed {
		for {
			a, err := p.comparison()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if _, more := p.acceptOp(","); more {
				continue
			}
			if _, closed := p.acceptOp(")"); closed {
				break
			}
			return nil, fmt.Errorf("expected ',' or ')' at %d", p.peek().pos)
		}
	}
	if len(args) < arity[0] || (arity[1] >= 0 && len(args) > arity[1]) {
		return nil, fmt.Errorf("%s: wrong number of arguments (%d)", name.text, len(args))
	}
	return call{fn: name.text, args: args}, nil
}
