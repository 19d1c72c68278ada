// Package expr implements a small, safe expression language for workflow
// conditions, approver selectors, and accrual rules: comparisons, boolean
// combinators, and arithmetic over a context map, tokenized with the
// standard library's text/scanner rather than a general scripting runtime.
// There is deliberately no function call syntax, no loops, and no
// assignment — an expression can only read the context it's given and
// produce a value, which keeps a workflow definition's condition and
// approver-selector fields inspectable and safe to store as plain text.
package expr

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"

	"github.com/shopspring/decimal"
)

// Eval parses and evaluates expression against context, returning the
// resulting value as interface{} (bool, decimal.Decimal, or string).
func Eval(expression string, context map[string]interface{}) (interface{}, error) {
	p := newParser(expression)
	node, err := p.parseExpr()
	if err != nil {
		return nil, fmt.Errorf("expr: parse %q: %w", expression, err)
	}
	if p.tok != scanner.EOF {
		return nil, fmt.Errorf("expr: unexpected trailing token in %q", expression)
	}
	return node.eval(context)
}

// EvalBool evaluates expression and requires the result to be a bool, the
// shape a workflow edge condition or gateway needs.
func EvalBool(expression string, context map[string]interface{}) (bool, error) {
	v, err := Eval(expression, context)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expr: %q did not evaluate to a bool (got %T)", expression, v)
	}
	return b, nil
}

// EvalNumber evaluates expression and requires the result to be numeric,
// the shape a rule_based accrual policy needs.
func EvalNumber(expression string, context map[string]interface{}) (decimal.Decimal, error) {
	v, err := Eval(expression, context)
	if err != nil {
		return decimal.Zero, err
	}
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	default:
		return decimal.Zero, fmt.Errorf("expr: %q did not evaluate to a number (got %T)", expression, v)
	}
}

// EvalString evaluates expression and requires the result to be a string,
// the shape an approver-selector field (e.g. a role name) needs.
func EvalString(expression string, context map[string]interface{}) (string, error) {
	v, err := Eval(expression, context)
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case decimal.Decimal:
		return s.String(), nil
	default:
		return "", fmt.Errorf("expr: %q did not evaluate to a string (got %T)", expression, v)
	}
}

// node is an evaluated AST node.
type node interface {
	eval(context map[string]interface{}) (interface{}, error)
}

type literal struct{ value interface{} }

func (l literal) eval(map[string]interface{}) (interface{}, error) { return l.value, nil }

type identifier struct{ name string }

func (id identifier) eval(context map[string]interface{}) (interface{}, error) {
	v, ok := context[id.name]
	if !ok {
		return nil, fmt.Errorf("expr: unknown identifier %q", id.name)
	}
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case decimal.Decimal, bool, string:
		return n, nil
	default:
		return nil, fmt.Errorf("expr: identifier %q has unsupported type %T", id.name, v)
	}
}

type unary struct {
	op   string
	expr node
}

func (u unary) eval(context map[string]interface{}) (interface{}, error) {
	v, err := u.expr.eval(context)
	if err != nil {
		return nil, err
	}
	switch u.op {
	case "not":
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expr: 'not' requires a bool operand")
		}
		return !b, nil
	case "-":
		n, ok := v.(decimal.Decimal)
		if !ok {
			return nil, fmt.Errorf("expr: unary '-' requires a numeric operand")
		}
		return n.Neg(), nil
	default:
		return nil, fmt.Errorf("expr: unknown unary operator %q", u.op)
	}
}

type binary struct {
	op          string
	left, right node
}

func (b binary) eval(context map[string]interface{}) (interface{}, error) {
	l, err := b.left.eval(context)
	if err != nil {
		return nil, err
	}

	switch b.op {
	case "and", "or":
		lb, ok := l.(bool)
		if !ok {
			return nil, fmt.Errorf("expr: %q requires bool operands", b.op)
		}
		if b.op == "and" && !lb {
			return false, nil
		}
		if b.op == "or" && lb {
			return true, nil
		}
		r, err := b.right.eval(context)
		if err != nil {
			return nil, err
		}
		rb, ok := r.(bool)
		if !ok {
			return nil, fmt.Errorf("expr: %q requires bool operands", b.op)
		}
		return rb, nil
	}

	r, err := b.right.eval(context)
	if err != nil {
		return nil, err
	}

	switch b.op {
	case "==", "!=":
		eq := valuesEqual(l, r)
		if b.op == "!=" {
			return !eq, nil
		}
		return eq, nil
	case "<", "<=", ">", ">=":
		ln, lok := l.(decimal.Decimal)
		rn, rok := r.(decimal.Decimal)
		if !lok || !rok {
			return nil, fmt.Errorf("expr: comparison operator %q requires numeric operands", b.op)
		}
		cmp := ln.Cmp(rn)
		switch b.op {
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	case "+", "-", "*", "/":
		ln, lok := l.(decimal.Decimal)
		rn, rok := r.(decimal.Decimal)
		if !lok || !rok {
			return nil, fmt.Errorf("expr: arithmetic operator %q requires numeric operands", b.op)
		}
		switch b.op {
		case "+":
			return ln.Add(rn), nil
		case "-":
			return ln.Sub(rn), nil
		case "*":
			return ln.Mul(rn), nil
		default:
			if rn.IsZero() {
				return nil, fmt.Errorf("expr: division by zero")
			}
			return ln.Div(rn), nil
		}
	default:
		return nil, fmt.Errorf("expr: unknown binary operator %q", b.op)
	}
}

func valuesEqual(l, r interface{}) bool {
	if ln, ok := l.(decimal.Decimal); ok {
		if rn, ok := r.(decimal.Decimal); ok {
			return ln.Equal(rn)
		}
		return false
	}
	return l == r
}

// parser is a small recursive-descent parser over text/scanner tokens,
// precedence climbing from "or" (lowest) down to unary and atoms (highest):
// or -> and -> not -> equality -> relational -> additive -> multiplicative -> unary -> atom.
type parser struct {
	sc  scanner.Scanner
	tok rune
	lit string
}

func newParser(input string) *parser {
	p := &parser{}
	p.sc.Init(strings.NewReader(input))
	p.sc.Mode = scanner.ScanIdents | scanner.ScanFloats | scanner.ScanStrings
	p.next()
	return p
}

func (p *parser) next() {
	p.tok = p.sc.Scan()
	p.lit = p.sc.TokenText()
	// text/scanner yields single-rune tokens for punctuation, so two-char
	// operators (==, !=, <=, >=) need merging by hand.
	if p.tok == '=' || p.tok == '!' || p.tok == '<' || p.tok == '>' {
		if p.sc.Peek() == '=' {
			p.sc.Next()
			p.lit += "="
		}
	}
}

func (p *parser) parseExpr() (node, error) { return p.parseOr() }

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.lit == "or" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binary{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.lit == "and" {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = binary{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.lit == "not" {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unary{op: "not", expr: operand}, nil
	}
	return p.parseEquality()
}

func (p *parser) parseEquality() (node, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.lit == "==" || p.lit == "!=" {
		op := p.lit
		p.next()
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = binary{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseRelational() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.lit == "<" || p.lit == "<=" || p.lit == ">" || p.lit == ">=" {
		op := p.lit
		p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = binary{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.lit == "+" || p.lit == "-" {
		op := p.lit
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = binary{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.lit == "*" || p.lit == "/" {
		op := p.lit
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binary{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.lit == "-" {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unary{op: "-", expr: operand}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (node, error) {
	switch {
	case p.lit == "(":
		p.next()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.lit != ")" {
			return nil, fmt.Errorf("expr: expected ')', got %q", p.lit)
		}
		p.next()
		return inner, nil
	case p.lit == "true":
		p.next()
		return literal{value: true}, nil
	case p.lit == "false":
		p.next()
		return literal{value: false}, nil
	case p.tok == scanner.String:
		s, err := strconv.Unquote(p.lit)
		if err != nil {
			s = strings.Trim(p.lit, `"`)
		}
		p.next()
		return literal{value: s}, nil
	case p.tok == scanner.Int || p.tok == scanner.Float:
		d, err := decimal.NewFromString(p.lit)
		if err != nil {
			return nil, fmt.Errorf("expr: invalid number %q", p.lit)
		}
		p.next()
		return literal{value: d}, nil
	case p.tok == scanner.Ident:
		name := p.lit
		p.next()
		return identifier{name: name}, nil
	default:
		return nil, fmt.Errorf("expr: unexpected token %q", p.lit)
	}
}
