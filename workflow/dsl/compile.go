package dsl

import (
	"errors"
	"fmt"
	"strconv"
)

// SyntaxError reports where an expression failed to lex or parse.
type SyntaxError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Expr == "" {
		return fmt.Sprintf("%s at position %d", e.Msg, e.Pos)
	}
	return fmt.Sprintf("%s at position %d in %q", e.Msg, e.Pos, e.Expr)
}

// Binding strength, loosest first:
//
//	||
//	&&
//	== != > < >= <= contains
//	+ -
//	* / %
//	! (prefix)
type parser struct {
	src    string
	tokens []token
	pos    []int
	i      int
}

func parse(expr string) (node, error) {
	toks, positions, err := lex(expr)
	if err != nil {
		var se *SyntaxError
		if errors.As(err, &se) {
			se.Expr = expr
		}
		return nil, err
	}
	if len(toks) == 0 {
		return literal{}, nil
	}
	p := &parser{src: expr, tokens: toks, pos: positions}
	n, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.i < len(p.tokens) {
		return nil, p.fail("unexpected token %q", p.tokens[p.i].value)
	}
	return n, nil
}

func (p *parser) fail(format string, args ...any) error {
	at := len([]rune(p.src))
	if p.i < len(p.pos) {
		at = p.pos[p.i]
	}
	return &SyntaxError{Expr: p.src, Pos: at, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) peek() (token, bool) {
	if p.i < len(p.tokens) {
		return p.tokens[p.i], true
	}
	return token{}, false
}

// accept consumes the next token when it is one of the given operators.
func (p *parser) accept(ops ...string) (string, bool) {
	t, ok := p.peek()
	if !ok || t.kind != tkOp {
		return "", false
	}
	for _, op := range ops {
		if t.value == op {
			p.i++
			return op, true
		}
	}
	return "", false
}

// binary parses a left-associative chain of ops over operands produced by next.
func (p *parser) binary(next func() (node, error), build func(op string, l, r node) node, ops ...string) (node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.accept(ops...)
		if !ok {
			return left, nil
		}
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = build(op, left, right)
	}
}

func (p *parser) or() (node, error) {
	return p.binary(p.and, func(_ string, l, r node) node { return orNode{l, r} }, "||")
}

func (p *parser) and() (node, error) {
	return p.binary(p.comparison, func(_ string, l, r node) node { return andNode{l, r} }, "&&")
}

// comparison is non-associative: a == b == c is a syntax error.
func (p *parser) comparison() (node, error) {
	left, err := p.additive()
	if err != nil {
		return nil, err
	}
	if t, ok := p.peek(); ok && t.kind == tkIdent && t.value == "contains" {
		p.i++
		right, err := p.additive()
		if err != nil {
			return nil, err
		}
		return containsNode{left, right}, nil
	}
	op, ok := p.accept("==", "!=", ">", "<", ">=", "<=")
	if !ok {
		return left, nil
	}
	right, err := p.additive()
	if err != nil {
		return nil, err
	}
	return compareNode{op, left, right}, nil
}

func (p *parser) additive() (node, error) {
	return p.binary(p.multiplicative, newArith, "+", "-")
}

func (p *parser) multiplicative() (node, error) {
	return p.binary(p.unary, newArith, "*", "/", "%")
}

func newArith(op string, l, r node) node { return arithNode{op, l, r} }

func (p *parser) unary() (node, error) {
	if _, ok := p.accept("!"); ok {
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return notNode{x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (node, error) {
	t, ok := p.peek()
	if !ok {
		return nil, p.fail("unexpected end of expression")
	}

	switch t.kind {
	case tkNumber:
		f, err := strconv.ParseFloat(t.value, 64)
		if err != nil {
			return nil, p.fail("invalid number %q", t.value)
		}
		p.i++
		return literal{f}, nil
	case tkString:
		p.i++
		return literal{t.value}, nil
	case tkIdent:
		p.i++
		switch t.value {
		case "true":
			return literal{true}, nil
		case "false":
			return literal{false}, nil
		case "null", "nil":
			return literal{}, nil
		case "contains":
			p.i--
			return nil, p.fail("contains needs a left operand")
		}
		return pathNode(t.value), nil
	case tkLParen:
		p.i++
		x, err := p.or()
		if err != nil {
			return nil, err
		}
		if t, ok := p.peek(); !ok || t.kind != tkRParen {
			return nil, p.fail("expected closing parenthesis")
		}
		p.i++
		return x, nil
	}
	return nil, p.fail("unexpected token %q", t.value)
}
