package dsl

import (
	"errors"
	"fmt"
)

// node is one compiled sub-expression.
type node interface {
	eval(vars map[string]any) (any, error)
}

type literal struct{ v any }

func (n literal) eval(map[string]any) (any, error) { return n.v, nil }

// pathNode is a dot path into the variables, nil when it does not resolve.
type pathNode string

func (n pathNode) eval(vars map[string]any) (any, error) {
	return ResolvePath(string(n), vars), nil
}

type notNode struct{ x node }

func (n notNode) eval(vars map[string]any) (any, error) {
	v, err := n.x.eval(vars)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

// andNode and orNode short-circuit: the right operand is not evaluated
// once the left one decides the result.
type andNode struct{ l, r node }

func (n andNode) eval(vars map[string]any) (any, error) {
	l, err := n.l.eval(vars)
	if err != nil {
		return nil, err
	}
	if !truthy(l) {
		return false, nil
	}
	r, err := n.r.eval(vars)
	if err != nil {
		return nil, err
	}
	return truthy(r), nil
}

type orNode struct{ l, r node }

func (n orNode) eval(vars map[string]any) (any, error) {
	l, err := n.l.eval(vars)
	if err != nil {
		return nil, err
	}
	if truthy(l) {
		return true, nil
	}
	r, err := n.r.eval(vars)
	if err != nil {
		return nil, err
	}
	return truthy(r), nil
}

type compareNode struct {
	op   string
	l, r node
}

func (n compareNode) eval(vars map[string]any) (any, error) {
	l, r, err := operands(n.l, n.r, vars)
	if err != nil {
		return nil, err
	}
	return compare(l, n.op, r), nil
}

type containsNode struct{ l, r node }

func (n containsNode) eval(vars map[string]any) (any, error) {
	l, r, err := operands(n.l, n.r, vars)
	if err != nil {
		return nil, err
	}
	return Contains(l, r), nil
}

type arithNode struct {
	op   string
	l, r node
}

var errDivisionByZero = errors.New("division by zero")

func (n arithNode) eval(vars map[string]any) (any, error) {
	l, r, err := operands(n.l, n.r, vars)
	if err != nil {
		return nil, err
	}

	lf, lok := ToFloat64(l)
	rf, rok := ToFloat64(r)
	if !lok || !rok {
		if n.op == "+" {
			return text(l) + text(r), nil
		}
		return nil, fmt.Errorf("operator %s requires numeric operands, got %T and %T", n.op, l, r)
	}

	switch n.op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, errDivisionByZero
		}
		return lf / rf, nil
	default: // %
		if int64(rf) == 0 {
			return nil, fmt.Errorf("modulo by zero")
		}
		return float64(int64(lf) % int64(rf)), nil
	}
}

func operands(l, r node, vars map[string]any) (any, any, error) {
	lv, err := l.eval(vars)
	if err != nil {
		return nil, nil, err
	}
	rv, err := r.eval(vars)
	if err != nil {
		return nil, nil, err
	}
	return lv, rv, nil
}
