package dsl

import (
	"strings"
	"sync"
)

// Program is a compiled expression. It is immutable and safe for
// concurrent use.
type Program struct {
	src  string
	root node
}

// Compile parses expr once so it can be evaluated many times. An empty
// expression compiles to a program that yields nil.
//
// Supported operators: == != > < >= <= contains && || ! + - * / %.
// Literals: numbers, single or double quoted strings, true, false, null.
// Identifiers are dot paths into the variables; numeric segments index
// into lists (items.0.name).
func Compile(expr string) (*Program, error) {
	expr = strings.TrimSpace(expr)
	root, err := parse(expr)
	if err != nil {
		return nil, err
	}
	return &Program{src: expr, root: root}, nil
}

// String returns the trimmed source the program was compiled from.
func (p *Program) String() string { return p.src }

// Eval returns the raw value of the expression.
func (p *Program) Eval(vars map[string]any) (any, error) {
	return p.root.eval(vars)
}

// Bool evaluates the expression and reports whether the result is truthy.
func (p *Program) Bool(vars map[string]any) (bool, error) {
	v, err := p.root.eval(vars)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// Evaluate compiles expr through the shared cache and returns its truth value.
func Evaluate(expr string, vars map[string]any) (bool, error) {
	p, err := cached(expr)
	if err != nil {
		return false, err
	}
	return p.Bool(vars)
}

// EvaluateValue compiles expr through the shared cache and returns its value.
// An empty expression evaluates to nil.
func EvaluateValue(expr string, vars map[string]any) (any, error) {
	p, err := cached(expr)
	if err != nil {
		return nil, err
	}
	return p.Eval(vars)
}

// cacheLimit bounds the shared program cache; a full cache is reset.
const cacheLimit = 512

var programs = struct {
	sync.RWMutex
	m map[string]*Program
}{m: make(map[string]*Program)}

func cached(expr string) (*Program, error) {
	programs.RLock()
	p, ok := programs.m[expr]
	programs.RUnlock()
	if ok {
		return p, nil
	}

	p, err := Compile(expr)
	if err != nil {
		return nil, err
	}

	programs.Lock()
	if len(programs.m) >= cacheLimit {
		clear(programs.m)
	}
	programs.m[expr] = p
	programs.Unlock()
	return p, nil
}
