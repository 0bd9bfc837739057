package workflow

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/BaSui01/nodeflow/workflow/dsl"
)

// Condition operators.
const (
	OpEqual        = "=="
	OpNotEqual     = "!="
	OpGreater      = ">"
	OpLess         = "<"
	OpGreaterEqual = ">="
	OpLessEqual    = "<="
	OpContains     = "contains"
	OpNotContains  = "not_contains"
	OpIsEmpty      = "is_empty"
	OpIsNotEmpty   = "is_not_empty"
)

// Comparison is a single `left operator right` test.
type Comparison struct {
	Left     any    `mapstructure:"left" json:"left"`
	Operator string `mapstructure:"operator" json:"operator"`
	Right    any    `mapstructure:"right" json:"right"`
}

// ConditionConfig is the data of a condition node. Groups are OR'ed, the
// comparisons inside a group AND'ed. Expression is used when Groups is empty.
type ConditionConfig struct {
	Groups     [][]Comparison `mapstructure:"groups" json:"groups"`
	Expression string         `mapstructure:"expression" json:"expression,omitempty"`
}

// DecodeConditionConfig decodes resolved node data into a ConditionConfig.
func DecodeConditionConfig(data map[string]any) (ConditionConfig, error) {
	var cfg ConditionConfig
	if err := mapstructure.Decode(data, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid condition config: %w", err)
	}
	for _, group := range cfg.Groups {
		for _, c := range group {
			if !knownOperator(c.Operator) {
				return cfg, fmt.Errorf("unsupported condition operator %q", c.Operator)
			}
		}
	}
	return cfg, nil
}

// Evaluate returns true iff any group is true. An empty group is false.
// vars is the scope used by the expression form.
func (c ConditionConfig) Evaluate(vars map[string]any) (bool, error) {
	if len(c.Groups) == 0 && strings.TrimSpace(c.Expression) != "" {
		return dsl.Evaluate(c.Expression, vars)
	}
	for _, group := range c.Groups {
		if evaluateGroup(group) {
			return true, nil
		}
	}
	return false, nil
}

func evaluateGroup(group []Comparison) bool {
	if len(group) == 0 {
		return false
	}
	for _, c := range group {
		if !c.Evaluate() {
			return false
		}
	}
	return true
}

func knownOperator(op string) bool {
	switch op {
	case OpEqual, OpNotEqual, OpGreater, OpLess, OpGreaterEqual, OpLessEqual,
		OpContains, OpNotContains, OpIsEmpty, OpIsNotEmpty:
		return true
	}
	return false
}

// Evaluate applies the operator. Ordering operators need both sides to
// parse as numbers; otherwise the comparison is false.
func (c Comparison) Evaluate() bool {
	switch c.Operator {
	case OpEqual:
		return looseEqual(c.Left, c.Right)
	case OpNotEqual:
		return !looseEqual(c.Left, c.Right)
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
		l, lok := dsl.ToFloat64(c.Left)
		r, rok := dsl.ToFloat64(c.Right)
		if !lok || !rok {
			return false
		}
		switch c.Operator {
		case OpGreater:
			return l > r
		case OpLess:
			return l < r
		case OpGreaterEqual:
			return l >= r
		default:
			return l <= r
		}
	case OpContains:
		return dsl.Contains(c.Left, c.Right)
	case OpNotContains:
		return !dsl.Contains(c.Left, c.Right)
	case OpIsEmpty:
		return isEmpty(c.Left)
	case OpIsNotEmpty:
		return !isEmpty(c.Left)
	}
	return false
}

// looseEqual compares numerically when both sides are numbers, otherwise by
// text form, so 5 == "5" and true == "true".
func looseEqual(a, b any) bool {
	if af, ok := dsl.ToFloat64(a); ok {
		if bf, ok := dsl.ToFloat64(b); ok {
			return af == bf
		}
	}
	if a == nil || b == nil {
		return isEmpty(a) && isEmpty(b)
	}
	return Stringify(a) == Stringify(b)
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
