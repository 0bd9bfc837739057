package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/BaSui01/nodeflow/workflow/dsl"
)

// Reserved scope keys. They take precedence over node ids of the same name.
const (
	ScopeGlobal = "global"
	ScopeForm   = "form"
)

var (
	// wholeTemplate matches a string that is exactly one {{ path }} token.
	wholeTemplate = regexp.MustCompile(`^\{\{\s*([^{}]+?)\s*\}\}$`)
	// anyTemplate matches every {{ path }} token inside a string.
	anyTemplate = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
)

// Scope is the layered lookup context for template resolution:
// {global, form, <nodeId>: <state entry>, ...}.
type Scope map[string]any

// NewScope builds a scope from globals, form inputs and the current state.
func NewScope(global, form map[string]any, state map[string]NodeState) Scope {
	scope := make(Scope, len(state)+2)
	for id, entry := range state {
		scope[id] = map[string]any(entry)
	}
	if global == nil {
		global = map[string]any{}
	}
	if form == nil {
		form = map[string]any{}
	}
	scope[ScopeGlobal] = global
	scope[ScopeForm] = form
	return scope
}

// Lookup resolves a dot-separated path.
func (s Scope) Lookup(path string) (any, bool) {
	return dsl.Lookup(map[string]any(s), strings.TrimSpace(path))
}

// Resolve substitutes {{ path }} references in text.
//
// A string that is exactly one token yields the referenced value with its
// type intact. Otherwise every token is replaced by the text form of its
// value, and tokens whose path does not resolve are left as written.
func Resolve(text string, scope Scope) any {
	if !strings.Contains(text, "{{") {
		return text
	}

	if m := wholeTemplate.FindStringSubmatch(text); m != nil {
		if val, ok := scope.Lookup(m[1]); ok {
			return val
		}
		return text
	}

	return anyTemplate.ReplaceAllStringFunc(text, func(token string) string {
		m := anyTemplate.FindStringSubmatch(token)
		val, ok := scope.Lookup(m[1])
		if !ok {
			return token
		}
		return Stringify(val)
	})
}

// ResolveData returns a resolved copy of a node's data. Nested maps and
// slices are walked; only string leaves are substituted. Values taken from
// the scope are deep copies, and the input is not modified.
func ResolveData(data map[string]any, scope Scope) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = resolveValue(v, scope)
	}
	return out
}

func resolveValue(v any, scope Scope) any {
	switch val := v.(type) {
	case string:
		return cloneValue(Resolve(val, scope))
	case map[string]any:
		return ResolveData(val, scope)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, scope)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(Resolve(item, scope))
		}
		return out
	default:
		return v
	}
}

// Stringify renders a value for substitution into text. Objects and lists
// become JSON with sorted keys, nil becomes "null".
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case json.Number:
		return val.String()
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
