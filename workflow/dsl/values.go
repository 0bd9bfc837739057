package dsl

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// ResolvePath resolves a dot path such as result.items.0.name from vars.
// A miss yields nil.
func ResolvePath(path string, vars map[string]any) any {
	val, _ := Lookup(vars, path)
	return val
}

// Lookup walks a dot-separated path into root and reports whether every
// segment resolved. Maps are walked by key and lists by numeric index.
func Lookup(root any, path string) (any, bool) {
	cur := root
	for part := range strings.SplitSeq(path, ".") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, false
		}
		next, ok := child(cur, part)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func child(v any, key string) (any, bool) {
	switch c := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		got, ok := c[key]
		return got, ok
	case []any:
		if i, ok := index(key, len(c)); ok {
			return c[i], true
		}
		return nil, false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, false
		}
		return child(rv.Elem().Interface(), key)
	case reflect.Map:
		kt := rv.Type().Key()
		if kt.Kind() != reflect.String {
			return nil, false
		}
		got := rv.MapIndex(reflect.ValueOf(key).Convert(kt))
		if !got.IsValid() {
			return nil, false
		}
		return got.Interface(), true
	case reflect.Slice, reflect.Array:
		if i, ok := index(key, rv.Len()); ok {
			return rv.Index(i).Interface(), true
		}
	}
	return nil, false
}

func index(key string, n int) (int, bool) {
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

// compare orders two values. Two numbers compare numerically, anything else
// by its text form. nil sorts before every other value and equals only nil.
func compare(l any, op string, r any) bool {
	var c int
	switch {
	case l == nil && r == nil:
	case l == nil:
		c = -1
	case r == nil:
		c = 1
	default:
		lf, lok := ToFloat64(l)
		rf, rok := ToFloat64(r)
		if lok && rok {
			if math.IsNaN(lf) || math.IsNaN(rf) {
				return op == "!="
			}
			c = cmpFloat(lf, rf)
		} else {
			c = strings.Compare(fmt.Sprint(l), fmt.Sprint(r))
		}
	}

	switch op {
	case "==":
		return c == 0
	case "!=":
		return c != 0
	case ">":
		return c > 0
	case "<":
		return c < 0
	case ">=":
		return c >= 0
	case "<=":
		return c <= 0
	}
	return false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Contains reports whether haystack contains needle: substring for strings,
// an equal element for lists, a key for string-keyed maps.
func Contains(haystack, needle any) bool {
	if haystack == nil {
		return false
	}
	if s, ok := haystack.(string); ok {
		return strings.Contains(s, text(needle))
	}

	rv := reflect.ValueOf(haystack)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := range rv.Len() {
			if compare(rv.Index(i).Interface(), "==", needle) {
				return true
			}
		}
	case reflect.Map:
		if kt := rv.Type().Key(); kt.Kind() == reflect.String {
			return rv.MapIndex(reflect.ValueOf(text(needle)).Convert(kt)).IsValid()
		}
	}
	return false
}

// truthy: nil, false, 0, "", "0" and "false" are false; everything else is true.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0"
	}
	if f, ok := ToFloat64(v); ok {
		return f != 0
	}
	return true
}

// text renders a value for concatenation; nil becomes the empty string.
func text(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// ToFloat64 converts numbers and numeric strings to float64. Named numeric
// types convert by value; other Stringers are parsed. Booleans are not numbers.
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case string:
		return parseFloat(val)
	case bool, nil:
		return 0, false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	if s, ok := v.(fmt.Stringer); ok {
		return parseFloat(s.String())
	}
	return 0, false
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}
