package ruleengine

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

// Supported clause operators. Any other operator evaluates to false.
const (
	OpContains  = "contains"
	OpIn        = "in"
	OpOverlap   = "overlap"
	OpLess      = "<"
	OpLessEq    = "<="
	OpGreater   = ">"
	OpGreaterEq = ">="
	OpEqual     = "=="
	OpEq        = "eq"
	OpNotEqual  = "!="
	OpNe        = "ne"
	OpExists    = "exists"
)

// KnownOperator reports whether op is part of the operator table.
func KnownOperator(op string) bool {
	switch op {
	case OpContains, OpIn, OpOverlap,
		OpLess, OpLessEq, OpGreater, OpGreaterEq,
		OpEqual, OpEq, OpNotEqual, OpNe, OpExists:
		return true
	}
	return false
}

func applyOperator(op string, left, right any) bool {
	switch op {
	case OpContains:
		switch l := left.(type) {
		case []any:
			return slices.ContainsFunc(l, func(e any) bool { return strictEqual(e, right) })
		case string:
			return strings.Contains(l, stringForm(right))
		}
		return false

	case OpIn:
		r, ok := right.([]any)
		return ok && slices.ContainsFunc(r, func(e any) bool { return strictEqual(left, e) })

	case OpOverlap:
		l, lok := left.([]any)
		r, rok := right.([]any)
		if !lok || !rok {
			return false
		}
		for _, a := range l {
			if slices.ContainsFunc(r, func(b any) bool { return strictEqual(a, b) }) {
				return true
			}
		}
		return false

	case OpLess, OpLessEq, OpGreater, OpGreaterEq:
		ln, lok := toNumber(left)
		rn, rok := toNumber(right)
		if !lok || !rok {
			return false
		}
		switch op {
		case OpLess:
			return ln < rn
		case OpLessEq:
			return ln <= rn
		case OpGreater:
			return ln > rn
		default:
			return ln >= rn
		}

	case OpEqual, OpEq:
		return looseEqual(left, right)

	case OpNotEqual, OpNe:
		return !looseEqual(left, right)

	case OpExists:
		return left != nil && !isUndefined(left)
	}

	return false
}

// toNumber coerces v to a finite number. Numbers and numeric strings coerce;
// booleans, null, undefined and composites do not.
func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, isFinite(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		return parseNumeric(s)
	}
	return 0, false
}

// parseNumeric accepts decimal and exponent forms plus unsigned 0x, 0o and 0b
// integers. Signed prefixed forms and hex floats are not numeric.
func parseNumeric(s string) (float64, bool) {
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, err := strconv.ParseUint(s[2:], base, 64)
			if err != nil {
				return 0, false
			}
			return float64(n), true
		}
	}
	if strings.ContainsAny(s, "xX") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !isFinite(f) {
		return 0, false
	}
	return f, true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// looseEqual compares numerically when both sides coerce, else strictly.
func looseEqual(a, b any) bool {
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if aok && bok {
		return an == bn
	}
	return strictEqual(a, b)
}

// strictEqual compares scalars of the same type. Composite values are
// compared by identity in the rule language, so two of them are never equal.
func strictEqual(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case undefined:
		return isUndefined(b)
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	}
	return false
}

// stringForm renders v the way string concatenation would in the rule authoring
// tool, so "contains" on text behaves consistently for numbers and booleans.
func stringForm(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	case undefined:
		return "undefined"
	case bool:
		return strconv.FormatBool(t)
	case float64:
		switch {
		case math.IsNaN(t):
			return "NaN"
		case math.IsInf(t, 1):
			return "Infinity"
		case math.IsInf(t, -1):
			return "-Infinity"
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			if e == nil || isUndefined(e) {
				continue
			}
			parts[i] = stringForm(e)
		}
		return strings.Join(parts, ",")
	case map[string]any:
		return "[object Object]"
	}
	return ""
}
