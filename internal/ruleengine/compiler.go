package ruleengine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MaxConditionDepth bounds nesting of all/any/not nodes. Deeper subtrees are
// replaced by Invalid.
const MaxConditionDepth = 32

// CompileRules compiles the raw condition and action documents of every rule.
// Compilation is lenient: a malformed node becomes Invalid (never matches) and
// every rule is left evaluable. The returned error lists the issues found, so
// callers loading from storage can log it and callers validating input can reject it.
func CompileRules(rules []Rule) error {
	var errs []error
	for i := range rules {
		if err := compileRule(&rules[i]); err != nil {
			errs = append(errs, fmt.Errorf("rule %d (%s): %w", rules[i].ID, rules[i].Name, err))
		}
	}
	return errors.Join(errs...)
}

func compileRule(rule *Rule) error {
	cond, condErr := ParseCondition(rule.ConditionJSON)
	action, actionErr := ParseAction(rule.ActionJSON)

	rule.Condition = cond
	rule.Action = action

	return errors.Join(condErr, actionErr)
}

// ValidateRule performs the strict checks applied when a rule is authored:
// a known target type, a well formed condition and a well formed action.
func ValidateRule(rule Rule) error {
	var errs []error
	if !rule.TargetType.Valid() {
		errs = append(errs, fmt.Errorf("target_type must be one of booking, resource, pair; got %q", rule.TargetType))
	}
	if err := compileRule(&rule); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseCondition compiles a condition document. It always returns a usable
// tree; the error describes the nodes that were replaced by Invalid.
//
// Node precedence follows the document shape: null or {} always holds, then an
// "all" array, then an "any" array, then a non-empty "not", else a leaf clause.
func ParseCondition(raw json.RawMessage) (Condition, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var doc any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Invalid{Reason: "not valid JSON"}, fmt.Errorf("invalid condition JSON: %w", err)
	}

	p := &conditionParser{}
	cond := p.node(doc, "condition", 0)
	return cond, p.err()
}

type conditionParser struct {
	issues []string
}

func (p *conditionParser) invalid(path, format string, args ...any) Condition {
	reason := fmt.Sprintf(format, args...)
	p.issues = append(p.issues, path+": "+reason)
	return Invalid{Reason: reason}
}

func (p *conditionParser) err() error {
	if len(p.issues) == 0 {
		return nil
	}
	return fmt.Errorf("invalid condition: %s", strings.Join(p.issues, "; "))
}

func (p *conditionParser) node(v any, path string, depth int) Condition {
	if v == nil {
		return Always{}
	}
	if depth > MaxConditionDepth {
		return p.invalid(path, "nesting deeper than %d", MaxConditionDepth)
	}

	m, ok := v.(map[string]any)
	if !ok {
		return p.invalid(path, "expected an object, got %s", jsonKind(v))
	}
	if len(m) == 0 {
		return Always{}
	}

	if children, ok := m["all"].([]any); ok {
		out := make(All, len(children))
		for i, c := range children {
			out[i] = p.node(c, fmt.Sprintf("%s.all[%d]", path, i), depth+1)
		}
		return out
	}
	if children, ok := m["any"].([]any); ok {
		out := make(Any, len(children))
		for i, c := range children {
			out[i] = p.node(c, fmt.Sprintf("%s.any[%d]", path, i), depth+1)
		}
		return out
	}
	if child, ok := m["not"]; ok && truthy(child) {
		return Not{Child: p.node(child, path+".not", depth+1)}
	}

	return p.clause(m, path)
}

func (p *conditionParser) clause(m map[string]any, path string) Condition {
	field, _ := m["field"].(string)
	if field == "" {
		return p.invalid(path, "clause requires a non-empty string \"field\"")
	}
	op, _ := m["op"].(string)
	if op == "" {
		return p.invalid(path, "clause requires a non-empty string \"op\"")
	}
	if !KnownOperator(op) {
		// Kept as a clause: unknown operators evaluate to false.
		p.issues = append(p.issues, fmt.Sprintf("%s: unknown operator %q", path, op))
	}

	c := Clause{Field: field, Op: op, Value: Literal(Undefined)}
	raw, present := m["value"]
	if !present {
		return c
	}
	if obj, ok := raw.(map[string]any); ok {
		if ref, ok := obj["ref"].(string); ok {
			c.Value = Ref(ref)
			return c
		}
	}
	c.Value = Literal(raw)
	return c
}

// truthy mirrors the authoring tool's notion of a present value.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0 && t == t // NaN is falsy
	case string:
		return t != ""
	}
	return true
}

func jsonKind(v any) string {
	switch v.(type) {
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	}
	return "object"
}

// ParseAction compiles an action document. Missing documents yield the zero
// Action (default effect, no delta).
func ParseAction(raw json.RawMessage) (Action, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Action{}, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Action{}, fmt.Errorf("invalid action: expected an object: %w", err)
	}

	var (
		action Action
		issues []string
	)

	if v, ok := doc["effect"]; ok && v != nil {
		effect, isString := v.(string)
		switch {
		case !isString:
			issues = append(issues, "effect must be a string")
		case !Effect(effect).Valid():
			issues = append(issues, fmt.Sprintf("unknown effect %q", effect))
			action.Effect = Effect(effect)
		default:
			action.Effect = Effect(effect)
		}
	}

	if v, ok := doc["delta"]; ok && v != nil {
		if f, isNumber := v.(float64); isNumber && isFinite(f) {
			action.Delta.Float64 = f
			action.Delta.Valid = true
		} else {
			issues = append(issues, "delta must be a finite number")
		}
	}

	if len(issues) > 0 {
		return action, fmt.Errorf("invalid action: %s", strings.Join(issues, "; "))
	}
	return action, nil
}
