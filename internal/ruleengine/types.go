// Package ruleengine implements the booking admission rule language.
// Rules are stored as JSON documents (a condition tree and an action), compiled
// into typed trees at the storage boundary and evaluated against a runtime
// context built from a proposed booking, one of its resources and the role
// assigned to that resource.
package ruleengine

import (
	"encoding/json"

	"github.com/guregu/null/v5"
)

// TargetType selects which runtime context a rule is evaluated against.
type TargetType string

const (
	// TargetBooking rules see only the proposed booking.
	TargetBooking TargetType = "booking"
	// TargetResource rules are evaluated once per resource of the proposal.
	TargetResource TargetType = "resource"
	// TargetPair rules are evaluated once per resource, with its assigned role.
	TargetPair TargetType = "pair"
)

// Valid reports whether t is one of the known target types.
func (t TargetType) Valid() bool {
	switch t {
	case TargetBooking, TargetResource, TargetPair:
		return true
	}
	return false
}

// Effect is what a matching rule does to the admission decision.
type Effect string

const (
	EffectForbid          Effect = "forbid"
	EffectScore           Effect = "score"
	EffectAlert           Effect = "alert"
	EffectRequireApproval Effect = "require_approval"
)

// Valid reports whether e is one of the known effects.
func (e Effect) Valid() bool {
	switch e {
	case EffectForbid, EffectScore, EffectAlert, EffectRequireApproval:
		return true
	}
	return false
}

// Action is the compiled form of a rule's action document.
type Action struct {
	// Effect is empty when the document omits it; see Rule.Effect for the default.
	Effect Effect

	// Delta is valid only when the document carries a finite number.
	Delta null.Float
}

// Rule is a booking rule as stored in the 'rules' table.
// ConditionJSON and ActionJSON hold the raw documents; Condition and Action hold
// their compiled forms and are populated by CompileRules.
type Rule struct {
	ID          int64
	Name        string
	Description string
	TargetType  TargetType
	IsHard      bool
	IsActive    bool
	Weight      null.Float
	SortOrder   int

	ConditionJSON json.RawMessage
	ActionJSON    json.RawMessage

	// Condition is nil for rules without a condition; such rules always match.
	Condition Condition
	Action    Action
}

// Effect returns the effect applied when the rule matches.
// Without an explicit effect, hard rules forbid and soft rules score.
func (r *Rule) Effect() Effect {
	if r.Action.Effect != "" {
		return r.Action.Effect
	}
	if r.IsHard {
		return EffectForbid
	}
	return EffectScore
}

// ScoreDelta returns the delta contributed by a matching score rule:
// the action delta when finite, else the rule weight when finite, else 0.
func (r *Rule) ScoreDelta() float64 {
	if r.Action.Delta.Valid && isFinite(r.Action.Delta.Float64) {
		return r.Action.Delta.Float64
	}
	if r.Weight.Valid && isFinite(r.Weight.Float64) {
		return r.Weight.Float64
	}
	return 0
}

// Booking holds the facts of a proposed booking exposed to rules as "booking"
// (and its alias "request").
type Booking struct {
	Date      string
	StartTime string
	EndTime   string
	UserID    int64

	// Attributes carries request-specific facts (e.g. "students", "course_name").
	// Core fields above take precedence over attributes with the same key.
	Attributes map[string]any
}

// Resource is the full resource row exposed to resource and pair rules.
type Resource struct {
	ID       int64
	Name     string
	TypeID   int64
	TypeName string
	Active   bool
	Metadata map[string]any
}

// Match identifies a rule that matched in a given scope.
// ResourceID is null for booking-scope matches.
type Match struct {
	RuleID     int64      `json:"id"`
	Name       string     `json:"name"`
	TargetType TargetType `json:"target_type"`
	ResourceID null.Int   `json:"resource_id"`
}

// SoftMatch is a matched score rule and the delta it contributed.
type SoftMatch struct {
	Match
	Delta float64 `json:"delta"`
}

// Alert is a matched advisory rule (alert or require_approval).
type Alert struct {
	Match
	Effect Effect `json:"effect"`
}

// Result is the outcome of evaluating a rule set against a proposal.
// Lists are in evaluation order; Score is the sum of SoftMatches deltas.
type Result struct {
	HardViolations []Match     `json:"hard_violations"`
	SoftMatches    []SoftMatch `json:"soft_matches"`
	Alerts         []Alert     `json:"alerts"`
	Score          float64     `json:"score"`
}

// Blocked reports whether any hard rule matched.
func (r Result) Blocked() bool {
	return len(r.HardViolations) > 0
}

// Merge returns a new Result with other's records appended after r's.
// Neither operand is modified.
func (r Result) Merge(other Result) Result {
	out := Result{
		HardViolations: make([]Match, 0, len(r.HardViolations)+len(other.HardViolations)),
		SoftMatches:    make([]SoftMatch, 0, len(r.SoftMatches)+len(other.SoftMatches)),
		Alerts:         make([]Alert, 0, len(r.Alerts)+len(other.Alerts)),
		Score:          r.Score + other.Score,
	}
	out.HardViolations = append(append(out.HardViolations, r.HardViolations...), other.HardViolations...)
	out.SoftMatches = append(append(out.SoftMatches, r.SoftMatches...), other.SoftMatches...)
	out.Alerts = append(append(out.Alerts, r.Alerts...), other.Alerts...)
	return out
}

// EmptyResult returns a Result with non-nil empty lists, so it encodes as [] in JSON.
func EmptyResult() Result {
	return Result{
		HardViolations: []Match{},
		SoftMatches:    []SoftMatch{},
		Alerts:         []Alert{},
	}
}
