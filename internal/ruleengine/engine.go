package ruleengine

import (
	"log/slog"

	"github.com/guregu/null/v5"
)

// Input is everything needed to evaluate a rule set against one proposal.
type Input struct {
	Rules     []Rule
	Booking   Booking
	Resources []Resource

	// Roles maps resource id to the role assigned in this proposal.
	// A missing entry means no role.
	Roles map[int64]null.String
}

// EvaluateRulesForContext evaluates rules against a single context and tags
// every record with resourceID.
func EvaluateRulesForContext(rules []Rule, ctx Context, resourceID null.Int) Result {
	res := EmptyResult()
	for i := range rules {
		rule := &rules[i]
		if !rule.IsActive {
			continue
		}
		if !Evaluate(rule.Condition, ctx) {
			continue
		}

		match := Match{
			RuleID:     rule.ID,
			Name:       rule.Name,
			TargetType: rule.TargetType,
			ResourceID: resourceID,
		}

		switch effect := rule.Effect(); effect {
		case EffectForbid:
			res.HardViolations = append(res.HardViolations, match)
		case EffectAlert, EffectRequireApproval:
			res.Alerts = append(res.Alerts, Alert{Match: match, Effect: effect})
		case EffectScore:
			delta := rule.ScoreDelta()
			res.Score += delta
			res.SoftMatches = append(res.SoftMatches, SoftMatch{Match: match, Delta: delta})
		}
	}
	return res
}

// EvaluateRules evaluates booking-scope rules once, then resource-scope and
// pair-scope rules for each resource in input order. It performs no I/O.
func EvaluateRules(in Input) Result {
	var bookingRules, resourceRules, pairRules []Rule
	for _, r := range in.Rules {
		switch r.TargetType {
		case TargetBooking:
			bookingRules = append(bookingRules, r)
		case TargetResource:
			resourceRules = append(resourceRules, r)
		case TargetPair:
			pairRules = append(pairRules, r)
		}
	}

	res := EvaluateRulesForContext(bookingRules, NewBookingContext(in.Booking), null.Int{})

	for _, resource := range in.Resources {
		ctx := NewResourceContext(in.Booking, resource, in.Roles[resource.ID])
		id := null.IntFrom(resource.ID)
		res = res.Merge(EvaluateRulesForContext(resourceRules, ctx, id))
		res = res.Merge(EvaluateRulesForContext(pairRules, ctx, id))
	}

	return res
}

// Engine evaluates compiled rule sets and reports rules it cannot apply.
type Engine struct {
	logger *slog.Logger
}

// New creates a new Engine.
// If logger is nil, it defaults to slog.Default().
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Prepare compiles rules loaded from storage. Malformed documents are logged and
// the rule stays in the set with its broken nodes never matching.
func (e *Engine) Prepare(rules []Rule) []Rule {
	for i := range rules {
		if err := compileRule(&rules[i]); err != nil {
			e.logger.Warn("rule has malformed documents, broken nodes will not match",
				"rule_id", rules[i].ID,
				"rule_name", rules[i].Name,
				"error", err,
			)
		}
	}
	return rules
}

// Evaluate runs EvaluateRules and logs rules the scorer skips silently.
func (e *Engine) Evaluate(in Input) Result {
	for _, r := range in.Rules {
		if !r.IsActive {
			continue
		}
		if !r.TargetType.Valid() {
			e.logger.Warn("skipping rule with unknown target type",
				"rule_id", r.ID,
				"target_type", r.TargetType,
			)
			continue
		}
		if effect := r.Effect(); !effect.Valid() {
			e.logger.Warn("rule has unknown effect, matches are ignored",
				"rule_id", r.ID,
				"effect", effect,
			)
		}
	}

	res := EvaluateRules(in)

	e.logger.Debug("rules evaluated",
		"rules", len(in.Rules),
		"resources", len(in.Resources),
		"hard_violations", len(res.HardViolations),
		"soft_matches", len(res.SoftMatches),
		"alerts", len(res.Alerts),
		"score", res.Score,
	)
	return res
}
