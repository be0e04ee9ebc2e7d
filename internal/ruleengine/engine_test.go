package ruleengine

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"testing"

	"github.com/guregu/null/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compiled builds a rule from raw documents the way the store boundary does.
func compiled(t *testing.T, r Rule, condition, action string) Rule {
	t.Helper()
	if condition != "" {
		r.ConditionJSON = json.RawMessage(condition)
	}
	if action != "" {
		r.ActionJSON = json.RawMessage(action)
	}
	require.NoError(t, compileRule(&r))
	return r
}

func TestEvaluateRules_EmptyRuleSet(t *testing.T) {
	t.Parallel()

	res := EvaluateRules(Input{
		Booking:   Booking{Date: "2024-01-10", StartTime: "09:00:00", EndTime: "10:00:00", UserID: 1},
		Resources: []Resource{{ID: 1, Active: true}, {ID: 2, Active: true}},
	})

	assert.False(t, res.Blocked())
	assert.Zero(t, res.Score)
	assert.Empty(t, res.HardViolations)
	assert.Empty(t, res.SoftMatches)
	assert.Empty(t, res.Alerts)
	assert.NotNil(t, res.SoftMatches, "empty lists encode as []")
}

func TestEvaluateRules_CapacityScore(t *testing.T) {
	t.Parallel()

	rule := compiled(t,
		Rule{ID: 10, Name: "fits-capacity", TargetType: TargetPair, IsActive: true},
		`{"all":[{"field":"resource.metadata.capacity","op":">=","value":{"ref":"request.students"}}]}`,
		`{"effect":"score","delta":10}`,
	)

	res := EvaluateRules(Input{
		Rules:     []Rule{rule},
		Booking:   Booking{Attributes: map[string]any{"students": 25}},
		Resources: []Resource{{ID: 5, Active: true, Metadata: map[string]any{"capacity": 30}}},
	})

	assert.Equal(t, 10.0, res.Score)
	require.Len(t, res.SoftMatches, 1)
	assert.Equal(t, SoftMatch{
		Match: Match{RuleID: 10, Name: "fits-capacity", TargetType: TargetPair, ResourceID: null.IntFrom(5)},
		Delta: 10,
	}, res.SoftMatches[0])
	assert.Empty(t, res.HardViolations)
}

func TestEvaluateRules_InactiveResourceIsHardViolation(t *testing.T) {
	t.Parallel()

	rule := compiled(t,
		Rule{ID: 3, Name: "inactive-resource", TargetType: TargetResource, IsHard: true, IsActive: true, Weight: null.FloatFrom(50)},
		`{"field":"resource.active","op":"==","value":false}`,
		"",
	)

	res := EvaluateRules(Input{
		Rules:     []Rule{rule},
		Resources: []Resource{{ID: 1, Active: true}, {ID: 2, Active: false}},
	})

	require.True(t, res.Blocked())
	assert.Equal(t, []Match{{RuleID: 3, Name: "inactive-resource", TargetType: TargetResource, ResourceID: null.IntFrom(2)}}, res.HardViolations)
	assert.Zero(t, res.Score, "a forbid rule contributes no score")
	assert.Empty(t, res.SoftMatches)
}

func TestEvaluateRules_EffectDispatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		rule      Rule
		action    string
		wantHard  int
		wantSoft  int
		wantAlert int
		wantScore float64
	}{
		{name: "hard default forbids", rule: Rule{IsHard: true}, wantHard: 1},
		{name: "soft default scores weight", rule: Rule{Weight: null.FloatFrom(4)}, wantSoft: 1, wantScore: 4},
		{name: "explicit forbid on soft rule", rule: Rule{}, action: `{"effect":"forbid"}`, wantHard: 1},
		{name: "alert", rule: Rule{IsHard: true}, action: `{"effect":"alert"}`, wantAlert: 1},
		{name: "require approval", rule: Rule{}, action: `{"effect":"require_approval"}`, wantAlert: 1},
		{name: "delta wins over weight", rule: Rule{Weight: null.FloatFrom(4)}, action: `{"effect":"score","delta":-3}`, wantSoft: 1, wantScore: -3},
		{name: "no delta no weight scores zero", rule: Rule{}, action: `{"effect":"score"}`, wantSoft: 1},
		{name: "unknown effect produces nothing", rule: Rule{}, action: `{"effect":"notify"}`},
		{name: "inactive rule is skipped", rule: Rule{IsHard: true}, wantHard: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rule := tt.rule
			rule.ID = 1
			rule.TargetType = TargetBooking
			rule.IsActive = tt.name != "inactive rule is skipped"
			rule.ActionJSON = json.RawMessage(tt.action)
			_ = compileRule(&rule)

			res := EvaluateRules(Input{Rules: []Rule{rule}})

			assert.Len(t, res.HardViolations, tt.wantHard)
			assert.Len(t, res.SoftMatches, tt.wantSoft)
			assert.Len(t, res.Alerts, tt.wantAlert)
			assert.Equal(t, tt.wantScore, res.Score)
			for _, a := range res.Alerts {
				assert.Equal(t, rule.Effect(), a.Effect)
			}
		})
	}
}

func TestEvaluateRules_NonNumericDeltaFallsBackToWeight(t *testing.T) {
	t.Parallel()

	rule := Rule{ID: 1, TargetType: TargetBooking, IsActive: true, Weight: null.FloatFrom(2),
		ActionJSON: json.RawMessage(`{"effect":"score","delta":"lots"}`)}
	require.Error(t, compileRule(&rule))

	res := EvaluateRules(Input{Rules: []Rule{rule}})

	assert.Equal(t, 2.0, res.Score)
}

func TestEvaluateRules_Ordering(t *testing.T) {
	t.Parallel()

	always := func(id int64, target TargetType) Rule {
		return Rule{ID: id, TargetType: target, IsActive: true, Weight: null.FloatFrom(1)}
	}

	res := EvaluateRules(Input{
		Rules: []Rule{
			always(1, TargetPair),
			always(2, TargetResource),
			always(3, TargetBooking),
			always(4, "organization"),
		},
		Resources: []Resource{{ID: 9}, {ID: 4}},
	})

	var got []struct {
		rule     int64
		resource null.Int
	}
	for _, m := range res.SoftMatches {
		got = append(got, struct {
			rule     int64
			resource null.Int
		}{m.RuleID, m.ResourceID})
	}

	// booking scope first, then per resource in input order, resource rules before pair rules.
	assert.Equal(t, []struct {
		rule     int64
		resource null.Int
	}{
		{3, null.Int{}},
		{2, null.IntFrom(9)},
		{1, null.IntFrom(9)},
		{2, null.IntFrom(4)},
		{1, null.IntFrom(4)},
	}, got)
	assert.Equal(t, 5.0, res.Score)
}

func TestEvaluateRules_PairRole(t *testing.T) {
	t.Parallel()

	rule := compiled(t,
		Rule{ID: 1, Name: "lecturer-needs-projector", TargetType: TargetPair, IsHard: true, IsActive: true},
		`{"all":[
			{"field":"pair.role","op":"==","value":"lecturer"},
			{"not":{"field":"resource.metadata.features","op":"contains","value":"projector"}}
		]}`,
		"",
	)

	res := EvaluateRules(Input{
		Rules: []Rule{rule},
		Resources: []Resource{
			{ID: 1, Metadata: map[string]any{"features": []any{"whiteboard"}}},
			{ID: 2, Metadata: map[string]any{"features": []any{"whiteboard"}}},
		},
		Roles: map[int64]null.String{1: null.StringFrom("lecturer")},
	})

	require.Len(t, res.HardViolations, 1)
	assert.Equal(t, null.IntFrom(1), res.HardViolations[0].ResourceID)
}

// A matching forbid rule blocks no matter how much score other rules add.
func TestEvaluateRules_HardStopRegardlessOfScore(t *testing.T) {
	t.Parallel()

	for i := range 50 {
		var rules []Rule
		n := 1 + i%7
		for j := range n {
			rules = append(rules, Rule{ID: int64(j), TargetType: TargetBooking, IsActive: true, Weight: null.FloatFrom(1000)})
		}
		rules = append(rules, Rule{ID: 99, TargetType: TargetResource, IsHard: true, IsActive: true})

		res := EvaluateRules(Input{Rules: rules, Resources: []Resource{{ID: 1}}})

		assert.True(t, res.Blocked())
		assert.Positive(t, res.Score)
	}
}

// The total score is the sum of soft match deltas, whatever the rule order.
func TestEvaluateRules_ScoreIsSumOfDeltas(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	for range 50 {
		var rules []Rule
		for j := range 10 {
			rules = append(rules, Rule{
				ID:         int64(j),
				TargetType: []TargetType{TargetBooking, TargetResource, TargetPair}[rng.IntN(3)],
				IsActive:   rng.IntN(4) != 0,
				Weight:     null.FloatFrom(float64(rng.IntN(21) - 10)),
			})
		}
		in := Input{Rules: rules, Resources: []Resource{{ID: 1}, {ID: 2}}}

		res := EvaluateRules(in)

		var sum float64
		for _, m := range res.SoftMatches {
			sum += m.Delta
		}
		assert.Equal(t, sum, res.Score)

		rng.Shuffle(len(rules), func(a, b int) { rules[a], rules[b] = rules[b], rules[a] })
		assert.Equal(t, res.Score, EvaluateRules(in).Score)
	}
}

func TestResult_MergeDoesNotAlias(t *testing.T) {
	t.Parallel()

	a := Result{HardViolations: make([]Match, 1, 8), Score: 1}
	b := Result{HardViolations: []Match{{RuleID: 2}}, Score: 2}

	merged := a.Merge(b)
	merged.HardViolations[0].RuleID = 42

	assert.Equal(t, int64(0), a.HardViolations[0].RuleID)
	assert.Len(t, merged.HardViolations, 2)
	assert.Equal(t, 3.0, merged.Score)
}

func TestEngine_Prepare_LogsMalformedRules(t *testing.T) {
	var buf bytes.Buffer
	engine := New(slog.New(slog.NewTextHandler(&buf, nil)))

	rules := engine.Prepare([]Rule{
		{ID: 1, Name: "fine", TargetType: TargetBooking, ConditionJSON: json.RawMessage(`{"field":"a","op":"exists"}`)},
		{ID: 2, Name: "broken", TargetType: TargetBooking, IsHard: true, IsActive: true, ConditionJSON: json.RawMessage(`{"op":"=="}`)},
	})

	require.Len(t, rules, 2)
	assert.Contains(t, buf.String(), "rule has malformed documents")
	assert.Contains(t, buf.String(), "rule_id=2")
	assert.NotContains(t, buf.String(), "rule_id=1")

	res := engine.Evaluate(Input{Rules: rules})
	assert.False(t, res.Blocked(), "a broken hard rule fails open")
}

func TestEngine_Evaluate_LogsUnknownTargetType(t *testing.T) {
	var buf bytes.Buffer
	engine := New(slog.New(slog.NewTextHandler(&buf, nil)))

	res := engine.Evaluate(Input{Rules: []Rule{{ID: 7, TargetType: "room", IsHard: true, IsActive: true}}})

	assert.False(t, res.Blocked())
	assert.Contains(t, buf.String(), "skipping rule with unknown target type")
}

func TestEngine_NilLoggerDefaults(t *testing.T) {
	assert.NotNil(t, New(nil).logger)
}
