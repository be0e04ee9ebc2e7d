package ruleengine

import (
	"encoding/json"
	"testing"

	"github.com/guregu/null/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() Context {
	return NewResourceContext(
		Booking{
			Date:      "2024-01-10",
			StartTime: "09:00:00",
			EndTime:   "10:00:00",
			UserID:    7,
			Attributes: map[string]any{
				"students": 25,
				"tags":     []any{"lab", "exam"},
				"title":    "Intro to Go",
				"code":     "42",
			},
		},
		Resource{
			ID:       5,
			Name:     "Room 101",
			TypeID:   1,
			TypeName: "room",
			Active:   false,
			Metadata: map[string]any{"capacity": 30, "features": []any{"projector", "whiteboard"}},
		},
		null.StringFrom("lecturer"),
	)
}

func TestClause_Operators(t *testing.T) {
	t.Parallel()

	ctx := testContext()

	tests := []struct {
		name   string
		clause Clause
		want   bool
	}{
		// contains
		{"contains element of array", Clause{"resource.metadata.features", OpContains, Literal("projector")}, true},
		{"contains missing element", Clause{"resource.metadata.features", OpContains, Literal("piano")}, false},
		{"contains substring", Clause{"booking.title", OpContains, Literal("Go")}, true},
		{"contains number string form", Clause{"booking.code", OpContains, Literal(float64(4))}, true},
		{"contains on number is false", Clause{"booking.students", OpContains, Literal(float64(2))}, false},
		{"contains on array is strict", Clause{"booking.tags", OpContains, Literal(float64(1))}, false},

		// in
		{"in literal array", Clause{"resource.resource_type", OpIn, Literal([]any{"room", "lab"})}, true},
		{"in without array", Clause{"resource.resource_type", OpIn, Literal("room")}, false},
		{"in is strict", Clause{"booking.code", OpIn, Literal([]any{float64(42)})}, false},

		// overlap
		{"overlap shares element", Clause{"booking.tags", OpOverlap, Literal([]any{"exam", "x"})}, true},
		{"overlap disjoint", Clause{"booking.tags", OpOverlap, Literal([]any{"x"})}, false},
		{"overlap with non array", Clause{"booking.tags", OpOverlap, Literal("exam")}, false},

		// numeric
		{"gte with ref", Clause{"resource.metadata.capacity", OpGreaterEq, Ref("request.students")}, true},
		{"lt false", Clause{"resource.metadata.capacity", OpLess, Literal(float64(30))}, false},
		{"lte equal", Clause{"resource.metadata.capacity", OpLessEq, Literal(float64(30))}, true},
		{"gt numeric string", Clause{"booking.code", OpGreater, Literal("41.5")}, true},
		{"numeric against missing is false", Clause{"booking.missing", OpLess, Literal(float64(1))}, false},
		{"numeric against bool is false", Clause{"resource.active", OpLess, Literal(float64(1))}, false},
		{"numeric against text is false", Clause{"booking.title", OpGreater, Literal(float64(0))}, false},
		{"hex literal coerces", Clause{"booking.code", OpLess, Literal("0x40")}, true},

		// equality
		{"equal bool", Clause{"resource.active", OpEqual, Literal(false)}, true},
		{"eq alias", Clause{"resource.name", OpEq, Literal("Room 101")}, true},
		{"equal numeric coercion", Clause{"booking.code", OpEqual, Literal(float64(42))}, true},
		{"equal strict fallback", Clause{"resource.active", OpEqual, Literal("false")}, false},
		{"equal arrays are never equal", Clause{"booking.tags", OpEqual, Literal([]any{"lab", "exam"})}, false},
		{"not equal", Clause{"resource.name", OpNotEqual, Literal("Room 102")}, true},
		{"ne alias", Clause{"booking.students", OpNe, Literal("25")}, false},
		{"missing equals missing", Clause{"booking.a", OpEqual, Ref("booking.b")}, true},

		// exists
		{"exists", Clause{"pair.role", OpExists, Literal(Undefined)}, true},
		{"exists missing", Clause{"booking.location", OpExists, Literal(Undefined)}, false},

		// unknown operator
		{"unknown operator", Clause{"resource.name", "like", Literal("Room%")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.clause.Evaluate(ctx))
		})
	}
}

func TestExists_NullRole(t *testing.T) {
	t.Parallel()

	ctx := NewResourceContext(Booking{}, Resource{ID: 1}, null.String{})

	assert.False(t, Clause{"pair.role", OpExists, Literal(Undefined)}.Evaluate(ctx))
	assert.True(t, Clause{"pair.resource_id", OpEqual, Literal(float64(1))}.Evaluate(ctx))
}

func TestCombinators(t *testing.T) {
	t.Parallel()

	ctx := testContext()
	yes := Clause{"resource.active", OpEqual, Literal(false)}
	no := Clause{"resource.active", OpEqual, Literal(true)}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"nil condition", nil, true},
		{"always", Always{}, true},
		{"invalid never holds", Invalid{}, false},
		{"empty all is vacuously true", All{}, true},
		{"empty any is false", Any{}, false},
		{"all true", All{yes, yes}, true},
		{"all with one false", All{yes, no}, false},
		{"any with one true", Any{no, yes}, true},
		{"not negates", Not{Child: no}, true},
		{"not of combinator", Not{Child: Any{no, no}}, true},
		{"nested", All{Any{no, yes}, Not{Child: All{yes, no}}}, true},
		{"invalid inside not", Not{Child: Invalid{}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Evaluate(tt.cond, ctx))
		})
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	ctx := testContext()

	assert.Equal(t, "2024-01-10", ctx.Lookup("booking.date"))
	assert.Equal(t, float64(7), ctx.Lookup("request.user_id"))
	assert.Equal(t, float64(30), ctx.Lookup("resource.metadata.capacity"))
	assert.Equal(t, "whiteboard", ctx.Lookup("resource.metadata.features.1"))
	assert.Equal(t, float64(2), ctx.Lookup("booking.tags.length"))
	assert.Equal(t, "lecturer", ctx.Lookup("pair.role"))

	for _, path := range []string{"", "nope", "booking.date.year", "resource.metadata.features.9", "booking.students.x"} {
		assert.Equal(t, Undefined, ctx.Lookup(path), "path %q", path)
	}
}

func TestLookup_CoreFieldsWinOverAttributes(t *testing.T) {
	t.Parallel()

	ctx := NewBookingContext(Booking{Date: "2024-01-10", Attributes: map[string]any{"date": "spoofed"}})

	assert.Equal(t, "2024-01-10", ctx.Lookup("booking.date"))
}

// Both aliases resolve the same object, for literals and for references.
func TestRequestAliasRewrite(t *testing.T) {
	t.Parallel()

	contexts := []Context{
		testContext(),
		NewBookingContext(Booking{Attributes: map[string]any{"students": 12}}),
		NewBookingContext(Booking{}),
	}

	for _, ctx := range contexts {
		assert.Equal(t, ctx.Lookup("booking.students"), ctx.Lookup("request.students"))

		viaRequest := Clause{"resource.metadata.capacity", OpGreaterEq, Ref("request.students")}
		viaBooking := Clause{"resource.metadata.capacity", OpGreaterEq, Ref("booking.students")}
		assert.Equal(t, viaBooking.Evaluate(ctx), viaRequest.Evaluate(ctx))
	}

	assert.Equal(t, "booking.students", RewritePath("request.students"))
	assert.Equal(t, "requests.x", RewritePath("requests.x"))
}

func TestToNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     any
		want   float64
		wantOK bool
	}{
		{float64(3), 3, true},
		{"  2.5 ", 2.5, true},
		{"1e3", 1000, true},
		{"0x10", 16, true},
		{"0X1f", 31, true},
		{"0o17", 15, true},
		{"0b101", 5, true},
		{"-0x10", 0, false},
		{"0x", 0, false},
		{"0x1p4", 0, false},
		{"0xg", 0, false},
		{"1_000", 0, false},
		{"", 0, false},
		{"abc", 0, false},
		{"Infinity", 0, false},
		{"NaN", 0, false},
		{true, 0, false},
		{nil, 0, false},
		{Undefined, 0, false},
		{[]any{float64(1)}, 0, false},
	}

	for _, tt := range tests {
		got, ok := toNumber(tt.in)
		assert.Equal(t, tt.wantOK, ok, "input %#v", tt.in)
		if tt.wantOK {
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestParsedConditionEvaluation(t *testing.T) {
	t.Parallel()

	cond, err := ParseCondition(json.RawMessage(`{
		"all": [
			{"field": "resource.metadata.capacity", "op": ">=", "value": {"ref": "request.students"}},
			{"not": {"field": "booking.tags", "op": "contains", "value": "exam"}}
		]
	}`))
	require.NoError(t, err)

	assert.False(t, Evaluate(cond, testContext()))
}
