package ruleengine

// Condition is a compiled condition tree node.
// The set of implementations is closed: All, Any, Not, Clause, Always and Invalid.
type Condition interface {
	// Evaluate reports whether the node holds for ctx. It never panics and
	// never returns an error: missing data and type mismatches evaluate to false.
	Evaluate(ctx Context) bool

	condition()
}

// All holds when every child holds. An empty All holds.
type All []Condition

// Any holds when at least one child holds. An empty Any does not hold.
type Any []Condition

// Not negates a single nested node.
type Not struct {
	Child Condition
}

// Always is the empty condition: it always holds.
type Always struct{}

// Invalid replaces a malformed node. It never holds, so a broken hard rule
// cannot block admission.
type Invalid struct {
	Reason string
}

// Clause is a leaf comparison: lookup(Field) Op Value.
type Clause struct {
	Field string
	Op    string
	Value Operand
}

// Operand is the right-hand side of a clause: a literal or a reference to
// another path in the same context.
type Operand struct {
	literal any
	ref     string
	isRef   bool
}

// Literal returns an operand holding v. Missing literals are represented by
// Literal(Undefined).
func Literal(v any) Operand {
	return Operand{literal: normalize(v)}
}

// Ref returns an operand resolved against the context at evaluation time.
func Ref(path string) Operand {
	return Operand{ref: path, isRef: true}
}

// IsRef reports whether the operand is a reference.
func (o Operand) IsRef() bool { return o.isRef }

func (o Operand) resolve(ctx Context) any {
	if o.isRef {
		return ctx.Lookup(o.ref)
	}
	return o.literal
}

func (c All) Evaluate(ctx Context) bool {
	for _, child := range c {
		if !evaluate(child, ctx) {
			return false
		}
	}
	return true
}

func (c Any) Evaluate(ctx Context) bool {
	for _, child := range c {
		if evaluate(child, ctx) {
			return true
		}
	}
	return false
}

func (c Not) Evaluate(ctx Context) bool {
	return !evaluate(c.Child, ctx)
}

func (Always) Evaluate(Context) bool { return true }

func (Invalid) Evaluate(Context) bool { return false }

func (c Clause) Evaluate(ctx Context) bool {
	left := ctx.Lookup(c.Field)
	right := c.Value.resolve(ctx)
	return applyOperator(c.Op, left, right)
}

func (All) condition()     {}
func (Any) condition()     {}
func (Not) condition()     {}
func (Always) condition()  {}
func (Invalid) condition() {}
func (Clause) condition()  {}

// evaluate treats a nil node as the empty condition.
func evaluate(c Condition, ctx Context) bool {
	if c == nil {
		return true
	}
	return c.Evaluate(ctx)
}

// Evaluate reports whether cond holds for ctx. A nil condition always holds.
func Evaluate(cond Condition, ctx Context) bool {
	return evaluate(cond, ctx)
}
