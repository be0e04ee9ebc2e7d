package observability

import "context"

// Checker is one dependency taking part in readiness. Check must honour ctx.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to a Checker.
type CheckerFunc struct {
	Dependency string
	Fn         func(ctx context.Context) error
}

func (c CheckerFunc) Name() string { return c.Dependency }

func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
