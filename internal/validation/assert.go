// Package validation holds constructor assertions for mandatory dependencies.
package validation

import "fmt"

// AssertNotNil panics when ptr is nil. Use it in constructors where a missing
// dependency is a wiring mistake, not a runtime condition.
//
//	validation.AssertNotNil(pool, "database pool")
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}

// AssertNotNilInterface is AssertNotNil for interface-typed dependencies,
// which cannot be expressed as *T.
func AssertNotNilInterface(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}
