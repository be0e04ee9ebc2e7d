package admission

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/rafaeljc/booker/internal/ruleengine"
	"github.com/rafaeljc/booker/internal/store"
)

// Error classes returned by the service. Every error leaving the package
// matches exactly one of them with errors.Is.
var (
	// ErrValidation is rendered with the http status code 400
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is rendered with the http status code 404
	ErrNotFound = errors.New("not found")

	// ErrConflict is rendered with the http status code 409
	ErrConflict = errors.New("booking conflicts with an existing booking")

	// ErrRuleViolation is rendered with the http status code 422
	ErrRuleViolation = errors.New("booking violates a hard rule")

	// ErrAlreadyCancelled is rendered with the http status code 409
	ErrAlreadyCancelled = errors.New("booking already cancelled")

	// ErrStore is rendered with the http status code 503
	ErrStore = errors.New("store unavailable")
)

// ValidationError carries per-field messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// err returns nil when no field was flagged.
func (e *ValidationError) err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func invalid(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// ConflictError lists the live bookings colliding with the proposal.
type ConflictError struct {
	Conflicts []store.ConflictingBooking
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s (%d overlapping)", ErrConflict.Error(), len(e.Conflicts))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// RuleViolationError carries the hard violations and the advisory alerts of
// the rejected evaluation.
type RuleViolationError struct {
	Violations []ruleengine.Match
	Alerts     []ruleengine.Alert
}

func (e *RuleViolationError) Error() string {
	names := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		names[i] = v.Name
	}
	return fmt.Sprintf("%s: %s", ErrRuleViolation.Error(), strings.Join(names, ", "))
}

func (e *RuleViolationError) Is(target error) bool { return target == ErrRuleViolation }

func notFound(what string, id int64) error {
	return errors.Wrapf(ErrNotFound, "%s %d", what, id)
}

// fromStore converts a store error. Not-found rows become ErrNotFound for the
// named entity; anything else is a store failure.
func fromStore(err error, what string, id int64) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return notFound(what, id)
	case errors.Is(err, store.ErrAlreadyCancelled):
		return errors.Wrapf(ErrAlreadyCancelled, "booking %d", id)
	default:
		return storeFailure(err)
	}
}

// StoreError is an unexpected persistence failure. The unit of work that
// produced it was rolled back.
type StoreError struct {
	Cause error
}

func (e *StoreError) Error() string { return "admission store: " + e.Cause.Error() }

func (e *StoreError) Unwrap() error { return e.Cause }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

func storeFailure(err error) error {
	return &StoreError{Cause: errors.WithStack(err)}
}

// classify makes sure err belongs to one class. Transaction begin and commit
// failures reach here unclassified.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, class := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrRuleViolation, ErrAlreadyCancelled, ErrStore} {
		if errors.Is(err, class) {
			return err
		}
	}
	return storeFailure(err)
}
