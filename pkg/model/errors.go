package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoRule     = errors.New("no rule")
	ErrAmbiguous  = errors.New("ambiguous rules")
	ErrCycle      = errors.New("dependency cycle")
	ErrFixedPoint = errors.New("fixed point reached with unresolved roots")
)

// SelectionError reports that no rule can produce a product for a subject type.
type SelectionError struct {
	SubjectType Type
	Product     Type
	Variants    Variants
	Reason      string
}

func (e *SelectionError) Error() string {
	msg := fmt.Sprintf("no rule to compute %s for subject type %s", e.Product, e.SubjectType)
	if !e.Variants.IsEmpty() {
		msg += " with variants " + e.Variants.String()
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *SelectionError) Unwrap() error { return ErrNoRule }

// AmbiguousRuleError is returned at registration time when two rules would
// match the same request.
type AmbiguousRuleError struct {
	SubjectType Type
	Product     Type
	Variant     string
	Existing    string
	New         string
}

func (e *AmbiguousRuleError) Error() string {
	msg := fmt.Sprintf("rules %q and %q both compute %s for subject type %s", e.Existing, e.New, e.Product, e.SubjectType)
	if e.Variant != "" {
		msg += " (variant " + e.Variant + ")"
	}
	return msg
}

func (e *AmbiguousRuleError) Unwrap() error { return ErrAmbiguous }

// CycleError reports a dependency edge that would close a cycle. Path starts
// and ends with the same key.
type CycleError struct {
	Path []Key
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, k := range e.Path {
		parts[i] = k.String()
	}
	return "dependency cycle: " + strings.Join(parts, " -> ")
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// TaskError wraps a failure raised by a task body.
type TaskError struct {
	Rule string
	Key  Key
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed for %s: %v", e.Rule, e.Key, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// DependencyError is the Throw payload of a node whose dependency failed. Err
// is the root cause, not the chain of intermediate dependency errors.
type DependencyError struct {
	Key Key
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s failed: %v", e.Key, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// NewDependencyError wraps the failure of dep, collapsing nested dependency
// errors to their root cause.
func NewDependencyError(dep Key, err error) *DependencyError {
	var de *DependencyError
	if errors.As(err, &de) {
		return &DependencyError{Key: de.Key, Err: de.Err}
	}
	return &DependencyError{Key: dep, Err: err}
}

// FixedPointError reports that no work is left but some roots are not terminal.
type FixedPointError struct {
	Pending []Key
}

func (e *FixedPointError) Error() string {
	parts := make([]string, len(e.Pending))
	for i, k := range e.Pending {
		parts[i] = k.String()
	}
	return fmt.Sprintf("%v: %s", ErrFixedPoint, strings.Join(parts, ", "))
}

func (e *FixedPointError) Unwrap() error { return ErrFixedPoint }

// InvalidTransitionError is returned when a state transition is invalid.
type InvalidTransitionError struct {
	Key  Key
	From StateKind
	To   StateKind
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid node state transition: %s → %s (node %s)", e.From, e.To, e.Key)
}
