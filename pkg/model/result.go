package model

import (
	"fmt"
	"unicode/utf8"
)

// StepKind classifies the outcome of a single node step.
type StepKind int

const (
	StepValue StepKind = iota
	StepNeedsDependencies
	StepError
	StepSkip
)

// StepResult is what one execution of a node's step produces: a value, a set
// of further dependencies to resolve before the step is run again, an error,
// or a deliberate absence of value.
type StepResult struct {
	Kind   StepKind
	Value  any
	Keys   []Key
	Err    error
	Reason string
}

// Value completes the node with v.
func Value(v any) StepResult {
	return StepResult{Kind: StepValue, Value: v}
}

// NeedsDependencies suspends the node until every key is terminal.
func NeedsDependencies(keys ...Key) StepResult {
	return StepResult{Kind: StepNeedsDependencies, Keys: keys}
}

// Error fails the node with err.
func Error(err error) StepResult {
	return StepResult{Kind: StepError, Err: err}
}

// Skip completes the node as Noop.
func Skip(reason string) StepResult {
	return StepResult{Kind: StepSkip, Reason: reason}
}

// State converts a terminal step result into the node state it produces.
// NeedsDependencies has no terminal state and reports false.
func (r StepResult) State() (State, bool) {
	switch r.Kind {
	case StepValue:
		return Return(r.Value), true
	case StepError:
		return Throw(r.Err), true
	case StepSkip:
		return Noop(r.Reason), true
	}
	return State{}, false
}

func (r StepResult) String() string {
	switch r.Kind {
	case StepValue:
		return "Value(" + sprint(r.Value) + ")"
	case StepNeedsDependencies:
		return fmt.Sprintf("NeedsDependencies(%d)", len(r.Keys))
	case StepError:
		return fmt.Sprintf("Error(%v)", r.Err)
	case StepSkip:
		return "Skip(" + r.Reason + ")"
	}
	return "unknown"
}

func sprint(v any) string {
	s := fmt.Sprintf("%v", v)
	if utf8.RuneCountInString(s) > 80 {
		s = string([]rune(s)[:77]) + "..."
	}
	return s
}
