package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/me/prodgraph/pkg/model"
)

// TaskFunc is the body of a task rule. It returns a value, further dynamic
// dependencies to resolve before it is invoked again, an error, or a skip.
type TaskFunc func(ctx context.Context, in *TaskInput) model.StepResult

// Func adapts a plain function over the subject and the resolved selector
// values to a TaskFunc.
func Func(fn func(ctx context.Context, subject any, deps []any) (any, error)) TaskFunc {
	return func(ctx context.Context, in *TaskInput) model.StepResult {
		v, err := fn(ctx, in.Subject, in.Deps)
		if err != nil {
			return model.Error(err)
		}
		return model.Value(v)
	}
}

// TaskInput is what a task body sees when it runs.
type TaskInput struct {
	Node     model.Key
	Subject  any
	Variants model.Variants
	// Deps holds one resolved value per selector, in declaration order.
	Deps []any

	lookup func(model.Key) (model.State, bool)
}

// NewTaskInput builds the input for one invocation of a task body. lookup
// resolves previously requested dynamic dependencies.
func NewTaskInput(node model.Key, deps []any, lookup func(model.Key) (model.State, bool)) *TaskInput {
	return &TaskInput{
		Node:     node,
		Subject:  node.Subject,
		Variants: node.Variants,
		Deps:     deps,
		lookup:   lookup,
	}
}

// KeyFor builds a dependency key for product of subject, inheriting the
// node's variants.
func (in *TaskInput) KeyFor(product model.Type, subject any) (model.Key, error) {
	return model.KeyFor(subject, product, in.Variants)
}

// Lookup returns the terminal state of a dynamic dependency. It reports false
// if the dependency has not been requested yet or is not finished.
func (in *TaskInput) Lookup(key model.Key) (model.State, bool) {
	if in.lookup == nil {
		return model.State{}, false
	}
	st, ok := in.lookup(key)
	if !ok || !st.IsTerminal() {
		return model.State{}, false
	}
	return st, true
}

// VariantMatch restricts a rule to nodes whose variants set Key to Value.
type VariantMatch struct {
	Key   string
	Value string
}

func (v VariantMatch) String() string {
	return v.Key + "=" + v.Value
}

// Rule declares how to compute Product for subjects of SubjectType.
type Rule struct {
	Name        string
	Version     string
	SubjectType model.Type
	Product     model.Type
	Variant     *VariantMatch
	Selectors   []Selector
	Func        TaskFunc

	// Value is the result of a constant rule.
	Value    any
	constant bool

	// Uncacheable keeps results of the rule out of persistent storage.
	Uncacheable bool
}

// Task declares a rule whose body runs once its selectors are resolved.
func Task(name string, subjectType, product model.Type, fn TaskFunc, selectors ...Selector) *Rule {
	return &Rule{
		Name:        name,
		Version:     "1",
		SubjectType: subjectType,
		Product:     product,
		Selectors:   selectors,
		Func:        fn,
	}
}

// Constant declares a rule with no dependencies that always yields value.
func Constant(name string, subjectType, product model.Type, value any) *Rule {
	return &Rule{
		Name:        name,
		Version:     "1",
		SubjectType: subjectType,
		Product:     product,
		Value:       value,
		constant:    true,
	}
}

// ForVariant restricts the rule to the given variant value.
func (r *Rule) ForVariant(key, value string) *Rule {
	r.Variant = &VariantMatch{Key: key, Value: value}
	return r
}

// WithVersion sets the rule version. Bumping it discards persisted results.
func (r *Rule) WithVersion(v string) *Rule {
	r.Version = v
	return r
}

// IsConstant reports whether the rule yields a fixed value.
func (r *Rule) IsConstant() bool {
	return r.constant
}

// Validate checks that the rule is well formed.
func (r *Rule) Validate() error {
	var errs []error
	if r.Name == "" {
		errs = append(errs, errors.New("rule name is required"))
	}
	if r.SubjectType == "" {
		errs = append(errs, errors.New("subject type is required"))
	}
	if r.Product == "" {
		errs = append(errs, errors.New("product is required"))
	}
	if !r.constant && r.Func == nil {
		errs = append(errs, errors.New("task rule needs a function"))
	}
	if r.constant && len(r.Selectors) > 0 {
		errs = append(errs, errors.New("constant rule cannot declare selectors"))
	}
	if r.Variant != nil && r.Variant.Key == "" {
		errs = append(errs, errors.New("variant key is required"))
	}
	for i, sel := range r.Selectors {
		switch s := sel.(type) {
		case nil:
			errs = append(errs, fmt.Errorf("selector %d is nil", i))
		case SelectProjection:
			if s.Project == nil {
				errs = append(errs, fmt.Errorf("selector %d (%s) has no projection", i, s))
			}
		case SelectLiteral:
			if _, err := model.NewKey(s.Subject, s.Product, model.Variants{}); err != nil {
				errs = append(errs, fmt.Errorf("selector %d (%s): %w", i, s, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("rule %q: %w", r.Name, errors.Join(errs...))
	}
	return nil
}

func (r *Rule) String() string {
	s := fmt.Sprintf("%s(%s -> %s)", r.Name, r.SubjectType, r.Product)
	if r.Variant != nil {
		s += "[" + r.Variant.String() + "]"
	}
	return s
}
