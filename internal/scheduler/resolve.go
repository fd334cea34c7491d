package scheduler

import (
	"fmt"

	"github.com/me/prodgraph/internal/rules"
	"github.com/me/prodgraph/pkg/model"
)

// resolver collects the values of a task's selectors from the node's declared
// dependencies. Inputs that are undeclared or not terminal yet accumulate in
// missing; a required Noop input sets skip and a failed or malformed input
// sets err.
type resolver struct {
	s       *Scheduler
	node    model.Key
	missing []model.Key
	seen    map[model.Key]struct{}
	skip    string
	err     error
}

func (r *resolver) stopped() bool {
	return r.err != nil || r.skip != ""
}

// resolve returns one value per selector. The values are only meaningful
// when nothing is missing and the resolver has not stopped.
func (r *resolver) resolve(selectors []rules.Selector) []any {
	values := make([]any, len(selectors))
	for i, sel := range selectors {
		values[i] = r.selector(sel)
		if r.stopped() {
			return nil
		}
	}
	return values
}

func (r *resolver) selector(sel rules.Selector) any {
	subject := r.node.Subject
	switch sel := sel.(type) {
	case rules.Select:
		if sel.Optional && !r.selectable(subject, sel.Product) {
			return nil
		}
		v, _ := r.value(subject, sel.Product, sel.Optional)
		return v

	case rules.SelectVariant:
		if _, ok := r.node.Variants.Get(sel.VariantKey); !ok {
			r.skip = fmt.Sprintf("variant %q is not configured", sel.VariantKey)
			return nil
		}
		v, _ := r.value(subject, sel.Product, false)
		return v

	case rules.SelectDependencies:
		v, ok := r.value(subject, sel.DepProduct, false)
		if !ok {
			return nil
		}
		lister, ok := v.(model.DependencyLister)
		if !ok {
			r.err = fmt.Errorf("%s: %s value of type %T does not list dependencies", sel, sel.DepProduct, v)
			return nil
		}
		subjects := lister.DependencySubjects()
		out := make([]any, len(subjects))
		complete := true
		for i, dep := range subjects {
			dv, ok := r.value(dep, sel.Product, false)
			if r.stopped() {
				return nil
			}
			if !ok {
				complete = false
				continue
			}
			out[i] = dv
		}
		if !complete {
			return nil
		}
		return out

	case rules.SelectProjection:
		v, ok := r.value(subject, sel.InputProduct, false)
		if !ok {
			return nil
		}
		projected, err := sel.Project(v)
		if err != nil {
			r.err = fmt.Errorf("%s: %w", sel, err)
			return nil
		}
		pv, _ := r.value(projected, sel.Product, false)
		return pv

	case rules.SelectLiteral:
		v, _ := r.value(sel.Subject, sel.Product, false)
		return v
	}
	r.err = fmt.Errorf("unsupported selector %T", sel)
	return nil
}

// value looks up product for subject under the node's variants. It reports
// false when the value is not available, recording why.
func (r *resolver) value(subject any, product model.Type, optional bool) (any, bool) {
	key, err := model.KeyFor(subject, product, r.node.Variants)
	if err != nil {
		r.err = err
		return nil, false
	}
	if key.SubjectType() == key.Product {
		return key.Subject, true
	}

	st, ok := r.s.dependencyState(r.node, key)
	if !ok || !st.IsTerminal() {
		r.need(key)
		return nil, false
	}
	switch st.Kind {
	case model.StateReturn:
		return st.Value, true
	case model.StateNoop:
		if optional {
			return nil, true
		}
		r.skip = fmt.Sprintf("%s is noop", key)
		if st.Reason != "" {
			r.skip += ": " + st.Reason
		}
		return nil, false
	default:
		r.err = model.NewDependencyError(key, st.Err)
		return nil, false
	}
}

// selectable reports whether a rule would be selected for product of subject
// under the node's variants. Rules restricted to other variants do not count.
func (r *resolver) selectable(subject any, product model.Type) bool {
	key, err := model.KeyFor(subject, product, r.node.Variants)
	if err != nil {
		return false
	}
	if key.SubjectType() == key.Product {
		return true
	}
	_, err = r.s.rules.Select(key.SubjectType(), key.Product, key.Variants)
	return err == nil
}

func (r *resolver) need(key model.Key) {
	if r.seen == nil {
		r.seen = make(map[model.Key]struct{})
	}
	if _, ok := r.seen[key]; ok {
		return
	}
	r.seen[key] = struct{}{}
	r.missing = append(r.missing, key)
}
