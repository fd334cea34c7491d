package rules

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/me/prodgraph/pkg/model"
)

type signature struct {
	subject model.Type
	product model.Type
}

// Registry maps (subject type, product) pairs to the rules that compute them.
// It is built once during startup and handed to the scheduler; registration
// happens before concurrent access, so no mutex is needed.
type Registry struct {
	bySig  map[signature][]*Rule
	order  []*Rule
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		bySig:  make(map[signature][]*Rule),
		logger: logger.With("component", "rule-registry"),
	}
}

// Register adds rules. Two rules that would match the same request are a
// configuration error reported as *model.AmbiguousRuleError; ambiguity is
// never resolved by priority. The batch is checked as a whole, including
// conflicts between its own rules, and nothing is registered if any rule is
// rejected.
func (r *Registry) Register(rules ...*Rule) error {
	pending := make(map[signature][]*Rule)
	for _, rule := range rules {
		if rule == nil {
			return errors.New("register: nil rule")
		}
		if err := rule.Validate(); err != nil {
			return err
		}
		sig := signature{subject: rule.SubjectType, product: rule.Product}
		existing := append(append([]*Rule(nil), r.bySig[sig]...), pending[sig]...)
		for _, e := range existing {
			if conflicts(e, rule) {
				variant := ""
				if rule.Variant != nil {
					variant = rule.Variant.String()
				}
				return &model.AmbiguousRuleError{
					SubjectType: rule.SubjectType,
					Product:     rule.Product,
					Variant:     variant,
					Existing:    e.Name,
					New:         rule.Name,
				}
			}
		}
		pending[sig] = append(pending[sig], rule)
	}

	for _, rule := range rules {
		sig := signature{subject: rule.SubjectType, product: rule.Product}
		r.bySig[sig] = append(r.bySig[sig], rule)
		r.order = append(r.order, rule)
		r.logger.Debug("rule registered", "rule", rule.Name, "subject_type", rule.SubjectType, "product", rule.Product)
	}
	return nil
}

// conflicts reports whether a and b could both be selected for one request.
// Variant-sensitive rules for one signature must agree on the variant key,
// otherwise a node carrying both keys would match both.
func conflicts(a, b *Rule) bool {
	switch {
	case a.Variant == nil && b.Variant == nil:
		return true
	case a.Variant == nil || b.Variant == nil:
		return false
	case a.Variant.Key != b.Variant.Key:
		return true
	default:
		return a.Variant.Value == b.Variant.Value
	}
}

// Select returns the rule that computes product for subjects of subjectType
// under variants. Matching is exact on both types. A variant-sensitive rule
// whose variant value is configured wins over the default rule.
func (r *Registry) Select(subjectType, product model.Type, variants model.Variants) (*Rule, error) {
	candidates := r.bySig[signature{subject: subjectType, product: product}]
	if len(candidates) == 0 {
		return nil, &model.SelectionError{SubjectType: subjectType, Product: product, Variants: variants}
	}
	var fallback *Rule
	for _, c := range candidates {
		if c.Variant == nil {
			fallback = c
			continue
		}
		if v, ok := variants.Get(c.Variant.Key); ok && v == c.Variant.Value {
			return c, nil
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, &model.SelectionError{
		SubjectType: subjectType,
		Product:     product,
		Variants:    variants,
		Reason:      "no rule matches the configured variants",
	}
}

// CanProduce reports whether product can be computed for subjects of
// subjectType at all, including the identity shortcut.
func (r *Registry) CanProduce(subjectType, product model.Type) bool {
	if subjectType == product {
		return true
	}
	return len(r.bySig[signature{subject: subjectType, product: product}]) > 0
}

// Rules returns all rules in registration order.
func (r *Registry) Rules() []*Rule {
	return append([]*Rule(nil), r.order...)
}

// Products returns the sorted set of products any rule computes.
func (r *Registry) Products() []model.Type {
	seen := make(map[model.Type]struct{})
	var out []model.Type
	for _, rule := range r.order {
		if _, ok := seen[rule.Product]; ok {
			continue
		}
		seen[rule.Product] = struct{}{}
		out = append(out, rule.Product)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	return len(r.order)
}
