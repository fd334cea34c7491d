package rules

import (
	"fmt"

	"github.com/me/prodgraph/pkg/model"
)

// Selector declares one static dependency of a task rule. The values the
// selectors resolve to are passed to the task body in declaration order.
type Selector interface {
	fmt.Stringer
	// Output returns the product the selector ultimately yields.
	Output() model.Type
	selector()
}

// Select requests Product for the rule's own subject under the inherited
// variants. An Optional select resolves to nil when no rule can produce the
// product or the product is Noop.
type Select struct {
	Product  model.Type
	Optional bool
}

func (s Select) Output() model.Type { return s.Product }
func (Select) selector()            {}

func (s Select) String() string {
	if s.Optional {
		return fmt.Sprintf("Select(%s, optional)", s.Product)
	}
	return fmt.Sprintf("Select(%s)", s.Product)
}

// SelectVariant requests Product for the rule's subject only when the
// requesting node's variants define VariantKey; otherwise the selector is
// Noop. Rule selection for Product will then pick the rule registered for
// the configured variant value.
type SelectVariant struct {
	Product    model.Type
	VariantKey string
}

func (s SelectVariant) Output() model.Type { return s.Product }
func (SelectVariant) selector()            {}

func (s SelectVariant) String() string {
	return fmt.Sprintf("SelectVariant(%s, %s)", s.Product, s.VariantKey)
}

// SelectDependencies first resolves DepProduct for the subject. That value
// must implement model.DependencyLister; Product is then resolved for each
// listed subject and the selector yields the values as []any in list order.
type SelectDependencies struct {
	Product    model.Type
	DepProduct model.Type
}

func (s SelectDependencies) Output() model.Type { return s.Product }
func (SelectDependencies) selector()            {}

func (s SelectDependencies) String() string {
	return fmt.Sprintf("SelectDependencies(%s, %s)", s.Product, s.DepProduct)
}

// SelectProjection resolves InputProduct for the subject, projects that value
// into a new subject and yields Product for the projected subject.
type SelectProjection struct {
	Product      model.Type
	InputProduct model.Type
	Project      func(input any) (any, error)
}

func (s SelectProjection) Output() model.Type { return s.Product }
func (SelectProjection) selector()            {}

func (s SelectProjection) String() string {
	return fmt.Sprintf("SelectProjection(%s, %s)", s.Product, s.InputProduct)
}

// SelectLiteral yields Product for a fixed subject rather than the rule's own.
type SelectLiteral struct {
	Subject any
	Product model.Type
}

func (s SelectLiteral) Output() model.Type { return s.Product }
func (SelectLiteral) selector()            {}

func (s SelectLiteral) String() string {
	return fmt.Sprintf("SelectLiteral(%v, %s)", s.Subject, s.Product)
}
