package model

import (
	"fmt"
	"reflect"
)

// Key identifies a node: a product requested for a subject under a set of
// variants. Two requests with equal keys always share one node.
type Key struct {
	Subject  any
	Product  Type
	Variants Variants
}

// NewKey builds a key, rejecting subjects that cannot be compared and would
// therefore panic when used as a map key.
func NewKey(subject any, product Type, variants Variants) (Key, error) {
	if subject == nil {
		return Key{}, fmt.Errorf("nil subject for product %s", product)
	}
	if product == "" {
		return Key{}, fmt.Errorf("empty product for subject %v", subject)
	}
	if !reflect.ValueOf(subject).Comparable() {
		return Key{}, fmt.Errorf("subject of type %T is not comparable", subject)
	}
	return Key{Subject: subject, Product: product, Variants: variants}, nil
}

// KeyFor builds a key whose variants are the inherited ones merged with the
// subject's own variants; the subject's values win.
func KeyFor(subject any, product Type, inherited Variants) (Key, error) {
	vars := inherited
	if v, ok := subject.(Varianted); ok {
		vars = inherited.Merge(v.SubjectVariants())
	}
	return NewKey(subject, product, vars)
}

// SubjectType returns the Type of the key's subject.
func (k Key) SubjectType() Type {
	return TypeOf(k.Subject)
}

// String renders the key as product(subject)[variants].
func (k Key) String() string {
	if k.Variants.IsEmpty() {
		return fmt.Sprintf("%s(%v)", k.Product, k.Subject)
	}
	return fmt.Sprintf("%s(%v)[%s]", k.Product, k.Subject, k.Variants)
}
