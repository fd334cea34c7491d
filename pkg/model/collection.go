package model

import "reflect"

// Collection is an ordered list of values of one element type. Its Type is
// derived from the element type, so Collection[Path] and Collection[Stat] are
// distinct products.
type Collection[T any] struct {
	Dependencies []T `json:"dependencies"`
}

// CollectionOf builds a Collection from values.
func CollectionOf[T any](values ...T) Collection[T] {
	return Collection[T]{Dependencies: values}
}

// TypeName implements Typed.
func (c Collection[T]) TypeName() Type {
	return Type("Collection[" + reflect.TypeFor[T]().String() + "]")
}

// Len returns the number of elements.
func (c Collection[T]) Len() int {
	return len(c.Dependencies)
}

// Equal reports structural equality.
func (c Collection[T]) Equal(other Collection[T]) bool {
	return reflect.DeepEqual(c.Dependencies, other.Dependencies)
}

// DependencySubjects implements DependencyLister.
func (c Collection[T]) DependencySubjects() []any {
	out := make([]any, len(c.Dependencies))
	for i, d := range c.Dependencies {
		out[i] = d
	}
	return out
}

// CollectionType returns the Type of Collection[T].
func CollectionType[T any]() Type {
	return Collection[T]{}.TypeName()
}
