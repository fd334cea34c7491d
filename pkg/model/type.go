package model

import (
	"reflect"
)

// Type identifies a kind of subject or product. Products are type tags, not
// instances: asking for Type "fs.FileContent" of a subject means "compute the
// value of that type for this subject".
type Type string

// String returns the type name.
func (t Type) String() string {
	return string(t)
}

// Typed is implemented by values that name their own Type instead of relying
// on their Go type. Dynamic subject kinds (for example target kinds parsed from
// build files) use it to share one Go struct across many product types.
type Typed interface {
	TypeName() Type
}

// TypeOf returns the Type of v.
func TypeOf(v any) Type {
	if v == nil {
		return ""
	}
	if t, ok := v.(Typed); ok {
		return t.TypeName()
	}
	return Type(reflect.TypeOf(v).String())
}

// TypeFor returns the Type of the Go type T.
func TypeFor[T any]() Type {
	return Type(reflect.TypeFor[T]().String())
}

// DependencyLister is implemented by values whose elements are subjects in
// their own right. SelectDependencies fans out over the listed subjects.
type DependencyLister interface {
	DependencySubjects() []any
}

// Varianted is implemented by subjects that carry their own variants, such as
// an address spelled "src/lib:lib@java=1.8".
type Varianted interface {
	SubjectVariants() Variants
}
