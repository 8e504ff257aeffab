// Package reltree holds the value model shared by the relational tree
// learner: argument types, runtime values and their ordering.
package reltree

import (
	"fmt"
	"strings"
)

// Type is the declared type of a relation argument. The three constant
// families are recognised by prefix so that refinements such as "nominal3"
// keep their family. Any other name is a user domain ("Person", "Atom").
type Type string

const (
	Nominal     Type = "nominal"
	Numeric     Type = "numeric"
	MultiTarget Type = "multi_target"
)

// IsNominal reports whether t belongs to the nominal family.
func (t Type) IsNominal() bool { return strings.HasPrefix(string(t), string(Nominal)) }

// IsNumeric reports whether t belongs to the numeric family.
func (t Type) IsNumeric() bool { return strings.HasPrefix(string(t), string(Numeric)) }

// IsMultiTarget reports whether t is a multi_target[inner] vector type.
func (t Type) IsMultiTarget() bool {
	return strings.HasPrefix(string(t), string(MultiTarget)+"[")
}

// IsConstant reports whether values of t are plain constants rather than
// identifiers of a user domain.
func (t Type) IsConstant() bool {
	return t.IsNominal() || t.IsNumeric() || t.IsMultiTarget()
}

// IsDomain reports whether t names a user domain.
func (t Type) IsDomain() bool { return !t.IsConstant() }

// Inner returns the component type of a multi-target type.
func (t Type) Inner() Type {
	if !t.IsMultiTarget() {
		return t
	}
	s := strings.TrimPrefix(string(t), string(MultiTarget)+"[")
	return Type(strings.TrimSuffix(s, "]"))
}

// Validate checks that t is a usable type name.
func (t Type) Validate() error {
	if t == "" {
		return fmt.Errorf("empty type name")
	}
	if t.IsMultiTarget() {
		if !strings.HasSuffix(string(t), "]") {
			return fmt.Errorf("unterminated multi-target type %q", t)
		}
		if !t.Inner().IsNumeric() {
			return fmt.Errorf("multi-target type %q: only numeric components are supported", t)
		}
		return nil
	}
	for _, r := range string(t) {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return fmt.Errorf("invalid character %q in type %q", r, t)
		}
	}
	return nil
}

func (t Type) String() string { return string(t) }
