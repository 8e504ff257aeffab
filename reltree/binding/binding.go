// Package binding models the variables of a test chain and the scope in
// which one example is evaluated.
package binding

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/wbrown/janus-reltree/reltree"
)

// Kind classifies a variable.
type Kind int

const (
	// Bound variables take their value from the example being scored.
	Bound Kind = iota
	// Free variables are existentially quantified and grounded by joins.
	Free
	// Constant variables are fixed to one observed domain value.
	Constant
)

func (k Kind) String() string {
	switch k {
	case Bound:
		return "bound"
	case Free:
		return "free"
	case Constant:
		return "constant"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Name prefixes used for each kind of variable.
const (
	BoundPrefix    = 'X'
	FreePrefix     = 'Y'
	ConstantPrefix = 'C'
)

// KindOf classifies a variable name by its prefix.
func KindOf(name string) (Kind, error) {
	if name == "" {
		return 0, fmt.Errorf("empty variable name")
	}
	switch name[0] {
	case BoundPrefix:
		return Bound, nil
	case FreePrefix:
		return Free, nil
	case ConstantPrefix:
		return Constant, nil
	}
	return 0, fmt.Errorf("wrong variable name %q", name)
}

// IsTemporary reports whether the name carries a negative counter, which is
// how candidate variables are named before a split is accepted.
func IsTemporary(name string) bool {
	if len(name) < 2 {
		return false
	}
	n, err := strconv.Atoi(name[1:])
	return err == nil && n < 0
}

// Variable is a named, typed slot.
type Variable struct {
	name  string
	typ   reltree.Type
	kind  Kind
	value interface{}
	set   bool
}

// NewVariable creates a variable whose kind follows from its name.
// Constants are created with their value; others start unset unless value
// is non-nil.
func NewVariable(name string, typ reltree.Type, value interface{}) (*Variable, error) {
	kind, err := KindOf(name)
	if err != nil {
		return nil, err
	}
	v := &Variable{name: name, typ: typ, kind: kind}
	if value != nil {
		v.value, v.set = value, true
	}
	return v, nil
}

// Name returns the variable name.
func (v *Variable) Name() string { return v.name }

// Type returns the declared type.
func (v *Variable) Type() reltree.Type { return v.typ }

// Kind returns the variable kind.
func (v *Variable) Kind() Kind { return v.kind }

// Value returns the current value and whether it is set.
func (v *Variable) Value() (interface{}, bool) { return v.value, v.set }

// IsSet reports whether the variable currently holds a value.
func (v *Variable) IsSet() bool { return v.set }

// CanVary reports whether the value may change during evaluation.
func (v *Variable) CanVary() bool { return v.kind != Constant }

// Set assigns a value.
func (v *Variable) Set(value interface{}) {
	v.value, v.set = value, true
}

// Unset clears the value. Constants keep theirs.
func (v *Variable) Unset() {
	if v.kind == Constant {
		return
	}
	v.value, v.set = nil, false
}

func (v *Variable) String() string {
	if v.set {
		return fmt.Sprintf("%s(%s)", v.name, reltree.FormatValue(v.value))
	}
	return v.name
}

// Example is the scope of variables visible while one example is
// evaluated: the bound target variables, the free variables of the current
// chain and any constants.
type Example struct {
	vars map[string]*Variable
}

// NewExample creates an empty scope.
func NewExample() *Example {
	return &Example{vars: make(map[string]*Variable)}
}

// Add puts a variable into scope. Adding a second variable with the same
// name is an error.
func (e *Example) Add(v *Variable) error {
	if _, ok := e.vars[v.name]; ok {
		return fmt.Errorf("variable %s already in scope", v.name)
	}
	e.vars[v.name] = v
	return nil
}

// Put puts a variable into scope, replacing any previous one.
func (e *Example) Put(v *Variable) { e.vars[v.name] = v }

// Get returns the named variable.
func (e *Example) Get(name string) (*Variable, bool) {
	v, ok := e.vars[name]
	return v, ok
}

// Len returns the number of variables in scope.
func (e *Example) Len() int { return len(e.vars) }

// Names returns the variable names in sorted order.
func (e *Example) Names() []string {
	names := make([]string, 0, len(e.vars))
	for n := range e.vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Ground sets the named variables to values and returns a function that
// restores their previous state. Callers defer the returned function so
// that the binding is undone on every exit path:
//
//	undo := ex.Ground(names, values)
//	defer undo()
func (e *Example) Ground(names []string, values []interface{}) func() {
	type saved struct {
		v     *Variable
		value interface{}
		set   bool
	}
	prev := make([]saved, 0, len(names))
	for i, n := range names {
		v := e.vars[n]
		prev = append(prev, saved{v, v.value, v.set})
		v.value, v.set = values[i], true
	}
	return func() {
		for i := len(prev) - 1; i >= 0; i-- {
			p := prev[i]
			p.v.value, p.v.set = p.value, p.set
		}
	}
}

// UnsetVarying clears every variable that can vary.
func (e *Example) UnsetVarying() {
	for _, v := range e.vars {
		v.Unset()
	}
}
