package feature

import (
	"sort"
	"strconv"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/binding"
)

// Var declares a variable in scope. Constants carry their value.
type Var struct {
	Name  string
	Type  reltree.Type
	Value interface{}
}

// Variable creates the binding for v. Constants start set; other
// variables start unset.
func (v Var) Variable() (*binding.Variable, error) {
	if kind, err := binding.KindOf(v.Name); err == nil && kind == binding.Constant {
		return binding.NewVariable(v.Name, v.Type, v.Value)
	}
	return binding.NewVariable(v.Name, v.Type, nil)
}

// Level is the set of variables one step of a path introduces.
type Level []Var

// Scope is the variable context of a node. Level 0 holds the target
// variables; level i holds the variables introduced by atom i-1 of the
// test chain the node extends.
type Scope []Level

// Extend returns the scope of a positive child: the first start levels
// followed by the levels of the accepted test's new atoms.
func (s Scope) Extend(start int, levels []Level) Scope {
	out := make(Scope, 0, start+len(levels))
	out = append(out, s[:start]...)
	return append(out, levels...)
}

// Vars returns every variable in scope.
func (s Scope) Vars() []Var {
	var out []Var
	for _, l := range s {
		out = append(out, l...)
	}
	return out
}

// Names returns the set of variable names in scope.
func (s Scope) Names() map[string]bool {
	out := make(map[string]bool)
	for _, l := range s {
		for _, v := range l {
			out[v.Name] = true
		}
	}
	return out
}

// Example builds a fresh evaluation scope holding every variable of s
// plus extra.
func (s Scope) Example(extra ...Var) (*binding.Example, error) {
	ex := binding.NewExample()
	for _, vs := range [][]Var{s.Vars(), extra} {
		for _, v := range vs {
			bv, err := v.Variable()
			if err != nil {
				return nil, err
			}
			if err := ex.Add(bv); err != nil {
				return nil, err
			}
		}
	}
	return ex, nil
}

// present maps each type to the sorted names of that type.
type present map[reltree.Type][]string

func (p present) with(names []string, types []reltree.Type) present {
	out := make(present, len(p))
	for t, ns := range p {
		out[t] = ns
	}
	added := make(map[reltree.Type]bool)
	for i, n := range names {
		t := types[i]
		if contains(out[t], n) {
			continue
		}
		if !added[t] {
			out[t] = append([]string(nil), out[t]...)
			added[t] = true
		}
		out[t] = append(out[t], n)
	}
	for t := range added {
		sort.Strings(out[t])
	}
	return out
}

func (p present) withLevel(l Level) present {
	names := make([]string, len(l))
	types := make([]reltree.Type, len(l))
	for i, v := range l {
		names[i], types[i] = v.Name, v.Type
	}
	return p.with(names, types)
}

func contains(xs []string, x string) bool {
	for _, y := range xs {
		if y == x {
			return true
		}
	}
	return false
}

// Namer hands out permanent variable names. Target and free variables
// share one counter; constants have their own.
type Namer struct {
	xy int
	c  int
}

// NewNamer creates a namer with both counters at zero.
func NewNamer() *Namer { return &Namer{} }

// Next returns the next permanent name with the given prefix.
func (n *Namer) Next(prefix byte) string {
	if prefix == binding.ConstantPrefix {
		name := string(prefix) + strconv.Itoa(n.c)
		n.c++
		return name
	}
	name := string(prefix) + strconv.Itoa(n.xy)
	n.xy++
	return name
}

// TargetLevel names the target variables X0..Xk-1 after the descriptive
// argument types of the target relation.
func TargetLevel(types []reltree.Type, n *Namer) Level {
	l := make(Level, len(types))
	for i, t := range types {
		l[i] = Var{Name: n.Next(binding.BoundPrefix), Type: t}
	}
	return l
}
