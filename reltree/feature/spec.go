// Package feature enumerates candidate relational tests: join-connected
// chains of atoms built from the allowed atom-test specifications, and for
// each chain the aggregator chains its types admit.
package feature

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/relation"
)

var (
	// ErrCandidateCountMismatch signals that the counting pass and the
	// generating pass disagree. It is a programming error.
	ErrCandidateCountMismatch = errors.New("candidate count mismatch")
	// ErrInvalidSpec is returned for malformed atom-test specifications.
	ErrInvalidSpec = errors.New("invalid atom test specification")
)

// Mode says how an argument position of an atom test is filled.
type Mode uint8

const (
	// Old positions take a variable already in scope.
	Old Mode = iota
	// New positions take a variable in scope or a fresh one.
	New
	// Const positions take a constant from the observed domain.
	Const
)

var modeNames = [...]string{"old", "new", "c"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// ParseMode parses "old", "new" or "c".
func ParseMode(s string) (Mode, error) {
	for i, n := range modeNames {
		if n == s {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: mode %q, allowed %v", ErrInvalidSpec, s, modeNames)
}

// Spec is an allowed atom test: a relation and a mode per argument.
type Spec struct {
	Relation *relation.Relation
	Modes    []Mode
}

// NewSpec checks the modes against the relation's arity.
func NewSpec(r *relation.Relation, modes ...Mode) (Spec, error) {
	if len(modes) != r.Arity() {
		return Spec{}, fmt.Errorf("%w: arity of %s differs in relation (%v) and atom test (%v)",
			relation.ErrArity, r.Name(), r.Types(), modes)
	}
	return Spec{Relation: r, Modes: modes}, nil
}

func (s Spec) String() string {
	parts := make([]string, len(s.Modes))
	for i, m := range s.Modes {
		parts[i] = m.String()
	}
	return s.Relation.Name() + "(" + strings.Join(parts, ", ") + ")"
}

func (s Spec) sortKey() string {
	types := make([]string, len(s.Modes))
	for i, t := range s.Relation.Types() {
		types[i] = string(t)
	}
	return s.String() + "/" + strings.Join(types, ",")
}

// slots groups the positions of one argument type by mode.
type slots struct {
	old, new, consts []int
}

// typedSlots returns the argument types in sorted order with their slots.
func (s Spec) typedSlots() ([]reltree.Type, map[reltree.Type]*slots) {
	byType := make(map[reltree.Type]*slots)
	var types []reltree.Type
	for pos, t := range s.Relation.Types() {
		sl, ok := byType[t]
		if !ok {
			sl = &slots{}
			byType[t] = sl
			types = append(types, t)
		}
		switch s.Modes[pos] {
		case Old:
			sl.old = append(sl.old, pos)
		case New:
			sl.new = append(sl.new, pos)
		case Const:
			sl.consts = append(sl.consts, pos)
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types, byType
}

// DefaultSpecs is used when no atom tests are configured. Every non-target
// relation gets one specification per domain-typed position, with that
// position old and every other position new, so each test joins to the
// variables in scope. Relations without domain-typed positions get an
// all-new specification.
func DefaultSpecs(store *relation.Store, target string) []Spec {
	var out []Spec
	for _, r := range store.Relations() {
		if r.Name() == target || r.Arity() == 0 {
			continue
		}
		added := false
		for pos, t := range r.Types() {
			if !t.IsDomain() {
				continue
			}
			modes := make([]Mode, r.Arity())
			for i := range modes {
				modes[i] = New
			}
			modes[pos] = Old
			out = append(out, Spec{Relation: r, Modes: modes})
			added = true
		}
		if !added {
			modes := make([]Mode, r.Arity())
			for i := range modes {
				modes[i] = New
			}
			out = append(out, Spec{Relation: r, Modes: modes})
		}
	}
	return out
}
