package relation

import (
	"fmt"

	"github.com/wbrown/janus-reltree/reltree"
)

// Store is a collection of relations addressed by name. It is built once
// while facts are loaded and is read-only during induction, so it may be
// shared between concurrently built trees.
type Store struct {
	relations map[string]*Relation
	order     []string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{relations: make(map[string]*Relation)}
}

// Declare registers a relation schema. Declaring an existing relation with
// the same types returns it; conflicting types are an error.
func (s *Store) Declare(name string, types []reltree.Type) (*Relation, error) {
	if existing, ok := s.relations[name]; ok {
		if !sameTypes(existing.types, types) {
			return nil, fmt.Errorf("%w: relation %s declared as %v and %v", ErrArity, name, existing.types, types)
		}
		return existing, nil
	}
	r, err := New(name, types)
	if err != nil {
		return nil, err
	}
	s.relations[name] = r
	s.order = append(s.order, name)
	return r, nil
}

func sameTypes(a, b []reltree.Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Relation returns the named relation.
func (s *Store) Relation(name string) (*Relation, bool) {
	r, ok := s.relations[name]
	return r, ok
}

// Add inserts one typed tuple into a declared relation.
func (s *Store) Add(name string, values ...interface{}) error {
	r, ok := s.relations[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRelation, name)
	}
	_, err := r.AddTuple(reltree.Tuple(values))
	return err
}

// Names returns relation names in declaration order.
func (s *Store) Names() []string {
	return append([]string(nil), s.order...)
}

// Relations returns relations in declaration order.
func (s *Store) Relations() []*Relation {
	out := make([]*Relation, len(s.order))
	for i, n := range s.order {
		out[i] = s.relations[n]
	}
	return out
}

// Len returns the number of relations.
func (s *Store) Len() int { return len(s.order) }

// TupleCount returns the number of tuples over all relations.
func (s *Store) TupleCount() int {
	n := 0
	for _, r := range s.relations {
		n += r.Size()
	}
	return n
}
