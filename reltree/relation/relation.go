// Package relation implements the typed fact store consulted during tree
// induction. Relations of arity 1 to 3 keep a join index over every
// non-empty proper subset of argument positions.
package relation

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wbrown/janus-reltree/reltree"
)

// IndexedArityBound is the largest arity that gets a subset join index.
const IndexedArityBound = 3

var (
	ErrArity           = errors.New("arity mismatch")
	ErrType            = errors.New("type mismatch")
	ErrMalformedFact   = errors.New("malformed fact")
	ErrUnknownRelation = errors.New("unknown relation")
)

// Relation is a named, typed set of tuples.
type Relation struct {
	name  string
	types []reltree.Type

	tuples  []reltree.Tuple
	present *reltree.TupleKeyMap

	// index[code] maps the projection onto the positions in code to the
	// tuples sharing that projection. nil when the relation is not indexed.
	index     map[uint]*reltree.TupleKeyMap
	positions map[uint][]int

	domainsMu sync.Mutex
	domains   [][]interface{}
}

// New creates an empty relation.
func New(name string, types []reltree.Type) (*Relation, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: relation without a name", ErrMalformedFact)
	}
	for i, t := range types {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("relation %s argument %d: %w", name, i, err)
		}
	}
	r := &Relation{
		name:    name,
		types:   append([]reltree.Type(nil), types...),
		present: reltree.NewTupleKeyMap(),
	}
	if r.indexed() {
		r.index = make(map[uint]*reltree.TupleKeyMap)
		r.positions = make(map[uint][]int)
		for code := uint(1); code < (1<<uint(r.Arity()))-1; code++ {
			r.index[code] = reltree.NewTupleKeyMap()
			r.positions[code] = positionsOf(code, r.Arity())
		}
	}
	return r, nil
}

// Name returns the relation name.
func (r *Relation) Name() string { return r.name }

// Types returns the declared argument types.
func (r *Relation) Types() []reltree.Type { return r.types }

// Arity returns the number of arguments.
func (r *Relation) Arity() int { return len(r.types) }

// Size returns the number of stored tuples.
func (r *Relation) Size() int { return len(r.tuples) }

// Tuples returns every stored tuple. The slice is shared and must not be
// modified.
func (r *Relation) Tuples() []reltree.Tuple { return r.tuples }

// Indexed reports whether the relation maintains a subset join index.
func (r *Relation) Indexed() bool { return r.indexed() }

func (r *Relation) indexed() bool {
	return r.Arity() >= 1 && r.Arity() <= IndexedArityBound
}

// AddTuple inserts a tuple and updates every index bucket. Duplicates are
// ignored; the returned flag reports whether the tuple was new.
func (r *Relation) AddTuple(t reltree.Tuple) (bool, error) {
	if len(t) != r.Arity() {
		return false, fmt.Errorf("%w: %s expects %d values, got %d", ErrArity, r.name, r.Arity(), len(t))
	}
	for i, v := range t {
		if err := checkType(v, r.types[i]); err != nil {
			return false, fmt.Errorf("%w: %s argument %d: %v", ErrType, r.name, i, err)
		}
	}
	full := reltree.NewTupleKeyFull(t)
	if _, dup := r.present.Get(full); dup {
		return false, nil
	}
	stored := append(reltree.Tuple(nil), t...)
	r.present.Put(reltree.NewTupleKeyFull(stored), stored)
	r.tuples = append(r.tuples, stored)

	for code, bucketMap := range r.index {
		key := reltree.NewTupleKey(stored, r.positions[code])
		existing, _ := bucketMap.Get(key)
		bucket, _ := existing.([]reltree.Tuple)
		bucketMap.Put(key, append(bucket, stored))
	}

	r.domainsMu.Lock()
	r.domains = nil
	r.domainsMu.Unlock()
	return true, nil
}

func checkType(v interface{}, t reltree.Type) error {
	switch {
	case t.IsNumeric():
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("expected numeric value, got %T", v)
		}
	case t.IsMultiTarget():
		if _, ok := v.(reltree.Vector); !ok {
			return fmt.Errorf("expected vector value, got %T", v)
		}
	default:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected %s value, got %T", t, v)
		}
	}
	return nil
}

// GetAll returns every tuple consistent with the known positions. known
// must be strictly increasing and values[i] is the value required at
// position known[i].
//
// With no known positions all tuples are returned (aliased). With every
// position known the result is an existence check of size 0 or 1. Indexed
// relations answer the remaining patterns from the join index; others fall
// back to a linear scan.
func (r *Relation) GetAll(known []int, values []interface{}) []reltree.Tuple {
	switch {
	case len(known) == 0:
		return r.tuples
	case len(known) == r.Arity():
		found, ok := r.present.Get(reltree.NewKeyFromValues(values))
		if !ok {
			return nil
		}
		return []reltree.Tuple{found.(reltree.Tuple)}
	case !r.indexed():
		return r.scan(known, values)
	}
	code := codeOf(known)
	bucket, ok := r.index[code].Get(reltree.NewKeyFromValues(values))
	if !ok {
		return nil
	}
	return bucket.([]reltree.Tuple)
}

// scan is the reference linear scan used for unindexed relations.
func (r *Relation) scan(known []int, values []interface{}) []reltree.Tuple {
	var out []reltree.Tuple
	for _, t := range r.tuples {
		ok := true
		for i, p := range known {
			if !reltree.ValuesEqual(t[p], values[i]) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, t)
		}
	}
	return out
}

// Domain returns the sorted distinct values observed at a position.
func (r *Relation) Domain(position int) []interface{} {
	r.domainsMu.Lock()
	defer r.domainsMu.Unlock()
	if r.domains == nil {
		r.domains = make([][]interface{}, r.Arity())
	}
	if r.domains[position] == nil {
		vs := make([]interface{}, len(r.tuples))
		for i, t := range r.tuples {
			vs[i] = t[position]
		}
		r.domains[position] = reltree.DistinctSorted(vs)
	}
	return r.domains[position]
}

// DomainSize returns the number of distinct values at a position.
func (r *Relation) DomainSize(position int) int {
	return len(r.Domain(position))
}

func (r *Relation) String() string {
	return fmt.Sprintf("Relation(%s/%d, %d tuples)", r.name, r.Arity(), len(r.tuples))
}

// codeOf returns the bitmask of the given positions.
func codeOf(positions []int) uint {
	var code uint
	for _, p := range positions {
		code |= 1 << uint(p)
	}
	return code
}

func positionsOf(code uint, arity int) []int {
	var out []int
	for p := 0; p < arity; p++ {
		if code&(1<<uint(p)) != 0 {
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out
}
