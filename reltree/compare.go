package reltree

import (
	"sort"
	"strings"
)

// CompareValues compares two values and returns:
//
//	-1 if left < right
//	 0 if left == right
//	 1 if left > right
//
// Values of different kinds are ordered nil < numbers < strings < vectors
// < tuples so that mixed slices still sort deterministically.
func CompareValues(left, right interface{}) int {
	lr, rr := rank(left), rank(right)
	if lr != rr {
		if lr < rr {
			return -1
		}
		return 1
	}

	switch l := left.(type) {
	case nil:
		return 0
	case float64:
		return compareFloat(l, right.(float64))
	case string:
		return strings.Compare(l, right.(string))
	case Vector:
		r := right.(Vector)
		for i := 0; i < len(l) && i < len(r); i++ {
			if c := compareFloat(l[i], r[i]); c != 0 {
				return c
			}
		}
		return compareInt(len(l), len(r))
	case Tuple:
		r := right.(Tuple)
		for i := 0; i < len(l) && i < len(r); i++ {
			if c := CompareValues(l[i], r[i]); c != 0 {
				return c
			}
		}
		return compareInt(len(l), len(r))
	}
	return 0
}

func rank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case float64:
		return 1
	case string:
		return 2
	case Vector:
		return 3
	case Tuple:
		return 4
	default:
		return 5
	}
}

func compareFloat(l, r float64) int {
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	}
	return 0
}

func compareInt(l, r int) int {
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	}
	return 0
}

// ValuesEqual reports exact equality: numeric equality for numbers,
// string equality for nominal and domain values, component-wise for
// vectors and tuples.
func ValuesEqual(left, right interface{}) bool {
	switch l := left.(type) {
	case float64:
		r, ok := right.(float64)
		return ok && l == r
	case string:
		r, ok := right.(string)
		return ok && l == r
	case Vector:
		r, ok := right.(Vector)
		if !ok || len(l) != len(r) {
			return false
		}
		for i := range l {
			if l[i] != r[i] {
				return false
			}
		}
		return true
	case Tuple:
		r, ok := right.(Tuple)
		if !ok || len(l) != len(r) {
			return false
		}
		for i := range l {
			if !ValuesEqual(l[i], r[i]) {
				return false
			}
		}
		return true
	case nil:
		return right == nil
	}
	return false
}

// SortValues sorts values in place by CompareValues.
func SortValues(values []interface{}) {
	sort.SliceStable(values, func(i, j int) bool {
		return CompareValues(values[i], values[j]) < 0
	})
}

// DistinctSorted returns the distinct values of vs in ascending order.
func DistinctSorted(vs []interface{}) []interface{} {
	set := NewTupleKeyMapWithCapacity(len(vs))
	out := make([]interface{}, 0, len(vs))
	for _, v := range vs {
		key := NewValueKey(v)
		if _, ok := set.Get(key); ok {
			continue
		}
		set.Put(key, nil)
		out = append(out, v)
	}
	SortValues(out)
	return out
}
