package reltree

import "math"

// TupleKey is a hashable key for a tuple or a projection of one.
// It avoids string allocations by hashing the underlying values and keeps
// the values for collision checks.
type TupleKey struct {
	hash   uint64
	values []interface{}
}

// NewTupleKey creates a key from specific tuple positions.
func NewTupleKey(tuple Tuple, positions []int) TupleKey {
	if len(positions) == 1 {
		val := tuple[positions[0]]
		return TupleKey{hash: hashValue(val), values: []interface{}{val}}
	}
	values := make([]interface{}, len(positions))
	for i, p := range positions {
		values[i] = tuple[p]
	}
	return TupleKey{hash: hashValues(values), values: values}
}

// NewKeyFromValues creates a key from already projected values.
func NewKeyFromValues(values []interface{}) TupleKey {
	return TupleKey{hash: hashValues(values), values: values}
}

// NewTupleKeyFull creates a key from an entire tuple without copying it.
func NewTupleKeyFull(tuple Tuple) TupleKey {
	return TupleKey{hash: hashValues(tuple), values: tuple}
}

// NewValueKey creates a key for a single value.
func NewValueKey(v interface{}) TupleKey {
	return TupleKey{hash: hashValue(v), values: []interface{}{v}}
}

// Equal checks if two keys are equal.
func (k TupleKey) Equal(other TupleKey) bool {
	if k.hash != other.hash || len(k.values) != len(other.values) {
		return false
	}
	for i, v := range k.values {
		if !ValuesEqual(v, other.values[i]) {
			return false
		}
	}
	return true
}

// hashValues computes an FNV-1a style hash over a slice of values.
func hashValues(values []interface{}) uint64 {
	const prime = 1099511628211
	hash := uint64(14695981039346656037)
	for _, v := range values {
		hash ^= hashValue(v)
		hash *= prime
	}
	return hash
}

func hashValue(v interface{}) uint64 {
	switch val := v.(type) {
	case string:
		return hashString(val)
	case float64:
		if val == 0 {
			// -0 and +0 compare equal
			return 0
		}
		return math.Float64bits(val)
	case Vector:
		const prime = 1099511628211
		hash := uint64(0x9e3779b97f4a7c15)
		for _, x := range val {
			hash ^= math.Float64bits(x)
			hash *= prime
		}
		return hash
	case Tuple:
		return hashValues(val) ^ 0x5bd1e995
	case nil:
		return 0
	default:
		return 1
	}
}

func hashString(s string) uint64 {
	const prime = 1099511628211
	hash := uint64(14695981039346656037)
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime
	}
	return hash
}

// TupleKeyMap is a hash map from TupleKey to an arbitrary value. The hash is
// the native map key and collisions are resolved by value comparison.
type TupleKeyMap struct {
	m    map[uint64][]mapEntry
	size int
}

type mapEntry struct {
	values []interface{}
	value  interface{}
}

// NewTupleKeyMap creates a new TupleKeyMap.
func NewTupleKeyMap() *TupleKeyMap {
	return &TupleKeyMap{m: make(map[uint64][]mapEntry)}
}

// NewTupleKeyMapWithCapacity creates a TupleKeyMap pre-sized for
// expectedSize entries.
func NewTupleKeyMapWithCapacity(expectedSize int) *TupleKeyMap {
	return &TupleKeyMap{m: make(map[uint64][]mapEntry, expectedSize)}
}

// Put adds or replaces the value stored under key.
func (m *TupleKeyMap) Put(key TupleKey, value interface{}) {
	entries := m.m[key.hash]
	for i := range entries {
		if key.Equal(TupleKey{hash: key.hash, values: entries[i].values}) {
			entries[i].value = value
			return
		}
	}
	m.m[key.hash] = append(entries, mapEntry{values: key.values, value: value})
	m.size++
}

// Get returns the value stored under key.
func (m *TupleKeyMap) Get(key TupleKey) (interface{}, bool) {
	for _, e := range m.m[key.hash] {
		if key.Equal(TupleKey{hash: key.hash, values: e.values}) {
			return e.value, true
		}
	}
	return nil, false
}

// Len returns the number of distinct keys.
func (m *TupleKeyMap) Len() int { return m.size }
