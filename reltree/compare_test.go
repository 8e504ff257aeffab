package reltree

import (
	"math"
	"testing"
)

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name        string
		left, right interface{}
		want        int
	}{
		{"numbers", 1.0, 2.0, -1},
		{"equal numbers", 2.5, 2.5, 0},
		{"strings", "b", "a", 1},
		{"number before string", 100.0, "1", -1},
		{"infinities", math.Inf(-1), math.Inf(1), -1},
		{"vectors", Vector{1, 2}, Vector{1, 3}, -1},
		{"shorter vector first", Vector{1}, Vector{1, 0}, -1},
		{"tuples", Tuple{"a", 1.0}, Tuple{"a", 0.0}, 1},
		{"nil first", nil, "a", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompareValues(tt.left, tt.right); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestValuesEqual(t *testing.T) {
	if !ValuesEqual(1.0, 1.0) {
		t.Error("Expected equal numbers to be equal")
	}
	if ValuesEqual(1.0, "1") {
		t.Error("Expected number and string to differ")
	}
	if !ValuesEqual(Vector{1, 2}, Vector{1, 2}) {
		t.Error("Expected equal vectors to be equal")
	}
	if !ValuesEqual(Tuple{"a", 2.0}, Tuple{"a", 2.0}) {
		t.Error("Expected equal tuples to be equal")
	}
	if ValuesEqual(Tuple{"a"}, Tuple{"a", "b"}) {
		t.Error("Expected tuples of different length to differ")
	}
}

func TestDistinctSorted(t *testing.T) {
	got := DistinctSorted([]interface{}{"b", 2.0, "a", 2.0, "b", 1.0})
	want := []interface{}{1.0, 2.0, "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if !ValuesEqual(got[i], want[i]) {
			t.Errorf("position %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestTupleKeyMap(t *testing.T) {
	m := NewTupleKeyMap()
	tuple := Tuple{"jim", 3.0, "x"}
	m.Put(NewTupleKey(tuple, []int{0, 1}), "first")
	m.Put(NewKeyFromValues([]interface{}{"jim", 3.0}), "second")

	if m.Len() != 1 {
		t.Fatalf("Expected 1 key, got %d", m.Len())
	}
	v, ok := m.Get(NewTupleKey(Tuple{"jim", 3.0}, []int{0, 1}))
	if !ok || v != "second" {
		t.Errorf("Expected second, got %v (found=%v)", v, ok)
	}
	if _, ok := m.Get(NewValueKey("jim")); ok {
		t.Error("Expected single-value key not to match a pair key")
	}
	if _, ok := m.Get(NewValueKey(-0.0)); ok {
		t.Error("Expected missing key")
	}
	m.Put(NewValueKey(0.0), true)
	if _, ok := m.Get(NewValueKey(math.Copysign(0, -1))); !ok {
		t.Error("Expected -0 and +0 to share a key")
	}
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue("2.5", Numeric)
	if err != nil || v != 2.5 {
		t.Errorf("Expected 2.5, got %v (%v)", v, err)
	}
	if _, err := ParseValue("abc", Numeric); err == nil {
		t.Error("Expected error for non-numeric value")
	}
	v, err = ParseValue("[1, 2.5]", "multi_target[numeric]")
	if err != nil || !ValuesEqual(v, Vector{1, 2.5}) {
		t.Errorf("Expected vector, got %v (%v)", v, err)
	}
	v, err = ParseValue("'Jim1'", "Person")
	if err != nil || v != "Jim1" {
		t.Errorf("Expected Jim1, got %v (%v)", v, err)
	}

	inferred, typ := InferValue("42")
	if inferred != 42.0 || typ != Numeric {
		t.Errorf("Expected numeric 42, got %v %s", inferred, typ)
	}
	inferred, typ = InferValue("abc")
	if inferred != "abc" || typ != Nominal {
		t.Errorf("Expected nominal abc, got %v %s", inferred, typ)
	}
}

func TestTypeFamilies(t *testing.T) {
	if !Type("nominal3").IsNominal() {
		t.Error("Expected nominal3 to be nominal")
	}
	if !Type("Person").IsDomain() {
		t.Error("Expected Person to be a domain type")
	}
	mt := Type("multi_target[numeric]")
	if !mt.IsMultiTarget() || mt.Inner() != Numeric {
		t.Errorf("Expected numeric multi-target, got %s", mt.Inner())
	}
	if err := Type("multi_target[nominal]").Validate(); err == nil {
		t.Error("Expected nominal multi-target to be rejected")
	}
}
