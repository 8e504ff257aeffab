package aggregate

import (
	"fmt"
	"strings"

	"github.com/wbrown/janus-reltree/reltree"
)

// Comparator relates a test value to a split threshold.
type Comparator uint8

const (
	Smaller Comparator = iota
	Bigger
	Equal
	Contains
	DoesNotContain
)

var comparatorNames = [...]struct{ name, symbol string }{
	Smaller:        {"SMALLER", "<"},
	Bigger:         {"BIGGER", ">"},
	Equal:          {"EQUAL", "=="},
	Contains:       {"CONTAINS", "in"},
	DoesNotContain: {"CONTAINS_NOT", "not in"},
}

// ParseComparator resolves a comparator by name or symbol.
func ParseComparator(s string) (Comparator, error) {
	for c, n := range comparatorNames {
		if s == n.name || s == n.symbol {
			return Comparator(c), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownComparator, s)
}

// Name returns the comparator's identifier.
func (c Comparator) Name() string { return comparatorNames[c].name }

func (c Comparator) String() string { return comparatorNames[c].symbol }

// IsSetComparator reports whether the threshold is a set of values.
func (c Comparator) IsSetComparator() bool { return c == Contains || c == DoesNotContain }

// Compare applies the comparator. Ordered comparators expect numbers; set
// comparators expect threshold to be a []interface{}.
func (c Comparator) Compare(value, threshold interface{}) bool {
	switch c {
	case Smaller:
		return reltree.CompareValues(value, threshold) < 0
	case Bigger:
		return reltree.CompareValues(value, threshold) > 0
	case Equal:
		return reltree.ValuesEqual(value, threshold)
	case Contains:
		return member(value, threshold.([]interface{}))
	case DoesNotContain:
		return !member(value, threshold.([]interface{}))
	}
	return false
}

func member(v interface{}, set []interface{}) bool {
	for _, s := range set {
		if reltree.ValuesEqual(v, s) {
			return true
		}
	}
	return false
}

// FormatSet renders a set threshold as {a, b}.
func FormatSet(set []interface{}) string {
	parts := make([]string, len(set))
	for i, v := range set {
		parts[i] = reltree.FormatValue(v)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
