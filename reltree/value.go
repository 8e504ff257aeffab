package reltree

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Values stored in relations and produced by aggregators are one of:
//
//	float64  numeric arguments and counts
//	string   nominal arguments and user-domain identifiers
//	Vector   multi-target labels
//	Tuple    composite values (several fresh variables at the last atom)

// Vector is a multi-target value.
type Vector []float64

func (v Vector) String() string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = FormatValue(x)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Tuple is an ordered sequence of values: a stored fact or a composite
// aggregator input.
type Tuple []interface{}

func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, x := range t {
		parts[i] = FormatValue(x)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ParseValue converts a raw textual argument to the runtime representation
// of the declared type.
func ParseValue(raw string, t Type) (interface{}, error) {
	raw = unquote(strings.TrimSpace(raw))
	switch {
	case t.IsNumeric():
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not numeric", raw)
		}
		return f, nil
	case t.IsMultiTarget():
		return parseVector(raw)
	default:
		if raw == "" {
			return nil, fmt.Errorf("empty value for type %s", t)
		}
		return raw, nil
	}
}

// InferValue coerces a raw argument without a declared type: bracketed
// values become vectors, parseable numbers become float64, everything else
// stays a string.
func InferValue(raw string) (interface{}, Type) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") {
		if v, err := parseVector(raw); err == nil {
			return v, MultiTarget + "[numeric]"
		}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f, Numeric
	}
	return unquote(raw), Nominal
}

func parseVector(raw string) (Vector, error) {
	if !strings.HasPrefix(raw, "[") || !strings.HasSuffix(raw, "]") {
		return nil, fmt.Errorf("value %q is not a bracketed vector", raw)
	}
	body := strings.TrimSpace(raw[1 : len(raw)-1])
	if body == "" {
		return Vector{}, nil
	}
	parts := strings.Split(body, ",")
	v := make(Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("vector component %q is not numeric", p)
		}
		v[i] = f
	}
	return v, nil
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}

// FormatValue renders a value the way it is written in fact files.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "nil"
	case float64:
		switch {
		case math.IsInf(val, 1):
			return "inf"
		case math.IsInf(val, -1):
			return "-inf"
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case string:
		return val
	case Vector:
		return val.String()
	case Tuple:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// AsFloat returns the numeric value of v.
func AsFloat(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}
