package tree

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wbrown/janus-reltree/reltree"
	"github.com/wbrown/janus-reltree/reltree/aggregate"
	"github.com/wbrown/janus-reltree/reltree/binding"
	"github.com/wbrown/janus-reltree/reltree/feature"
	"github.com/wbrown/janus-reltree/reltree/join"
	"github.com/wbrown/janus-reltree/reltree/relation"
	"github.com/wbrown/janus-reltree/reltree/stats"
)

// ErrMalformedModel is returned when a stored tree cannot be decoded.
var ErrMalformedModel = errors.New("malformed model")

// Values are written with reltree.FormatValue and read back with the
// declared type, so infinite thresholds survive the round trip.

type varRecord struct {
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Value *string `json:"value,omitempty"`
}

type atomRecord struct {
	Relation string   `json:"relation"`
	Args     []string `json:"args"`
}

type testRecord struct {
	Chain       []atomRecord `json:"chain"`
	Aggregators []string     `json:"aggregators"`
	Output      string       `json:"output"`
	Comparator  string       `json:"comparator"`
	Threshold   []string     `json:"threshold"`
	Variables   bool         `json:"variables,omitempty"`
	Vars        []varRecord  `json:"vars"`
}

type nodeRecord struct {
	Label    string        `json:"label"`
	Depth    int           `json:"depth"`
	Stats    stats.Record  `json:"stats"`
	Test     *testRecord   `json:"test,omitempty"`
	Children []*nodeRecord `json:"children,omitempty"`
}

type treeRecord struct {
	Target         string      `json:"target"`
	TargetVars     []varRecord `json:"target_vars"`
	Heuristic      string      `json:"heuristic"`
	IgnoreCritical bool        `json:"ignore_critical,omitempty"`
	Root           *nodeRecord `json:"root"`
}

// MarshalJSON encodes the tree. Relations are stored by name.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.record())
}

func (t *Tree) record() treeRecord {
	return treeRecord{
		Target:         t.Target,
		TargetVars:     encodeVars(t.TargetVars),
		Heuristic:      t.Heuristic.String(),
		IgnoreCritical: t.IgnoreCritical,
		Root:           encodeNode(t.Root),
	}
}

func encodeVars(vs []feature.Var) []varRecord {
	out := make([]varRecord, len(vs))
	for i, v := range vs {
		out[i] = varRecord{Name: v.Name, Type: string(v.Type)}
		if v.Value != nil {
			s := reltree.FormatValue(v.Value)
			out[i].Value = &s
		}
	}
	return out
}

func encodeNode(n *Node) *nodeRecord {
	r := &nodeRecord{Label: n.Label, Depth: n.Depth, Stats: stats.Encode(n.Stats)}
	if n.Test != nil {
		t := n.Test
		tr := &testRecord{
			Output:     string(t.Aggregators.Output),
			Comparator: t.Comparator.Name(),
			Variables:  t.Variables,
			Vars:       encodeVars(t.Vars),
		}
		for _, a := range t.Chain {
			tr.Chain = append(tr.Chain, atomRecord{Relation: a.Relation.Name(), Args: a.Args})
		}
		for _, a := range t.Aggregators.Aggregators {
			tr.Aggregators = append(tr.Aggregators, a.Name())
		}
		if set, ok := t.Threshold.([]interface{}); ok {
			tr.Threshold = make([]string, len(set))
			for i, v := range set {
				tr.Threshold[i] = reltree.FormatValue(v)
			}
		} else {
			tr.Threshold = []string{reltree.FormatValue(t.Threshold)}
		}
		r.Test = tr
	}
	for _, c := range n.Children {
		r.Children = append(r.Children, encodeNode(c))
	}
	return r
}

// Decode reads a tree written by MarshalJSON, resolving its relations in
// store.
func Decode(data []byte, store *relation.Store) (*Tree, error) {
	var r treeRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedModel, err)
	}
	if r.Root == nil {
		return nil, fmt.Errorf("%w: no root", ErrMalformedModel)
	}
	h, err := stats.ParseHeuristic(r.Heuristic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedModel, err)
	}
	targets, err := decodeVars(r.TargetVars)
	if err != nil {
		return nil, err
	}
	root, err := decodeNode(r.Root, nil, store)
	if err != nil {
		return nil, err
	}
	return &Tree{
		Target:         r.Target,
		TargetVars:     targets,
		Kind:           root.Stats.Kind(),
		Heuristic:      h,
		IgnoreCritical: r.IgnoreCritical,
		Root:           root,
	}, nil
}

func decodeVars(rs []varRecord) ([]feature.Var, error) {
	out := make([]feature.Var, len(rs))
	for i, r := range rs {
		out[i] = feature.Var{Name: r.Name, Type: reltree.Type(r.Type)}
		if _, err := binding.KindOf(r.Name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedModel, err)
		}
		if r.Value != nil {
			v, err := reltree.ParseValue(*r.Value, out[i].Type)
			if err != nil {
				return nil, fmt.Errorf("%w: variable %s: %v", ErrMalformedModel, r.Name, err)
			}
			out[i].Value = v
		}
	}
	return out, nil
}

func decodeNode(r *nodeRecord, parent *Node, store *relation.Store) (*Node, error) {
	s, err := stats.Decode(r.Stats)
	if err != nil {
		return nil, fmt.Errorf("%w: node %s: %v", ErrMalformedModel, r.Label, err)
	}
	n := &Node{Label: r.Label, Depth: r.Depth, Stats: s, Parent: parent}
	if r.Test == nil {
		if len(r.Children) != 0 {
			return nil, fmt.Errorf("%w: leaf %s has children", ErrMalformedModel, r.Label)
		}
		return n, nil
	}
	if len(r.Children) != 2 {
		return nil, fmt.Errorf("%w: node %s has %d children", ErrMalformedModel, r.Label, len(r.Children))
	}
	if n.Test, err = decodeTest(r.Test, store); err != nil {
		return nil, fmt.Errorf("node %s: %w", r.Label, err)
	}
	for _, c := range r.Children {
		child, err := decodeNode(c, n, store)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
	return n, nil
}

func decodeTest(r *testRecord, store *relation.Store) (*Test, error) {
	t := &Test{Variables: r.Variables}
	for _, a := range r.Chain {
		rel, ok := store.Relation(a.Relation)
		if !ok {
			return nil, fmt.Errorf("%w: %s", relation.ErrUnknownRelation, a.Relation)
		}
		if len(a.Args) != rel.Arity() {
			return nil, fmt.Errorf("%w: %s has %d arguments", relation.ErrArity, a.Relation, len(a.Args))
		}
		t.Chain = append(t.Chain, join.NewAtom(rel, a.Args...))
	}
	if len(r.Aggregators) != len(t.Chain) {
		return nil, fmt.Errorf("%w: %d aggregators for %d atoms", ErrMalformedModel, len(r.Aggregators), len(t.Chain))
	}
	t.Aggregators.Output = reltree.Type(r.Output)
	for _, name := range r.Aggregators {
		a, err := aggregate.Parse(name)
		if err != nil {
			return nil, err
		}
		t.Aggregators.Aggregators = append(t.Aggregators.Aggregators, a)
	}
	c, err := aggregate.ParseComparator(r.Comparator)
	if err != nil {
		return nil, err
	}
	t.Comparator = c
	if t.Vars, err = decodeVars(r.Vars); err != nil {
		return nil, err
	}

	if !c.IsSetComparator() {
		if len(r.Threshold) != 1 {
			return nil, fmt.Errorf("%w: %s needs one threshold", ErrMalformedModel, c.Name())
		}
		v, err := reltree.ParseValue(r.Threshold[0], reltree.Numeric)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedModel, err)
		}
		t.Threshold = v
		return t, nil
	}
	set := make([]interface{}, len(r.Threshold))
	for i, s := range r.Threshold {
		if t.Variables {
			set[i] = s
			continue
		}
		v, err := reltree.ParseValue(s, t.Aggregators.Output)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedModel, err)
		}
		set[i] = v
	}
	t.Threshold = set
	return t, nil
}
