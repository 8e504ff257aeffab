package tree

import (
	"fmt"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// Importance selects how much an internal node contributes to the
// ranking of the features its test uses.
type Importance uint8

const (
	// Genie3 scores a node by its variability reduction weighted with the
	// branch frequencies.
	Genie3 Importance = iota
	// Symbolic scores a node by the share of the root weight reaching it.
	Symbolic
)

var importanceNames = [...]string{"GENIE3", "SYMBOLIC"}

func (i Importance) String() string {
	if int(i) < len(importanceNames) {
		return importanceNames[i]
	}
	return fmt.Sprintf("Importance(%d)", uint8(i))
}

// ParseImportance resolves an importance name.
func ParseImportance(s string) (Importance, error) {
	for i, n := range importanceNames {
		if strings.EqualFold(s, n) {
			return Importance(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown ranking %q, allowed: %s", ErrInvalidOptions, s, strings.Join(importanceNames[:], ", "))
}

// Ranking accumulates feature importances. Attributes are atoms written
// with the kind of each argument (relation[X,Y,C]), Relations sum the
// attributes of one relation and Aggregators score aggregator names.
type Ranking struct {
	Attributes  map[string]float64
	Relations   map[string]float64
	Aggregators map[string]float64
}

// NewRanking returns an empty ranking.
func NewRanking() Ranking {
	return Ranking{
		Attributes:  make(map[string]float64),
		Relations:   make(map[string]float64),
		Aggregators: make(map[string]float64),
	}
}

// Add accumulates other scaled by weight.
func (r Ranking) Add(other Ranking, weight float64) {
	for _, pair := range [][2]map[string]float64{
		{r.Attributes, other.Attributes},
		{r.Relations, other.Relations},
		{r.Aggregators, other.Aggregators},
	} {
		for k, v := range pair[1] {
			pair[0][k] += weight * v
		}
	}
}

// Ranking computes the importance of the features the tree tests. A
// node's importance is shared equally between the atoms of its test.
func (t *Tree) Ranking(kind Importance) Ranking {
	r := NewRanking()
	total := t.Root.Stats.Weight()
	t.Root.Walk(func(n *Node) {
		if n.IsLeaf() {
			return
		}
		var importance float64
		switch kind {
		case Genie3:
			importance = t.Heuristic.Variability(n.Stats)
			fs := n.Stats.BranchFrequencies()
			for i, c := range n.Children {
				if i < len(fs) {
					importance -= fs[i] * t.Heuristic.Variability(c.Stats)
				}
			}
		case Symbolic:
			if total > 0 {
				importance = n.Stats.Weight() / total
			}
		}
		importance /= float64(len(n.Test.Chain))
		for i, a := range n.Test.Chain {
			kinds := make([]string, len(a.Args))
			for j, name := range a.Args {
				kinds[j] = name[:1]
			}
			r.Attributes[fmt.Sprintf("%s[%s]", a.Relation.Name(), strings.Join(kinds, ","))] += importance
			r.Relations[a.Relation.Name()] += importance
			r.Aggregators[n.Test.Aggregators.Aggregators[i].Name()] += importance
		}
	})
	return r
}

// FormatRanking renders the three rankings as markdown tables, most
// important first.
func FormatRanking(r Ranking) string {
	var b strings.Builder
	for _, section := range []struct {
		title  string
		scores map[string]float64
	}{
		{"Attributes", r.Attributes},
		{"Relations", r.Relations},
		{"Aggregators", r.Aggregators},
	} {
		fmt.Fprintf(&b, "### %s\n\n", section.title)
		if len(section.scores) == 0 {
			b.WriteString("_No tests_\n\n")
			continue
		}
		table := tablewriter.NewTable(&b,
			tablewriter.WithRenderer(renderer.NewMarkdown()),
			tablewriter.WithAlignment([]tw.Align{tw.AlignNone, tw.AlignRight}),
			tablewriter.WithHeaderAutoFormat(tw.Off),
		)
		table.Header([]string{"Feature", "Importance"})
		for _, k := range sortedByScore(section.scores) {
			table.Append([]string{k, fmt.Sprintf("%.5f", section.scores[k])})
		}
		table.Render()
		b.WriteString("\n")
	}
	return b.String()
}

func sortedByScore(scores map[string]float64) []string {
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if scores[keys[i]] != scores[keys[j]] {
			return scores[keys[i]] > scores[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
