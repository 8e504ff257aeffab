package relation

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// FormatSummary renders one markdown row per relation: name, types, tuple
// count and whether the join index is maintained.
func FormatSummary(s *Store) string {
	if s == nil || s.Len() == 0 {
		return "_No relations_"
	}

	tableString := &strings.Builder{}
	alignment := []tw.Align{tw.AlignNone, tw.AlignNone, tw.AlignRight, tw.AlignNone}
	table := tablewriter.NewTable(tableString,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header([]string{"Relation", "Types", "Tuples", "Indexed"})

	for _, r := range s.Relations() {
		types := make([]string, len(r.Types()))
		for i, t := range r.Types() {
			types[i] = string(t)
		}
		table.Append([]string{
			r.Name(),
			strings.Join(types, ", "),
			fmt.Sprintf("%d", r.Size()),
			fmt.Sprintf("%t", r.Indexed()),
		})
	}
	table.Render()
	tableString.WriteString(fmt.Sprintf("\n_%d relations, %d tuples_\n", s.Len(), s.TupleCount()))
	return tableString.String()
}
