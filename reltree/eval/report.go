package eval

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

func newTable(w io.Writer, columns int) *tablewriter.Table {
	align := make([]tw.Align, columns)
	for i := range align {
		align[i] = tw.AlignRight
	}
	align[0] = tw.AlignNone
	return tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(align),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
}

func score(v float64) string { return fmt.Sprintf("%.4f", v) }

// WriteReport renders metrics as markdown tables under a heading.
func WriteReport(w io.Writer, title string, m Metrics) {
	fmt.Fprintf(w, "## %s\n\n", title)
	if !m.Classification {
		table := newTable(w, 4)
		table.Header([]string{"Examples", "MSE", "RMSE", "MAE"})
		table.Append([]string{strconv.Itoa(m.Examples), score(m.MSE), score(m.RMSE), score(m.MAE)})
		table.Render()
		fmt.Fprintln(w)
		return
	}

	table := newTable(w, 3)
	table.Header([]string{"Examples", "Accuracy", "Weighted accuracy"})
	table.Append([]string{strconv.Itoa(m.Examples), score(m.Accuracy), score(m.WeightedAccuracy)})
	table.Render()
	fmt.Fprintln(w)

	classes := newTable(w, 4)
	classes.Header([]string{"Class", "Precision", "Recall", "Support"})
	for _, c := range m.Classes {
		classes.Append([]string{c.Class, score(c.Precision), score(c.Recall), strconv.Itoa(c.Support)})
	}
	classes.Render()
	fmt.Fprintln(w)
}

// WriteCrossValidation renders one row per fold followed by the pooled
// metrics.
func WriteCrossValidation(w io.Writer, cv *CrossValidation) {
	fmt.Fprintf(w, "## Cross-validation (%d folds)\n\n", len(cv.Folds))
	if cv.Overall.Classification {
		table := newTable(w, 4)
		table.Header([]string{"Fold", "Examples", "Accuracy", "Weighted accuracy"})
		for i, m := range cv.Folds {
			table.Append([]string{strconv.Itoa(i), strconv.Itoa(m.Examples), score(m.Accuracy), score(m.WeightedAccuracy)})
		}
		table.Render()
	} else {
		table := newTable(w, 5)
		table.Header([]string{"Fold", "Examples", "MSE", "RMSE", "MAE"})
		for i, m := range cv.Folds {
			table.Append([]string{strconv.Itoa(i), strconv.Itoa(m.Examples), score(m.MSE), score(m.RMSE), score(m.MAE)})
		}
		table.Render()
	}
	fmt.Fprintln(w)
	WriteReport(w, "Pooled", cv.Overall)
}
