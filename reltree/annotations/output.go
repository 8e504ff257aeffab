package annotations

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

// OutputFormatter formats events for human-readable display.
type OutputFormatter struct {
	useColor bool
	writer   io.Writer
}

// NewOutputFormatter creates a formatter with color support detection.
func NewOutputFormatter(w io.Writer) *OutputFormatter {
	if w == nil {
		w = os.Stderr
	}

	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isTerminal(f.Fd()) && !color.NoColor
	}

	return &OutputFormatter{useColor: useColor, writer: w}
}

// Handle prints events as they occur.
func (f *OutputFormatter) Handle(event Event) {
	output := f.Format(event)
	if output != "" {
		fmt.Fprintln(f.writer, output)
	}
}

// Format converts an event to a human-readable string.
func (f *OutputFormatter) Format(event Event) string {
	latency := f.formatLatency(event.Latency)
	d := event.Data

	switch event.Name {
	case TreeBuildBegin:
		return fmt.Sprintf("%s %s Growing tree for %s from %s",
			latency,
			f.colorize("===", color.FgYellow),
			str(d, "target"),
			f.colorizeCount("examples", num(d, "examples")))

	case TreeBuildCompleted:
		return fmt.Sprintf("%s %s Tree done with %s and %s, depth %d",
			latency,
			f.colorize("===", color.FgGreen),
			f.colorizeCount("nodes", num(d, "nodes")),
			f.colorizeCount("leaves", num(d, "leaves")),
			num(d, "depth"))

	case NodeBegin:
		return fmt.Sprintf("%s %s Node %s at depth %d, weight %.4g",
			latency,
			f.colorize("→", color.FgBlue),
			str(d, "node"),
			num(d, "depth"),
			flt(d, "weight"))

	case NodeLeaf:
		return fmt.Sprintf("%s Leaf %s (%s): %s",
			latency,
			str(d, "node"),
			str(d, "reason"),
			str(d, "prediction"))

	case NodeSplit:
		return fmt.Sprintf("%s Split %s on %s, score %.6g",
			latency,
			str(d, "node"),
			f.colorize(str(d, "test"), color.FgCyan),
			flt(d, "score"))

	case CandidatesCounted:
		return fmt.Sprintf("%s Node %s: %s available, evaluating %d",
			latency,
			str(d, "node"),
			f.colorizeCount("candidates", num(d, "total")),
			num(d, "sampled"))

	case CandidatesEvaluated:
		return fmt.Sprintf("%s Node %s: evaluated %s",
			latency,
			str(d, "node"),
			f.colorizeCount("candidates", num(d, "evaluated")))

	case MemoStats:
		hits, misses := num(d, "hits"), num(d, "misses")
		rate := 0.0
		if hits+misses > 0 {
			rate = float64(hits) / float64(hits+misses) * 100
		}
		return fmt.Sprintf("%s Memo: %d hits, %d misses (%.1f%%), %s",
			latency, hits, misses, rate, f.colorizeCount("entries", num(d, "size")))

	case FactsLoaded:
		return fmt.Sprintf("%s Loaded %s into %s from %s",
			latency,
			f.colorizeCount("facts", num(d, "facts")),
			f.colorizeCount("relations", num(d, "relations")),
			str(d, "source"))

	case RelationIndexed:
		return fmt.Sprintf("%s Indexed %s with %s",
			latency, str(d, "relation"), f.colorizeCount("tuples", num(d, "tuples")))

	case ForestTreeBuilt:
		return fmt.Sprintf("%s Forest tree %d built with %s",
			latency, num(d, "tree"), f.colorizeCount("nodes", num(d, "nodes")))

	case BoostingStage:
		return fmt.Sprintf("%s Boosting stage %d fitted %s",
			latency, num(d, "stage"), f.colorizeCount("trees", num(d, "trees")))
	}

	if strings.HasPrefix(event.Name, "error/") {
		return fmt.Sprintf("%s %s %s: %v",
			latency, f.colorize("✗", color.FgRed), event.Name, d["error"])
	}
	return fmt.Sprintf("%s %s %v", latency, event.Name, d)
}

// formatLatency formats a duration as [XXXms] or [XXXµs] with color coding.
func (f *OutputFormatter) formatLatency(d time.Duration) string {
	if d < time.Millisecond {
		s := fmt.Sprintf("[%dµs]", d.Microseconds())
		if !f.useColor {
			return s
		}
		return color.GreenString(s)
	}

	ms := float64(d.Microseconds()) / 1000.0
	s := fmt.Sprintf("[%.1fms]", ms)
	if !f.useColor {
		return s
	}

	switch {
	case ms < 50:
		return color.GreenString(s)
	case ms < 200:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

// colorizeCount formats a count with a label, using color based on the label type.
func (f *OutputFormatter) colorizeCount(label string, count int) string {
	text := fmt.Sprintf("%d %s", count, label)
	if !f.useColor {
		return text
	}

	switch label {
	case "nodes", "leaves", "trees":
		return color.CyanString(text)
	case "candidates":
		return color.MagentaString(text)
	case "facts", "tuples", "examples":
		return color.BlueString(text)
	default:
		return text
	}
}

// colorize applies color if enabled.
func (f *OutputFormatter) colorize(text string, attrs ...color.Attribute) string {
	if !f.useColor {
		return text
	}
	return color.New(attrs...).Sprint(text)
}

func str(d map[string]interface{}, key string) string {
	if v, ok := d[key]; ok {
		return fmt.Sprint(v)
	}
	return "?"
}

func num(d map[string]interface{}, key string) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func flt(d map[string]interface{}, key string) float64 {
	switch v := d[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// ConsoleHandler creates a handler that prints formatted events to stderr.
func ConsoleHandler() Handler {
	return NewOutputFormatter(os.Stderr).Handle
}

// isTerminal checks if the file descriptor is stdout or stderr.
func isTerminal(fd uintptr) bool {
	return fd == uintptr(1) || fd == uintptr(2)
}
