package engine

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/miott/specrun/pkg/cli"
	"github.com/miott/specrun/pkg/graph"
)

// ProgressReporter receives lifecycle callbacks during a run.
type ProgressReporter interface {
	RunStart(tree *graph.Tree, total int)
	ActionStart(node *graph.Node, index, total int)
	ActionEnd(result *ActionResult, index, total int)
	RunEnd(result *RunResult)
}

// NopProgress discards all callbacks. It is the engine default.
type NopProgress struct{}

func (NopProgress) RunStart(*graph.Tree, int)         {}
func (NopProgress) ActionStart(*graph.Node, int, int) {}
func (NopProgress) ActionEnd(*ActionResult, int, int) {}
func (NopProgress) RunEnd(*RunResult)                 {}

// ConsoleProgress is an append-only terminal progress reporter. It never
// uses ANSI cursor rewriting, so output is safe for pipes, CI, and
// scrollback buffers.
type ConsoleProgress struct {
	W       io.Writer
	Verbose bool

	dotWidth int
}

// NewConsoleProgress creates a ConsoleProgress writing to stdout.
func NewConsoleProgress(verbose bool) *ConsoleProgress {
	return &ConsoleProgress{
		W:       os.Stdout,
		Verbose: verbose,
	}
}

func (p *ConsoleProgress) RunStart(tree *graph.Tree, total int) {
	maxLabel := 0
	for _, n := range tree.Actions() {
		if len(n.Label) > maxLabel {
			maxLabel = len(n.Label)
		}
	}
	p.dotWidth = maxLabel + 6

	fmt.Fprintf(p.W, "\nspecrun: %s, %d actions on devices %v\n\n",
		tree.Unit.Spec.Name, total, tree.Unit.Spec.Devices)
}

func (p *ConsoleProgress) ActionStart(node *graph.Node, index, total int) {
	if p.Verbose {
		fmt.Fprintf(p.W, "  [%d/%d]  %s\n", index, total, node.Label)
	}
}

func (p *ConsoleProgress) ActionEnd(result *ActionResult, index, total int) {
	tag := fmt.Sprintf("[%d/%d]", index, total)
	padded := cli.DotPad(result.Label, p.dotWidth)

	switch result.Status {
	case StatusPassed:
		fmt.Fprintf(p.W, "  %-7s %s %s  (%s)\n", tag, padded, cli.Green("PASS"), formatDuration(result.Duration))
	case StatusFailed:
		fmt.Fprintf(p.W, "  %-7s %s %s  (%s)\n", tag, padded, cli.Red("FAIL"), formatDuration(result.Duration))
	case StatusError:
		fmt.Fprintf(p.W, "  %-7s %s %s  (%s)\n", tag, padded, cli.Red("ERROR"), formatDuration(result.Duration))
	case StatusSkipped:
		fmt.Fprintf(p.W, "  %-7s %s %s\n", tag, padded, cli.Yellow("SKIP"))
	}

	if result.Status == StatusFailed || result.Status == StatusError {
		if result.Message != "" {
			fmt.Fprintf(p.W, "          %s\n", cli.Dim(result.Message))
		}
		for _, d := range result.Diff {
			fmt.Fprintf(p.W, "          %s: expected %q, got %q\n", d.Field, cli.Dim(d.Expected), cli.Dim(d.Actual))
		}
	}
}

func (p *ConsoleProgress) RunEnd(result *RunResult) {
	fmt.Fprintln(p.W)
	for _, w := range result.Warnings {
		fmt.Fprintf(p.W, "  %s %s\n", cli.Yellow("warning:"), w)
	}

	status := cli.Green(string(result.Status))
	if result.Status != StatusPassed {
		status = cli.Red(string(result.Status))
	}
	fmt.Fprintf(p.W, "  %s  %d passed, %d failed, %d errors  (%s)\n",
		status,
		result.Count(StatusPassed), result.Count(StatusFailed), result.Count(StatusError),
		formatDuration(result.Duration))
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}
