// Package report renders run results for people and CI: a console summary,
// a Markdown report, and JUnit XML.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/miott/specrun/pkg/cli"
	"github.com/miott/specrun/pkg/engine"
)

// dateTimeFormat is the timestamp format used in reports.
const dateTimeFormat = "2006-01-02 15:04:05"

// Generator produces reports from run results.
type Generator struct {
	Results []*engine.RunResult
}

// WriteMarkdown writes a markdown report to the given path.
func (g *Generator) WriteMarkdown(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return g.RenderMarkdown(f)
}

// RenderMarkdown writes the markdown report body to w.
func (g *Generator) RenderMarkdown(w io.Writer) error {
	started := time.Now()
	if len(g.Results) > 0 {
		started = g.Results[0].Started
	}
	fmt.Fprintf(w, "# specrun report - %s\n\n", started.Format(dateTimeFormat))

	fmt.Fprintln(w, "| Test | Result | Actions | Duration | Run ID |")
	fmt.Fprintln(w, "|------|--------|---------|----------|--------|")
	for _, r := range g.Results {
		fmt.Fprintf(w, "| %s | %s | %d | %s | %s |\n",
			r.Test, r.Status, len(r.Actions), r.Duration.Round(time.Second), r.RunID)
	}

	wroteHeader := false
	for _, r := range g.Results {
		wroteTest := false
		for _, a := range r.Actions {
			if a.Status != engine.StatusFailed && a.Status != engine.StatusError {
				continue
			}
			if !wroteHeader {
				fmt.Fprintf(w, "\n## Failures\n")
				wroteHeader = true
			}
			if !wroteTest {
				fmt.Fprintf(w, "\n### %s\n\n", r.Test)
				wroteTest = true
			}
			fmt.Fprintf(w, "- %s (action %d): %s\n", a.Label, a.ActionID, a.Message)
			for _, d := range a.Diff {
				fmt.Fprintf(w, "  - %s: expected `%s`, got `%s`\n", d.Field, d.Expected, d.Actual)
			}
		}
	}

	wroteHeader = false
	for _, r := range g.Results {
		for _, warning := range r.Warnings {
			if !wroteHeader {
				fmt.Fprintf(w, "\n## Warnings\n\n")
				wroteHeader = true
			}
			fmt.Fprintf(w, "- %s: %s\n", r.Test, warning)
		}
	}

	wroteHeader = false
	for _, r := range g.Results {
		for _, rec := range r.Timing {
			if !wroteHeader {
				fmt.Fprintf(w, "\n## Timing\n\n")
				fmt.Fprintln(w, "| Test | Storage | Elapsed |")
				fmt.Fprintln(w, "|------|---------|---------|")
				wroteHeader = true
			}
			fmt.Fprintf(w, "| %s | %s | %s |\n", r.Test, rec.Storage, rec.Seconds())
		}
	}
	return nil
}

// Summary prints a final console roll-up across all runs.
func (g *Generator) Summary(w io.Writer) {
	var passed, failed, errored int
	var total time.Duration
	for _, r := range g.Results {
		total += r.Duration
		switch r.Status {
		case engine.StatusPassed:
			passed++
		case engine.StatusError:
			errored++
		default:
			failed++
		}
	}

	fmt.Fprintln(w)
	for _, r := range g.Results {
		status := cli.Green(string(r.Status))
		if r.Status != engine.StatusPassed {
			status = cli.Red(string(r.Status))
		}
		fmt.Fprintf(w, "  %s %s  (%s)\n", cli.DotPad(r.Test, 40), status, r.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(w, "\n  %d passed, %d failed, %d errors in %s\n",
		passed, failed, errored, total.Round(time.Millisecond))
}

// ExitCode maps run results to the process exit code: 0 all passed, 1 test
// failure, 2 infrastructure error.
func ExitCode(results []*engine.RunResult) int {
	code := 0
	for _, r := range results {
		switch r.Status {
		case engine.StatusError:
			return 2
		case engine.StatusFailed:
			code = 1
		}
	}
	return code
}
