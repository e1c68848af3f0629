// Package verify compares action output against expected results from the
// data dictionary. Every comparison yields a Verdict; verification mismatch
// is a result, never an error that propagates past this package.
package verify

import (
	"fmt"
	"strings"
)

// Verdict is the outcome of one verification.
type Verdict struct {
	Passed  bool
	Message string
	Diff    []DiffLine
}

// DiffLine is one expected/actual discrepancy.
type DiffLine struct {
	Field    string // node path, field name, or "" for whole-output compares
	Expected string
	Actual   string
}

// Passed returns the success verdict.
func passed() Verdict {
	return Verdict{Passed: true}
}

// failed builds a failure verdict with a formatted message.
func failed(format string, args ...interface{}) Verdict {
	return Verdict{Message: fmt.Sprintf(format, args...)}
}

// String renders the verdict for logs and reports.
func (v Verdict) String() string {
	if v.Passed {
		return "passed"
	}
	var b strings.Builder
	b.WriteString(v.Message)
	for _, d := range v.Diff {
		b.WriteString("\n  ")
		if d.Field != "" {
			b.WriteString(d.Field)
			b.WriteString(": ")
		}
		fmt.Fprintf(&b, "expected %q, got %q", d.Expected, d.Actual)
	}
	return b.String()
}
