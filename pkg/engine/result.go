package engine

import (
	"time"

	"github.com/miott/specrun/pkg/spec"
	"github.com/miott/specrun/pkg/timing"
	"github.com/miott/specrun/pkg/verify"
)

// Status is the terminal state of an action or a whole run.
type Status string

const (
	StatusPassed  Status = "PASS"
	StatusFailed  Status = "FAIL"
	StatusError   Status = "ERROR"
	StatusSkipped Status = "SKIP"
)

// ActionResult records one executed leaf action. Failed means verification
// or templating rejected the action; Error means the adapter could not
// complete the exchange at all.
type ActionResult struct {
	Label    string
	Kind     spec.ActionKind
	Device   string
	ActionID int
	Position int

	Status   Status
	Message  string
	Output   string
	Diff     []verify.DiffLine
	Duration time.Duration
}

// RunResult is the outcome of executing one built tree.
type RunResult struct {
	Test     string
	RunID    string
	Status   Status
	Started  time.Time
	Duration time.Duration

	Actions  []*ActionResult
	Timing   []timing.Record
	Warnings []string
}

// Passed reports whether every executed action passed.
func (r *RunResult) Passed() bool {
	return r.Status == StatusPassed
}

// Count returns how many actions finished with the given status.
func (r *RunResult) Count(s Status) int {
	n := 0
	for _, a := range r.Actions {
		if a.Status == s {
			n++
		}
	}
	return n
}

// aggregate derives the run status from the per-action results: any adapter
// error dominates, then any verification failure, then pass.
func (r *RunResult) aggregate() {
	r.Status = StatusPassed
	for _, a := range r.Actions {
		switch a.Status {
		case StatusError:
			r.Status = StatusError
			return
		case StatusFailed:
			r.Status = StatusFailed
		}
	}
}
