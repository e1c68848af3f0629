package report

import (
	"bytes"
	"encoding/xml"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/miott/specrun/pkg/engine"
	"github.com/miott/specrun/pkg/spec"
	"github.com/miott/specrun/pkg/timing"
	"github.com/miott/specrun/pkg/verify"
)

func fixtureResults() []*engine.RunResult {
	started := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return []*engine.RunResult{
		{
			Test:     "config-interface",
			RunID:    "f3b1a2c4-0000-4000-8000-000000000001",
			Status:   engine.StatusPassed,
			Started:  started,
			Duration: 2 * time.Second,
			Actions: []*engine.ActionResult{
				{Label: "cli configure @ddmi-9500-2", Kind: spec.KindCLI, ActionID: 1, Status: engine.StatusPassed, Duration: 1200 * time.Millisecond},
				{Label: "cli execute @ddmi-9500-2", Kind: spec.KindCLI, ActionID: 2, Status: engine.StatusPassed, Duration: 800 * time.Millisecond},
			},
			Timing: []timing.Record{
				{Storage: "intf-timing.csv", Elapsed: 1250 * time.Millisecond, Precision: 2},
			},
		},
		{
			Test:     "bgp-convergence",
			RunID:    "f3b1a2c4-0000-4000-8000-000000000002",
			Status:   engine.StatusFailed,
			Started:  started.Add(3 * time.Second),
			Duration: 1 * time.Second,
			Actions: []*engine.ActionResult{
				{
					Label:    "yang get @dev1",
					Kind:     spec.KindYang,
					ActionID: 1,
					Status:   engine.StatusFailed,
					Message:  "operational state mismatch",
					Duration: time.Second,
					Diff: []verify.DiffLine{
						{Field: "/interfaces/interface/state/mtu", Expected: ">= 1500", Actual: "1400"},
					},
				},
			},
			Warnings: []string{`timestamp end "bgp-timing.csv": end mark for "bgp-timing.csv" has no prior start`},
		},
	}
}

func TestRenderMarkdown(t *testing.T) {
	g := &Generator{Results: fixtureResults()}

	var buf bytes.Buffer
	if err := g.RenderMarkdown(&buf); err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}

	gold := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"))
	gold.Assert(t, "markdown", buf.Bytes())
}

func TestRenderJUnit(t *testing.T) {
	g := &Generator{Results: fixtureResults()}

	data, err := g.renderJUnit()
	if err != nil {
		t.Fatalf("renderJUnit: %v", err)
	}

	var suites junitTestSuites
	if err := xml.Unmarshal(data, &suites); err != nil {
		t.Fatalf("unmarshal produced XML: %v", err)
	}
	if len(suites.Suites) != 2 {
		t.Fatalf("suites = %d", len(suites.Suites))
	}

	pass := suites.Suites[0]
	if pass.Name != "config-interface" || pass.Tests != 2 || pass.Failures != 0 {
		t.Errorf("pass suite = %+v", pass)
	}

	fail := suites.Suites[1]
	if fail.Tests != 1 || fail.Failures != 1 {
		t.Errorf("fail suite = %+v", fail)
	}
	if fail.Cases[0].Failure == nil || fail.Cases[0].Failure.Message != "operational state mismatch" {
		t.Errorf("failure case = %+v", fail.Cases[0])
	}
	if fail.Cases[0].Failure != nil && fail.Cases[0].Failure.Type != "yang" {
		t.Errorf("failure type = %q", fail.Cases[0].Failure.Type)
	}
}

func TestExitCode(t *testing.T) {
	results := fixtureResults()

	if code := ExitCode(results[:1]); code != 0 {
		t.Errorf("all-pass exit = %d", code)
	}
	if code := ExitCode(results); code != 1 {
		t.Errorf("failure exit = %d", code)
	}

	errored := &engine.RunResult{Test: "x", Status: engine.StatusError}
	if code := ExitCode(append(results, errored)); code != 2 {
		t.Errorf("infra exit = %d", code)
	}
}
