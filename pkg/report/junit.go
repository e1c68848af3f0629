package report

import (
	"encoding/xml"
	"os"
	"path/filepath"

	"github.com/miott/specrun/pkg/engine"
)

// WriteJUnit writes a JUnit XML report for CI integration: one testsuite per
// run, one testcase per executed action.
func (g *Generator) WriteJUnit(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := g.renderJUnit()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (g *Generator) renderJUnit() ([]byte, error) {
	suites := junitTestSuites{}

	for _, r := range g.Results {
		suite := junitTestSuite{
			Name: r.Test,
			Time: r.Duration.Seconds(),
		}
		for _, a := range r.Actions {
			suite.Tests++
			tc := junitTestCase{
				Name:      a.Label,
				ClassName: r.Test,
				Time:      a.Duration.Seconds(),
			}
			switch a.Status {
			case engine.StatusFailed:
				suite.Failures++
				tc.Failure = &junitFailure{Message: a.Message, Type: string(a.Kind)}
			case engine.StatusError:
				suite.Errors++
				tc.Error = &junitError{Message: a.Message, Type: string(a.Kind)}
			case engine.StatusSkipped:
				suite.Skipped++
				tc.Skipped = &junitSkipped{Message: a.Message}
			}
			suite.Cases = append(suite.Cases, tc)
		}
		suites.Suites = append(suites.Suites, suite)
	}

	data, err := xml.MarshalIndent(suites, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), data...), nil
}

// JUnit XML types

type junitTestSuites struct {
	XMLName xml.Name         `xml:"testsuites"`
	Suites  []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Errors   int             `xml:"errors,attr"`
	Skipped  int             `xml:"skipped,attr"`
	Time     float64         `xml:"time,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
	Error     *junitError   `xml:"error,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
}

type junitSkipped struct {
	Message string `xml:"message,attr"`
}

type junitError struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
}
