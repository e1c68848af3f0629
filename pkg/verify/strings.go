package verify

import "strings"

// Strings compares whole output against an expected string, exact after
// trimming surrounding whitespace. Used for cli execute actions.
func Strings(actual, expected string) Verdict {
	a := strings.TrimSpace(actual)
	e := strings.TrimSpace(expected)
	if a == e {
		return passed()
	}
	v := failed("output mismatch")
	v.Diff = append(v.Diff, DiffLine{Expected: e, Actual: a})
	return v
}
