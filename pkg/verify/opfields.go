package verify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/miott/specrun/pkg/spec"
)

// comparisonOps are the operators an opfield may apply to a reply value,
// besides range.
var comparisonOps = map[string]bool{
	"==": true, "!=": true, ">=": true, "<=": true, ">": true, "<": true,
}

// OpFields matches expected operational-state fields against parsed reply
// nodes. A field matches the first unconsumed node with the same path and
// local name; its value check is then applied. Selected fields that match no
// node fail as missing values.
func OpFields(nodes []ReplyNode, fields []spec.OpField) Verdict {
	if len(fields) == 0 {
		return failed("no expected fields to compare rpc-reply to")
	}

	pending := make([]*spec.OpField, 0, len(fields))
	for i := range fields {
		f := &fields[i]
		if f.IsSelected() {
			pending = append(pending, f)
		}
	}

	v := Verdict{Passed: true}
	for _, node := range nodes {
		for i, f := range pending {
			if f.XPath != node.Path || f.Name != node.Name {
				continue
			}
			if ok, detail := checkField(node.Value, f); !ok {
				v.Passed = false
				if v.Message == "" {
					v.Message = "operational state mismatch"
				}
				v.Diff = append(v.Diff, DiffLine{
					Field:    f.XPath,
					Expected: detail,
					Actual:   node.Value,
				})
			}
			pending = append(pending[:i], pending[i+1:]...)
			break
		}
	}

	if len(pending) > 0 {
		v.Passed = false
		if v.Message == "" {
			v.Message = "missing value(s) in rpc-reply"
		}
		for _, f := range pending {
			v.Diff = append(v.Diff, DiffLine{Field: f.XPath, Expected: f.Value.String(), Actual: "missing"})
		}
	}
	return v
}

// checkField applies one field's operator to a reply value. The failure
// detail describes what was expected, e.g. ">= 1500".
func checkField(value string, f *spec.OpField) (bool, string) {
	op := f.Operator()
	if op == "range" {
		return checkRange(value, f.Value.String())
	}
	if !comparisonOps[op] {
		return false, fmt.Sprintf("unknown operator %q", op)
	}

	detail := f.Value.String()
	if op != "==" {
		detail = op + " " + f.Value.String()
	}

	actualNum, actualOK := parseNumber(value)
	expectNum, expectOK := parseNumber(f.Value.String())

	// A numeric expectation never matches a non-numeric reply, and vice
	// versa.
	if actualOK != expectOK {
		return false, detail
	}

	env := map[string]interface{}{}
	if actualOK {
		env["value"] = actualNum
		env["expect"] = expectNum
	} else {
		env["value"] = value
		env["expect"] = f.Value.String()
	}

	program, err := expr.Compile("value "+op+" expect", expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Sprintf("operator %q: %v", op, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Sprintf("operator %q: %v", op, err)
	}
	return out.(bool), detail
}

// checkRange accepts "lo,hi", "lo hi", and "lo-hi" range spellings.
func checkRange(value, bounds string) (bool, string) {
	detail := "in range " + bounds

	val, ok := parseNumber(value)
	if !ok {
		return false, detail
	}

	var parts []string
	switch {
	case strings.Contains(bounds, ","):
		parts = strings.SplitN(bounds, ",", 2)
	case len(strings.Fields(bounds)) == 2:
		parts = strings.Fields(bounds)
	case strings.Count(bounds, "-") == 1:
		parts = strings.SplitN(bounds, "-", 2)
	default:
		return false, fmt.Sprintf("invalid range %q", bounds)
	}

	lo, okLo := parseNumber(strings.TrimSpace(parts[0]))
	hi, okHi := parseNumber(strings.TrimSpace(parts[1]))
	if !okLo || !okHi {
		return false, fmt.Sprintf("invalid range %q", bounds)
	}

	env := map[string]interface{}{"value": val, "lo": lo, "hi": hi}
	program, err := expr.Compile("value >= lo && value <= hi", expr.Env(env), expr.AsBool())
	if err != nil {
		return false, detail
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, detail
	}
	return out.(bool), detail
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}
