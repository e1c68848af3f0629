package data

import (
	"regexp"
	"strings"

	"github.com/miott/specrun/pkg/util"
)

// Placeholder spellings. The standard form is {{name}}; replay-generated
// specs carry a second spelling, _-name-_, substituted in a second pass over
// the already-expanded text. Substituted values are never re-expanded.
var (
	standardPlaceholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_-]*)\s*\}\}`)
	replayPlaceholder   = regexp.MustCompile(`_-\s*([A-Za-z_][A-Za-z0-9_-]*)\s*-_`)
)

// Substitute expands every placeholder in text from vars. A placeholder whose
// name is not bound fails with the undefined-variable error.
func Substitute(text string, vars map[string]string) (string, error) {
	return SubstituteID(text, vars, "")
}

// SubstituteID is Substitute with the owning data id attached to any error.
func SubstituteID(text string, vars map[string]string, dataID string) (string, error) {
	if text == "" || !strings.ContainsAny(text, "{_") {
		return text, nil
	}

	var missing string
	expand := func(re *regexp.Regexp, s string) string {
		return re.ReplaceAllStringFunc(s, func(m string) string {
			name := re.FindStringSubmatch(m)[1]
			val, ok := vars[name]
			if !ok {
				if missing == "" {
					missing = name
				}
				return m
			}
			return val
		})
	}

	out := expand(standardPlaceholder, text)
	out = expand(replayPlaceholder, out)
	if missing != "" {
		return "", &util.VariableError{Name: missing, DataID: dataID}
	}
	return out, nil
}

// MergeVariables layers overrides on top of defaults without mutating either.
// Used to combine a dictionary's variables block with CLI-provided bindings.
func MergeVariables(defaults, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
