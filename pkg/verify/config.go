package verify

import (
	"regexp"
	"strings"
)

// Config checks that every expected configuration line is present in the
// device's configure output, after both sides are normalized. Device output
// carries prompts, banners, and timestamps that have no bearing on whether
// the configuration applied; normalization strips them first.
func Config(actual, expected string) Verdict {
	want := NormalizeConfig(expected)
	have := NormalizeConfig(actual)

	counts := make(map[string]int, len(have))
	for _, line := range have {
		counts[line]++
	}

	var missing []string
	for _, line := range want {
		if counts[line] > 0 {
			counts[line]--
			continue
		}
		missing = append(missing, line)
	}

	if len(missing) == 0 {
		return passed()
	}
	v := failed("missing configuration (%d line(s))", len(missing))
	for _, line := range missing {
		v.Diff = append(v.Diff, DiffLine{Field: "config", Expected: line, Actual: "absent"})
	}
	return v
}

// Leading words of maintenance lines that carry no configuration.
var configSkipWords = map[string]bool{
	"enable": true, "config": true, "t": true, "configure": true,
	"end": true, "show": true, "terminal": true, "commit": true,
	"#": true, "!": true, "<rpc": true, "Building": true,
}

// Month and weekday abbreviations opening device timestamp lines.
var timestampLeaders = map[string]bool{
	"mon": true, "tue": true, "wed": true, "thu": true, "fri": true,
	"sat": true, "sun": true, "jan": true, "feb": true, "mar": true,
	"apr": true, "may": true, "jun": true, "jul": true, "aug": true,
	"sep": true, "oct": true, "nov": true, "dec": true,
}

var timeOfDay = regexp.MustCompile(`^(([0-1]?[0-9])|([2][0-3])):([0-5]?[0-9])(:([0-5]?[0-9]))?`)

// NormalizeConfig strips uninteresting CLI from configuration text: comments,
// prompts, pager markers, maintenance commands, and timestamp lines. Interface
// names are canonicalized so "interface GigabitEthernet 1/0/1" and
// "interface GigabitEthernet1/0/1" compare equal.
func NormalizeConfig(cfg string) []string {
	var clean []string

	for _, line := range strings.Split(cfg, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if idx := strings.Index(line, "--More--"); idx >= 0 {
			line = line[idx+8:]
			if strings.TrimSpace(line) == "" {
				continue
			}
		}
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		if strings.HasPrefix(line, "Current configuration") {
			continue
		}
		if strings.HasSuffix(strings.TrimRight(line, " "), "#") {
			continue
		}
		fields := strings.Fields(line)
		if configSkipWords[fields[0]] {
			continue
		}
		if isTimestampLine(line) {
			continue
		}
		line = canonicalizeLine(line)
		if line == "" {
			continue
		}
		clean = append(clean, strings.TrimSpace(line))
	}
	return clean
}

func isTimestampLine(line string) bool {
	if len(line) < 3 || !timestampLeaders[strings.ToLower(line[:3])] {
		return false
	}
	for _, word := range strings.Fields(line) {
		if timeOfDay.MatchString(word) {
			return true
		}
	}
	return false
}

func canonicalizeLine(line string) string {
	fields := strings.Fields(line)
	switch fields[0] {
	case "interface":
		return "interface " + strings.Join(fields[1:], "")
	case "username":
		return strings.Replace(line, "password 0", "password", 1)
	case "exit":
		if len(fields) == 1 {
			return ""
		}
	}
	return line
}
