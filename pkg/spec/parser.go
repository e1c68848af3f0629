package spec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// knownKinds is the set of recognized action kinds. Parsing is strict: an
// unrecognized kind is an error rather than a skipped no-op, so a typo in a
// spec cannot silently drop a verification step.
var knownKinds = map[ActionKind]bool{
	KindCLI:       true,
	KindYang:      true,
	KindSleep:     true,
	KindTimestamp: true,
	KindRepeat:    true,
	KindCombine:   true,
	KindParallel:  true,
}

// KnownKind reports whether k names a recognized action kind.
func KnownKind(k ActionKind) bool {
	return knownKinds[k]
}

// specBody is the YAML shape of one test definition.
type specBody struct {
	Source      Source    `yaml:"source"`
	Devices     []string  `yaml:"devices"`
	TestID      int       `yaml:"test_id"`
	Data        *DataDict `yaml:"data"`
	TestActions []Action  `yaml:"test_actions"`
}

// Parse decodes a spec document: a mapping from test name to test body, in
// document order. Duplicate test names are allowed; test_id tells them apart.
func Parse(data []byte, path string) ([]*TestSpec, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("parsing %s: empty document", path)
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parsing %s: top level must map test names to definitions", path)
	}

	var specs []*TestSpec
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		keyNode, valNode := mapping.Content[i], mapping.Content[i+1]

		var body specBody
		if err := valNode.Decode(&body); err != nil {
			return nil, fmt.Errorf("parsing %s test %q: %w", path, keyNode.Value, err)
		}

		ts := &TestSpec{
			Name:    keyNode.Value,
			Source:  body.Source,
			Devices: body.Devices,
			TestID:  body.TestID,
			Actions: body.TestActions,
			Data:    body.Data,
			File:    path,
		}
		if err := checkShape(ts); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		specs = append(specs, ts)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("parsing %s: no tests defined", path)
	}
	return specs, nil
}

// ParseFile reads and parses a spec file.
func ParseFile(path string) ([]*TestSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading spec %s: %w", path, err)
	}
	return Parse(data, path)
}

// ParseDir parses every .yaml file in dir, in name order.
func ParseDir(dir string) ([]*TestSpec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading spec dir %s: %w", dir, err)
	}

	var specs []*TestSpec
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		parsed, err := ParseFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		specs = append(specs, parsed...)
	}
	return specs, nil
}

// checkShape enforces document-level structure. Field requirements per kind
// are the builder's concern; here only unparseable shapes are rejected.
func checkShape(ts *TestSpec) error {
	for i := range ts.Actions {
		a := &ts.Actions[i]
		if a.Kind == "" {
			return fmt.Errorf("test %q action %d: missing action kind", ts.Name, i)
		}
		if !KnownKind(a.Kind) {
			return fmt.Errorf("test %q action %d: unknown action kind %q", ts.Name, i, a.Kind)
		}
	}
	return nil
}

// FindTest picks the spec matching name from specs. When testID is non-zero
// it disambiguates among same-named tests; a lone match by name wins
// otherwise.
func FindTest(specs []*TestSpec, name string, testID int) (*TestSpec, error) {
	var matched []*TestSpec
	for _, ts := range specs {
		if ts.Name != name {
			continue
		}
		if testID != 0 && ts.TestID != testID {
			continue
		}
		matched = append(matched, ts)
	}
	switch len(matched) {
	case 0:
		if testID != 0 {
			return nil, fmt.Errorf("no test %q with test_id %d", name, testID)
		}
		return nil, fmt.Errorf("no test %q", name)
	case 1:
		return matched[0], nil
	default:
		return nil, fmt.Errorf("test %q is ambiguous (%d definitions); give a test_id", name, len(matched))
	}
}

// FindByID picks the spec with the given test_id. Used for cross-file subset
// references, which carry ids rather than names.
func FindByID(specs []*TestSpec, testID int) (*TestSpec, error) {
	var matched []*TestSpec
	for _, ts := range specs {
		if ts.TestID == testID {
			matched = append(matched, ts)
		}
	}
	switch len(matched) {
	case 0:
		return nil, fmt.Errorf("no test with test_id %d", testID)
	case 1:
		return matched[0], nil
	default:
		return nil, fmt.Errorf("test_id %d is ambiguous (%d definitions)", testID, len(matched))
	}
}
