package spec

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleDoc = `
config-interface:
  source:
    pkg: specrun
    class: TestSpec
  devices: [ddmi-9500-2]
  test_id: 1
  data:
    variables:
      intf: g2
      desc: testspec rules!
    1:
      type: string
      content: |-
        int {{intf}}
        description {{desc}}
    2:
      type: string
      returns: "description {{desc}}"
    3: "sho run int g2 | inc description"
    4:
      type: namespace
      content:
        oc-if: "http://openconfig.net/yang/interfaces"
    5:
      type: xpath
      namespace: 4
      nodes:
        - xpath: /oc-if:interfaces/oc-if:interface/oc-if:name
          value: GigabitEthernet2
        - xpath: /oc-if:interfaces/oc-if:interface/oc-if:config/oc-if:description
          value: "{{desc}}"
          op: create
    6:
      type: opfields
      returns:
        - xpath: /interfaces/interface/state/admin-status
          name: admin-status
          value: UP
        - xpath: /interfaces/interface/state/mtu
          name: mtu
          value: 1500
          op: ">="
    7:
      type: reference
      content: 1
      returns: 2
  test_actions:
    - action: timestamp
      action_id: 1
      category: start
      precision: 2
      storage: intf-timing.csv
    - action: cli
      action_id: 2
      banner: "configure description"
      operation: configure
      device: ddmi-9500-2
      content: 1
      returns: null
    - action: sleep
      action_id: 3
      time: 2
    - action: cli
      action_id: 4
      operation: execute
      device: ddmi-9500-2
      content: 3
      returns: 2
    - action: yang
      action_id: 5
      protocol: netconf
      operation: edit-config
      device: ddmi-9500-2
      content: 5
      returns: rpc-ok
    - action: repeat
      action_id: 6
      count: 3
      test_actions: [2, 4]
    - action: timestamp
      action_id: 1
      category: end
      precision: 2
      storage: intf-timing.csv
`

func TestParseDocument(t *testing.T) {
	specs, err := Parse([]byte(sampleDoc), "sample.yaml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("expected 1 test, got %d", len(specs))
	}

	ts := specs[0]
	if ts.Name != "config-interface" {
		t.Errorf("name = %q", ts.Name)
	}
	if ts.TestID != 1 {
		t.Errorf("test_id = %d", ts.TestID)
	}
	if len(ts.Devices) != 1 || ts.Devices[0] != "ddmi-9500-2" {
		t.Errorf("devices = %v", ts.Devices)
	}
	if len(ts.Actions) != 7 {
		t.Fatalf("expected 7 actions, got %d", len(ts.Actions))
	}
	if ts.Source.Class != "TestSpec" {
		t.Errorf("source class = %q", ts.Source.Class)
	}
}

func TestParseActions(t *testing.T) {
	specs, err := Parse([]byte(sampleDoc), "sample.yaml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	actions := specs[0].Actions

	tests := []struct {
		name  string
		check func(t *testing.T)
	}{
		{
			name: "timestamp fields",
			check: func(t *testing.T) {
				a := actions[0]
				if a.Kind != KindTimestamp || a.Category != "start" || a.Precision != 2 {
					t.Errorf("timestamp = %+v", a)
				}
				if a.Storage != "intf-timing.csv" {
					t.Errorf("storage = %q", a.Storage)
				}
			},
		},
		{
			name: "null returns disables verification",
			check: func(t *testing.T) {
				a := actions[1]
				if a.HasReturns() {
					t.Errorf("returns should be unset, got %q", a.Returns)
				}
				if a.Banner != "configure description" {
					t.Errorf("banner = %q", a.Banner)
				}
			},
		},
		{
			name: "sleep time",
			check: func(t *testing.T) {
				if actions[2].Time != 2 {
					t.Errorf("time = %v", actions[2].Time)
				}
			},
		},
		{
			name: "integer returns id normalizes to string",
			check: func(t *testing.T) {
				if actions[3].Returns != DataID("2") {
					t.Errorf("returns = %q", actions[3].Returns)
				}
			},
		},
		{
			name: "rpc-ok sentinel",
			check: func(t *testing.T) {
				if actions[4].Returns != RPCOK {
					t.Errorf("returns = %q", actions[4].Returns)
				}
			},
		},
		{
			name: "repeat subset",
			check: func(t *testing.T) {
				a := actions[5]
				if a.Count != 3 || len(a.Subset) != 2 || a.Subset[0] != 2 || a.Subset[1] != 4 {
					t.Errorf("repeat = %+v", a)
				}
			},
		},
		{
			name: "duplicate action ids parse",
			check: func(t *testing.T) {
				if actions[0].ActionID != 1 || actions[6].ActionID != 1 {
					t.Errorf("ids = %d, %d", actions[0].ActionID, actions[6].ActionID)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.check)
	}
}

func TestParseDataDict(t *testing.T) {
	specs, err := Parse([]byte(sampleDoc), "sample.yaml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	data := specs[0].Data

	if data.Variables["intf"] != "g2" {
		t.Errorf("variables = %v", data.Variables)
	}

	tests := []struct {
		name  string
		check func(t *testing.T)
	}{
		{
			name: "string entry with content",
			check: func(t *testing.T) {
				e := data.Entry("1")
				if e == nil || e.Type != TypeString {
					t.Fatalf("entry 1 = %+v", e)
				}
				if !strings.Contains(e.Content, "int {{intf}}") {
					t.Errorf("content = %q", e.Content)
				}
				if e.Returns != "" {
					t.Errorf("returns should be empty, got %q", e.Returns)
				}
			},
		},
		{
			name: "scalar entry serves both sources",
			check: func(t *testing.T) {
				e := data.Entry("3")
				if e == nil || e.Content != e.Returns || e.Content == "" {
					t.Fatalf("entry 3 = %+v", e)
				}
			},
		},
		{
			name: "namespace entry",
			check: func(t *testing.T) {
				e := data.Entry("4")
				if e == nil || e.Type != TypeNamespace {
					t.Fatalf("entry 4 = %+v", e)
				}
				if e.Prefixes["oc-if"] != "http://openconfig.net/yang/interfaces" {
					t.Errorf("prefixes = %v", e.Prefixes)
				}
			},
		},
		{
			name: "xpath entry with namespace id and node ops",
			check: func(t *testing.T) {
				e := data.Entry("5")
				if e == nil || e.Type != TypeXPath {
					t.Fatalf("entry 5 = %+v", e)
				}
				if e.Namespace.ID != DataID("4") {
					t.Errorf("namespace ref = %+v", e.Namespace)
				}
				if len(e.Nodes) != 2 {
					t.Fatalf("nodes = %+v", e.Nodes)
				}
				if !e.Nodes[0].HasValue() || e.Nodes[0].Value.String() != "GigabitEthernet2" {
					t.Errorf("node 0 = %+v", e.Nodes[0])
				}
				if e.Nodes[1].Op != NodeOpCreate {
					t.Errorf("node 1 op = %q", e.Nodes[1].Op)
				}
			},
		},
		{
			name: "opfields entry",
			check: func(t *testing.T) {
				e := data.Entry("6")
				if e == nil || e.Type != TypeOpFields {
					t.Fatalf("entry 6 = %+v", e)
				}
				if len(e.ReturnsFields) != 2 {
					t.Fatalf("fields = %+v", e.ReturnsFields)
				}
				if e.ReturnsFields[0].Operator() != "==" {
					t.Errorf("default op = %q", e.ReturnsFields[0].Operator())
				}
				if e.ReturnsFields[1].Op != ">=" || e.ReturnsFields[1].Value.String() != "1500" {
					t.Errorf("field 1 = %+v", e.ReturnsFields[1])
				}
				if !e.ReturnsFields[0].IsSelected() {
					t.Error("fields default to selected")
				}
			},
		},
		{
			name: "reference entry per source",
			check: func(t *testing.T) {
				e := data.Entry("7")
				if e == nil || e.Type != TypeReference {
					t.Fatalf("entry 7 = %+v", e)
				}
				if e.RefByUse["content"] != DataID("1") || e.RefByUse["returns"] != DataID("2") {
					t.Errorf("refs = %v", e.RefByUse)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.check)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "empty document",
			doc:     "",
			wantErr: "empty document",
		},
		{
			name:    "top level not a mapping",
			doc:     "- a\n- b\n",
			wantErr: "top level",
		},
		{
			name: "unknown action kind",
			doc: `t:
  test_id: 1
  test_actions:
    - action: reboot
`,
			wantErr: `unknown action kind "reboot"`,
		},
		{
			name: "missing action kind",
			doc: `t:
  test_id: 1
  test_actions:
    - action_id: 4
`,
			wantErr: "missing action kind",
		},
		{
			name: "duplicate data id",
			doc: `t:
  test_id: 1
  data:
    1: a
    "1": b
  test_actions:
    - action: sleep
      time: 1
`,
			wantErr: `duplicate data id "1"`,
		},
		{
			name: "unknown entry type",
			doc: `t:
  test_id: 1
  data:
    1:
      type: jsonpath
      content: x
  test_actions:
    - action: sleep
      time: 1
`,
			wantErr: "unknown data entry type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), "bad.yaml")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestFindTest(t *testing.T) {
	doc := `
alpha:
  test_id: 1
  test_actions:
    - action: sleep
      time: 1
alpha:
  test_id: 2
  test_actions:
    - action: sleep
      time: 2
beta:
  test_id: 3
  test_actions:
    - action: sleep
      time: 1
`
	specs, err := Parse([]byte(doc), "dup.yaml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("expected 3 specs (same-named tests kept), got %d", len(specs))
	}

	tests := []struct {
		name     string
		testName string
		testID   int
		wantID   int
		wantErr  string
	}{
		{name: "unique name", testName: "beta", wantID: 3},
		{name: "ambiguous name", testName: "alpha", wantErr: "ambiguous"},
		{name: "disambiguated by id", testName: "alpha", testID: 2, wantID: 2},
		{name: "missing", testName: "gamma", wantErr: `no test "gamma"`},
		{name: "missing id", testName: "alpha", testID: 9, wantErr: "test_id 9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := FindTest(specs, tt.testName, tt.testID)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FindTest: %v", err)
			}
			if ts.TestID != tt.wantID {
				t.Errorf("test_id = %d, want %d", ts.TestID, tt.wantID)
			}
		})
	}
}

func writeSpec(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoaderCaching(t *testing.T) {
	dir := t.TempDir()
	path := writeSpec(t, dir, "a.yaml", `
a:
  test_id: 1
  test_actions:
    - action: sleep
      time: 1
`)

	loader := NewLoader(dir)
	first, err := loader.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	// Overwrite the file; the cached parse must win.
	writeSpec(t, dir, "a.yaml", "a:\n  test_id: 99\n  test_actions:\n    - action: sleep\n      time: 1\n")
	second, err := loader.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile (cached): %v", err)
	}
	if second[0].TestID != first[0].TestID {
		t.Errorf("cache miss: got test_id %d, want %d", second[0].TestID, first[0].TestID)
	}
}

func TestLoaderRef(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "suite")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	from := writeSpec(t, sub, "main.yaml", `
main:
  test_id: 1
  test_actions:
    - action: sleep
      time: 1
`)
	writeSpec(t, sub, "other.yaml", `
other:
  test_id: 7
  test_actions:
    - action: sleep
      time: 1
`)

	loader := NewLoader(dir)
	specs, err := loader.LoadRef(from, "other.yaml")
	if err != nil {
		t.Fatalf("LoadRef: %v", err)
	}
	if specs[0].TestID != 7 {
		t.Errorf("test_id = %d", specs[0].TestID)
	}

	if _, err := loader.LoadRef(from, "missing.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "one.yaml", "one:\n  test_id: 1\n  test_actions:\n    - action: sleep\n      time: 1\n")
	writeSpec(t, dir, "two.yaml", "two:\n  test_id: 2\n  test_actions:\n    - action: sleep\n      time: 1\n")
	writeSpec(t, dir, "skip.txt", "not yaml")

	specs, err := ParseDir(dir)
	if err != nil {
		t.Fatalf("ParseDir: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	if specs[0].Name != "one" || specs[1].Name != "two" {
		t.Errorf("order = %s, %s", specs[0].Name, specs[1].Name)
	}
}
