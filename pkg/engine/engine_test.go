package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/miott/specrun/pkg/device"
	"github.com/miott/specrun/pkg/graph"
	"github.com/miott/specrun/pkg/spec"
	"github.com/miott/specrun/pkg/timing"
)

const cliDoc = `
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
    3: "sho run int {{intf}} | inc description"
  test_actions:
    - action: cli
      action_id: 1
      operation: configure
      device: ddmi-9500-2
      content: 1
    - action: cli
      action_id: 2
      operation: execute
      device: ddmi-9500-2
      content: 3
      returns: 2
`

func buildTree(t *testing.T, docs map[string]string, main string) *graph.Tree {
	t.Helper()
	dir := t.TempDir()
	for name, doc := range docs {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	loader := spec.NewLoader(dir)
	specs, err := loader.LoadFile(filepath.Join(dir, main))
	if err != nil {
		t.Fatalf("load %s: %v", main, err)
	}
	tree, err := graph.NewBuilder(loader).Build(specs[0])
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return tree
}

func newEngine(adapter device.Adapter) *Engine {
	return New(adapter, nil)
}

func TestNewSerializesAdapter(t *testing.T) {
	raw := device.NewScriptedAdapter()
	eng := New(raw, nil)
	if _, ok := eng.Adapter.(*device.Serial); !ok {
		t.Fatalf("Adapter = %T, want *device.Serial", eng.Adapter)
	}

	wrapped := device.NewSerial(raw, nil)
	eng = New(wrapped, nil)
	if eng.Adapter != device.Adapter(wrapped) {
		t.Error("pre-serialized adapter was re-wrapped")
	}
}

func TestRunVerificationPasses(t *testing.T) {
	tree := buildTree(t, map[string]string{"main.yaml": cliDoc}, "main.yaml")

	scripted := device.NewScriptedAdapter()
	scripted.Stub("ddmi-9500-2", device.Script{
		Operation: spec.OpExecute,
		Response:  device.Response{Output: "description testspec rules!"},
	})

	result, err := newEngine(scripted).Run(context.Background(), tree, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Passed() {
		t.Fatalf("status = %s, actions %+v", result.Status, result.Actions)
	}
	if len(result.Actions) != 2 {
		t.Fatalf("actions = %d", len(result.Actions))
	}
	if result.RunID == "" {
		t.Error("run id not set")
	}

	// The templated command reached the adapter with variables substituted.
	calls := scripted.CallsFor("ddmi-9500-2")
	if len(calls) != 2 {
		t.Fatalf("calls = %d", len(calls))
	}
	if calls[1].Request.Payload != "sho run int g2 | inc description" {
		t.Errorf("execute payload = %q", calls[1].Request.Payload)
	}
}

func TestRunVerificationFailsWithDiff(t *testing.T) {
	tree := buildTree(t, map[string]string{"main.yaml": cliDoc}, "main.yaml")

	scripted := device.NewScriptedAdapter()
	scripted.Stub("ddmi-9500-2", device.Script{
		Operation: spec.OpExecute,
		Response:  device.Response{Output: "description something else"},
	})

	result, err := newEngine(scripted).Run(context.Background(), tree, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status = %s", result.Status)
	}
	last := result.Actions[len(result.Actions)-1]
	if last.Status != StatusFailed || last.Message == "" {
		t.Errorf("failed action = %+v", last)
	}
}

func TestRunVariableOverrides(t *testing.T) {
	tree := buildTree(t, map[string]string{"main.yaml": cliDoc}, "main.yaml")

	scripted := device.NewScriptedAdapter()
	scripted.Stub("ddmi-9500-2", device.Script{
		Operation: spec.OpExecute,
		Response:  device.Response{Output: "description testspec rules!"},
	})

	_, err := newEngine(scripted).Run(context.Background(), tree, map[string]string{"intf": "g7"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	calls := scripted.CallsFor("ddmi-9500-2")
	if !strings.Contains(calls[0].Request.Payload, "int g7") {
		t.Errorf("configure payload = %q", calls[0].Request.Payload)
	}
}

const repeatDoc = `
flap:
  source:
    pkg: specrun
    class: TestSpec
  devices: [dev1]
  test_id: 1
  data:
    1: "show clock"
  test_actions:
    - action: cli
      action_id: 1
      operation: execute
      device: dev1
      content: 1
    - action: repeat
      action_id: 2
      count: 3
      test_actions: [1]
`

func TestRepeatCount(t *testing.T) {
	tree := buildTree(t, map[string]string{"main.yaml": repeatDoc}, "main.yaml")
	scripted := device.NewScriptedAdapter()

	result, err := newEngine(scripted).Run(context.Background(), tree, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Passed() {
		t.Fatalf("status = %s", result.Status)
	}
	// Once in the body, three times through the repeat.
	if calls := scripted.CallsFor("dev1"); len(calls) != 4 {
		t.Errorf("calls = %d, want 4", len(calls))
	}
}

// countingProgress records every (index, total) pair reported to ActionStart.
type countingProgress struct {
	mu     sync.Mutex
	starts [][2]int
}

func (p *countingProgress) RunStart(*graph.Tree, int) {}
func (p *countingProgress) ActionStart(_ *graph.Node, index, total int) {
	p.mu.Lock()
	p.starts = append(p.starts, [2]int{index, total})
	p.mu.Unlock()
}
func (p *countingProgress) ActionEnd(*ActionResult, int, int) {}
func (p *countingProgress) RunEnd(*RunResult)                 {}

func TestProgressCountsRepeatIterations(t *testing.T) {
	tree := buildTree(t, map[string]string{"main.yaml": repeatDoc}, "main.yaml")
	scripted := device.NewScriptedAdapter()

	eng := newEngine(scripted)
	prog := &countingProgress{}
	eng.Progress = prog

	if _, err := eng.Run(context.Background(), tree, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// One direct leaf plus three iterations of the single-action body.
	if len(prog.starts) != 4 {
		t.Fatalf("action starts = %d, want 4", len(prog.starts))
	}
	for _, s := range prog.starts {
		if s[1] != 4 {
			t.Errorf("reported total = %d, want 4", s[1])
		}
		if s[0] > s[1] {
			t.Errorf("index %d exceeds total %d", s[0], s[1])
		}
	}
}

func TestRepeatCountZeroIsNoop(t *testing.T) {
	doc := strings.Replace(repeatDoc, "count: 3", "count: 0", 1)
	tree := buildTree(t, map[string]string{"main.yaml": doc}, "main.yaml")
	scripted := device.NewScriptedAdapter()

	result, err := newEngine(scripted).Run(context.Background(), tree, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Passed() {
		t.Fatalf("status = %s", result.Status)
	}
	if calls := scripted.CallsFor("dev1"); len(calls) != 1 {
		t.Errorf("calls = %d, want 1", len(calls))
	}
}

const abortDoc = `
abort:
  source:
    pkg: specrun
    class: TestSpec
  devices: [dev1]
  test_id: 1
  data:
    1: "show clock"
    2:
      type: string
      returns: "12:00:00"
    3: "show version"
  test_actions:
    - action: cli
      action_id: 1
      operation: execute
      device: dev1
      content: 1
      returns: 2
    - action: cli
      action_id: 2
      operation: execute
      device: dev1
      content: 3
    - action: sleep
      action_id: 3
      time: 0.05
`

func TestSequentialAbortsOnFailure(t *testing.T) {
	tree := buildTree(t, map[string]string{"main.yaml": abortDoc}, "main.yaml")

	scripted := device.NewScriptedAdapter()
	scripted.Stub("dev1", device.Script{
		Payload:  "show clock",
		Response: device.Response{Output: "23:59:59"},
	})

	result, err := newEngine(scripted).Run(context.Background(), tree, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status = %s", result.Status)
	}
	if len(result.Actions) != 1 {
		t.Fatalf("actions = %d, want 1 (siblings aborted)", len(result.Actions))
	}
	if calls := scripted.CallsFor("dev1"); len(calls) != 1 {
		t.Errorf("calls = %d, want 1", len(calls))
	}
}

const parallelMainDoc = `
parallel-main:
  source:
    pkg: specrun
    class: TestSpec
  devices: [dev1]
  test_id: 1
  test_actions:
    - action: parallel
      action_id: 1
      tests:
        - id: 7
          file_name: helper.yaml
          test_actions: [1]
        - id: 7
          file_name: helper.yaml
          test_actions: [2]
`

const parallelHelperDoc = `
branches:
  source:
    pkg: specrun
    class: TestSpec
  devices: [dev1]
  test_id: 7
  data:
    10: "shutdown"
    11: "no shutdown"
    12:
      type: string
      returns: "expected output"
  test_actions:
    - action: cli
      action_id: 1
      operation: execute
      device: dev1
      content: 10
      returns: 12
    - action: cli
      action_id: 2
      operation: execute
      device: dev1
      content: 11
`

func TestParallelBranchIsolation(t *testing.T) {
	tree := buildTree(t, map[string]string{
		"main.yaml":   parallelMainDoc,
		"helper.yaml": parallelHelperDoc,
	}, "main.yaml")

	scripted := device.NewScriptedAdapter()
	scripted.Stub("dev1",
		device.Script{Payload: "shutdown", Response: device.Response{Output: "wrong output"}},
		device.Script{Payload: "no shutdown", Response: device.Response{Output: "ok"}},
	)

	result, err := newEngine(scripted).Run(context.Background(), tree, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status = %s", result.Status)
	}

	// Both branches dispatched despite branch one failing.
	if calls := scripted.CallsFor("dev1"); len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	var passed, failed int
	for _, a := range result.Actions {
		switch a.Status {
		case StatusPassed:
			passed++
		case StatusFailed:
			failed++
		}
	}
	if passed != 1 || failed != 1 {
		t.Errorf("passed = %d failed = %d, want 1 and 1", passed, failed)
	}
}

const yangDoc = `
yang-edit:
  source:
    pkg: specrun
    class: TestSpec
  devices: [dev1]
  test_id: 1
  data:
    variables:
      desc: testspec rules!
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
  test_actions:
    - action: yang
      action_id: 1
      protocol: netconf
      operation: edit-config
      device: dev1
      content: 5
      returns: rpc-ok
`

const okReply = `<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><ok/></rpc-reply>`

const errorReply = `<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">
  <rpc-error>
    <error-type>application</error-type>
    <error-tag>operation-failed</error-tag>
    <error-message>inconsistent value</error-message>
  </rpc-error>
</rpc-reply>`

const rereadReply = `<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">
  <data>
    <interfaces xmlns="http://openconfig.net/yang/interfaces">
      <interface>
        <name>GigabitEthernet2</name>
        <config>
          <description>testspec rules!</description>
        </config>
      </interface>
    </interfaces>
  </data>
</rpc-reply>`

func TestYangRPCOKShortcut(t *testing.T) {
	tree := buildTree(t, map[string]string{"main.yaml": yangDoc}, "main.yaml")

	scripted := device.NewScriptedAdapter()
	scripted.Stub("dev1", device.Script{
		Operation: spec.OpEditCfg,
		Response:  device.Response{Reply: okReply},
	})

	result, err := newEngine(scripted).Run(context.Background(), tree, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Passed() {
		t.Fatalf("status = %s, actions %+v", result.Status, result.Actions[0])
	}
	// rpc-ok never triggers the config re-read.
	if calls := scripted.CallsFor("dev1"); len(calls) != 1 {
		t.Errorf("calls = %d, want 1", len(calls))
	}
}

func TestYangRPCErrorFails(t *testing.T) {
	tree := buildTree(t, map[string]string{"main.yaml": yangDoc}, "main.yaml")

	scripted := device.NewScriptedAdapter()
	scripted.Stub("dev1", device.Script{
		Operation: spec.OpEditCfg,
		Response:  device.Response{Reply: errorReply},
	})

	result, err := newEngine(scripted).Run(context.Background(), tree, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status = %s", result.Status)
	}
	if !strings.Contains(result.Actions[0].Message, "inconsistent value") {
		t.Errorf("message = %q", result.Actions[0].Message)
	}
}

func TestYangEditConfigReread(t *testing.T) {
	doc := strings.Replace(yangDoc, "returns: rpc-ok", "returns: 5", 1)
	tree := buildTree(t, map[string]string{"main.yaml": doc}, "main.yaml")

	scripted := device.NewScriptedAdapter()
	scripted.SetCapabilities("dev1",
		"urn:ietf:params:netconf:capability:candidate:1.0")
	scripted.Stub("dev1",
		device.Script{Operation: spec.OpEditCfg, Response: device.Response{Reply: okReply}},
		device.Script{Operation: spec.OpGetCfg, Response: device.Response{Reply: rereadReply}},
	)

	result, err := newEngine(scripted).Run(context.Background(), tree, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Passed() {
		t.Fatalf("status = %s, action %+v", result.Status, result.Actions[0])
	}

	calls := scripted.CallsFor("dev1")
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want edit + re-read", len(calls))
	}
	if calls[0].Request.Datastore != "candidate" {
		t.Errorf("edit datastore = %q, want capability-advertised candidate", calls[0].Request.Datastore)
	}
	if calls[1].Request.Operation != spec.OpGetCfg || calls[1].Request.Datastore != "running" {
		t.Errorf("re-read = %s against %q", calls[1].Request.Operation, calls[1].Request.Datastore)
	}
}

func TestYangEditConfigRereadMismatch(t *testing.T) {
	doc := strings.Replace(yangDoc, "returns: rpc-ok", "returns: 5", 1)
	tree := buildTree(t, map[string]string{"main.yaml": doc}, "main.yaml")

	stale := strings.Replace(rereadReply, "testspec rules!", "old description", 1)
	scripted := device.NewScriptedAdapter()
	scripted.Stub("dev1",
		device.Script{Operation: spec.OpEditCfg, Response: device.Response{Reply: okReply}},
		device.Script{Operation: spec.OpGetCfg, Response: device.Response{Reply: stale}},
	)

	result, err := newEngine(scripted).Run(context.Background(), tree, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status = %s", result.Status)
	}
	if len(result.Actions[0].Diff) == 0 {
		t.Errorf("expected a structured diff, got %+v", result.Actions[0])
	}
}

const timingDoc = `
timed:
  source:
    pkg: specrun
    class: TestSpec
  devices: [dev1]
  test_id: 1
  test_actions:
    - action: timestamp
      action_id: 1
      category: start
      precision: 2
      storage: bgp-timing.csv
    - action: sleep
      action_id: 2
      time: 0.05
    - action: timestamp
      action_id: 3
      category: end
      precision: 2
      storage: bgp-timing.csv
`

func TestTimingPairing(t *testing.T) {
	tree := buildTree(t, map[string]string{"main.yaml": timingDoc}, "main.yaml")

	sink := &timing.MemorySink{}
	eng := New(device.NewScriptedAdapter(), timing.NewRecorder(sink))

	result, err := eng.Run(context.Background(), tree, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Passed() {
		t.Fatalf("status = %s", result.Status)
	}
	recs := sink.Records()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].Storage != "bgp-timing.csv" || recs[0].Elapsed <= 0 {
		t.Errorf("record = %+v", recs[0])
	}
	if len(result.Timing) != 1 {
		t.Errorf("result timing = %d", len(result.Timing))
	}
}

func TestTimingEndWithoutStartWarns(t *testing.T) {
	doc := strings.Replace(timingDoc, "category: start", "category: end", 1)
	tree := buildTree(t, map[string]string{"main.yaml": doc}, "main.yaml")

	sink := &timing.MemorySink{}
	eng := New(device.NewScriptedAdapter(), timing.NewRecorder(sink))

	result, err := eng.Run(context.Background(), tree, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Out-of-sequence marks warn; the run continues and completes.
	if !result.Passed() {
		t.Fatalf("status = %s", result.Status)
	}
	if len(result.Actions) != 3 {
		t.Errorf("actions = %d, want 3 (run not aborted)", len(result.Actions))
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a timing warning")
	}
}

func TestRunContextMergeWithoutOverwrite(t *testing.T) {
	parent := newRunContext(nil)
	parent.record(1, "parent output")

	child := parent.child()
	child.record(1, "child output")
	child.record(2, "new output")

	parent.merge(child)

	if got := parent.outputs[1]; len(got) != 1 || got[0] != "parent output" {
		t.Errorf("outputs[1] = %v, want the parent's entry kept", got)
	}
	if got := parent.outputs[2]; len(got) != 1 || got[0] != "new output" {
		t.Errorf("outputs[2] = %v", got)
	}
}

func TestRunCanceledContext(t *testing.T) {
	tree := buildTree(t, map[string]string{"main.yaml": timingDoc}, "main.yaml")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := New(device.NewScriptedAdapter(), nil)
	_, err := eng.Run(ctx, tree, nil)
	if err == nil {
		t.Fatal("Run with canceled context succeeded")
	}
}
