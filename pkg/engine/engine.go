// Package engine executes built action trees: sequential containers in
// declared order aborting on first failure, repeat bodies count times,
// parallel branches concurrently with private context views, and leaves
// dispatched through a device adapter and verified against their declared
// returns.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miott/specrun/pkg/data"
	"github.com/miott/specrun/pkg/device"
	"github.com/miott/specrun/pkg/graph"
	"github.com/miott/specrun/pkg/spec"
	"github.com/miott/specrun/pkg/timing"
	"github.com/miott/specrun/pkg/util"
	"github.com/miott/specrun/pkg/verify"
)

// errActionFailed aborts the enclosing sequential container. The failure
// itself is already recorded as an ActionResult when this surfaces.
var errActionFailed = errors.New("action failed")

// Engine executes trees against a device adapter. The adapter is always a
// per-device serialization wrapper, so same-device actions never overlap
// even from concurrent parallel branches.
type Engine struct {
	Adapter  device.Adapter
	Recorder *timing.Recorder
	Progress ProgressReporter
}

// New creates an engine with a no-op progress reporter. A raw transport is
// wrapped with device.NewSerial; an already-serialized adapter (carrying a
// shared locker, say) is used as-is.
func New(adapter device.Adapter, recorder *timing.Recorder) *Engine {
	if _, ok := adapter.(*device.Serial); !ok {
		adapter = device.NewSerial(adapter, nil)
	}
	return &Engine{
		Adapter:  adapter,
		Recorder: recorder,
		Progress: NopProgress{},
	}
}

// run holds the mutable state of one Run call. Parallel branches append
// results concurrently, so access goes through the mutex.
type run struct {
	engine *Engine
	result *RunResult
	total  int

	mu  sync.Mutex
	seq int
}

func (r *run) start(node *graph.Node) int {
	r.mu.Lock()
	r.seq++
	idx := r.seq
	r.mu.Unlock()
	r.engine.Progress.ActionStart(node, idx, r.total)
	return idx
}

func (r *run) finish(idx int, res *ActionResult) {
	r.mu.Lock()
	r.result.Actions = append(r.result.Actions, res)
	r.mu.Unlock()
	r.engine.Progress.ActionEnd(res, idx, r.total)
}

func (r *run) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.mu.Lock()
	r.result.Warnings = append(r.result.Warnings, msg)
	r.mu.Unlock()
	util.Warn(msg)
}

// Run executes tree. Variable overrides layer over the spec's defaults.
// The returned error reports run-level interruptions (context cancellation);
// action failures are reported through the result's status, not the error.
func (e *Engine) Run(ctx context.Context, tree *graph.Tree, overrides map[string]string) (*RunResult, error) {
	vars := data.MergeVariables(tree.Variables, overrides)
	rc := newRunContext(vars)

	r := &run{
		engine: e,
		total:  tree.Invocations(),
		result: &RunResult{
			Test:    tree.Unit.Spec.Name,
			RunID:   uuid.NewString(),
			Started: time.Now(),
		},
	}

	e.Progress.RunStart(tree, r.total)

	err := e.runNode(ctx, r, rc, tree.Root)

	r.result.Duration = time.Since(r.result.Started)
	r.result.aggregate()
	if e.Recorder != nil {
		r.result.Timing = e.Recorder.Records()
	}
	e.Progress.RunEnd(r.result)

	if err != nil && !errors.Is(err, errActionFailed) {
		return r.result, err
	}
	return r.result, nil
}

func (e *Engine) runNode(ctx context.Context, r *run, rc *runContext, node *graph.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch node.Kind {
	case graph.NodeSequence:
		return e.runSequence(ctx, r, rc, node)
	case graph.NodeRepeat:
		return e.runRepeat(ctx, r, rc, node)
	case graph.NodeParallel:
		return e.runParallel(ctx, r, rc, node)
	case graph.NodeAction:
		return e.runLeaf(ctx, r, rc, node)
	default:
		return fmt.Errorf("unexecutable node kind %v", node.Kind)
	}
}

// runSequence executes children strictly in order. The first failure aborts
// the remaining siblings.
func (e *Engine) runSequence(ctx context.Context, r *run, rc *runContext, node *graph.Node) error {
	for _, child := range node.Children {
		if err := e.runNode(ctx, r, rc, child); err != nil {
			return err
		}
	}
	return nil
}

// runRepeat executes its body Count times sequentially. Count zero is a
// no-op success; a failed iteration aborts the rest.
func (e *Engine) runRepeat(ctx context.Context, r *run, rc *runContext, node *graph.Node) error {
	for i := 0; i < node.Count; i++ {
		for _, child := range node.Children {
			if err := e.runNode(ctx, r, rc, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// runParallel runs each child as an independent branch. A branch failure
// never cancels its siblings; the node waits for all branches, merges their
// context views, and reports failure if any branch failed.
func (e *Engine) runParallel(ctx context.Context, r *run, rc *runContext, node *graph.Node) error {
	children := make([]*runContext, len(node.Children))
	errs := make([]error, len(node.Children))

	var wg sync.WaitGroup
	for i, branch := range node.Children {
		children[i] = rc.child()
		wg.Add(1)
		go func(i int, branch *graph.Node) {
			defer wg.Done()
			errs[i] = e.runNode(ctx, r, children[i], branch)
		}(i, branch)
	}
	wg.Wait()

	var failed error
	for i, err := range errs {
		rc.merge(children[i])
		if err != nil && failed == nil {
			failed = err
		} else if err != nil && !errors.Is(err, errActionFailed) {
			// A real interruption outranks a recorded action failure.
			failed = err
		}
	}
	return failed
}

func (e *Engine) runLeaf(ctx context.Context, r *run, rc *runContext, node *graph.Node) error {
	a := node.Action
	idx := r.start(node)

	if a.Banner != "" {
		util.Info("\n" + util.Banner(a.Banner))
	}
	if a.Log != "" {
		util.WithAction(string(a.Kind), a.ActionID).Debug(a.Log)
	}

	res := &ActionResult{
		Label:    node.Label,
		Kind:     a.Kind,
		Device:   a.Device,
		ActionID: a.ActionID,
		Position: node.Position,
		Status:   StatusPassed,
	}
	started := time.Now()

	var err error
	switch a.Kind {
	case spec.KindSleep:
		err = e.runSleep(ctx, a, res)
	case spec.KindTimestamp:
		e.runTimestamp(r, a, res)
	case spec.KindCLI:
		err = e.runCLI(ctx, rc, node, res)
	case spec.KindYang:
		err = e.runYang(ctx, rc, node, res)
	}

	res.Duration = time.Since(started)
	r.finish(idx, res)

	if err != nil {
		return err
	}
	if res.Status == StatusFailed || res.Status == StatusError {
		return errActionFailed
	}
	return nil
}

// runSleep suspends the calling branch, honoring cancellation.
func (e *Engine) runSleep(ctx context.Context, a *spec.Action, res *ActionResult) error {
	d := time.Duration(a.Time * float64(time.Second))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		res.Status = StatusError
		res.Message = "canceled during sleep"
		return ctx.Err()
	}
}

// runTimestamp records a timing mark. An out-of-sequence mark is a warning,
// never fatal to the run.
func (e *Engine) runTimestamp(r *run, a *spec.Action, res *ActionResult) {
	if e.Recorder == nil {
		return
	}
	if err := e.Recorder.Mark(a.Storage, a.Category, a.Precision); err != nil {
		res.Message = err.Error()
		r.warn("timestamp %s %q: %v", a.Category, a.Storage, err)
	}
}

func (e *Engine) runCLI(ctx context.Context, rc *runContext, node *graph.Node, res *ActionResult) error {
	a := node.Action
	vars := data.MergeVariables(node.Unit.Store.Variables(), rc.vars)

	payload, err := node.Unit.Store.Resolve(a.Content, data.SourceContent, vars)
	if err != nil {
		res.Status = StatusFailed
		res.Message = fmt.Sprintf("content %s: %v", a.Content, err)
		return nil
	}

	resp, err := e.execute(ctx, res, &device.Request{
		Device:    a.Device,
		Protocol:  device.ProtocolCLI,
		Operation: a.Operation,
		Payload:   payload.Text,
	})
	if err != nil || resp == nil {
		return err
	}

	res.Output = resp.Output
	rc.record(a.ActionID, resp.Output)

	if !a.HasReturns() {
		return nil
	}

	expected, err := node.Unit.Store.Resolve(a.Returns, data.SourceReturns, vars)
	if err != nil {
		res.Status = StatusFailed
		res.Message = fmt.Sprintf("returns %s: %v", a.Returns, err)
		return nil
	}

	var verdict verify.Verdict
	if a.Operation == spec.OpConfigure {
		verdict = verify.Config(resp.Output, expected.Text)
	} else {
		verdict = verify.Strings(resp.Output, expected.Text)
	}
	applyVerdict(res, verdict)
	return nil
}

func (e *Engine) runYang(ctx context.Context, rc *runContext, node *graph.Node, res *ActionResult) error {
	a := node.Action
	vars := data.MergeVariables(node.Unit.Store.Variables(), rc.vars)

	payload, err := node.Unit.Store.Resolve(a.Content, data.SourceContent, vars)
	if err != nil {
		res.Status = StatusFailed
		res.Message = fmt.Sprintf("content %s: %v", a.Content, err)
		return nil
	}
	if payload.XPath == nil {
		res.Status = StatusFailed
		res.Message = fmt.Sprintf("content %s does not resolve to xpath nodes", a.Content)
		return nil
	}

	reqXML, err := data.RequestXML(a.Operation, payload.XPath)
	if err != nil {
		res.Status = StatusFailed
		res.Message = fmt.Sprintf("building %s request: %v", a.Operation, err)
		return nil
	}

	resp, err := e.execute(ctx, res, &device.Request{
		Device:    a.Device,
		Protocol:  device.ProtocolNETCONF,
		Operation: a.Operation,
		Payload:   reqXML,
		Datastore: e.datastore(a),
	})
	if err != nil || resp == nil {
		return err
	}

	res.Output = resp.Reply
	rc.record(a.ActionID, resp.Reply)

	if errs := rpcErrors(resp); len(errs) > 0 {
		res.Status = StatusFailed
		res.Message = "rpc-error: " + errs[0]
		return nil
	}

	if !a.HasReturns() || a.Returns == spec.RPCOK {
		return nil
	}

	expected, err := node.Unit.Store.Resolve(a.Returns, data.SourceReturns, vars)
	if err != nil {
		res.Status = StatusFailed
		res.Message = fmt.Sprintf("returns %s: %v", a.Returns, err)
		return nil
	}

	reply := resp.Reply
	if a.Operation == spec.OpEditCfg {
		// Content verification of an edit reads the config back.
		reread, err := e.execute(ctx, res, &device.Request{
			Device:    a.Device,
			Protocol:  device.ProtocolNETCONF,
			Operation: spec.OpGetCfg,
			Payload:   mustFilter(payload.XPath),
			Datastore: "running",
		})
		if err != nil || reread == nil {
			return err
		}
		if errs := rpcErrors(reread); len(errs) > 0 {
			res.Status = StatusFailed
			res.Message = "verifying edit: rpc-error: " + errs[0]
			return nil
		}
		reply = reread.Reply
	}

	applyVerdict(res, e.verifyReply(reply, expected, payload))
	return nil
}

// verifyReply matches a reply against the resolved returns payload.
func (e *Engine) verifyReply(reply string, expected, content *data.Payload) verify.Verdict {
	switch expected.Kind {
	case data.KindOpFields:
		nodes, err := verify.ParseReply(reply)
		if err != nil {
			return verify.Verdict{Message: fmt.Sprintf("parsing rpc-reply: %v", err)}
		}
		return verify.OpFields(nodes, expected.Fields)
	case data.KindXPath:
		return verify.EditedNodes(reply, expected.XPath)
	default:
		// A plain string expectation against the edited content's nodes.
		if content.XPath != nil {
			return verify.EditedNodes(reply, content.XPath)
		}
		return verify.Strings(reply, expected.Text)
	}
}

// execute dispatches a request, classifying transport failures as errors and
// propagating cancellation. A nil response with nil error never happens; the
// caller treats nil response as "result already recorded".
func (e *Engine) execute(ctx context.Context, res *ActionResult, req *device.Request) (*device.Response, error) {
	resp, err := e.Adapter.Execute(ctx, req)
	if err != nil {
		res.Status = StatusError
		res.Message = err.Error()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, nil
	}
	return resp, nil
}

// datastore picks the target datastore for a yang action: explicit wins,
// then the first capability-advertised datastore, then running.
func (e *Engine) datastore(a *spec.Action) string {
	if a.Datastore != "" {
		return a.Datastore
	}
	if cr, ok := e.Adapter.(device.CapabilityReporter); ok {
		if stores := device.Datastores(cr.Capabilities(a.Device)); len(stores) > 0 {
			return stores[0]
		}
	}
	return "running"
}

func rpcErrors(resp *device.Response) []string {
	if len(resp.Errors) > 0 {
		return resp.Errors
	}
	return verify.RPCErrors(resp.Reply)
}

func applyVerdict(res *ActionResult, v verify.Verdict) {
	if v.Passed {
		return
	}
	res.Status = StatusFailed
	res.Message = v.Message
	res.Diff = v.Diff
}

// mustFilter builds the get-config filter for a payload already validated by
// the request that edited it.
func mustFilter(payload *data.XPathPayload) string {
	xml, err := data.RequestXML(spec.OpGetCfg, payload)
	if err != nil {
		return ""
	}
	return xml
}
