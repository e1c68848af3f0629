package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/miott/specrun/pkg/util"
)

// Script is one canned exchange: a request matcher plus the reply to return.
// Empty matcher fields match anything. Once matches the script at most once,
// so successive identical requests can return different replies.
type Script struct {
	Operation string
	Payload   string // matched by trimmed equality, or substring when Contains is set
	Contains  bool
	Once      bool

	Response Response
	Err      error

	used bool
}

// Call records one adapter invocation with its wall-clock interval. Tests use
// the intervals to assert per-device serialization.
type Call struct {
	Request Request
	Start   time.Time
	End     time.Time
}

// Overlaps reports whether two call intervals intersect.
func (c Call) Overlaps(other Call) bool {
	return c.Start.Before(other.End) && other.Start.Before(c.End)
}

// ScriptedAdapter is an in-memory adapter returning canned replies. It is the
// adapter behind `specrun run --adapter scripted` dry runs and most tests.
type ScriptedAdapter struct {
	mu      sync.Mutex
	scripts map[string][]*Script
	caps    map[string][]string
	calls   []Call

	// Latency is added to every call while holding no lock state, so
	// concurrent calls against different devices genuinely overlap.
	Latency time.Duration

	// Strict makes unscripted requests fail instead of returning an empty
	// success.
	Strict bool
}

// NewScriptedAdapter creates an empty scripted adapter.
func NewScriptedAdapter() *ScriptedAdapter {
	return &ScriptedAdapter{
		scripts: make(map[string][]*Script),
		caps:    make(map[string][]string),
	}
}

// Stub registers canned exchanges for a device, matched in order.
func (a *ScriptedAdapter) Stub(device string, scripts ...Script) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range scripts {
		s := scripts[i]
		a.scripts[device] = append(a.scripts[device], &s)
	}
}

// SetCapabilities sets the NETCONF capability strings reported for a device.
func (a *ScriptedAdapter) SetCapabilities(device string, caps ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.caps[device] = caps
}

// Capabilities implements CapabilityReporter.
func (a *ScriptedAdapter) Capabilities(device string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.caps[device]
}

// Execute implements Adapter.
func (a *ScriptedAdapter) Execute(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	if a.Latency > 0 {
		select {
		case <-time.After(a.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	script := a.match(req)
	a.calls = append(a.calls, Call{Request: *req, Start: start, End: time.Now()})

	if script == nil {
		if a.Strict {
			return nil, util.NewDeviceError(req.Device, req.Operation,
				fmt.Errorf("no scripted reply for payload %q", req.Payload))
		}
		return &Response{}, nil
	}
	if script.Err != nil {
		return nil, util.NewDeviceError(req.Device, req.Operation, script.Err)
	}
	resp := script.Response
	return &resp, nil
}

func (a *ScriptedAdapter) match(req *Request) *Script {
	for _, s := range a.scripts[req.Device] {
		if s.used && s.Once {
			continue
		}
		if s.Operation != "" && s.Operation != req.Operation {
			continue
		}
		if s.Payload != "" {
			if s.Contains {
				if !strings.Contains(req.Payload, s.Payload) {
					continue
				}
			} else if strings.TrimSpace(req.Payload) != strings.TrimSpace(s.Payload) {
				continue
			}
		}
		s.used = true
		return s
	}
	return nil
}

// Close implements Adapter.
func (a *ScriptedAdapter) Close() error {
	return nil
}

// Calls returns a copy of all recorded invocations in completion order.
func (a *ScriptedAdapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// CallsFor returns recorded invocations for one device.
func (a *ScriptedAdapter) CallsFor(device string) []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Call
	for _, c := range a.calls {
		if c.Request.Device == device {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls, keeping scripts and capabilities.
func (a *ScriptedAdapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = nil
	for _, scripts := range a.scripts {
		for _, s := range scripts {
			s.used = false
		}
	}
}
