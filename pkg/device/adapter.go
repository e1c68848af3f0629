// Package device defines the adapter capability the execution engine calls to
// reach named devices, plus the implementations shipped with specrun: a
// scripted in-memory adapter for tests and dry runs, and a minimal SSH CLI
// adapter. The engine always talks to an adapter through the per-device
// serialization wrapper in serial.go.
package device

import (
	"context"
	"strings"
)

// Protocols an adapter may be asked to speak.
const (
	ProtocolCLI     = "cli"
	ProtocolNETCONF = "netconf"
)

// Request is one exchange with a named device. Payload is the CLI text for
// cli actions or the built NETCONF request document for yang actions; the
// wire codec beyond that is the adapter's concern.
type Request struct {
	Device    string
	Protocol  string
	Operation string
	Payload   string
	Datastore string
}

// Response is what came back. Errors holds protocol-level rpc-error messages;
// transport failures surface as the error return of Execute instead.
type Response struct {
	Output string   // raw CLI output
	Reply  string   // NETCONF rpc-reply XML
	Errors []string // rpc-error messages extracted from the reply
}

// OK reports whether the exchange completed without protocol-level errors.
func (r *Response) OK() bool {
	return r != nil && len(r.Errors) == 0
}

// Adapter performs device exchanges. Implementations may block; blocking is
// scoped to the calling branch and bounded by ctx.
type Adapter interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
	Close() error
}

// CapabilityReporter is optionally implemented by adapters that know the
// NETCONF capabilities of their devices. The engine uses it to pick a
// datastore when a yang action does not name one.
type CapabilityReporter interface {
	Capabilities(device string) []string
}

// Datastores extracts writable datastore names from NETCONF capability URIs,
// candidate first when advertised.
func Datastores(capabilities []string) []string {
	var stores []string
	for _, cap := range capabilities {
		if !strings.Contains(cap, ":netconf:capability:") {
			continue
		}
		switch {
		case strings.Contains(cap, ":candidate:"), strings.HasSuffix(cap, ":candidate"):
			stores = append([]string{"candidate"}, stores...)
		case strings.Contains(cap, ":writable-running"):
			stores = append(stores, "running")
		}
	}
	return stores
}
