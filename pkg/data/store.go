// Package data resolves data dictionary entries into concrete action
// payloads: templated text, NETCONF request node sets, and expected
// operational-state fields. Reference entries chase across dictionaries,
// including dictionaries from other spec files once the builder has loaded
// them.
package data

import (
	"fmt"

	"github.com/miott/specrun/pkg/spec"
	"github.com/miott/specrun/pkg/util"
)

// Source selects which payload of an entry an action wants: its content
// (what to send) or its returns (what to expect back).
type Source string

const (
	SourceContent Source = "content"
	SourceReturns Source = "returns"
)

// PayloadKind discriminates resolved payload shapes.
type PayloadKind int

const (
	KindText PayloadKind = iota
	KindXPath
	KindOpFields
)

// Payload is the resolved, variable-substituted form of a data entry.
type Payload struct {
	Kind   PayloadKind
	Text   string
	XPath  *XPathPayload
	Fields []spec.OpField
}

// XPathPayload is a namespace-qualified node set ready to become a NETCONF
// request.
type XPathPayload struct {
	Prefixes map[string]string
	Nodes    []ResolvedNode
}

// ResolvedNode is one request node with its value substituted.
type ResolvedNode struct {
	XPath    string
	Value    string
	HasValue bool
	Op       string
}

// ForeignFunc fetches the store of another loaded spec unit. The builder
// installs one over its unit table; resolution never reads files itself.
type ForeignFunc func(fromFile, fileName string, testID int) (*Store, error)

// Store resolves one spec's data dictionary.
type Store struct {
	file    string
	dict    *spec.DataDict
	foreign ForeignFunc
}

// NewStore wraps the data dictionary of ts.
func NewStore(ts *spec.TestSpec) *Store {
	return &Store{file: ts.File, dict: ts.Data}
}

// SetForeign installs the cross-file lookup hook.
func (s *Store) SetForeign(f ForeignFunc) {
	s.foreign = f
}

// File returns the path of the spec unit this store came from.
func (s *Store) File() string {
	return s.file
}

// Variables returns a copy of the dictionary's variable defaults.
func (s *Store) Variables() map[string]string {
	if s.dict == nil || s.dict.Variables == nil {
		return nil
	}
	vars := make(map[string]string, len(s.dict.Variables))
	for k, v := range s.dict.Variables {
		vars[k] = v
	}
	return vars
}

// Has reports whether id exists in this dictionary.
func (s *Store) Has(id spec.DataID) bool {
	if s.dict == nil {
		return false
	}
	_, ok := s.dict.Lookup(id)
	return ok
}

// Check verifies that id exists and its reference chain terminates, without
// substituting variables. The builder calls this for every content/returns
// link so dangling ids and cycles fail before any device interaction.
// It returns the terminal entry's type so callers can match payload shape to
// the action's operation.
func (s *Store) Check(id spec.DataID, src Source) (spec.EntryType, error) {
	entry, owner, chain, err := s.deref(id, src)
	if err != nil {
		return "", err
	}
	if entry.Type == spec.TypeXPath && entry.Namespace.ID != "" {
		nsEntry, _, nsChain, err := owner.deref(entry.Namespace.ID, SourceContent)
		if err != nil {
			return "", err
		}
		if nsEntry.Type != spec.TypeNamespace {
			return "", fmt.Errorf("namespace reference %q resolves to %s entry", nsChain[len(nsChain)-1], nsEntry.Type)
		}
	}
	if entry.Type == spec.TypeNamespace {
		return "", fmt.Errorf("data id %q is a namespace entry, not a payload", chain[len(chain)-1])
	}
	return entry.Type, nil
}

// Resolve returns the payload of id for the given source. Reference entries
// resolve transitively; variable substitution happens last, after the
// structural shape is assembled.
func (s *Store) Resolve(id spec.DataID, src Source, vars map[string]string) (*Payload, error) {
	entry, owner, chain, err := s.deref(id, src)
	if err != nil {
		return nil, err
	}

	switch entry.Type {
	case spec.TypeString:
		text := entry.Content
		if src == SourceReturns {
			text = entry.Returns
		}
		if text == "" {
			return nil, fmt.Errorf("data id %q has no %s payload", chain[len(chain)-1], src)
		}
		text, err := SubstituteID(text, vars, string(id))
		if err != nil {
			return nil, err
		}
		return &Payload{Kind: KindText, Text: text}, nil

	case spec.TypeXPath:
		xp, err := owner.resolveXPath(entry, vars, id)
		if err != nil {
			return nil, err
		}
		return &Payload{Kind: KindXPath, XPath: xp}, nil

	case spec.TypeOpFields:
		fields := entry.ContentFields
		if src == SourceReturns {
			fields = entry.ReturnsFields
		}
		if len(fields) == 0 {
			return nil, fmt.Errorf("data id %q has no %s opfields", chain[len(chain)-1], src)
		}
		resolved, err := substituteFields(fields, vars, id)
		if err != nil {
			return nil, err
		}
		return &Payload{Kind: KindOpFields, Fields: resolved}, nil

	case spec.TypeNamespace:
		return nil, fmt.Errorf("data id %q is a namespace entry, not a payload", chain[len(chain)-1])

	default:
		return nil, fmt.Errorf("data id %q has unresolvable type %q", chain[len(chain)-1], entry.Type)
	}
}

// deref chases reference entries until a concrete entry is reached.
// It returns the terminal entry, the store owning it, and the id chain
// walked (for diagnostics and cycle reporting).
func (s *Store) deref(id spec.DataID, src Source) (*spec.DataEntry, *Store, []string, error) {
	type visit struct {
		file string
		id   spec.DataID
	}

	owner := s
	cur := id
	seen := map[visit]bool{}
	var chain []string

	for {
		key := visit{owner.file, cur}
		chain = append(chain, string(cur))
		if seen[key] {
			return nil, nil, nil, &util.ReferenceCycleError{Chain: chain}
		}
		seen[key] = true

		entry, ok := owner.dict.Lookup(cur)
		if !ok {
			return nil, nil, nil, &util.DataError{DataID: string(cur), File: owner.file}
		}
		if entry.Type != spec.TypeReference {
			return entry, owner, chain, nil
		}

		next := entry.DataID
		if next == "" {
			next = entry.RefByUse[string(src)]
		}
		if next == "" {
			return nil, nil, nil, fmt.Errorf("reference %q carries no %s target", cur, src)
		}

		if entry.RefFile != "" {
			if owner.foreign == nil {
				return nil, nil, nil, fmt.Errorf("reference %q needs file %s, which is not loaded", cur, entry.RefFile)
			}
			f, err := owner.foreign(owner.file, entry.RefFile, entry.RefTestID)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("reference %q: %w", cur, err)
			}
			owner = f
		}
		cur = next
	}
}

// resolveXPath assembles the node set of an xpath entry, pulling prefixes
// from its namespace entry when referenced by id.
func (s *Store) resolveXPath(entry *spec.DataEntry, vars map[string]string, id spec.DataID) (*XPathPayload, error) {
	prefixes := entry.Namespace.Prefixes
	if prefixes == nil && entry.Namespace.ID != "" {
		nsEntry, _, chain, err := s.deref(entry.Namespace.ID, SourceContent)
		if err != nil {
			return nil, err
		}
		if nsEntry.Type != spec.TypeNamespace {
			return nil, fmt.Errorf("namespace reference %q resolves to %s entry", chain[len(chain)-1], nsEntry.Type)
		}
		prefixes = nsEntry.Prefixes
	}

	xp := &XPathPayload{Prefixes: prefixes}
	for i := range entry.Nodes {
		n := &entry.Nodes[i]
		path, err := SubstituteID(n.XPath, vars, string(id))
		if err != nil {
			return nil, err
		}
		rn := ResolvedNode{XPath: path, Op: n.Op}
		if n.HasValue() {
			val, err := SubstituteID(n.Value.String(), vars, string(id))
			if err != nil {
				return nil, err
			}
			rn.Value = val
			rn.HasValue = true
		}
		xp.Nodes = append(xp.Nodes, rn)
	}
	return xp, nil
}

// substituteFields applies variables to opfield values and paths.
func substituteFields(fields []spec.OpField, vars map[string]string, id spec.DataID) ([]spec.OpField, error) {
	out := make([]spec.OpField, len(fields))
	for i, f := range fields {
		path, err := SubstituteID(f.XPath, vars, string(id))
		if err != nil {
			return nil, err
		}
		val, err := SubstituteID(f.Value.String(), vars, string(id))
		if err != nil {
			return nil, err
		}
		out[i] = f
		out[i].XPath = path
		out[i].Value = spec.Scalar(val)
	}
	return out, nil
}
