package data

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// NETCONF base namespace, used for nc:operation attributes on edit nodes.
const netconfNS = "urn:ietf:params:xml:ns:netconf:base:1.0"

// BuildRequest materializes a resolved xpath payload into the XML document
// the device adapter sends: a <config> container for edit-config, a <filter>
// container for get-config and get. Nodes sharing a path prefix merge into
// one subtree; list-key predicates ([key="value"]) become key child elements.
func BuildRequest(operation string, payload *XPathPayload) (*etree.Document, error) {
	var container string
	switch operation {
	case "edit-config":
		container = "config"
	case "get-config", "get":
		container = "filter"
	default:
		return nil, fmt.Errorf("no request container for operation %q", operation)
	}

	doc := etree.NewDocument()
	root := doc.CreateElement(container)
	for prefix, uri := range payload.Prefixes {
		root.CreateAttr("xmlns:"+prefix, uri)
	}
	if operation == "edit-config" {
		root.CreateAttr("xmlns:nc", netconfNS)
	}

	for i := range payload.Nodes {
		node := &payload.Nodes[i]
		if err := addNode(root, node, operation); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// RequestXML builds the request document and serializes it.
func RequestXML(operation string, payload *XPathPayload) (string, error) {
	doc, err := BuildRequest(operation, payload)
	if err != nil {
		return "", err
	}
	doc.Indent(2)
	return doc.WriteToString()
}

// addNode grafts one resolved node onto the container, reusing elements
// already created for common path prefixes.
func addNode(root *etree.Element, node *ResolvedNode, operation string) error {
	segments, err := splitXPath(node.XPath)
	if err != nil {
		return fmt.Errorf("node %q: %w", node.XPath, err)
	}
	if len(segments) == 0 {
		return fmt.Errorf("node has empty xpath")
	}

	elem := root
	for _, seg := range segments {
		elem = childElement(elem, seg)
	}

	if operation == "edit-config" {
		switch node.Op {
		case "create", "delete", "remove", "replace":
			elem.CreateAttr("nc:operation", node.Op)
		}
	}
	if node.HasValue {
		elem.SetText(node.Value)
	}
	return nil
}

// pathSegment is one step of a slash path: a possibly prefixed element name
// plus its list-key predicates.
type pathSegment struct {
	prefix string
	name   string
	keys   []pathKey
}

type pathKey struct {
	prefix string
	name   string
	value  string
}

// childElement finds the existing child matching seg or creates it. Elements
// only merge when their key predicates agree, so two list entries stay
// distinct subtrees.
func childElement(parent *etree.Element, seg pathSegment) *etree.Element {
	for _, c := range parent.ChildElements() {
		if c.Space != seg.prefix || c.Tag != seg.name {
			continue
		}
		if keysMatch(c, seg.keys) {
			return c
		}
	}

	elem := parent.CreateElement(seg.name)
	elem.Space = seg.prefix
	for _, k := range seg.keys {
		key := elem.CreateElement(k.name)
		key.Space = k.prefix
		key.SetText(k.value)
	}
	return elem
}

func keysMatch(elem *etree.Element, keys []pathKey) bool {
	if len(keys) == 0 {
		return true
	}
	for _, k := range keys {
		found := false
		for _, c := range elem.ChildElements() {
			if c.Space == k.prefix && c.Tag == k.name && c.Text() == k.value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// splitXPath parses a slash path into segments, honoring quotes and brackets
// so predicate values may contain slashes.
func splitXPath(xpath string) ([]pathSegment, error) {
	var segments []pathSegment
	var buf strings.Builder
	depth := 0
	var quote byte

	flush := func() error {
		if buf.Len() == 0 {
			return nil
		}
		seg, err := parseSegment(buf.String())
		if err != nil {
			return err
		}
		segments = append(segments, seg)
		buf.Reset()
		return nil
	}

	for i := 0; i < len(xpath); i++ {
		ch := xpath[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
			buf.WriteByte(ch)
		case ch == '"' || ch == '\'':
			quote = ch
			buf.WriteByte(ch)
		case ch == '[':
			depth++
			buf.WriteByte(ch)
		case ch == ']':
			depth--
			buf.WriteByte(ch)
		case ch == '/' && depth == 0:
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			buf.WriteByte(ch)
		}
	}
	if depth != 0 || quote != 0 {
		return nil, fmt.Errorf("unbalanced predicate in %q", xpath)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return segments, nil
}

// parseSegment splits "prefix:name[key="v"]..." into its parts.
func parseSegment(s string) (pathSegment, error) {
	var seg pathSegment
	name := s
	if idx := strings.IndexByte(s, '['); idx >= 0 {
		name = s[:idx]
		rest := s[idx:]
		for len(rest) > 0 {
			if rest[0] != '[' {
				return seg, fmt.Errorf("malformed predicate in segment %q", s)
			}
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return seg, fmt.Errorf("unterminated predicate in segment %q", s)
			}
			key, err := parseKey(rest[1:end])
			if err != nil {
				return seg, fmt.Errorf("segment %q: %w", s, err)
			}
			seg.keys = append(seg.keys, key)
			rest = rest[end+1:]
		}
	}
	seg.prefix, seg.name = splitPrefixed(name)
	if seg.name == "" {
		return seg, fmt.Errorf("empty element name in segment %q", s)
	}
	return seg, nil
}

// parseKey parses one predicate body: key="value" or key='value'.
func parseKey(s string) (pathKey, error) {
	eq := strings.IndexByte(s, '=')
	if eq < 0 {
		return pathKey{}, fmt.Errorf("predicate %q is not key=value", s)
	}
	name := strings.TrimSpace(s[:eq])
	value := strings.TrimSpace(s[eq+1:])
	if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
		value = value[1 : len(value)-1]
	}
	var k pathKey
	k.prefix, k.name = splitPrefixed(name)
	k.value = value
	if k.name == "" {
		return pathKey{}, fmt.Errorf("predicate %q has no key name", s)
	}
	return k, nil
}

func splitPrefixed(name string) (prefix, local string) {
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		return name[:idx], name[idx+1:]
	}
	return "", name
}
