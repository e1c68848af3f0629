package verify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/beevik/etree"

	"github.com/miott/specrun/pkg/data"
	"github.com/miott/specrun/pkg/spec"
)

// ReplyNode is one element of a parsed rpc-reply: its slash path of local
// names (keys and prefixes stripped), its local name, and its text value.
// Elements without text carry the value "empty", matching how value-less
// request nodes are verified.
type ReplyNode struct {
	Path  string
	Name  string
	Value string
}

// ParseReply flattens an rpc-reply into addressable nodes. The rpc-reply and
// data wrappers do not appear in paths.
func ParseReply(replyXML string) ([]ReplyNode, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(replyXML); err != nil {
		return nil, fmt.Errorf("parsing rpc-reply: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("empty rpc-reply")
	}
	if root.Tag != "rpc-reply" {
		return nil, fmt.Errorf("response missing rpc-reply, got <%s>", root.Tag)
	}

	var nodes []ReplyNode
	var walk func(el *etree.Element, path string)
	walk = func(el *etree.Element, path string) {
		for _, child := range el.ChildElements() {
			childPath := path + "/" + child.Tag
			value := strings.TrimSpace(child.Text())
			if value == "" {
				value = "empty"
			}
			nodes = append(nodes, ReplyNode{Path: childPath, Name: child.Tag, Value: value})
			walk(child, childPath)
		}
	}

	start := root
	for _, child := range root.ChildElements() {
		if child.Tag == "data" {
			start = child
			break
		}
	}
	walk(start, "")
	return nodes, nil
}

// RPCErrors extracts rpc-error messages from a reply. A reply mentioning
// rpc-error anywhere is a protocol failure even when the XML is malformed.
func RPCErrors(replyXML string) []string {
	if !strings.Contains(replyXML, "<rpc-error") {
		return nil
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(replyXML); err != nil {
		return []string{"rpc-error present (unparseable reply)"}
	}

	var msgs []string
	for _, errEl := range doc.FindElements("//rpc-error") {
		msg := ""
		if m := errEl.FindElement("error-message"); m != nil {
			msg = strings.TrimSpace(m.Text())
		}
		if msg == "" {
			if tag := errEl.FindElement("error-tag"); tag != nil {
				msg = strings.TrimSpace(tag.Text())
			}
		}
		if msg == "" {
			msg = "rpc-error"
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		msgs = []string{"rpc-error"}
	}
	return msgs
}

var (
	xpathKeys     = regexp.MustCompile(`\[.*?\]`)
	xpathPrefixes = regexp.MustCompile(`/[^/:]*?:`)
)

// StripXPath reduces a prefixed, keyed xpath to the bare local-name path used
// when addressing reply nodes.
func StripXPath(xpath string) string {
	s := xpathKeys.ReplaceAllString(xpath, "")
	return xpathPrefixes.ReplaceAllString(s, "/")
}

// EditedNodes verifies an edit-config took effect: the follow-up get-config
// reply must carry every non-delete request node with its requested value.
func EditedNodes(replyXML string, payload *data.XPathPayload) Verdict {
	var fields []spec.OpField
	for _, node := range payload.Nodes {
		if node.Op == "delete" || node.Op == "remove" {
			continue
		}
		path := StripXPath(node.XPath)
		value := node.Value
		if !node.HasValue || value == "" {
			value = "empty"
		}
		segs := strings.Split(path, "/")
		fields = append(fields, spec.OpField{
			XPath: path,
			Name:  segs[len(segs)-1],
			Value: spec.Scalar(value),
		})
	}
	if len(fields) == 0 {
		return passed()
	}

	nodes, err := ParseReply(replyXML)
	if err != nil {
		return failed("re-read reply: %v", err)
	}
	return OpFields(nodes, fields)
}
