// Package spec defines the TestSpec document model: named tests composed of
// ordered actions against a set of devices, plus the keyed data dictionary
// their payloads are built from. Files parse into these types as-is; semantic
// validation (device membership, data links, subset references) happens in
// pkg/graph when the executable tree is built.
package spec

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// TestSpec is one named test parsed from a spec file.
type TestSpec struct {
	Name    string
	Source  Source
	Devices []string
	TestID  int
	Actions []Action
	Data    *DataDict

	// File is the absolute path of the file this spec was parsed from.
	// Empty for specs constructed in memory.
	File string
}

// Source names the external engine binding for a test. The runner carries it
// through untouched.
type Source struct {
	Pkg   string `yaml:"pkg,omitempty"`
	Class string `yaml:"class,omitempty"`
}

// ActionKind identifies the type of action to execute.
type ActionKind string

const (
	KindCLI       ActionKind = "cli"
	KindYang      ActionKind = "yang"
	KindSleep     ActionKind = "sleep"
	KindTimestamp ActionKind = "timestamp"
	KindRepeat    ActionKind = "repeat"
	KindCombine   ActionKind = "combine"
	KindParallel  ActionKind = "parallel"
)

// CLI and yang operations.
const (
	OpConfigure = "configure"
	OpExecute   = "execute"
	OpEditCfg   = "edit-config"
	OpGetCfg    = "get-config"
	OpGet       = "get"
)

// Timestamp categories.
const (
	CategoryStart = "start"
	CategoryEnd   = "end"
)

// RPCOK is the returns sentinel meaning "verify protocol success only".
const RPCOK DataID = "rpc-ok"

// Action is a single entry of test_actions. Fields are kind-specific; the
// builder validates that the required fields are set for each kind.
type Action struct {
	Kind     ActionKind `yaml:"action"`
	ActionID int        `yaml:"action_id,omitempty"`

	// Display only, no semantic effect.
	Banner string `yaml:"banner,omitempty"`
	Log    string `yaml:"log,omitempty"`

	Device  string `yaml:"device,omitempty"`
	Content DataID `yaml:"content,omitempty"`
	Returns DataID `yaml:"returns,omitempty"`

	// cli, yang
	Operation string `yaml:"operation,omitempty"`

	// yang
	Protocol  string `yaml:"protocol,omitempty"`
	Datastore string `yaml:"datastore,omitempty"`

	// sleep: seconds to suspend the calling branch
	Time float64 `yaml:"time,omitempty"`

	// timestamp
	Category  string `yaml:"category,omitempty"`
	Precision int    `yaml:"precision,omitempty"`
	Storage   string `yaml:"storage,omitempty"`

	// repeat
	Count    int    `yaml:"count,omitempty"`
	TestID   int    `yaml:"test_id,omitempty"`
	Subset   []int  `yaml:"test_actions,omitempty"`
	FileName string `yaml:"file_name,omitempty"`

	// combine, parallel
	Tests []SubsetRef `yaml:"tests,omitempty"`
}

// HasReturns reports whether the action declares an expected result.
// A missing or null returns value disables verification entirely.
func (a *Action) HasReturns() bool {
	return a.Returns != ""
}

// SubsetRef names a slice of another test's actions: the test is found by id
// (in file_name when set, otherwise the enclosing file) and test_actions
// lists the action ids to execute.
type SubsetRef struct {
	ID       int    `yaml:"id"`
	FileName string `yaml:"file_name,omitempty"`
	Subset   []int  `yaml:"test_actions"`
}

// DataID keys the data dictionary. YAML allows both integer and string keys;
// integers normalize to their decimal form so lookups are uniform.
type DataID string

// UnmarshalYAML implements yaml.Unmarshaler. Null decodes to the empty id,
// which callers treat as "not set".
func (d *DataID) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!null":
		*d = ""
	case "!!int", "!!str", "!!float":
		*d = DataID(value.Value)
	default:
		return fmt.Errorf("invalid data id (%s) at line %d", value.Tag, value.Line)
	}
	return nil
}

// EntryType identifies the shape of a data dictionary entry.
type EntryType string

const (
	TypeString    EntryType = "string"
	TypeXPath     EntryType = "xpath"
	TypeNamespace EntryType = "namespace"
	TypeOpFields  EntryType = "opfields"
	TypeReference EntryType = "reference"
)

// DataEntry is one entry of the data dictionary. The Type field selects which
// of the remaining fields are meaningful.
type DataEntry struct {
	Type EntryType

	// string: payload text per source. A bare scalar entry fills both.
	Content string
	Returns string

	// xpath
	Namespace NamespaceRef
	Nodes     []XPathNode

	// namespace: prefix -> URI
	Prefixes map[string]string

	// opfields: expected operational-state fields per source
	ContentFields []OpField
	ReturnsFields []OpField

	// reference indirection, possibly into another file
	DataID    DataID
	RefByUse  map[string]DataID
	RefTestID int
	RefFile   string
}

// entryDoc is the raw YAML shape of a typed data entry. The content and
// returns nodes stay undecoded because their shape depends on Type.
type entryDoc struct {
	Type     EntryType   `yaml:"type"`
	Content  yaml.Node   `yaml:"content"`
	Returns  yaml.Node   `yaml:"returns"`
	Ns       yaml.Node   `yaml:"namespace"`
	Nodes    []XPathNode `yaml:"nodes"`
	DataID   DataID      `yaml:"data_id"`
	TestID   int         `yaml:"test_id"`
	FileName string      `yaml:"file_name"`
}

// UnmarshalYAML implements yaml.Unmarshaler. Scalar entries become string
// entries serving both content and returns; mappings decode per their type.
func (e *DataEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		e.Type = TypeString
		e.Content = s
		e.Returns = s
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("data entry must be a scalar or mapping (line %d)", value.Line)
	}

	var doc entryDoc
	if err := value.Decode(&doc); err != nil {
		return err
	}
	if doc.Type == "" {
		doc.Type = TypeString
	}
	e.Type = doc.Type

	switch doc.Type {
	case TypeString:
		if err := decodeText(&doc.Content, &e.Content); err != nil {
			return fmt.Errorf("string entry content: %w", err)
		}
		if err := decodeText(&doc.Returns, &e.Returns); err != nil {
			return fmt.Errorf("string entry returns: %w", err)
		}
	case TypeXPath:
		e.Nodes = doc.Nodes
		if !doc.Ns.IsZero() {
			if err := e.Namespace.decode(&doc.Ns); err != nil {
				return err
			}
		}
	case TypeNamespace:
		if doc.Content.IsZero() {
			return fmt.Errorf("namespace entry missing content (line %d)", value.Line)
		}
		if err := doc.Content.Decode(&e.Prefixes); err != nil {
			return fmt.Errorf("namespace entry content: %w", err)
		}
	case TypeOpFields:
		if !doc.Content.IsZero() {
			if err := doc.Content.Decode(&e.ContentFields); err != nil {
				return fmt.Errorf("opfields entry content: %w", err)
			}
		}
		if !doc.Returns.IsZero() {
			if err := doc.Returns.Decode(&e.ReturnsFields); err != nil {
				return fmt.Errorf("opfields entry returns: %w", err)
			}
		}
	case TypeReference:
		e.DataID = doc.DataID
		e.RefTestID = doc.TestID
		e.RefFile = doc.FileName
		e.RefByUse = map[string]DataID{}
		if !doc.Content.IsZero() && doc.Content.Tag != "!!null" {
			var id DataID
			if err := doc.Content.Decode(&id); err != nil {
				return fmt.Errorf("reference entry content: %w", err)
			}
			e.RefByUse["content"] = id
		}
		if !doc.Returns.IsZero() && doc.Returns.Tag != "!!null" {
			var id DataID
			if err := doc.Returns.Decode(&id); err != nil {
				return fmt.Errorf("reference entry returns: %w", err)
			}
			e.RefByUse["returns"] = id
		}
	default:
		return fmt.Errorf("unknown data entry type %q (line %d)", doc.Type, value.Line)
	}
	return nil
}

// decodeText decodes a scalar node into s. Absent and null nodes leave s
// empty.
func decodeText(n *yaml.Node, s *string) error {
	if n.IsZero() || n.Tag == "!!null" {
		return nil
	}
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected scalar at line %d", n.Line)
	}
	*s = n.Value
	return nil
}

// NamespaceRef is either a data id pointing at a namespace entry or an
// inline prefix -> URI mapping.
type NamespaceRef struct {
	ID       DataID
	Prefixes map[string]string
}

// IsZero reports whether no namespace was given.
func (n *NamespaceRef) IsZero() bool {
	return n.ID == "" && n.Prefixes == nil
}

func (n *NamespaceRef) decode(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		return node.Decode(&n.Prefixes)
	}
	return node.Decode(&n.ID)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (n *NamespaceRef) UnmarshalYAML(value *yaml.Node) error {
	return n.decode(value)
}

// XPathNode is one element of a NETCONF edit or get request: a slash path,
// an optional value, and an operation. A node without a value is a query.
type XPathNode struct {
	NodeID string  `yaml:"node_id,omitempty"`
	XPath  string  `yaml:"xpath"`
	Value  *Scalar `yaml:"value,omitempty"`
	Op     string  `yaml:"op,omitempty"`
}

// HasValue reports whether the node carries an explicit value.
func (n *XPathNode) HasValue() bool {
	return n.Value != nil
}

// XPath node operations. An empty op merges.
const (
	NodeOpCreate = "create"
	NodeOpDelete = "delete"
	NodeOpGet    = "get"
	NodeOpMerge  = "merge"
)

// OpField is one expected operational-state field: the reply element it
// matches (xpath + name) and the check applied to its value.
type OpField struct {
	XPath    string `yaml:"xpath"`
	Name     string `yaml:"name"`
	Value    Scalar `yaml:"value"`
	Op       string `yaml:"op,omitempty"`
	Selected *bool  `yaml:"selected,omitempty"`
}

// IsSelected reports whether the field participates in matching.
func (f *OpField) IsSelected() bool {
	return f.Selected == nil || *f.Selected
}

// Operator returns the comparison operator, defaulting to equality.
func (f *OpField) Operator() string {
	if f.Op == "" {
		return "=="
	}
	return f.Op
}

// Scalar is a YAML scalar captured as its string form, so numeric and
// boolean values compare textually the way device output does.
type Scalar string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Scalar) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected scalar value at line %d", value.Line)
	}
	*s = Scalar(value.Value)
	return nil
}

func (s Scalar) String() string {
	return string(s)
}

// DataDict is the data dictionary of one spec: entries keyed by data id plus
// optional variable defaults under the reserved "variables" key.
type DataDict struct {
	Entries   map[DataID]*DataEntry
	Variables map[string]string
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *DataDict) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("data dictionary must be a mapping (line %d)", value.Line)
	}
	d.Entries = make(map[DataID]*DataEntry)
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode, valNode := value.Content[i], value.Content[i+1]

		if keyNode.Value == "variables" && keyNode.Tag == "!!str" {
			vars := map[string]Scalar{}
			if err := valNode.Decode(&vars); err != nil {
				return fmt.Errorf("variables block: %w", err)
			}
			d.Variables = make(map[string]string, len(vars))
			for k, v := range vars {
				d.Variables[k] = string(v)
			}
			continue
		}

		var id DataID
		if err := id.UnmarshalYAML(keyNode); err != nil {
			return err
		}
		if _, dup := d.Entries[id]; dup {
			return fmt.Errorf("duplicate data id %q (line %d)", id, keyNode.Line)
		}
		entry := &DataEntry{}
		if err := valNode.Decode(entry); err != nil {
			return fmt.Errorf("data id %q: %w", id, err)
		}
		d.Entries[id] = entry
	}
	return nil
}

// Entry returns the entry for id, or nil when absent.
func (d *DataDict) Entry(id DataID) *DataEntry {
	if d == nil || d.Entries == nil {
		return nil
	}
	return d.Entries[id]
}

// Lookup mirrors Entry with an ok flag.
func (d *DataDict) Lookup(id DataID) (*DataEntry, bool) {
	if d == nil || d.Entries == nil {
		return nil, false
	}
	e, ok := d.Entries[id]
	return e, ok
}
