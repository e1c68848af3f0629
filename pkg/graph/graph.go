// Package graph builds the executable tree for a TestSpec: every action
// validated against its kind's requirements, repeat/combine/parallel subsets
// expanded into nested subtrees, and cross-file references loaded into a
// dependency DAG. Execution never touches a file or discovers a dangling
// reference after Build returns.
package graph

import (
	"fmt"

	"github.com/miott/specrun/pkg/data"
	"github.com/miott/specrun/pkg/spec"
)

// NodeKind discriminates executable tree nodes.
type NodeKind int

const (
	// NodeAction is a leaf: cli, yang, sleep, or timestamp.
	NodeAction NodeKind = iota
	// NodeSequence runs children strictly in order, aborting on failure.
	NodeSequence
	// NodeRepeat runs its single Sequence child Count times.
	NodeRepeat
	// NodeParallel runs each child as an independent concurrent branch.
	NodeParallel
)

func (k NodeKind) String() string {
	switch k {
	case NodeAction:
		return "action"
	case NodeSequence:
		return "sequence"
	case NodeRepeat:
		return "repeat"
	case NodeParallel:
		return "parallel"
	default:
		return "unknown"
	}
}

// Node is one executable tree node. Leaves carry the action plus the unit
// whose data store and device set resolve it; containers carry children.
type Node struct {
	Kind     NodeKind
	Label    string
	Children []*Node

	// Leaf fields.
	Action   *spec.Action
	Unit     *Unit
	Position int // index into the owning spec's test_actions

	// Repeat fields.
	Count int
}

// Unit is one loaded TestSpec with its data store. Subsets expanded from
// another file execute against that file's unit, not the root's.
type Unit struct {
	Spec  *spec.TestSpec
	Store *data.Store
}

// Key identifies a unit among all loaded specs.
func (u *Unit) Key() string {
	return fmt.Sprintf("%s#%d", u.Spec.File, u.Spec.TestID)
}

// Tree is the built, validated form of one TestSpec run.
type Tree struct {
	Root *Node
	Unit *Unit

	// Units indexes every spec unit the tree references, root included.
	Units map[string]*Unit

	// Variables holds the root dictionary's defaults. Run-time overrides
	// layer on top via data.MergeVariables.
	Variables map[string]string
}

// Walk visits every node depth-first, parents before children.
func (t *Tree) Walk(fn func(n *Node)) {
	var visit func(n *Node)
	visit = func(n *Node) {
		fn(n)
		for _, c := range n.Children {
			visit(c)
		}
	}
	visit(t.Root)
}

// Actions returns all leaf nodes in tree order.
func (t *Tree) Actions() []*Node {
	var leaves []*Node
	t.Walk(func(n *Node) {
		if n.Kind == NodeAction {
			leaves = append(leaves, n)
		}
	})
	return leaves
}

// Invocations counts the leaf executions a full run of the tree dispatches:
// a repeat body contributes Count times its children, so the figure matches
// what progress output will number.
func (t *Tree) Invocations() int {
	return t.Root.Invocations()
}

// Invocations counts the leaf executions under n.
func (n *Node) Invocations() int {
	if n.Kind == NodeAction {
		return 1
	}
	sum := 0
	for _, c := range n.Children {
		sum += c.Invocations()
	}
	if n.Kind == NodeRepeat {
		sum *= n.Count
	}
	return sum
}

// leafLabel names an action node for progress output and DOT export.
func leafLabel(a *spec.Action) string {
	switch a.Kind {
	case spec.KindCLI:
		return fmt.Sprintf("cli %s @%s", a.Operation, a.Device)
	case spec.KindYang:
		return fmt.Sprintf("yang %s @%s", a.Operation, a.Device)
	case spec.KindSleep:
		return fmt.Sprintf("sleep %gs", a.Time)
	case spec.KindTimestamp:
		return fmt.Sprintf("timestamp %s %s", a.Category, a.Storage)
	default:
		return string(a.Kind)
	}
}
