package graph

import (
	"strconv"

	"github.com/awalterschulze/gographviz"
)

var dotShapes = map[NodeKind]string{
	NodeAction:   "box",
	NodeSequence: "ellipse",
	NodeRepeat:   "diamond",
	NodeParallel: "parallelogram",
}

// DOT renders the tree in Graphviz dot format, one node per tree node
// with edges in execution order.
func (t *Tree) DOT() (string, error) {
	g := gographviz.NewEscape()
	if err := g.SetName("actions"); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}
	if err := g.AddAttr("actions", "rankdir", "TB"); err != nil {
		return "", err
	}

	next := 0
	var walk func(n *Node) (string, error)
	walk = func(n *Node) (string, error) {
		id := "n" + strconv.Itoa(next)
		next++
		attrs := map[string]string{
			"label": dotLabel(n),
			"shape": dotShapes[n.Kind],
		}
		if err := g.AddNode("actions", id, attrs); err != nil {
			return "", err
		}
		for _, c := range n.Children {
			cid, err := walk(c)
			if err != nil {
				return "", err
			}
			if err := g.AddEdge(id, cid, true, nil); err != nil {
				return "", err
			}
		}
		return id, nil
	}
	if _, err := walk(t.Root); err != nil {
		return "", err
	}
	return g.String(), nil
}

func dotLabel(n *Node) string {
	if n.Label == "" {
		return n.Kind.String()
	}
	return n.Label
}
