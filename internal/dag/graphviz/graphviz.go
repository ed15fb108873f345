// Package graphviz renders a taskgraph.TaskGraph as Graphviz "dot" language,
// for debugging and documentation - the same job OpenTofu's own
// internal/dag/graphviz package does for its configuration graph. The
// attribute/value quoting discipline (Attributes, Value, Val, quoteForGraphviz)
// is carried over from that package nearly verbatim, since it has nothing to
// do with OpenTofu's graph type and everything to do with producing valid,
// deterministic dot output; the graph-walking half is written fresh against
// taskgraph.TaskGraph's own accessor API instead of dag.Graph/dag.Hashable,
// which this module has no equivalent of and no use for beyond this one
// renderer.
package graphviz

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"regexp"

	"github.com/MarcoGorelli/vegafusion/internal/diagnostics"
	"github.com/MarcoGorelli/vegafusion/internal/task"
	"github.com/MarcoGorelli/vegafusion/internal/taskgraph"
)

// Attributes is a set of Graphviz node/graph attributes, keyed by name.
type Attributes = map[string]Value

// Value is anything that can render itself as a Graphviz attribute value.
type Value interface {
	asAttributeValue() string
}

// Val converts a plain string, int, or PrequotedValue into a Value.
func Val[T interface{ string | int | PrequotedValue }](from T) Value {
	switch from := any(from).(type) {
	case string:
		return stringValue(from)
	case int:
		return stringValue(strconv.Itoa(from))
	case PrequotedValue:
		return from
	default:
		panic("unreachable")
	}
}

type stringValue string

func (s stringValue) asAttributeValue() string { return quoteForGraphviz(string(s)) }

// PrequotedValue is inserted into dot output verbatim, for callers that have
// already prepared a value needing Graphviz's extra escape sequences.
type PrequotedValue string

func (s PrequotedValue) asAttributeValue() string { return string(s) }

var validUnquoteID = regexp.MustCompile(`^[a-zA-Z\200-\377_][a-zA-Z0-9\200-\377_]*$`)

func quoteForGraphviz(s string) string {
	if validUnquoteID.MatchString(s) && s != "node" && s != "edge" {
		return s
	}
	var buf strings.Builder
	buf.WriteByte('"')
	for _, c := range s {
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		default:
			buf.WriteRune(c)
		}
	}
	buf.WriteByte('"')
	return buf.String()
}

func writeAttrList(a Attributes, w *bufio.Writer) error {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	slices.Sort(names)
	for i, name := range names {
		if i != 0 {
			if _, err := w.WriteString(", "); err != nil {
				return err
			}
		}
		if _, err := w.WriteString(quoteForGraphviz(name)); err != nil {
			return err
		}
		if err := w.WriteByte('='); err != nil {
			return err
		}
		if _, err := w.WriteString(a[name].asAttributeValue()); err != nil {
			return err
		}
	}
	return nil
}

// nodeID is the dot identifier assigned to a task graph node: its scoped
// variable rendered as "namespace(name)@[scope]", which is unique by
// construction (TaskGraph rejects duplicate scoped variables at build time).
func nodeID(n taskgraph.Node) string {
	return n.Task.ScopedVar().String()
}

func nodeAttrs(n taskgraph.Node) Attributes {
	attrs := Attributes{
		"label": Val(fmt.Sprintf("%s\\n%s", n.Task.ScopedVar(), n.Task.Kind)),
		"shape": Val(shapeFor(n.Task.Kind)),
	}
	return attrs
}

func shapeFor(kind task.Kind) string {
	if kind == task.Value {
		return "ellipse"
	}
	return "box"
}

// WriteDot renders g as a Graphviz directed graph on w, with nodes and edges
// emitted in a fixed, sorted order so that the output is byte-identical
// across runs over the same graph - useful both for diffing in tests and
// for not turning every rebuild into a spurious git change when checked in.
func WriteDot(g *taskgraph.TaskGraph, w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("digraph {\n"); err != nil {
		return err
	}

	type renderNode struct {
		index int
		id    string
		attrs Attributes
	}
	nodes := make([]renderNode, 0, g.NumNodes())
	for i := 0; i < g.NumNodes(); i++ {
		n, err := g.Node(i)
		if err != nil {
			return diagnostics.InternalErrorf("rendering graphviz: %v", err)
		}
		nodes = append(nodes, renderNode{index: i, id: nodeID(n), attrs: nodeAttrs(n)})
	}
	slices.SortFunc(nodes, func(a, b renderNode) int { return cmp.Compare(a.id, b.id) })

	for _, n := range nodes {
		if _, err := bw.WriteString("  " + quoteForGraphviz(n.id)); err != nil {
			return err
		}
		if len(n.attrs) > 0 {
			if _, err := bw.WriteString(" ["); err != nil {
				return err
			}
			if err := writeAttrList(n.attrs, bw); err != nil {
				return err
			}
			if _, err := bw.WriteString("]"); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString(";\n"); err != nil {
			return err
		}
	}

	type renderEdge struct{ src, dst string }
	var edges []renderEdge
	for i := 0; i < g.NumNodes(); i++ {
		n, err := g.Node(i)
		if err != nil {
			return diagnostics.InternalErrorf("rendering graphviz: %v", err)
		}
		for _, out := range n.Outgoing {
			dst, err := g.Node(out.TargetIndex)
			if err != nil {
				return err
			}
			edges = append(edges, renderEdge{src: nodeID(n), dst: nodeID(dst)})
		}
	}
	slices.SortFunc(edges, func(a, b renderEdge) int {
		if c := cmp.Compare(a.src, b.src); c != 0 {
			return c
		}
		return cmp.Compare(a.dst, b.dst)
	})
	for _, e := range edges {
		if _, err := bw.WriteString("  " + quoteForGraphviz(e.src) + " -> " + quoteForGraphviz(e.dst) + ";\n"); err != nil {
			return err
		}
	}

	if _, err := bw.WriteString("}\n"); err != nil {
		return err
	}
	return bw.Flush()
}
