// Package taskscope builds the symbol table a chart spec's tasks resolve
// their free variables against: for every (namespace, name) a task
// references, which enclosing scope declared it, and - for the
// "datasetA:my_extent" compound syntax - which of that dataset's
// transforms produced the named output.
//
// The table is built once per (server or client) spec by walking it with
// chartspec.Walk and is immutable afterwards; resolution never mutates it,
// so a single TaskScope can be shared (read-only) across the goroutines the
// runtime evaluator spins up to resolve a task's ancestors concurrently.
package taskscope

import (
	"strings"

	"github.com/xlab/treeprint"

	"github.com/MarcoGorelli/vegafusion/internal/chartspec"
	"github.com/MarcoGorelli/vegafusion/internal/diagnostics"
	"github.com/MarcoGorelli/vegafusion/internal/variable"
)

// scopeNode holds the declarations made directly at one scope level -
// not those of its ancestors or descendants.
type scopeNode struct {
	declared    [3]map[string]bool          // indexed by variable.Namespace
	dataOutputs map[string]map[string]bool  // dataset name -> set of data-derived signal names
}

func newScopeNode() *scopeNode {
	return &scopeNode{
		declared: [3]map[string]bool{
			variable.Signal: {},
			variable.Scale:  {},
			variable.Data:   {},
		},
		dataOutputs: map[string]map[string]bool{},
	}
}

// TaskScope is the full symbol table for one chart spec.
type TaskScope struct {
	nodes map[string]*scopeNode // keyed by variable.Scope.String()
}

func (ts *TaskScope) nodeAt(scope variable.Scope) *scopeNode {
	return ts.nodes[scope.String()]
}

func (ts *TaskScope) getOrCreate(scope variable.Scope) *scopeNode {
	key := scope.String()
	n, ok := ts.nodes[key]
	if !ok {
		n = newScopeNode()
		ts.nodes[key] = n
	}
	return n
}

// builder is the chartspec.Visitor that populates a TaskScope by walking a
// spec exactly once.
type builder struct {
	chartspec.NoopVisitor
	ts *TaskScope
}

func (b *builder) VisitData(d *chartspec.DataSpec, scope variable.Scope) {
	n := b.ts.getOrCreate(scope)
	n.declared[variable.Data][d.Name] = true
	for _, tr := range d.Transform {
		if tr.Type == chartspec.TransformTypeExtent && tr.Extent != nil {
			outputs, ok := n.dataOutputs[d.Name]
			if !ok {
				outputs = map[string]bool{}
				n.dataOutputs[d.Name] = outputs
			}
			outputs[tr.Extent.Signal] = true
		}
	}
}

func (b *builder) VisitSignal(s *chartspec.SignalSpec, scope variable.Scope) {
	b.ts.getOrCreate(scope).declared[variable.Signal][s.Name] = true
}

func (b *builder) VisitScale(s *chartspec.ScaleSpec, scope variable.Scope) {
	b.ts.getOrCreate(scope).declared[variable.Scale][s.Name] = true
}

// Build walks spec and returns the TaskScope describing every declaration
// it contains, keyed by the scope Walk assigns it.
func Build(spec *chartspec.ChartSpec) *TaskScope {
	ts := &TaskScope{nodes: map[string]*scopeNode{}}
	ts.getOrCreate(nil) // the root scope always exists, even if empty
	chartspec.Walk(spec, &builder{ts: ts})
	return ts
}

// Resolved is the result of resolving a variable reference from some usage
// scope: the (possibly rewritten) variable, the scope at which it was
// declared, and - for a compound "dataset:signal" reference - the specific
// data-derived output it addresses.
type Resolved struct {
	Var       variable.Variable
	Scope     variable.Scope
	OutputVar *variable.Variable
}

// Resolve implements resolve_scope: starting at usageScope, it walks
// outward toward the root looking for the innermost enclosing declaration
// of v. If v.Name contains ':', it is first split into a dataset name and
// a data-derived signal name (see the "datasetA:my_extent" syntax produced
// by package exprs); the dataset half is resolved normally, and if the
// resolved scope also exposes the named output, Resolved.OutputVar records
// it.
func (ts *TaskScope) Resolve(v variable.Variable, usageScope variable.Scope) (Resolved, error) {
	if dataName, signalName, ok := splitCompound(v.Name); ok {
		dataVar := variable.MustNew(variable.Data, dataName)
		resolved, err := ts.resolvePlain(dataVar, usageScope)
		if err != nil {
			return Resolved{}, err
		}
		node := ts.nodeAt(resolved.Scope)
		if node != nil && node.dataOutputs[dataName][signalName] {
			out := variable.MustNew(variable.Signal, signalName)
			return Resolved{
				Var:       variable.Variable{Namespace: variable.Signal, Name: dataName + ":" + signalName},
				Scope:     resolved.Scope,
				OutputVar: &out,
			}, nil
		}
		return Resolved{}, diagnostics.UnknownVariablef(
			"dataset %q at scope %s does not expose data-derived output %q", dataName, resolved.Scope, signalName)
	}
	return ts.resolvePlain(v, usageScope)
}

func splitCompound(name string) (dataName, signalName string, ok bool) {
	i := strings.IndexByte(name, ':')
	if i < 0 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

func (ts *TaskScope) resolvePlain(v variable.Variable, usageScope variable.Scope) (Resolved, error) {
	for depth := len(usageScope); depth >= 0; depth-- {
		candidate := usageScope[:depth]
		node := ts.nodeAt(candidate)
		if node == nil {
			continue
		}
		if node.declared[v.Namespace][v.Name] {
			return Resolved{Var: v, Scope: candidate}, nil
		}
	}
	return Resolved{}, diagnostics.UnknownVariablef(
		"undefined variable %s referenced from scope %s", v, usageScope)
}

// Dump renders the scope tree as an indented tree for debugging, listing
// the root and each reachable child scope along with its declared names.
// Scope nodes exist only where a declaration was made, and children are
// found by probing group indices 0, 1, 2, ... until the first index with no
// node, so a group mark that declares nothing itself is not shown, nor are
// its later sibling groups or anything nested inside it.
func (ts *TaskScope) Dump() string {
	tree := treeprint.New()
	tree.SetValue("(root)")
	ts.addChildren(tree, nil)
	return tree.String()
}

func (ts *TaskScope) addChildren(parent treeprint.Tree, scope variable.Scope) {
	node := ts.nodeAt(scope)
	if node != nil {
		for ns, names := range node.declared {
			for name := range names {
				parent.AddNode(variable.Namespace(ns).String() + " " + name)
			}
		}
	}
	// Discover direct children by probing child indices in order; nodes are
	// only created where a declaration exists.
	childIndex := uint32(0)
	for {
		child := scope.Child(childIndex)
		if _, ok := ts.nodes[child.String()]; !ok {
			// No lookahead: the scan ends at the first index with no
			// node, even if a later sibling group has declarations.
			break
		}
		branch := tree(parent, child)
		ts.addChildren(branch, child)
		childIndex++
	}
}

func tree(parent treeprint.Tree, scope variable.Scope) treeprint.Tree {
	return parent.AddBranch(scope.String())
}
