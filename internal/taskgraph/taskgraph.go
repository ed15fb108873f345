// Package taskgraph compiles a flat list of tasks plus a TaskScope into a
// topologically sorted, fingerprinted dependency graph: the structure the
// runtime orchestrator walks to decide what needs (re-)computing.
//
// Construction is grounded directly on the upstream TaskGraph::new
// algorithm: build one graph node per task, resolve every task's
// input_vars through the TaskScope to find producer edges (eliding
// self-dependencies), topologically sort, then compute two fingerprints
// per node. One upstream detail is deliberately NOT carried over: the
// original's id-fingerprint application step builds its fingerprint slice
// with a lazy iterator adapter (`.iter_mut().zip(...).map(...)`) and never
// forces it, so the computed fingerprints are silently discarded and every
// node keeps fingerprint 0. This package applies them with a plain loop.
package taskgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MarcoGorelli/vegafusion/internal/diagnostics"
	"github.com/MarcoGorelli/vegafusion/internal/fingerprint"
	"github.com/MarcoGorelli/vegafusion/internal/task"
	"github.com/MarcoGorelli/vegafusion/internal/taskscope"
	"github.com/MarcoGorelli/vegafusion/internal/variable"
)

// IncomingEdge records, for one position in a node's task.InputVars()
// order, which topologically-sorted node index produces the value and -
// when the producer is addressed through its named outputs rather than its
// own ScopedVar - which of that producer's OutputVars() position to take.
type IncomingEdge struct {
	SourceIndex int
	OutputIndex *int
}

// OutgoingEdge points at a downstream consumer. Propagate is always
// recorded as true, mirroring the upstream implementation: the consumer's
// InputVar.Propagate flag is not carried onto any edge, and the runtime
// does not consult Propagate when deciding what to re-evaluate.
type OutgoingEdge struct {
	TargetIndex int
	Propagate   bool
}

// Node is one compiled, topologically-positioned task plus its edges and
// fingerprints.
type Node struct {
	Task             task.Task
	Incoming         []IncomingEdge
	Outgoing         []OutgoingEdge
	IDFingerprint    uint64
	StateFingerprint uint64
}

// TaskGraph is an immutable, topologically sorted dependency graph over a
// set of tasks. Once built it may be shared freely across goroutines;
// mutating methods (UpdateStateFingerprints) take a pointer receiver only
// because they write fingerprint fields in place, not because concurrent
// callers are expected.
type TaskGraph struct {
	nodes []Node
}

type edgeRecord struct {
	sourceOrigIndex int
	outputVar       *variable.Variable
}

// New compiles tasks into a TaskGraph, resolving every dependency through
// scope. Tasks must be keyed uniquely by ScopedVar; resolving an unknown
// variable, finding a cycle, or failing to locate a named output are all
// reported as diagnostics.Error.
func New(tasks []task.Task, scope *taskscope.TaskScope) (*TaskGraph, error) {
	n := len(tasks)
	indexOf := make(map[variable.ScopedKey]int, n)
	for i, t := range tasks {
		key := t.ScopedVar().Key()
		if _, exists := indexOf[key]; exists {
			return nil, diagnostics.InternalErrorf("duplicate task for variable %s", t.ScopedVar())
		}
		indexOf[key] = i
	}

	incomingByTask := make([][]edgeRecord, n)
	outgoingByTask := make([][]int, n)

	for consumerIndex, consumer := range tasks {
		for _, inputVar := range consumer.InputVars() {
			resolved, err := scope.Resolve(inputVar.Var, consumer.Scope)
			if err != nil {
				return nil, err
			}
			producerVar := resolved.Var
			if resolved.OutputVar != nil {
				// The compound "dataset:signal" form resolves to a
				// Signal-namespaced variable naming the dataset+output
				// pair, but the producer node is keyed by the dataset's
				// own ScopedVar.
				producerVar = variable.MustNew(variable.Data, datasetNameOf(resolved.Var.Name))
			}
			key := variable.NewScoped(producerVar, resolved.Scope).Key()
			producerIndex, ok := indexOf[key]
			if !ok {
				return nil, diagnostics.InternalErrorf(
					"no task produces variable %s at scope %s", producerVar, resolved.Scope)
			}
			if producerIndex == consumerIndex {
				// Self-dependency: handled internally to the task, not as
				// a graph edge.
				continue
			}
			incomingByTask[consumerIndex] = append(incomingByTask[consumerIndex], edgeRecord{
				sourceOrigIndex: producerIndex,
				outputVar:       resolved.OutputVar,
			})
			outgoingByTask[producerIndex] = append(outgoingByTask[producerIndex], consumerIndex)
		}
	}

	order, err := topoSort(n, incomingByTask)
	if err != nil {
		return nil, err
	}
	origToSorted := make([]int, n)
	for sortedPos, origIndex := range order {
		origToSorted[origIndex] = sortedPos
	}

	nodes := make([]Node, n)
	for sortedPos, origIndex := range order {
		t := tasks[origIndex]

		incoming := make([]IncomingEdge, 0, len(incomingByTask[origIndex]))
		for _, rec := range incomingByTask[origIndex] {
			edge := IncomingEdge{SourceIndex: origToSorted[rec.sourceOrigIndex]}
			if rec.outputVar != nil {
				producerTask := tasks[rec.sourceOrigIndex]
				outputs := producerTask.OutputVars()
				pos := -1
				for i, ov := range outputs {
					if ov == *rec.outputVar {
						pos = i
						break
					}
				}
				if pos < 0 {
					return nil, diagnostics.InternalErrorf(
						"producer %s has no output variable %s", producerTask.ScopedVar(), *rec.outputVar)
				}
				incoming = append(incoming, IncomingEdge{SourceIndex: edge.SourceIndex, OutputIndex: &pos})
				continue
			}
			incoming = append(incoming, edge)
		}

		outgoing := make([]OutgoingEdge, 0, len(outgoingByTask[origIndex]))
		for _, targetOrig := range outgoingByTask[origIndex] {
			outgoing = append(outgoing, OutgoingEdge{TargetIndex: origToSorted[targetOrig], Propagate: true})
		}

		nodes[sortedPos] = Node{Task: t, Incoming: incoming, Outgoing: outgoing}
	}

	g := &TaskGraph{nodes: nodes}
	g.initIdentityFingerprints()
	g.UpdateStateFingerprints()
	return g, nil
}

func datasetNameOf(compoundName string) string {
	if i := strings.IndexByte(compoundName, ':'); i >= 0 {
		return compoundName[:i]
	}
	return compoundName
}

// topoSort runs Kahn's algorithm over the graph implied by incomingByTask
// (parent indices per node), processing ready nodes in ascending original
// index order so that the result is deterministic given the same input
// task list - required for fingerprints to match across processes.
func topoSort(n int, incomingByTask [][]edgeRecord) ([]int, error) {
	indegree := make([]int, n)
	children := make([][]int, n)
	for consumer, edges := range incomingByTask {
		indegree[consumer] = len(edges)
		for _, e := range edges {
			children[e.sourceOrigIndex] = append(children[e.sourceOrigIndex], consumer)
		}
	}

	remaining := indegree
	processed := make([]bool, n)
	order := make([]int, 0, n)

	for len(order) < n {
		progressed := false
		for i := 0; i < n; i++ {
			if processed[i] || remaining[i] != 0 {
				continue
			}
			processed[i] = true
			order = append(order, i)
			progressed = true
			for _, child := range children[i] {
				remaining[child]--
			}
		}
		if !progressed {
			return nil, diagnostics.InternalErrorf("failed to sort dependency graph topologically: %s", describeCycle(processed, n))
		}
	}
	return order, nil
}

func describeCycle(processed []bool, n int) string {
	var stuck []string
	for i := 0; i < n; i++ {
		if !processed[i] {
			stuck = append(stuck, fmt.Sprintf("task#%d", i))
		}
	}
	sort.Strings(stuck)
	return "cycle among " + strings.Join(stuck, ", ")
}

func (g *TaskGraph) initIdentityFingerprints() {
	ids := make([]uint64, len(g.nodes))
	for i, node := range g.nodes {
		h := fingerprint.New()
		if value, ok := node.Task.AsValue(); ok {
			// Only the distinction between scalar and table is hashed;
			// the payload itself belongs to state_fingerprint.
			node.Task.Var.WriteTo(h)
			node.Task.Scope.WriteTo(h)
			h.WriteTag(value.Kind.String())
		} else {
			for _, edge := range node.Incoming {
				h.WriteFingerprint(ids[edge.SourceIndex])
			}
			node.Task.WriteTo(h)
		}
		ids[i] = h.Sum()
	}
	for i := range g.nodes {
		g.nodes[i].IDFingerprint = ids[i]
	}
}

// UpdateStateFingerprints recomputes every node's state_fingerprint in
// topological order and returns the indices whose fingerprint changed -
// the set of nodes the runtime must re-evaluate. Calling it again after no
// Value payloads have changed is a no-op (returns nil).
func (g *TaskGraph) UpdateStateFingerprints() []int {
	states := make([]uint64, len(g.nodes))
	for i, node := range g.nodes {
		h := fingerprint.New()
		if value, ok := node.Task.AsValue(); ok {
			h.WriteTag(node.Task.Kind.String())
			node.Task.Var.WriteTo(h)
			node.Task.Scope.WriteTo(h)
			value.WriteTo(h)
		} else {
			for _, edge := range node.Incoming {
				h.WriteFingerprint(states[edge.SourceIndex])
			}
			h.WriteFingerprint(node.IDFingerprint)
		}
		states[i] = h.Sum()
	}

	var updated []int
	for i := range g.nodes {
		if g.nodes[i].StateFingerprint != states[i] {
			g.nodes[i].StateFingerprint = states[i]
			updated = append(updated, i)
		}
	}
	return updated
}

// NumNodes returns the number of nodes in the graph.
func (g *TaskGraph) NumNodes() int { return len(g.nodes) }

// Node returns the node at the given topologically-sorted index.
func (g *TaskGraph) Node(index int) (Node, error) {
	if index < 0 || index >= len(g.nodes) {
		return Node{}, diagnostics.InternalErrorf("node index %d out of bounds (have %d nodes)", index, len(g.nodes))
	}
	return g.nodes[index], nil
}

// ParentIndices returns the sorted indices of index's direct parents.
func (g *TaskGraph) ParentIndices(index int) ([]int, error) {
	node, err := g.Node(index)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(node.Incoming))
	for i, e := range node.Incoming {
		out[i] = e.SourceIndex
	}
	return out, nil
}

// ParentNodes returns index's direct parent nodes.
func (g *TaskGraph) ParentNodes(index int) ([]Node, error) {
	indices, err := g.ParentIndices(index)
	if err != nil {
		return nil, err
	}
	out := make([]Node, len(indices))
	for i, pi := range indices {
		out[i] = g.nodes[pi]
	}
	return out, nil
}

// ChildIndices returns the sorted indices of index's direct children.
func (g *TaskGraph) ChildIndices(index int) ([]int, error) {
	node, err := g.Node(index)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(node.Outgoing))
	for i, e := range node.Outgoing {
		out[i] = e.TargetIndex
	}
	return out, nil
}

// ChildNodes returns index's direct child nodes.
func (g *TaskGraph) ChildNodes(index int) ([]Node, error) {
	indices, err := g.ChildIndices(index)
	if err != nil {
		return nil, err
	}
	out := make([]Node, len(indices))
	for i, ci := range indices {
		out[i] = g.nodes[ci]
	}
	return out, nil
}
