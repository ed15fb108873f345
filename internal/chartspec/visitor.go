package chartspec

import "github.com/MarcoGorelli/vegafusion/internal/variable"

// Visitor receives one callback per node as Walk traverses a ChartSpec.
// Every method has a default no-op implementation on NoopVisitor, so a
// caller that only cares about, say, scales can embed NoopVisitor and
// override VisitScale alone - the same "small interface, embed the default"
// shape the rest of this module uses in place of Rust's default trait
// methods.
//
// ChartVisitor and MutChartVisitor are both aliases of Visitor. The
// upstream implementation this traversal is modeled on splits them into
// two traits because Rust's borrow checker needs &self versus &mut self to
// be distinct types; every node here is already handed to visitors as a
// pointer, so Go has no equivalent need for two method sets. The alias
// names are kept so that call sites can say which intent a given pass has
// (Walk for read-only inspection, WalkMut for passes that mean to mutate
// the nodes they're handed) even though the compiler doesn't distinguish
// them.
type Visitor interface {
	VisitData(d *DataSpec, scope variable.Scope)
	VisitSignal(s *SignalSpec, scope variable.Scope)
	VisitScale(s *ScaleSpec, scope variable.Scope)
	VisitAxis(a *AxisSpec, scope variable.Scope)
	VisitGroupMark(m *MarkSpec, scope variable.Scope)
	VisitNonGroupMark(m *MarkSpec, scope variable.Scope)
}

// ChartVisitor is used by Walk: a pass that only inspects a spec.
type ChartVisitor = Visitor

// MutChartVisitor is used by WalkMut: a pass that may mutate the nodes it
// is handed (e.g. appending a transform to a DataSpec, or rewriting a
// signal's Update expression).
type MutChartVisitor = Visitor

// NoopVisitor implements Visitor with every method a no-op. Embed it by
// value in a concrete visitor type and override only the methods that
// visitor needs.
type NoopVisitor struct{}

func (NoopVisitor) VisitData(*DataSpec, variable.Scope)         {}
func (NoopVisitor) VisitSignal(*SignalSpec, variable.Scope)     {}
func (NoopVisitor) VisitScale(*ScaleSpec, variable.Scope)       {}
func (NoopVisitor) VisitAxis(*AxisSpec, variable.Scope)         {}
func (NoopVisitor) VisitGroupMark(*MarkSpec, variable.Scope)    {}
func (NoopVisitor) VisitNonGroupMark(*MarkSpec, variable.Scope) {}

// Walk traverses spec in the fixed order the rest of this module depends
// on for scope assignment: at every level of nesting, all of that level's
// data entries, then its scales, then its axes, then its signals, and
// finally its marks in document order. A group mark both receives its own
// VisitGroupMark callback at its parent's scope and introduces a new,
// deeper scope for everything nested inside it; a non-group mark is
// visited at its parent's scope and has no children. The index appended to
// a child scope counts only group marks at that level - two adjacent
// non-group marks between two groups do not consume a scope index.
func Walk(spec *ChartSpec, v ChartVisitor) {
	walkLevel(v, nil, spec.Data, spec.Scales, spec.Axes, spec.Signals, spec.Marks)
}

// WalkMut is Walk for a pass that intends to mutate the nodes it visits.
func WalkMut(spec *ChartSpec, v MutChartVisitor) {
	walkLevel(v, nil, spec.Data, spec.Scales, spec.Axes, spec.Signals, spec.Marks)
}

func walkLevel(
	v Visitor,
	scope variable.Scope,
	data []*DataSpec,
	scales []*ScaleSpec,
	axes []*AxisSpec,
	signals []*SignalSpec,
	marks []*MarkSpec,
) {
	for _, d := range data {
		v.VisitData(d, scope)
	}
	for _, s := range scales {
		v.VisitScale(s, scope)
	}
	for _, a := range axes {
		v.VisitAxis(a, scope)
	}
	for _, s := range signals {
		v.VisitSignal(s, scope)
	}

	var groupIndex uint32
	for _, m := range marks {
		if m.IsGroup() {
			v.VisitGroupMark(m, scope)
			childScope := scope.Child(groupIndex)
			groupIndex++
			walkLevel(v, childScope, m.Data, m.Scales, m.Axes, m.Signals, m.Marks)
		} else {
			v.VisitNonGroupMark(m, scope)
		}
	}
}

// GetGroupMut returns the top-level group mark at index groupIndex among
// spec's marks (counting only group marks, matching the index Walk would
// have assigned it as a child scope), or nil if there is no such group.
func GetGroupMut(spec *ChartSpec, groupIndex uint32) *MarkSpec {
	return getGroupAt(spec.Marks, groupIndex)
}

// GetNestedGroupMut resolves scope to the MarkSpec of the group mark it
// addresses, descending one group index per element of scope starting
// from spec's top-level marks. It returns nil if scope does not address an
// existing group mark (e.g. an index past the number of group marks at
// some level).
func GetNestedGroupMut(spec *ChartSpec, scope variable.Scope) *MarkSpec {
	marks := spec.Marks
	var group *MarkSpec
	for _, idx := range scope {
		group = getGroupAt(marks, idx)
		if group == nil {
			return nil
		}
		marks = group.Marks
	}
	return group
}

func getGroupAt(marks []*MarkSpec, groupIndex uint32) *MarkSpec {
	var i uint32
	for _, m := range marks {
		if !m.IsGroup() {
			continue
		}
		if i == groupIndex {
			return m
		}
		i++
	}
	return nil
}
