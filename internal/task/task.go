// Package task defines the executable unit the planner's output compiles
// down to: a Task is a tagged variant over the handful of things a node in
// the task graph can do (hold a literal value, scan a URL, run a transform
// pipeline, evaluate a signal expression, or hold inline data), plus the
// derived input/output variable views that package taskgraph needs to wire
// edges between tasks.
//
// This package does not execute anything - running a transform pipeline or
// fetching a URL is the runtime orchestrator's job (package runtime),
// talking to the external TransformExecutor. Task only knows how to
// describe what to do and what it depends on.
package task

import (
	"encoding/json"
	"sort"

	"github.com/zclconf/go-cty/cty"

	"github.com/MarcoGorelli/vegafusion/internal/chartspec"
	"github.com/MarcoGorelli/vegafusion/internal/diagnostics"
	"github.com/MarcoGorelli/vegafusion/internal/exprs"
	"github.com/MarcoGorelli/vegafusion/internal/fingerprint"
	"github.com/MarcoGorelli/vegafusion/internal/variable"
)

// Kind tags which variant of Task this is.
type Kind int

const (
	// Value holds a literal, already-computed TaskValue - the base case a
	// task graph bottoms out at.
	Value Kind = iota
	// ScanUrl scans a remote (or signal-parameterized) URL into a dataset.
	ScanUrl
	// Transforms runs a transform pipeline over another dataset.
	Transforms
	// Signal evaluates an expression to produce a scalar.
	Signal
	// DataValues holds dataset rows supplied inline in the spec.
	DataValues
	// DataUrl scans a literal, non-parameterized URL - the common case
	// that doesn't need ScanUrl's signal-driven indirection.
	DataUrl
)

func (k Kind) String() string {
	switch k {
	case Value:
		return "value"
	case ScanUrl:
		return "scan_url"
	case Transforms:
		return "transforms"
	case Signal:
		return "signal"
	case DataValues:
		return "data_values"
	case DataUrl:
		return "data_url"
	default:
		return "unknown"
	}
}

// ValueKind tags which shape a TaskValue takes.
type ValueKind int

const (
	// ScalarValue holds a single cty.Value.
	ScalarValue ValueKind = iota
	// TableValue holds an opaque DataTable handed to/from the transform
	// executor.
	TableValue
)

func (k ValueKind) String() string {
	if k == TableValue {
		return "table"
	}
	return "scalar"
}

// DataTable is the opaque handle this package stores for tabular data. The
// task model itself never inspects table contents beyond two capabilities:
// feeding a stable representation of them into the deterministic hasher (for
// state_fingerprint), and recovering them as plain JSON rows when a
// pre_transform_spec caller needs to inline a computed dataset directly into
// a reduced client spec. Everything else about a table is the external
// TransformExecutor's concern; its concrete table type implements this.
type DataTable interface {
	WriteTo(h *fingerprint.Hasher)
	Rows() []json.RawMessage
}

// TaskValue is the tagged union a Value task holds and every other kind of
// task ultimately produces at evaluation time.
type TaskValue struct {
	Kind   ValueKind
	Scalar cty.Value
	Table  DataTable
}

// NewScalarValue builds a TaskValue wrapping a scalar.
func NewScalarValue(v cty.Value) TaskValue {
	return TaskValue{Kind: ScalarValue, Scalar: v}
}

// NewTableValue builds a TaskValue wrapping a table.
func NewTableValue(t DataTable) TaskValue {
	return TaskValue{Kind: TableValue, Table: t}
}

// WriteTo feeds v's full payload into h, used when computing a Value
// task's state_fingerprint (which, unlike other kinds, depends on payload
// contents, not just structure).
func (v TaskValue) WriteTo(h *fingerprint.Hasher) {
	h.WriteTag(v.Kind.String())
	switch v.Kind {
	case ScalarValue:
		writeCtyValue(h, v.Scalar)
	case TableValue:
		if v.Table != nil {
			v.Table.WriteTo(h)
		}
	}
}

func writeCtyValue(h *fingerprint.Hasher, v cty.Value) {
	if v.IsNull() {
		h.WriteTag("null")
		return
	}
	t := v.Type()
	switch {
	case t == cty.String:
		h.WriteTag("string")
		h.WriteString(v.AsString())
	case t == cty.Number:
		h.WriteTag("number")
		f, _ := v.AsBigFloat().Float64()
		h.WriteFloat64(f)
	case t == cty.Bool:
		h.WriteTag("bool")
		h.WriteBool(v.True())
	case t.IsListType() || t.IsTupleType():
		h.WriteTag("list")
		elems := v.AsValueSlice()
		h.WriteInt(len(elems))
		for _, e := range elems {
			writeCtyValue(h, e)
		}
	case t.IsObjectType() || t.IsMapType():
		h.WriteTag("object")
		m := v.AsValueMap()
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		h.WriteInt(len(keys))
		for _, k := range keys {
			h.WriteString(k)
			writeCtyValue(h, m[k])
		}
	default:
		h.WriteTag("unknown")
		h.WriteString(v.GoString())
	}
}

// ScanUrlTask scans either a literal URL or, when Signal is non-empty, a
// URL produced dynamically by a signal's current value.
type ScanUrlTask struct {
	URL        string
	Signal     string
	BatchSize  int
	FormatType string
}

// TransformsTask runs Pipeline over the dataset named Source.
type TransformsTask struct {
	Source   string
	Pipeline []chartspec.TransformSpec
}

// SignalTask evaluates Expr to produce this task's scalar value.
type SignalTask struct {
	Expr exprs.Node
}

// DataValuesTask holds literal rows embedded directly in the spec.
type DataValuesTask struct {
	Values []json.RawMessage
}

// DataUrlTask scans a fixed, non-signal-parameterized URL.
type DataUrlTask struct {
	URL        string
	FormatType string
}

// Task is the executable unit package taskgraph compiles into nodes.
type Task struct {
	Var   variable.Variable
	Scope variable.Scope
	Kind  Kind

	value      *TaskValue
	scanURL    *ScanUrlTask
	transforms *TransformsTask
	signal     *SignalTask
	dataValues *DataValuesTask
	dataURL    *DataUrlTask
}

// ScopedVar returns the (variable, scope) identity key this task is keyed
// by in the task graph.
func (t Task) ScopedVar() variable.Scoped {
	return variable.NewScoped(t.Var, t.Scope)
}

// AsValue returns the Value payload and true if Kind == Value.
func (t Task) AsValue() (TaskValue, bool) {
	if t.Kind != Value || t.value == nil {
		return TaskValue{}, false
	}
	return *t.value, true
}

// AsScanURL returns the ScanUrl payload and true if Kind == ScanUrl.
func (t Task) AsScanURL() (ScanUrlTask, bool) {
	if t.Kind != ScanUrl || t.scanURL == nil {
		return ScanUrlTask{}, false
	}
	return *t.scanURL, true
}

// AsTransforms returns the Transforms payload and true if Kind == Transforms.
func (t Task) AsTransforms() (TransformsTask, bool) {
	if t.Kind != Transforms || t.transforms == nil {
		return TransformsTask{}, false
	}
	return *t.transforms, true
}

// AsSignal returns the Signal payload and true if Kind == Signal.
func (t Task) AsSignal() (SignalTask, bool) {
	if t.Kind != Signal || t.signal == nil {
		return SignalTask{}, false
	}
	return *t.signal, true
}

// AsDataValues returns the DataValues payload and true if Kind == DataValues.
func (t Task) AsDataValues() (DataValuesTask, bool) {
	if t.Kind != DataValues || t.dataValues == nil {
		return DataValuesTask{}, false
	}
	return *t.dataValues, true
}

// AsDataURL returns the DataUrl payload and true if Kind == DataUrl.
func (t Task) AsDataURL() (DataUrlTask, bool) {
	if t.Kind != DataUrl || t.dataURL == nil {
		return DataUrlTask{}, false
	}
	return *t.dataURL, true
}

func requireNamespace(v variable.Variable, want variable.Namespace) error {
	if v.Namespace != want {
		return diagnostics.InvalidInputf(
			"variable %s has namespace %s, but this task kind requires %s", v, v.Namespace, want)
	}
	return nil
}

// NewValue builds a Value task. Its variable's namespace must be Data (for
// a table payload) or Signal/Scale (for a scalar payload); scale
// evaluation is folded into the signal category per the task model's
// namespace invariant.
func NewValue(v variable.Variable, scope variable.Scope, value TaskValue) (Task, error) {
	if value.Kind == TableValue {
		if err := requireNamespace(v, variable.Data); err != nil {
			return Task{}, err
		}
	} else if v.Namespace == variable.Data {
		return Task{}, diagnostics.InvalidInputf("variable %s is in the Data namespace but holds a scalar value", v)
	}
	return Task{Var: v, Scope: scope, Kind: Value, value: &value}, nil
}

// NewScanURL builds a ScanUrl task. Its variable must be in the Data
// namespace.
func NewScanURL(v variable.Variable, scope variable.Scope, su ScanUrlTask) (Task, error) {
	if err := requireNamespace(v, variable.Data); err != nil {
		return Task{}, err
	}
	return Task{Var: v, Scope: scope, Kind: ScanUrl, scanURL: &su}, nil
}

// NewTransforms builds a Transforms task. Its variable must be in the Data
// namespace.
func NewTransforms(v variable.Variable, scope variable.Scope, tr TransformsTask) (Task, error) {
	if err := requireNamespace(v, variable.Data); err != nil {
		return Task{}, err
	}
	return Task{Var: v, Scope: scope, Kind: Transforms, transforms: &tr}, nil
}

// NewSignal builds a Signal task. Its variable must be in the Signal
// namespace.
func NewSignal(v variable.Variable, scope variable.Scope, s SignalTask) (Task, error) {
	if err := requireNamespace(v, variable.Signal); err != nil {
		return Task{}, err
	}
	return Task{Var: v, Scope: scope, Kind: Signal, signal: &s}, nil
}

// NewDataValues builds a DataValues task. Its variable must be in the Data
// namespace.
func NewDataValues(v variable.Variable, scope variable.Scope, dv DataValuesTask) (Task, error) {
	if err := requireNamespace(v, variable.Data); err != nil {
		return Task{}, err
	}
	return Task{Var: v, Scope: scope, Kind: DataValues, dataValues: &dv}, nil
}

// NewDataURL builds a DataUrl task. Its variable must be in the Data
// namespace.
func NewDataURL(v variable.Variable, scope variable.Scope, du DataUrlTask) (Task, error) {
	if err := requireNamespace(v, variable.Data); err != nil {
		return Task{}, err
	}
	return Task{Var: v, Scope: scope, Kind: DataUrl, dataURL: &du}, nil
}

// InputVars derives this task's dependency variables from its kind, per
// the specification's per-kind rules:
//   - Value: none.
//   - ScanUrl: {url-as-signal} if the URL is signal-parameterized.
//   - Transforms: {Data(source)} union the free variables of every
//     formula transform's expression in the pipeline; other transform
//     types contribute none (see transformInputVars).
//   - Signal: the free variables of its expression.
//   - DataValues / DataUrl: none (DataUrl's URL is always a literal here;
//     a signal-driven URL is expressed as ScanUrl).
func (t Task) InputVars() []exprs.InputVar {
	switch t.Kind {
	case ScanUrl:
		if t.scanURL.Signal == "" {
			return nil
		}
		return []exprs.InputVar{{Var: variable.MustNew(variable.Signal, t.scanURL.Signal), Propagate: true}}
	case Transforms:
		var out []exprs.InputVar
		seen := map[variable.Variable]bool{}
		add := func(v exprs.InputVar) {
			if seen[v.Var] {
				return
			}
			seen[v.Var] = true
			out = append(out, v)
		}
		add(exprs.InputVar{Var: variable.MustNew(variable.Data, t.transforms.Source), Propagate: true})
		for _, tr := range t.transforms.Pipeline {
			for _, v := range transformInputVars(tr) {
				add(v)
			}
		}
		return out
	case Signal:
		return exprs.InputVars(t.signal.Expr)
	default:
		return nil
	}
}

// transformInputVars extracts the free variables referenced by a single
// transform's expression field(s). Unrecognized transform types (anything
// beyond formula/extent) contribute no input variables, since this package
// does not know how to parse their payload.
func transformInputVars(tr chartspec.TransformSpec) []exprs.InputVar {
	switch tr.Type {
	case chartspec.TransformTypeFormula:
		node, err := exprs.Parse(tr.Formula.Expr)
		if err != nil {
			return nil
		}
		return exprs.InputVars(node)
	default:
		return nil
	}
}

// OutputVars enumerates the additional named outputs this task exposes
// beyond its own ScopedVar - for example, a Transforms task whose pipeline
// includes an extent transform exposes that transform's named signal as an
// output, addressable via the "source_0:my_extent" compound syntax.
func (t Task) OutputVars() []variable.Variable {
	if t.Kind != Transforms {
		return nil
	}
	var out []variable.Variable
	for _, tr := range t.transforms.Pipeline {
		if tr.Type == chartspec.TransformTypeExtent && tr.Extent != nil {
			out = append(out, variable.MustNew(variable.Signal, tr.Extent.Signal))
		}
	}
	return out
}

// WriteTo feeds this task's full structure (kind, variable, scope, and
// kind-specific payload) into h. Used by package taskgraph when computing
// id_fingerprint (structure only, for non-Value kinds this already covers
// everything) and as the structural component of state_fingerprint.
func (t Task) WriteTo(h *fingerprint.Hasher) {
	h.WriteTag(t.Kind.String())
	t.Var.WriteTo(h)
	t.Scope.WriteTo(h)
	switch t.Kind {
	case Value:
		h.WriteTag("scalar_or_table") // payload deliberately excluded; see id_fingerprint semantics
	case ScanUrl:
		h.WriteString(t.scanURL.URL)
		h.WriteString(t.scanURL.Signal)
		h.WriteInt(t.scanURL.BatchSize)
		h.WriteString(t.scanURL.FormatType)
	case Transforms:
		h.WriteString(t.transforms.Source)
		h.WriteInt(len(t.transforms.Pipeline))
		for _, tr := range t.transforms.Pipeline {
			writeTransformSpec(h, tr)
		}
	case Signal:
		h.WriteString(exprs.Format(t.signal.Expr))
	case DataValues:
		h.WriteInt(len(t.dataValues.Values))
		for _, v := range t.dataValues.Values {
			h.WriteBytes(v)
		}
	case DataUrl:
		h.WriteString(t.dataURL.URL)
		h.WriteString(t.dataURL.FormatType)
	}
}

func writeTransformSpec(h *fingerprint.Hasher, tr chartspec.TransformSpec) {
	h.WriteTag(tr.Type)
	switch tr.Type {
	case chartspec.TransformTypeFormula:
		h.WriteString(tr.Formula.Expr)
		h.WriteString(tr.Formula.As)
	case chartspec.TransformTypeExtent:
		h.WriteString(tr.Extent.Field)
		h.WriteString(tr.Extent.Signal)
	default:
		h.WriteBytes(tr.Raw)
	}
}
