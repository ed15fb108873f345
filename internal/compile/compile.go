// Package compile turns a parsed ChartSpec into the flat task.Task list and
// taskscope.TaskScope that taskgraph.New consumes - the "server spec ->
// TaskScope + Task list" step spec.md's data-flow diagram names but does not
// give an algorithm for (only the Task/TaskGraph operations downstream of it
// are specified in detail). This package is therefore an additive
// SUPPLEMENTED FEATURE: a straightforward, declarative mapping from each
// DataSpec/SignalSpec node to the Task kind that represents it, grounded on
// the shapes already exercised by package task's and package taskgraph's own
// tests (a scan-only dataset as one DataSpec, and a separately named
// transformed dataset whose "source" points at it).
//
// Scale declarations compile to no task at all: per the task model's
// namespace invariant (see task.NewValue), scale evaluation is folded into
// the signal category, so nothing in the Task enum represents a ScaleSpec
// directly.
package compile

import (
	"encoding/json"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/MarcoGorelli/vegafusion/internal/chartspec"
	"github.com/MarcoGorelli/vegafusion/internal/diagnostics"
	"github.com/MarcoGorelli/vegafusion/internal/exprs"
	"github.com/MarcoGorelli/vegafusion/internal/task"
	"github.com/MarcoGorelli/vegafusion/internal/taskscope"
	"github.com/MarcoGorelli/vegafusion/internal/variable"
)

// FromChartSpec compiles every declared signal and dataset in spec into a
// Task, and builds the TaskScope the resulting tasks resolve their
// dependencies against. The returned slice's order is spec.md's declaration
// order (data, scales [skipped], axes [skipped], signals, then marks'
// descendants depth-first) - the same order chartspec.Walk visits in -
// which is not itself significant to taskgraph.New (it re-sorts
// topologically) but makes output deterministic for a given input.
func FromChartSpec(spec *chartspec.ChartSpec) ([]task.Task, *taskscope.TaskScope, error) {
	c := &compiler{}
	chartspec.Walk(spec, c)
	if c.err != nil {
		return nil, nil, c.err
	}
	return c.tasks, taskscope.Build(spec), nil
}

type compiler struct {
	chartspec.NoopVisitor
	tasks []task.Task
	err   error
}

func (c *compiler) VisitSignal(s *chartspec.SignalSpec, scope variable.Scope) {
	if c.err != nil {
		return
	}
	v := variable.MustNew(variable.Signal, s.Name)

	if s.Update != "" {
		node, err := exprs.Parse(s.Update)
		if err != nil {
			c.err = diagnostics.InvalidInputf("parsing update expression of signal %q: %v", s.Name, err)
			return
		}
		t, err := task.NewSignal(v, scope, task.SignalTask{Expr: node})
		if err != nil {
			c.err = err
			return
		}
		c.tasks = append(c.tasks, t)
		return
	}

	val, err := scalarFromJSON(s.Value)
	if err != nil {
		c.err = diagnostics.InvalidInputf("decoding initial value of signal %q: %v", s.Name, err)
		return
	}
	t, err := task.NewValue(v, scope, task.NewScalarValue(val))
	if err != nil {
		c.err = err
		return
	}
	c.tasks = append(c.tasks, t)
}

func (c *compiler) VisitData(d *chartspec.DataSpec, scope variable.Scope) {
	if c.err != nil {
		return
	}
	v := variable.MustNew(variable.Data, d.Name)

	var (
		t   task.Task
		err error
	)
	switch {
	case d.Values != nil:
		// A present-but-empty "values": [] (e.g. a selection store with
		// nothing selected yet) is a legitimate DataValues declaration, not
		// an absent one - only a nil slice (the field was never in the
		// JSON) falls through to the other cases.
		t, err = task.NewDataValues(v, scope, task.DataValuesTask{Values: d.Values})
	case d.Source != "":
		t, err = task.NewTransforms(v, scope, task.TransformsTask{Source: d.Source, Pipeline: d.Transform})
	case d.URL != "":
		if len(d.Transform) > 0 {
			err = diagnostics.InvalidInputf(
				"dataset %q combines a url with its own transform pipeline; declare the scan and its transform as separate datasets, the second sourcing the first", d.Name)
			break
		}
		formatType := ""
		if d.Format != nil {
			formatType = d.Format.Type
		}
		t, err = task.NewDataURL(v, scope, task.DataUrlTask{URL: d.URL, FormatType: formatType})
	default:
		err = diagnostics.InvalidInputf("dataset %q declares neither values, source, nor url", d.Name)
	}
	if err != nil {
		c.err = err
		return
	}
	c.tasks = append(c.tasks, t)
}

// scalarFromJSON decodes a signal's raw JSON literal value into a cty.Value
// via go-cty's own json package, the same way the teacher stack represents
// dynamically-typed values everywhere else in this module (see
// task.TaskValue.Scalar). An absent value (raw == nil) becomes a null of
// cty.DynamicPseudoType, matching a signal declared without an initial value.
func scalarFromJSON(raw json.RawMessage) (cty.Value, error) {
	if len(raw) == 0 {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	impliedType, err := ctyjson.ImpliedType(raw)
	if err != nil {
		return cty.NilVal, err
	}
	return ctyjson.Unmarshal(raw, impliedType)
}
