package runtime

import (
	"context"
	"encoding/json"
	"sync"

	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/MarcoGorelli/vegafusion/internal/chartspec"
	"github.com/MarcoGorelli/vegafusion/internal/compile"
	"github.com/MarcoGorelli/vegafusion/internal/diagnostics"
	"github.com/MarcoGorelli/vegafusion/internal/planner"
	"github.com/MarcoGorelli/vegafusion/internal/task"
	"github.com/MarcoGorelli/vegafusion/internal/taskgraph"
	"github.com/MarcoGorelli/vegafusion/internal/variable"
)

// PreTransformValues evaluates each of vars against ev's graph and, if every
// one resolves, returns their values in vars's order. This is the literal
// pre_transform_values entry point spec.md §6/§8 names: a variable this
// engine cannot resolve - an unknown name, or a pipeline that needs a
// transform/signal kind this engine doesn't evaluate, see evaluateNode -
// fails the whole call with that variable's diagnostics.Error (combined
// with any other failures via diagnostics.Combine) rather than degrading to
// a partial result, matching the original runtime's
// test_pre_transform_validate ground truth: requesting an unsupported or
// unknown variable returns Err(PreTransformError), not a warning alongside
// a shorter value list.
//
// Every variable is resolved concurrently; ctx cancellation stops pending
// work, but since any single failure fails the whole call, partial
// successes are discarded rather than returned.
//
// outputTZ and localTZ are spec.md §6's pre_transform_values timezone
// parameters, attached to ctx via WithTimezones for a TransformExecutor to
// consult when executing a timeFormat/toDate formula
// StringifyLocalDatetimes generated; localTZ may be "" when unset.
// inlineDatasets registers pre-supplied tables (see SetInlineDatasets) on e
// before resolving; pass nil to leave any already-registered datasets in
// place.
func (e *Evaluator) PreTransformValues(ctx context.Context, vars []variable.Scoped, outputTZ, localTZ string, inlineDatasets map[string]task.DataTable) ([]task.TaskValue, []diagnostics.Warning, error) {
	if inlineDatasets != nil {
		e.SetInlineDatasets(inlineDatasets)
	}
	ctx = WithTimezones(ctx, outputTZ, localTZ)

	type outcome struct {
		value task.TaskValue
		err   error
	}
	outcomes := make([]outcome, len(vars))

	var wg sync.WaitGroup
	for i, sv := range vars {
		wg.Add(1)
		go func(i int, sv variable.Scoped) {
			defer wg.Done()
			v, err := e.ResolveVar(ctx, sv)
			outcomes[i] = outcome{value: v, err: err}
		}(i, sv)
	}
	wg.Wait()

	values := make([]task.TaskValue, len(vars))
	var errs []error
	for i, o := range outcomes {
		if o.err != nil {
			errs = append(errs, o.err)
			continue
		}
		values[i] = o.value
	}
	if len(errs) > 0 {
		return nil, nil, diagnostics.Combine(errs...)
	}
	return values, nil, nil
}

// PreTransformSpec runs the planner over spec, evaluates every
// server-computed dataset and server-driven signal the comm plan names, and
// returns a reduced client spec with those values inlined directly (as
// literal "values"/"value" entries, their source/url/transform/update
// stripped) so a rendering frontend can draw the chart without talking to a
// server at all. Datasets or signals this engine cannot resolve are left
// untouched in the reduced spec and reported as warnings, rather than
// aborting the whole call - a partially pre-transformed spec that still
// needs the unresolved pieces computed elsewhere is more useful than
// nothing.
//
// outputTZ, localTZ, and inlineDatasets are spec.md §6's pre_transform_spec
// parameters; see PreTransformValues for how each is threaded through.
func PreTransformSpec(ctx context.Context, executor TransformExecutor, spec *chartspec.ChartSpec, outputTZ, localTZ string, inlineDatasets map[string]task.DataTable) (*chartspec.ChartSpec, []diagnostics.Warning, error) {
	result, err := planner.Run(spec, planner.Options{})
	if err != nil {
		return nil, nil, err
	}

	tasks, scope, err := compile.FromChartSpec(result.Server)
	if err != nil {
		return nil, nil, err
	}
	graph, err := taskgraph.New(tasks, scope)
	if err != nil {
		return nil, nil, err
	}
	ev := NewEvaluator(graph, executor)
	if inlineDatasets != nil {
		ev.SetInlineDatasets(inlineDatasets)
	}
	ctx = WithTimezones(ctx, outputTZ, localTZ)

	reduced, err := chartspec.Clone(result.Client)
	if err != nil {
		return nil, nil, diagnostics.InternalErrorf("pre_transform_spec: cloning client spec: %v", err)
	}

	var warnings []diagnostics.Warning
	for _, sv := range result.Plan.ServerToClient {
		val, err := ev.ResolveVar(ctx, sv)
		if err != nil {
			warnings = append(warnings, diagnostics.Warningf("could not pre-transform %s: %v", sv, err))
			continue
		}

		switch sv.Var.Namespace {
		case variable.Data:
			if val.Kind != task.TableValue || val.Table == nil {
				warnings = append(warnings, diagnostics.Warningf("%s did not resolve to a table, leaving it unresolved in the reduced spec", sv))
				continue
			}
			chartspec.WalkMut(reduced, &inlineDataVisitor{name: sv.Var.Name, scope: sv.Scope, rows: val.Table.Rows()})

		case variable.Signal:
			if val.Kind != task.ScalarValue {
				warnings = append(warnings, diagnostics.Warningf("%s did not resolve to a scalar, leaving it unresolved in the reduced spec", sv))
				continue
			}
			raw, err := ctyjson.Marshal(val.Scalar, val.Scalar.Type())
			if err != nil {
				warnings = append(warnings, diagnostics.Warningf("could not encode resolved value of %s: %v", sv, err))
				continue
			}
			chartspec.WalkMut(reduced, &inlineSignalVisitor{name: sv.Var.Name, scope: sv.Scope, value: raw})
		}
	}

	return reduced, warnings, nil
}

type inlineDataVisitor struct {
	chartspec.NoopVisitor
	name  string
	scope variable.Scope
	rows  []json.RawMessage
}

func (v *inlineDataVisitor) VisitData(d *chartspec.DataSpec, scope variable.Scope) {
	if d.Name != v.name || !scope.Equal(v.scope) {
		return
	}
	d.Values = v.rows
	d.Source = ""
	d.URL = ""
	d.Transform = nil
	d.Format = nil
}

type inlineSignalVisitor struct {
	chartspec.NoopVisitor
	name  string
	scope variable.Scope
	value json.RawMessage
}

func (v *inlineSignalVisitor) VisitSignal(s *chartspec.SignalSpec, scope variable.Scope) {
	if s.Name != v.name || !scope.Equal(v.scope) {
		return
	}
	s.Value = v.value
	s.Update = ""
}
