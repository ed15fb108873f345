// Package runtime is the cache-backed concurrent evaluator that walks a
// compiled taskgraph.TaskGraph and produces task.TaskValue results, talking
// to an external TransformExecutor for the two things this engine
// deliberately does not implement itself: fetching a URL and running a
// tabular transform pipeline. Its shape is grounded on this module's own
// "runtime orchestrator" description (a cache keyed by state_fingerprint
// enforcing an at-most-one-evaluation contract, with parallel ancestor
// resolution), the same two guarantees OpenTofu's graph walker
// (internal/lang/eval/internal/configgraph's once_valuer.go / tracker.go)
// provides for its own node evaluation: a concurrent request for a node
// already in flight joins the same computation instead of repeating it, and
// siblings without a dependency relationship evaluate concurrently.
//
// golang.org/x/sync/singleflight supplies the at-most-one-evaluation
// contract directly - it is exactly the "collapse concurrent callers with
// the same key into one call" primitive the cache needs, so no hand-rolled
// in-flight-future bookkeeping is written here. golang.org/x/sync/errgroup
// resolves a node's parents concurrently and propagates the first failure
// (with cancellation) to its siblings, mirroring configgraph/tracker.go's
// errgroup-based fan-out over module instance dependencies. The result
// cache itself is a sync.Map: entries are written at most once per
// fingerprint and read far more often than written, and distinct
// fingerprints never contend with each other - exactly the access pattern
// sync.Map's own documentation calls out as its intended case, so no
// ecosystem cache library earns its keep over the standard one here.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/zclconf/go-cty/cty"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MarcoGorelli/vegafusion/internal/chartspec"
	"github.com/MarcoGorelli/vegafusion/internal/diagnostics"
	"github.com/MarcoGorelli/vegafusion/internal/logging"
	"github.com/MarcoGorelli/vegafusion/internal/task"
	"github.com/MarcoGorelli/vegafusion/internal/taskgraph"
	"github.com/MarcoGorelli/vegafusion/internal/variable"
)

// TransformExecutor is the collaborator this package delegates all actual
// data work to - scanning a URL, parsing inline rows, and running a
// transform pipeline over a table. The real tabular engine (an Arrow- or
// DataFusion-style executor) is out of this module's scope; tests and
// callers supply whatever implementation fits their environment.
type TransformExecutor interface {
	// ScanURL fetches url (format hinted by formatType, e.g. "json"/"csv")
	// and returns it as a DataTable. batchSize, when non-zero, caps how many
	// rows the executor materializes per fetch; an executor that streams
	// the whole table at once may ignore it.
	ScanURL(ctx context.Context, url, formatType string, batchSize int) (task.DataTable, error)
	// ParseInlineValues decodes rows embedded directly in a spec's "values"
	// array into a DataTable.
	ParseInlineValues(ctx context.Context, values []json.RawMessage) (task.DataTable, error)
	// RunTransforms applies pipeline to source and returns the resulting
	// table plus any named scalar outputs the pipeline produced (for
	// example an extent transform's named signal), keyed by output name.
	RunTransforms(ctx context.Context, source task.DataTable, pipeline []chartspec.TransformSpec) (result task.DataTable, namedOutputs map[string]cty.Value, err error)
}

// timezoneContextKey carries pre_transform's output_tz/local_tz parameters
// (spec.md §6) through ctx rather than widening TransformExecutor's
// signature: neither ScanURL, ParseInlineValues, nor RunTransforms needs
// them for most calls, only an executor whose transform pipeline actually
// formats or reparses a datetime needs to read them, and context.Context is
// this module's existing channel (as everywhere else in this package) for
// request-scoped configuration that crosses a collaborator boundary without
// forcing every implementation to grow parameters it mostly ignores.
type timezoneContextKey struct{}

type timezones struct {
	outputTZ string
	localTZ  string
}

// WithTimezones attaches pre_transform's output_tz (required) and local_tz
// (optional, empty string means unset) to ctx so a TransformExecutor can
// recover them via TimezonesFromContext when executing a timeFormat/toDate
// formula StringifyLocalDatetimes generated.
func WithTimezones(ctx context.Context, outputTZ, localTZ string) context.Context {
	return context.WithValue(ctx, timezoneContextKey{}, timezones{outputTZ: outputTZ, localTZ: localTZ})
}

// TimezonesFromContext recovers the output_tz/local_tz pair WithTimezones
// attached, if any.
func TimezonesFromContext(ctx context.Context) (outputTZ, localTZ string, ok bool) {
	tz, ok := ctx.Value(timezoneContextKey{}).(timezones)
	if !ok {
		return "", "", false
	}
	return tz.outputTZ, tz.localTZ, true
}

// unsupportedTransformTypes names vega transform kinds this engine
// classifies as categorically unsupported for pre-transform purposes:
// statistical transforms whose evaluation belongs to the tabular transform
// engine this module's Non-goals place out of scope, as distinct from the
// aggregation/filter/formula-style transforms a TransformExecutor is
// expected to run. A pipeline that depends on one of these fails with
// PreTransformError before a TransformExecutor is ever consulted, the same
// capability classification spec.md's own unsupported-pre-transform
// scenario draws (load-bearing: "requires transforms or signal expressions
// that are not yet supported" names a static capability gap, not a
// collaborator failure).
var unsupportedTransformTypes = map[string]bool{
	"density":    true,
	"regression": true,
	"loess":      true,
	"contour":    true,
	"kde2d":      true,
}

func unsupportedf(sv variable.Scoped) error {
	return diagnostics.PreTransformErrorf(
		"requested variable %s requires transforms or signal expressions that are not yet supported", sv)
}

// evalResult is what resolving one node produces: its own value, plus any
// named outputs it exposes (aligned with task.Task.OutputVars()), addressed
// by consumers through IncomingEdge.OutputIndex.
type evalResult struct {
	Value   task.TaskValue
	Outputs []task.TaskValue
}

// Evaluator walks one TaskGraph, caching results by state_fingerprint and
// collapsing concurrent requests for the same fingerprint into a single
// evaluation. It is safe for concurrent use; a given Evaluator should be
// reused across requests against the same graph so that the cache is worth
// having.
type Evaluator struct {
	graph          *taskgraph.TaskGraph
	executor       TransformExecutor
	indexByVar     map[variable.ScopedKey]int
	correlation    string
	log            hclog.Logger
	inlineDatasets map[string]task.DataTable

	group singleflight.Group
	cache sync.Map // uint64 (state_fingerprint) -> evalResult
}

// SetInlineDatasets registers pre_transform's inline_datasets (spec.md §6):
// tables supplied directly by the caller, keyed by dataset name, that a
// Data/DataValues/ScanUrl node should resolve to instead of asking
// TransformExecutor to parse inline values or fetch a url. This lets a
// caller that already has a dataset in hand (or wants to stub one out for a
// test) short-circuit the scan step entirely. Supplying nil clears any
// previously-registered inline datasets.
func (e *Evaluator) SetInlineDatasets(datasets map[string]task.DataTable) {
	e.inlineDatasets = datasets
}

// NewEvaluator builds an Evaluator over graph. executor must not be nil.
func NewEvaluator(graph *taskgraph.TaskGraph, executor TransformExecutor) *Evaluator {
	indexByVar := make(map[variable.ScopedKey]int, graph.NumNodes())
	for i := 0; i < graph.NumNodes(); i++ {
		node, err := graph.Node(i)
		if err != nil {
			// NumNodes and Node agree by construction; this cannot happen.
			continue
		}
		indexByVar[node.Task.ScopedVar().Key()] = i
	}
	correlation := uuid.NewString()
	return &Evaluator{
		graph:       graph,
		executor:    executor,
		indexByVar:  indexByVar,
		correlation: correlation,
		log:         logging.Named("runtime").With("correlation_id", correlation),
	}
}

// Resolve evaluates the node at index, plus every ancestor it needs,
// returning its own TaskValue.
func (e *Evaluator) Resolve(ctx context.Context, index int) (task.TaskValue, error) {
	r, err := e.resolveNode(ctx, index)
	if err != nil {
		return task.TaskValue{}, err
	}
	return r.Value, nil
}

// ResolveVar evaluates the task producing sv and returns its TaskValue.
func (e *Evaluator) ResolveVar(ctx context.Context, sv variable.Scoped) (task.TaskValue, error) {
	index, ok := e.indexByVar[sv.Key()]
	if !ok {
		return task.TaskValue{}, diagnostics.PreTransformErrorf("no task produces variable %s", sv)
	}
	return e.Resolve(ctx, index)
}

func (e *Evaluator) resolveNode(ctx context.Context, index int) (evalResult, error) {
	node, err := e.graph.Node(index)
	if err != nil {
		return evalResult{}, err
	}

	if cached, ok := e.cache.Load(node.StateFingerprint); ok {
		return cached.(evalResult), nil
	}

	key := fmt.Sprintf("%x", node.StateFingerprint)
	v, err, shared := e.group.Do(key, func() (interface{}, error) {
		if cached, ok := e.cache.Load(node.StateFingerprint); ok {
			return cached.(evalResult), nil
		}
		parents, err := e.resolveParents(ctx, node)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := e.evaluateNode(ctx, node, parents)
		if err != nil {
			return nil, err
		}
		e.cache.Store(node.StateFingerprint, result)
		return result, nil
	})
	if err != nil {
		return evalResult{}, err
	}
	e.log.Debug("resolved node", "var", node.Task.ScopedVar().String(), "shared", shared)
	return v.(evalResult), nil
}

// resolveParents evaluates every one of node's direct dependencies
// concurrently (in the positional order task.InputVars declared them in),
// returning the first failure and cancelling the rest via errgroup.
func (e *Evaluator) resolveParents(ctx context.Context, node taskgraph.Node) ([]task.TaskValue, error) {
	if len(node.Incoming) == 0 {
		return nil, nil
	}
	results := make([]task.TaskValue, len(node.Incoming))
	g, gctx := errgroup.WithContext(ctx)
	for i, edge := range node.Incoming {
		i, edge := i, edge
		g.Go(func() error {
			parent, err := e.resolveNode(gctx, edge.SourceIndex)
			if err != nil {
				return err
			}
			if edge.OutputIndex != nil {
				idx := *edge.OutputIndex
				if idx < 0 || idx >= len(parent.Outputs) {
					return diagnostics.InternalErrorf(
						"output index %d out of range for parent node %d (has %d outputs)", idx, edge.SourceIndex, len(parent.Outputs))
				}
				results[i] = parent.Outputs[idx]
				return nil
			}
			results[i] = parent.Value
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Evaluator) evaluateNode(ctx context.Context, node taskgraph.Node, parents []task.TaskValue) (evalResult, error) {
	sv := node.Task.ScopedVar()

	if sv.Var.Namespace == variable.Data {
		if table, ok := e.inlineDatasets[sv.Var.Name]; ok {
			return evalResult{Value: task.NewTableValue(table)}, nil
		}
	}

	switch node.Task.Kind {
	case task.Value:
		v, _ := node.Task.AsValue()
		return evalResult{Value: v}, nil

	case task.DataValues:
		dv, _ := node.Task.AsDataValues()
		table, err := e.executor.ParseInlineValues(ctx, dv.Values)
		if err != nil {
			return evalResult{}, diagnostics.Externalf(err, "parsing inline values for %s", sv)
		}
		return evalResult{Value: task.NewTableValue(table)}, nil

	case task.DataUrl:
		du, _ := node.Task.AsDataURL()
		table, err := e.executor.ScanURL(ctx, du.URL, du.FormatType, 0)
		if err != nil {
			return evalResult{}, diagnostics.Externalf(err, "scanning url for %s", sv)
		}
		return evalResult{Value: task.NewTableValue(table)}, nil

	case task.ScanUrl:
		su, _ := node.Task.AsScanURL()
		url := su.URL
		if su.Signal != "" {
			if len(parents) == 0 {
				return evalResult{}, diagnostics.InternalErrorf("scan_url task %s declares a signal-parameterized url but has no resolved parent", sv)
			}
			if parents[0].Kind != task.ScalarValue || parents[0].Scalar.Type() != cty.String {
				return evalResult{}, diagnostics.InvalidInputf("signal %q driving scan_url for %s must hold a string", su.Signal, sv)
			}
			url = parents[0].Scalar.AsString()
		}
		table, err := e.executor.ScanURL(ctx, url, su.FormatType, su.BatchSize)
		if err != nil {
			return evalResult{}, diagnostics.Externalf(err, "scanning url for %s", sv)
		}
		return evalResult{Value: task.NewTableValue(table)}, nil

	case task.Transforms:
		tr, _ := node.Task.AsTransforms()
		for _, step := range tr.Pipeline {
			if unsupportedTransformTypes[step.Type] {
				return evalResult{}, unsupportedf(sv)
			}
		}
		if len(parents) == 0 || parents[0].Kind != task.TableValue {
			return evalResult{}, diagnostics.InternalErrorf("transforms task %s has no resolved source table", sv)
		}
		resultTable, namedOutputs, err := e.executor.RunTransforms(ctx, parents[0].Table, tr.Pipeline)
		if err != nil {
			return evalResult{}, diagnostics.Externalf(err, "running transform pipeline for %s", sv)
		}
		outVars := node.Task.OutputVars()
		outputs := make([]task.TaskValue, len(outVars))
		for i, ov := range outVars {
			val, ok := namedOutputs[ov.Name]
			if !ok {
				return evalResult{}, diagnostics.InternalErrorf(
					"transform pipeline for %s did not produce declared output %s", sv, ov)
			}
			outputs[i] = task.NewScalarValue(val)
		}
		return evalResult{Value: task.NewTableValue(resultTable), Outputs: outputs}, nil

	case task.Signal:
		// Numeric evaluation of update expressions is outside this engine's
		// scope (see internal/exprs's free-variable-analysis-only Non-goal);
		// a reactive signal therefore cannot be resolved without a caller
		// supplying its value some other way (see PreTransformValues).
		return evalResult{}, unsupportedf(sv)

	default:
		return evalResult{}, diagnostics.InternalErrorf("unhandled task kind %s for %s", node.Task.Kind, sv)
	}
}
