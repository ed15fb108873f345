package taskgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/MarcoGorelli/vegafusion/internal/chartspec"
	"github.com/MarcoGorelli/vegafusion/internal/diagnostics"
	"github.com/MarcoGorelli/vegafusion/internal/exprs"
	"github.com/MarcoGorelli/vegafusion/internal/task"
	"github.com/MarcoGorelli/vegafusion/internal/taskscope"
	"github.com/MarcoGorelli/vegafusion/internal/variable"
)

const threeNodeSpec = `{
  "signals": [{"name": "url", "value": "https://example.com/penguins.json"}],
  "data": [
    {"name": "url_datasetA", "url": "placeholder"},
    {"name": "datasetA", "source": "url_datasetA", "transform": [
      {"type": "extent", "field": "Beak Length (mm)", "signal": "my_extent"}
    ]}
  ]
}`

func buildThreeNodeGraph(t *testing.T) *TaskGraph {
	t.Helper()
	spec, err := chartspec.Parse([]byte(threeNodeSpec))
	require.NoError(t, err)
	scope := taskscope.Build(spec)

	urlTask, err := task.NewValue(
		variable.MustNew(variable.Signal, "url"), nil,
		task.NewScalarValue(cty.StringVal("https://example.com/penguins.json")),
	)
	require.NoError(t, err)

	scanTask, err := task.NewScanURL(
		variable.MustNew(variable.Data, "url_datasetA"), nil,
		task.ScanUrlTask{Signal: "url", BatchSize: 1024},
	)
	require.NoError(t, err)

	transformsTask, err := task.NewTransforms(
		variable.MustNew(variable.Data, "datasetA"), nil,
		task.TransformsTask{
			Source: "url_datasetA",
			Pipeline: []chartspec.TransformSpec{
				{Type: chartspec.TransformTypeExtent, Extent: &chartspec.ExtentTransform{
					Field: "Beak Length (mm)", Signal: "my_extent",
				}},
			},
		},
	)
	require.NoError(t, err)

	graph, err := New([]task.Task{urlTask, scanTask, transformsTask}, scope)
	require.NoError(t, err)
	return graph
}

func TestNewOrdersNodesTopologically(t *testing.T) {
	graph := buildThreeNodeGraph(t)
	require.Equal(t, 3, graph.NumNodes())

	urlPos, scanPos, transformsPos := -1, -1, -1
	for i := 0; i < graph.NumNodes(); i++ {
		node, err := graph.Node(i)
		require.NoError(t, err)
		switch node.Task.Var.Name {
		case "url":
			urlPos = i
		case "url_datasetA":
			scanPos = i
		case "datasetA":
			transformsPos = i
		}
	}
	assert.Less(t, urlPos, scanPos)
	assert.Less(t, scanPos, transformsPos)
}

func TestNewWiresIncomingEdgesInInputVarOrder(t *testing.T) {
	graph := buildThreeNodeGraph(t)

	for i := 0; i < graph.NumNodes(); i++ {
		node, err := graph.Node(i)
		require.NoError(t, err)
		if node.Task.Var.Name != "datasetA" {
			continue
		}
		require.Len(t, node.Incoming, 1)
		parent, err := graph.Node(node.Incoming[0].SourceIndex)
		require.NoError(t, err)
		assert.Equal(t, "url_datasetA", parent.Task.Var.Name)
		assert.Nil(t, node.Incoming[0].OutputIndex)
	}
}

func TestFingerprintsAreDeterministicAcrossBuilds(t *testing.T) {
	g1 := buildThreeNodeGraph(t)
	g2 := buildThreeNodeGraph(t)

	require.Equal(t, g1.NumNodes(), g2.NumNodes())
	for i := 0; i < g1.NumNodes(); i++ {
		n1, _ := g1.Node(i)
		n2, _ := g2.Node(i)
		assert.Equal(t, n1.IDFingerprint, n2.IDFingerprint)
		assert.Equal(t, n1.StateFingerprint, n2.StateFingerprint)
		assert.NotZero(t, n1.IDFingerprint, "id fingerprint must actually be applied to the node")
		assert.NotZero(t, n1.StateFingerprint)
	}
}

func TestChangingValuePayloadChangesDescendantStateFingerprints(t *testing.T) {
	spec, err := chartspec.Parse([]byte(threeNodeSpec))
	require.NoError(t, err)
	scope := taskscope.Build(spec)

	build := func(url string) *TaskGraph {
		urlTask, err := task.NewValue(variable.MustNew(variable.Signal, "url"), nil, task.NewScalarValue(cty.StringVal(url)))
		require.NoError(t, err)
		scanTask, err := task.NewScanURL(variable.MustNew(variable.Data, "url_datasetA"), nil, task.ScanUrlTask{Signal: "url"})
		require.NoError(t, err)
		transformsTask, err := task.NewTransforms(variable.MustNew(variable.Data, "datasetA"), nil, task.TransformsTask{
			Source: "url_datasetA",
			Pipeline: []chartspec.TransformSpec{
				{Type: chartspec.TransformTypeExtent, Extent: &chartspec.ExtentTransform{Field: "x", Signal: "my_extent"}},
			},
		})
		require.NoError(t, err)
		g, err := New([]task.Task{urlTask, scanTask, transformsTask}, scope)
		require.NoError(t, err)
		return g
	}

	g1 := build("https://a.example.com/data.json")
	g2 := build("https://b.example.com/data.json")

	for i := 0; i < g1.NumNodes(); i++ {
		n1, _ := g1.Node(i)
		n2, _ := g2.Node(i)
		assert.Equal(t, n1.IDFingerprint, n2.IDFingerprint, "structure is unchanged, id fingerprints must match")
		assert.NotEqual(t, n1.StateFingerprint, n2.StateFingerprint, "payload changed, state fingerprint must propagate to every descendant")
	}
}

func TestNewRejectsDuplicateTaskVariable(t *testing.T) {
	spec, err := chartspec.Parse([]byte(`{"signals": [{"name": "a"}]}`))
	require.NoError(t, err)
	scope := taskscope.Build(spec)

	v, _ := task.NewValue(variable.MustNew(variable.Signal, "a"), nil, task.NewScalarValue(cty.NumberIntVal(1)))
	_, err = New([]task.Task{v, v}, scope)
	assert.Error(t, err)
}

func TestNewFailsOnUnresolvedVariable(t *testing.T) {
	spec, err := chartspec.Parse([]byte(`{"signals": [{"name": "derived"}]}`))
	require.NoError(t, err)
	scope := taskscope.Build(spec)

	sig, buildErr := task.NewSignal(variable.MustNew(variable.Signal, "derived"), nil, task.SignalTask{Expr: mustParseExpr(t, "missing_signal + 1")})
	require.NoError(t, buildErr)

	_, graphErr := New([]task.Task{sig}, scope)
	assert.Error(t, graphErr)
}

// TestNewRejectsCyclicTaskSet matches spec.md §8.4: two datasets whose
// input_vars resolve to each other must fail graph construction with
// InternalError, not silently build a graph missing one of them.
func TestNewRejectsCyclicTaskSet(t *testing.T) {
	spec, err := chartspec.Parse([]byte(`{
	  "data": [
	    {"name": "a", "source": "b"},
	    {"name": "b", "source": "a"}
	  ]
	}`))
	require.NoError(t, err)
	scope := taskscope.Build(spec)

	taskA, err := task.NewTransforms(variable.MustNew(variable.Data, "a"), nil, task.TransformsTask{Source: "b"})
	require.NoError(t, err)
	taskB, err := task.NewTransforms(variable.MustNew(variable.Data, "b"), nil, task.TransformsTask{Source: "a"})
	require.NoError(t, err)

	_, err = New([]task.Task{taskA, taskB}, scope)
	require.Error(t, err)
	assert.True(t, diagnostics.Is(err, diagnostics.InternalError))
}

func mustParseExpr(t *testing.T, src string) exprs.Node {
	t.Helper()
	node, err := exprs.Parse(src)
	require.NoError(t, err)
	return node
}
