package runtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/MarcoGorelli/vegafusion/internal/chartspec"
	"github.com/MarcoGorelli/vegafusion/internal/diagnostics"
	"github.com/MarcoGorelli/vegafusion/internal/task"
	"github.com/MarcoGorelli/vegafusion/internal/taskgraph"
	"github.com/MarcoGorelli/vegafusion/internal/taskscope"
	"github.com/MarcoGorelli/vegafusion/internal/variable"
)

const preTransformSpecFixture = `{
	"signals": [{"name": "width", "value": 300}],
	"data": [{"name": "table", "url": "https://example.com/d.json"}]
}`

func TestPreTransformSpecInlinesResolvedDataset(t *testing.T) {
	spec, err := chartspec.Parse([]byte(preTransformSpecFixture))
	require.NoError(t, err)

	reduced, warnings, err := PreTransformSpec(context.Background(), &fakeExecutor{}, spec, "UTC", "", nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	require.Len(t, reduced.Data, 1)
	d := reduced.Data[0]
	assert.Equal(t, "table", d.Name)
	assert.Empty(t, d.URL)
	assert.NotEmpty(t, d.Values)

	var row map[string]any
	require.NoError(t, json.Unmarshal(d.Values[0], &row))
	assert.Equal(t, "https://example.com/d.json", row["url"])
}

func TestPreTransformSpecLeavesSignalsIntact(t *testing.T) {
	spec, err := chartspec.Parse([]byte(preTransformSpecFixture))
	require.NoError(t, err)

	reduced, _, err := PreTransformSpec(context.Background(), &fakeExecutor{}, spec, "UTC", "", nil)
	require.NoError(t, err)

	require.Len(t, reduced.Signals, 1)
	assert.Equal(t, "width", reduced.Signals[0].Name)
	assert.JSONEq(t, "300", string(reduced.Signals[0].Value))
}

func TestPreTransformSpecDoesNotWarnOnClientDrivenSignal(t *testing.T) {
	spec, err := chartspec.Parse([]byte(`{
		"signals": [{"name": "derived", "update": "1 + 1"}],
		"data": []
	}`))
	require.NoError(t, err)

	_, warnings, err := PreTransformSpec(context.Background(), &fakeExecutor{}, spec, "UTC", "", nil)
	require.NoError(t, err)
	assert.Empty(t, warnings, "a client-driven signal never appears in ServerToClient, so it produces no warning")
}

func buildValuesGraphForPreTransform(t *testing.T) (*taskgraph.TaskGraph, *fakeExecutor) {
	t.Helper()
	spec, err := chartspec.Parse([]byte(`{"signals": [{"name": "w", "value": 10}]}`))
	require.NoError(t, err)
	scope := taskscope.Build(spec)

	t1, err := task.NewValue(variable.MustNew(variable.Signal, "w"), nil, task.NewScalarValue(cty.NumberIntVal(10)))
	require.NoError(t, err)
	g, err := taskgraph.New([]task.Task{t1}, scope)
	require.NoError(t, err)
	return g, &fakeExecutor{}
}

func TestPreTransformValuesResolvesEveryRequestedVariable(t *testing.T) {
	g, exec := buildValuesGraphForPreTransform(t)
	ev := NewEvaluator(g, exec)

	vars := []variable.Scoped{variable.NewScoped(variable.MustNew(variable.Signal, "w"), nil)}
	values, warnings, err := ev.PreTransformValues(context.Background(), vars, "UTC", "", nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, values, 1)
	assert.Equal(t, task.ScalarValue, values[0].Kind)
}

// TestPreTransformValuesFailsHardOnUnresolvableVariable matches the
// original runtime's test_pre_transform_validate ground truth: requesting
// even one variable this engine cannot resolve fails the whole call with a
// PreTransformError, rather than returning a shorter value list alongside a
// warning.
func TestPreTransformValuesFailsHardOnUnresolvableVariable(t *testing.T) {
	g, exec := buildValuesGraphForPreTransform(t)
	ev := NewEvaluator(g, exec)

	vars := []variable.Scoped{
		variable.NewScoped(variable.MustNew(variable.Signal, "w"), nil),
		variable.NewScoped(variable.MustNew(variable.Signal, "missing"), nil),
	}
	values, warnings, err := ev.PreTransformValues(context.Background(), vars, "UTC", "", nil)
	require.Error(t, err)
	assert.True(t, diagnostics.Is(err, diagnostics.PreTransformError))
	assert.Nil(t, values)
	assert.Nil(t, warnings)
}
