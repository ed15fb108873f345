package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcoGorelli/vegafusion/internal/chartspec"
)

const timeScaledSpec = `{
  "data": [
    {"name": "table", "url": "data/flights.json"},
    {"name": "filtered", "source": "table", "transform": [
      {"type": "formula", "expr": "datum.delay + 1", "as": "delay2"}
    ]}
  ],
  "scales": [
    {"name": "x", "type": "time", "domain": {"data": "filtered", "field": "date"}}
  ],
  "marks": [
    {
      "type": "symbol",
      "from": {"data": "filtered"},
      "encode": {"update": {"x": {"scale": "x", "field": "date"}}}
    }
  ]
}`

func TestDefaultCommPlanListsDataAndSignals(t *testing.T) {
	spec, err := chartspec.Parse([]byte(`{
		"signals": [{"name": "width"}],
		"data": [{"name": "table"}]
	}`))
	require.NoError(t, err)

	plan := DefaultCommPlan(spec)
	require.Len(t, plan.ServerToClient, 1)
	assert.Equal(t, "table", plan.ServerToClient[0].Var.Name)
	require.Len(t, plan.ClientToServer, 1)
	assert.Equal(t, "width", plan.ClientToServer[0].Var.Name)
}

func TestStringifyLocalDatetimesAddsServerAndClientFormulas(t *testing.T) {
	spec, err := chartspec.Parse([]byte(timeScaledSpec))
	require.NoError(t, err)

	result, err := Run(spec, Options{})
	require.NoError(t, err)

	var serverFiltered, serverTable *chartspec.DataSpec
	for _, d := range result.Server.Data {
		switch d.Name {
		case "filtered":
			serverFiltered = d
		case "table":
			serverTable = d
		}
	}
	require.NotNil(t, serverFiltered)
	require.NotNil(t, serverTable)

	// "filtered" is fed into the time scale both via the mark's x channel
	// and the scale's own domain field reference, so it must carry the
	// stringify formula appended after its own transform.
	require.Len(t, serverFiltered.Transform, 2)
	assert.Equal(t, chartspec.TransformTypeFormula, serverFiltered.Transform[0].Type)
	assert.Equal(t, "datum.delay + 1", serverFiltered.Transform[0].Formula.Expr)
	stringifyTransform := serverFiltered.Transform[1]
	assert.Equal(t, chartspec.TransformTypeFormula, stringifyTransform.Type)
	assert.Equal(t, "date", stringifyTransform.Formula.As)
	assert.Contains(t, stringifyTransform.Formula.Expr, "timeFormat(datum['date']")

	// "table" itself is not fed into any time scale - only "filtered" is -
	// so it must be untouched.
	assert.Empty(t, serverTable.Transform)

	var clientFiltered *chartspec.DataSpec
	for _, d := range result.Client.Data {
		if d.Name == "filtered" {
			clientFiltered = d
		}
	}
	require.NotNil(t, clientFiltered)
	require.Len(t, clientFiltered.Transform, 2)
	// The toDate reparse formula is prepended ahead of the dataset's own
	// formula transform.
	assert.Equal(t, "date", clientFiltered.Transform[0].Formula.As)
	assert.Contains(t, clientFiltered.Transform[0].Formula.Expr, "toDate(datum['date'])")
	assert.Equal(t, "datum.delay + 1", clientFiltered.Transform[1].Formula.Expr)
}

func TestStringifyLocalDatetimesNoopWithoutTimeScale(t *testing.T) {
	spec, err := chartspec.Parse([]byte(`{
		"data": [{"name": "table", "url": "data/cars.json"}],
		"scales": [{"name": "x", "type": "linear", "domain": {"data": "table", "field": "x"}}]
	}`))
	require.NoError(t, err)

	result, err := Run(spec, Options{})
	require.NoError(t, err)

	for _, d := range result.Server.Data {
		assert.Empty(t, d.Transform)
	}
	for _, d := range result.Client.Data {
		assert.Empty(t, d.Transform)
	}
}

func TestRunProducesIndependentServerAndClientSpecs(t *testing.T) {
	spec, err := chartspec.Parse([]byte(timeScaledSpec))
	require.NoError(t, err)

	result, err := Run(spec, Options{})
	require.NoError(t, err)

	assert.NotSame(t, result.Server, result.Client)
	// Mutating the original parsed spec must not affect planner output,
	// since Run clones before any pass runs.
	spec.Data[0].Name = "mutated"
	assert.Equal(t, "table", result.Server.Data[0].Name)
}
