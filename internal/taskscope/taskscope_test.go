package taskscope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcoGorelli/vegafusion/internal/chartspec"
	"github.com/MarcoGorelli/vegafusion/internal/variable"
)

const nestedSpec = `{
  "data": [
    {"name": "source_0", "url": "data/cars.json", "transform": [
      {"type": "extent", "field": "amount", "signal": "amount_extent"}
    ]}
  ],
  "signals": [{"name": "width", "value": 200}],
  "marks": [
    {
      "type": "group",
      "signals": [{"name": "width", "value": 50}],
      "data": [{"name": "nested_0", "source": "source_0"}],
      "marks": [{"type": "symbol"}]
    }
  ]
}`

func parse(t *testing.T, raw string) *chartspec.ChartSpec {
	t.Helper()
	spec, err := chartspec.Parse([]byte(raw))
	require.NoError(t, err)
	return spec
}

func TestResolveFindsTopLevelDeclaration(t *testing.T) {
	ts := Build(parse(t, nestedSpec))

	resolved, err := ts.Resolve(variable.MustNew(variable.Data, "source_0"), variable.Scope{0})
	require.NoError(t, err)
	assert.Empty(t, resolved.Scope)
}

func TestResolvePrefersInnermostRedeclaration(t *testing.T) {
	ts := Build(parse(t, nestedSpec))

	// "width" is declared both at root and inside the group; from within
	// the group, resolution must prefer the nearer declaration.
	resolved, err := ts.Resolve(variable.MustNew(variable.Signal, "width"), variable.Scope{0})
	require.NoError(t, err)
	assert.Equal(t, variable.Scope{0}, resolved.Scope)
}

func TestResolveWalksOutwardWhenNotLocallyDeclared(t *testing.T) {
	ts := Build(parse(t, nestedSpec))

	resolved, err := ts.Resolve(variable.MustNew(variable.Data, "source_0"), variable.Scope{0})
	require.NoError(t, err)
	assert.Empty(t, resolved.Scope)
}

func TestResolveUndefinedVariableFails(t *testing.T) {
	ts := Build(parse(t, nestedSpec))

	_, err := ts.Resolve(variable.MustNew(variable.Signal, "nope"), variable.Scope{0})
	assert.Error(t, err)
}

func TestResolveCompoundDatasetSignalSyntax(t *testing.T) {
	ts := Build(parse(t, nestedSpec))

	resolved, err := ts.Resolve(
		variable.Variable{Namespace: variable.Signal, Name: "source_0:amount_extent"},
		variable.Scope{0},
	)
	require.NoError(t, err)
	assert.Empty(t, resolved.Scope)
	require.NotNil(t, resolved.OutputVar)
	assert.Equal(t, variable.MustNew(variable.Signal, "amount_extent"), *resolved.OutputVar)
}

func TestResolveCompoundSyntaxUnknownOutputFails(t *testing.T) {
	ts := Build(parse(t, nestedSpec))

	_, err := ts.Resolve(
		variable.Variable{Namespace: variable.Signal, Name: "source_0:not_an_output"},
		variable.Scope{0},
	)
	assert.Error(t, err)
}

func TestDumpDoesNotPanic(t *testing.T) {
	ts := Build(parse(t, nestedSpec))
	assert.Contains(t, ts.Dump(), "[0]")
}
