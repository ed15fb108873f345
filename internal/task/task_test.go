package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/MarcoGorelli/vegafusion/internal/chartspec"
	"github.com/MarcoGorelli/vegafusion/internal/exprs"
	"github.com/MarcoGorelli/vegafusion/internal/fingerprint"
	"github.com/MarcoGorelli/vegafusion/internal/variable"
)

func TestNewValueRejectsScalarInDataNamespace(t *testing.T) {
	_, err := NewValue(variable.MustNew(variable.Data, "x"), nil, NewScalarValue(cty.NumberIntVal(1)))
	assert.Error(t, err)
}

func TestNewTransformsRejectsNonDataVariable(t *testing.T) {
	_, err := NewTransforms(variable.MustNew(variable.Signal, "x"), nil, TransformsTask{Source: "y"})
	assert.Error(t, err)
}

func TestNewSignalRejectsNonSignalVariable(t *testing.T) {
	expr, err := exprs.Parse("1 + 1")
	require.NoError(t, err)
	_, err = NewSignal(variable.MustNew(variable.Data, "x"), nil, SignalTask{Expr: expr})
	assert.Error(t, err)
}

func TestSignalInputVars(t *testing.T) {
	expr, err := exprs.Parse("width + datum.x")
	require.NoError(t, err)
	tk, err := NewSignal(variable.MustNew(variable.Signal, "derived"), nil, SignalTask{Expr: expr})
	require.NoError(t, err)

	vars := tk.InputVars()
	require.Len(t, vars, 1)
	assert.Equal(t, "width", vars[0].Var.Name)
}

func TestTransformsInputVarsIncludesSourceAndPipeline(t *testing.T) {
	tk, err := NewTransforms(variable.MustNew(variable.Data, "derived"), nil, TransformsTask{
		Source: "source_0",
		Pipeline: []chartspec.TransformSpec{
			chartspec.NewFormulaTransform("datum.a + extra_signal", "b"),
		},
	})
	require.NoError(t, err)

	vars := tk.InputVars()
	require.Len(t, vars, 2)
	assert.Equal(t, variable.MustNew(variable.Data, "source_0"), vars[0].Var)
	assert.Equal(t, variable.MustNew(variable.Signal, "extra_signal"), vars[1].Var)
}

func TestScanURLInputVarsOnlyWhenSignalDriven(t *testing.T) {
	literal, err := NewScanURL(variable.MustNew(variable.Data, "d1"), nil, ScanUrlTask{URL: "data/cars.json"})
	require.NoError(t, err)
	assert.Empty(t, literal.InputVars())

	dynamic, err := NewScanURL(variable.MustNew(variable.Data, "d2"), nil, ScanUrlTask{Signal: "url_signal"})
	require.NoError(t, err)
	vars := dynamic.InputVars()
	require.Len(t, vars, 1)
	assert.Equal(t, "url_signal", vars[0].Var.Name)
}

func TestOutputVarsFromExtentTransform(t *testing.T) {
	tk, err := NewTransforms(variable.MustNew(variable.Data, "derived"), nil, TransformsTask{
		Source: "source_0",
		Pipeline: []chartspec.TransformSpec{
			{Type: chartspec.TransformTypeExtent, Extent: &chartspec.ExtentTransform{Field: "amount", Signal: "amount_extent"}},
		},
	})
	require.NoError(t, err)

	outputs := tk.OutputVars()
	require.Len(t, outputs, 1)
	assert.Equal(t, variable.MustNew(variable.Signal, "amount_extent"), outputs[0])
}

func TestValueStateFingerprintChangesWithPayload(t *testing.T) {
	v1 := NewScalarValue(cty.NumberIntVal(1))
	v2 := NewScalarValue(cty.NumberIntVal(2))

	h1 := fingerprintOf(v1)
	h2 := fingerprintOf(v2)
	assert.NotEqual(t, h1, h2)
}

func fingerprintOf(v TaskValue) uint64 {
	h := fingerprint.New()
	v.WriteTo(h)
	return h.Sum()
}
