package exprs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MarcoGorelli/vegafusion/internal/variable"
)

func TestFormatMemberChain(t *testing.T) {
	// datum.x.y
	expr := Member{
		Object:   Member{Object: Identifier{Name: "datum"}, Property: Identifier{Name: "x"}},
		Property: Identifier{Name: "y"},
	}
	assert.Equal(t, "datum.x.y", Format(expr))
}

func TestFormatParenthesizesLowerBindingPowerChild(t *testing.T) {
	// (a + b).c
	expr := Member{
		Object:   Binary{Op: "+", Left: Identifier{Name: "a"}, Right: Identifier{Name: "b"}},
		Property: Identifier{Name: "c"},
	}
	assert.Equal(t, "(a + b).c", Format(expr))
}

func TestFormatBinaryPrecedence(t *testing.T) {
	// a + b * c  (no parens needed: * binds tighter than +)
	expr := Binary{
		Op:   "+",
		Left: Identifier{Name: "a"},
		Right: Binary{
			Op: "*", Left: Identifier{Name: "b"}, Right: Identifier{Name: "c"},
		},
	}
	assert.Equal(t, "a + b * c", Format(expr))
}

func TestFormatBinaryNeedsParens(t *testing.T) {
	// (a + b) * c
	expr := Binary{
		Op: "*",
		Left: Binary{
			Op: "+", Left: Identifier{Name: "a"}, Right: Identifier{Name: "b"},
		},
		Right: Identifier{Name: "c"},
	}
	assert.Equal(t, "(a + b) * c", Format(expr))
}

func TestInputVarsDedupAndExcludesDatum(t *testing.T) {
	// width + width + datum.x
	expr := Binary{
		Op: "+",
		Left: Binary{
			Op: "+", Left: Identifier{Name: "width"}, Right: Identifier{Name: "width"},
		},
		Right: Member{Object: Identifier{Name: "datum"}, Property: Identifier{Name: "x"}},
	}
	got := InputVars(expr)
	assert.Equal(t, []InputVar{{Var: variable.MustNew(variable.Signal, "width"), Propagate: true}}, got)
}

func TestInputVarsDatasetFieldSyntax(t *testing.T) {
	// datasetA.my_extent, read as the compound reference datasetA:my_extent
	expr := Member{
		Object:   Identifier{Name: "datasetA"},
		Property: Identifier{Name: "my_extent"},
	}
	got := InputVars(expr)
	want := variable.Variable{Namespace: variable.Signal, Name: "datasetA:my_extent"}
	assert.Equal(t, []InputVar{{Var: want, Propagate: true}}, got)
}

func TestInputVarsPreservesFirstOccurrenceOrder(t *testing.T) {
	expr := Call{Callee: "f", Args: []Node{
		Identifier{Name: "b"},
		Identifier{Name: "a"},
		Identifier{Name: "b"},
	}}
	got := InputVars(expr)
	assert.Equal(t, []InputVar{
		{Var: variable.MustNew(variable.Signal, "b"), Propagate: true},
		{Var: variable.MustNew(variable.Signal, "a"), Propagate: true},
	}, got)
}
