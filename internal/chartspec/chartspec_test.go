package chartspec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcoGorelli/vegafusion/internal/variable"
)

const sampleSpec = `{
  "$schema": "https://vega.github.io/schema/vega/v5.json",
  "data": [
    {"name": "source_0", "url": "data/cars.json"}
  ],
  "scales": [
    {"name": "x", "type": "time", "domain": {"data": "source_0", "field": "date"}}
  ],
  "axes": [
    {"scale": "x", "formatType": "time"}
  ],
  "signals": [
    {"name": "width", "value": 200}
  ],
  "marks": [
    {
      "type": "group",
      "data": [{"name": "nested_0", "source": "source_0"}],
      "marks": [
        {"type": "symbol", "encode": {"update": {"x": {"scale": "x", "field": "date"}}}}
      ]
    },
    {"type": "rect", "unknownField": "keep-me"}
  ]
}`

func TestParseMarshalRoundTrip(t *testing.T) {
	spec, err := Parse([]byte(sampleSpec))
	require.NoError(t, err)

	out, err := json.Marshal(spec)
	require.NoError(t, err)

	reparsed, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, spec, reparsed)
}

func TestParsePreservesUnknownMarkField(t *testing.T) {
	spec, err := Parse([]byte(sampleSpec))
	require.NoError(t, err)

	rect := spec.Marks[1]
	require.NotNil(t, rect.Extra)
	assert.JSONEq(t, `"keep-me"`, string(rect.Extra["unknownField"]))
}

func TestScaleDomainFieldReference(t *testing.T) {
	spec, err := Parse([]byte(sampleSpec))
	require.NoError(t, err)

	refs := spec.Scales[0].Domain.FieldRefs()
	assert.Equal(t, []FieldRef{{Data: "source_0", Field: "date"}}, refs)
}

type recordingVisitor struct {
	NoopVisitor
	dataScopes  []variable.Scope
	groupScopes []variable.Scope
	nonGroups   []string
}

func (r *recordingVisitor) VisitData(d *DataSpec, scope variable.Scope) {
	r.dataScopes = append(r.dataScopes, scope)
}

func (r *recordingVisitor) VisitGroupMark(m *MarkSpec, scope variable.Scope) {
	r.groupScopes = append(r.groupScopes, scope)
}

func (r *recordingVisitor) VisitNonGroupMark(m *MarkSpec, scope variable.Scope) {
	r.nonGroups = append(r.nonGroups, m.Type)
}

func TestWalkTraversalOrderAndScoping(t *testing.T) {
	spec, err := Parse([]byte(sampleSpec))
	require.NoError(t, err)

	v := &recordingVisitor{}
	Walk(spec, v)

	require.Len(t, v.dataScopes, 2)
	assert.Empty(t, v.dataScopes[0]) // top-level source_0
	assert.Equal(t, variable.Scope{0}, v.dataScopes[1]) // nested_0, inside first group

	require.Len(t, v.groupScopes, 1)
	assert.Empty(t, v.groupScopes[0]) // the group mark itself is visited at its parent's scope

	assert.Equal(t, []string{"symbol", "rect"}, v.nonGroups) // symbol inside the group is visited first, then the top-level rect
}

func TestWalkDoesNotConsumeGroupIndexForNonGroupMarks(t *testing.T) {
	raw := `{
	  "marks": [
	    {"type": "rect"},
	    {"type": "group", "marks": [{"type": "symbol"}]},
	    {"type": "rect"},
	    {"type": "group", "marks": [{"type": "symbol"}]}
	  ]
	}`
	spec, err := Parse([]byte(raw))
	require.NoError(t, err)

	var scopes []variable.Scope
	v := &funcVisitor{visitGroup: func(m *MarkSpec, scope variable.Scope) {
		scopes = append(scopes, scope)
	}}
	Walk(spec, v)

	// Two group marks at top level, interleaved with two non-group marks;
	// the child scopes they introduce must still be [0] and [1].
	require.Len(t, spec.Marks, 4)
	group1 := GetNestedGroupMut(spec, variable.Scope{0})
	group2 := GetNestedGroupMut(spec, variable.Scope{1})
	require.NotNil(t, group1)
	require.NotNil(t, group2)
	assert.Same(t, spec.Marks[1], group1)
	assert.Same(t, spec.Marks[3], group2)
}

type funcVisitor struct {
	NoopVisitor
	visitGroup func(*MarkSpec, variable.Scope)
}

func (f *funcVisitor) VisitGroupMark(m *MarkSpec, scope variable.Scope) {
	if f.visitGroup != nil {
		f.visitGroup(m, scope)
	}
}

func TestGetNestedGroupMutMissingReturnsNil(t *testing.T) {
	spec, err := Parse([]byte(sampleSpec))
	require.NoError(t, err)
	assert.Nil(t, GetNestedGroupMut(spec, variable.Scope{5}))
}

func TestCloneIsIndependent(t *testing.T) {
	spec, err := Parse([]byte(sampleSpec))
	require.NoError(t, err)

	clone, err := Clone(spec)
	require.NoError(t, err)
	require.Equal(t, spec, clone)

	clone.Data[0].Name = "mutated"
	assert.NotEqual(t, spec.Data[0].Name, clone.Data[0].Name)
}

func TestTransformFormulaRoundTrip(t *testing.T) {
	d := &DataSpec{
		Name:      "source_0",
		Source:    "raw",
		Transform: []TransformSpec{NewFormulaTransform("toString(datum.date)", "date_str")},
	}
	out, err := json.Marshal(d)
	require.NoError(t, err)

	var reparsed DataSpec
	require.NoError(t, json.Unmarshal(out, &reparsed))
	require.Len(t, reparsed.Transform, 1)
	assert.Equal(t, TransformTypeFormula, reparsed.Transform[0].Type)
	assert.Equal(t, "date_str", reparsed.Transform[0].Formula.As)
}

func TestTransformExtentRoundTrip(t *testing.T) {
	raw := `{"name": "source_0", "transform": [{"type": "extent", "field": "amount", "signal": "amount_extent"}]}`
	var d DataSpec
	require.NoError(t, json.Unmarshal([]byte(raw), &d))
	require.Len(t, d.Transform, 1)
	require.NotNil(t, d.Transform[0].Extent)
	assert.Equal(t, "amount_extent", d.Transform[0].Extent.Signal)

	out, err := json.Marshal(&d)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestTransformUnknownTypePassesThrough(t *testing.T) {
	raw := `{"name": "source_0", "transform": [{"type": "filter", "expr": "datum.x > 0"}]}`
	var d DataSpec
	require.NoError(t, json.Unmarshal([]byte(raw), &d))
	require.Len(t, d.Transform, 1)
	assert.Equal(t, "filter", d.Transform[0].Type)

	out, err := json.Marshal(&d)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}
