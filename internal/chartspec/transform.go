package chartspec

import (
	"encoding/json"
	"fmt"
)

// Transform type discriminants recognized structurally. Any other value is
// preserved as an opaque pass-through transform.
const (
	TransformTypeFormula = "formula"
	TransformTypeExtent  = "extent"
)

// FormulaTransform computes Expr and assigns it to field As on every row of
// its dataset. The stringify-local-datetimes pass appends these to turn a
// raw datetime field into a formatted string field.
type FormulaTransform struct {
	Expr string `json:"expr"`
	As   string `json:"as"`
}

// ExtentTransform computes the [min, max] of Field across a dataset and
// assigns the result to the named output Signal - the task model's
// canonical example of a transform whose output is addressed as a signal
// rather than a dataset (see "datasetA:my_extent" in package exprs).
type ExtentTransform struct {
	Field  string `json:"field"`
	Signal string `json:"signal"`
}

// TransformSpec is a tagged union over one entry of a DataSpec's transform
// pipeline. Only Formula and Extent are modeled structurally because those
// are the only two shapes the planner and task model need to recognize;
// everything else (filter, aggregate, bin, lookup, ...) round-trips through
// Raw untouched.
type TransformSpec struct {
	Type    string
	Formula *FormulaTransform
	Extent  *ExtentTransform
	Raw     json.RawMessage
}

// NewFormulaTransform builds a TransformSpec wrapping a formula transform,
// for planner passes that synthesize new transforms (e.g. appending a
// stringified-datetime formula).
func NewFormulaTransform(expr, as string) TransformSpec {
	return TransformSpec{Type: TransformTypeFormula, Formula: &FormulaTransform{Expr: expr, As: as}}
}

func (t TransformSpec) MarshalJSON() ([]byte, error) {
	switch t.Type {
	case TransformTypeFormula:
		return json.Marshal(struct {
			Type string `json:"type"`
			Expr string `json:"expr"`
			As   string `json:"as"`
		}{TransformTypeFormula, t.Formula.Expr, t.Formula.As})
	case TransformTypeExtent:
		return json.Marshal(struct {
			Type   string `json:"type"`
			Field  string `json:"field"`
			Signal string `json:"signal"`
		}{TransformTypeExtent, t.Extent.Field, t.Extent.Signal})
	default:
		return t.Raw, nil
	}
}

func (t *TransformSpec) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decoding transform: %w", err)
	}
	t.Type = head.Type
	switch head.Type {
	case TransformTypeFormula:
		var f FormulaTransform
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("decoding formula transform: %w", err)
		}
		t.Formula = &f
	case TransformTypeExtent:
		var e ExtentTransform
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("decoding extent transform: %w", err)
		}
		t.Extent = &e
	default:
		t.Raw = append(json.RawMessage(nil), data...)
	}
	return nil
}
