package chartspec

import (
	"fmt"

	"github.com/mitchellh/copystructure"
)

// Clone returns a deep copy of spec that shares no pointers, slices, or
// maps with the original. The planner pipeline (see package planner) runs
// a sequence of passes that each rewrite an AST into a new one; cloning up
// front lets a pass hold onto the input spec for comparison/diagnostics
// purposes while freely mutating its own copy via WalkMut.
func Clone(spec *ChartSpec) (*ChartSpec, error) {
	copied, err := copystructure.Copy(spec)
	if err != nil {
		return nil, fmt.Errorf("cloning chart spec: %w", err)
	}
	out, ok := copied.(*ChartSpec)
	if !ok {
		return nil, fmt.Errorf("cloning chart spec: unexpected copy type %T", copied)
	}
	return out, nil
}
