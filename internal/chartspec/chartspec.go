// Package chartspec defines the typed AST that mirrors a Vega v5 chart
// specification: ChartSpec at the root, with DataSpec/SignalSpec/ScaleSpec/
// AxisSpec/MarkSpec nodes recursively nested inside group marks.
//
// Every node preserves any JSON object field this package doesn't know
// about in an Extra bag, so that parsing a spec, mutating a handful of
// fields, and re-serializing it produces a lossless round trip of
// everything else - the same discipline OpenTofu's "package configs"
// applies when decoding HCL bodies it only partially understands.
//
// Nodes carry no back-pointers to their parent; the visitor in visitor.go
// passes scope down explicitly as it walks, so the tree stays trivially
// cloneable (see Clone) and safe to share across goroutines once built.
package chartspec

import (
	"encoding/json"
	"fmt"
)

// ChartSpec is the root of a parsed chart specification.
type ChartSpec struct {
	Schema  string                     `json:"$schema,omitempty"`
	Data    []*DataSpec                `json:"data,omitempty"`
	Signals []*SignalSpec              `json:"signals,omitempty"`
	Scales  []*ScaleSpec               `json:"scales,omitempty"`
	Axes    []*AxisSpec                `json:"axes,omitempty"`
	Marks   []*MarkSpec                `json:"marks,omitempty"`
	Extra   map[string]json.RawMessage `json:"-"`
}

// DefaultSchema is used when parsing a spec that omits "$schema".
const DefaultSchema = "https://vega.github.io/schema/vega/v5.json"

// DataSpec describes one named dataset: either inline Values, a remote URL
// to scan, or a derived dataset naming its Source and a Transform
// pipeline.
type DataSpec struct {
	Name      string                     `json:"name"`
	Source    string                     `json:"source,omitempty"`
	URL       string                     `json:"url,omitempty"`
	Values    []json.RawMessage          `json:"values,omitempty"`
	Format    *DataFormatSpec            `json:"format,omitempty"`
	Transform []TransformSpec            `json:"transform,omitempty"`
	Extra     map[string]json.RawMessage `json:"-"`
}

// DataFormatSpec describes how to parse a scanned URL dataset.
type DataFormatSpec struct {
	Type      string                     `json:"type,omitempty"`
	BatchSize int                        `json:"batchSize,omitempty"`
	Extra     map[string]json.RawMessage `json:"-"`
}

// SignalSpec declares a named reactive value, optionally driven by an
// Update expression.
type SignalSpec struct {
	Name   string                     `json:"name"`
	Value  json.RawMessage            `json:"value,omitempty"`
	Update string                     `json:"update,omitempty"`
	Extra  map[string]json.RawMessage `json:"-"`
}

// ScaleTypeTime and ScaleTypeUTC are the two time-like scale types; the
// stringify-local-datetimes planner pass treats the former specially (see
// planner.StringifyLocalDatetimes) because ScaleTypeUTC already operates on
// UTC milliseconds and needs no timezone adjustment.
const (
	ScaleTypeTime = "time"
	ScaleTypeUTC  = "utc"
)

// ScaleSpec declares a named mapping from data values to visual channels.
type ScaleSpec struct {
	Name   string                     `json:"name"`
	Type   string                     `json:"type,omitempty"`
	Domain *ScaleDomainSpec           `json:"domain,omitempty"`
	Extra  map[string]json.RawMessage `json:"-"`
}

// FieldRef names a single (dataset, field) pair, as used by scale domains.
type FieldRef struct {
	Data  string `json:"data"`
	Field string `json:"field"`
}

// ScaleDomainSpec is a tagged union over the shapes a scale's "domain" can
// take in a Vega spec. Only the two dataset-referencing shapes are modeled
// structurally; anything else (a literal array, a "domain": {"signal": ...}
// reference, etc.) is preserved verbatim in Raw and ignored by passes that
// only care about dataset/field references.
type ScaleDomainSpec struct {
	// Kind is "field", "fields", or "other".
	Kind   string          `json:"-"`
	Field  *FieldRef       `json:"-"`
	Fields []FieldRef      `json:"-"`
	Raw    json.RawMessage `json:"-"`
}

// FieldRefs returns the (dataset, field) pairs named by the domain,
// regardless of whether it was declared as a single field reference or a
// list of them. Returns nil for any other domain shape.
func (d *ScaleDomainSpec) FieldRefs() []FieldRef {
	if d == nil {
		return nil
	}
	switch d.Kind {
	case "field":
		if d.Field == nil {
			return nil
		}
		return []FieldRef{*d.Field}
	case "fields":
		return d.Fields
	default:
		return nil
	}
}

func (d *ScaleDomainSpec) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case "field":
		return json.Marshal(d.Field)
	case "fields":
		return json.Marshal(struct {
			Fields []FieldRef `json:"fields"`
		}{Fields: d.Fields})
	default:
		if d.Raw == nil {
			return []byte("null"), nil
		}
		return d.Raw, nil
	}
}

func (d *ScaleDomainSpec) UnmarshalJSON(data []byte) error {
	// A single {"data": ..., "field": ...} object.
	var single FieldRef
	if err := json.Unmarshal(data, &single); err == nil && single.Data != "" && single.Field != "" {
		d.Kind = "field"
		d.Field = &single
		return nil
	}
	// A {"fields": [{"data":..., "field":...}, ...]} object.
	var multi struct {
		Fields []FieldRef `json:"fields"`
	}
	if err := json.Unmarshal(data, &multi); err == nil && len(multi.Fields) > 0 {
		d.Kind = "fields"
		d.Fields = multi.Fields
		return nil
	}
	d.Kind = "other"
	d.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// AxisSpec declares a rendered axis bound to a scale. AxisFormatTypeTime
// behaves like ScaleTypeTime for the stringify pass: a time-formatted axis
// over a dataset field marks that field as needing timezone-safe
// stringification even if the scale itself isn't literally type "time".
type AxisSpec struct {
	Scale      string                     `json:"scale"`
	FormatType string                     `json:"formatType,omitempty"`
	Extra      map[string]json.RawMessage `json:"-"`
}

// AxisFormatTypeTime is the FormatType value that marks an axis as
// rendering its scale's values as local-timezone dates.
const AxisFormatTypeTime = "time"

// MarkSpec is a visual mark. When Type == "group" it defines a new nested
// scope and may declare its own Data/Signals/Scales/Axes/Marks.
type MarkSpec struct {
	Type   string                     `json:"type"`
	From   *MarkFromSpec              `json:"from,omitempty"`
	Encode *MarkEncodeSpec            `json:"encode,omitempty"`
	Data   []*DataSpec                `json:"data,omitempty"`
	Signals []*SignalSpec             `json:"signals,omitempty"`
	Scales []*ScaleSpec               `json:"scales,omitempty"`
	Axes   []*AxisSpec                `json:"axes,omitempty"`
	Marks  []*MarkSpec                `json:"marks,omitempty"`
	Extra  map[string]json.RawMessage `json:"-"`
}

// IsGroup reports whether this mark introduces a new scope.
func (m *MarkSpec) IsGroup() bool { return m.Type == "group" }

// MarkFromSpec names the dataset a mark's instances are drawn from.
type MarkFromSpec struct {
	Data  string                     `json:"data,omitempty"`
	Extra map[string]json.RawMessage `json:"-"`
}

// MarkEncodeSpec is the "encode" block of a mark: a set of named encoding
// groups (enter, update, hover, ...), each mapping channel name to the
// channel's specification(s).
type MarkEncodeSpec struct {
	Sets map[string]*EncodingSetSpec `json:"-"`
}

// EncodingSetSpec is one named group of channel encodings, e.g. "enter" or
// "update".
type EncodingSetSpec struct {
	Channels map[string][]*ChannelSpec `json:"-"`
}

// ChannelSpec is a single visual channel's encoding. Only the Scale/Field
// pairing is modeled structurally, since that's the only shape the
// stringify pass (and most dependency analysis) needs to recognize; other
// shapes (value, signal, datum, band, ...) are preserved in Extra.
type ChannelSpec struct {
	Scale *string                    `json:"scale,omitempty"`
	Field *string                    `json:"field,omitempty"`
	Extra map[string]json.RawMessage `json:"-"`
}

func (e *MarkEncodeSpec) MarshalJSON() ([]byte, error) {
	out := make(map[string]*EncodingSetSpec, len(e.Sets))
	for k, v := range e.Sets {
		out[k] = v
	}
	return json.Marshal(out)
}

func (e *MarkEncodeSpec) UnmarshalJSON(data []byte) error {
	var raw map[string]*EncodingSetSpec
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding mark encode block: %w", err)
	}
	e.Sets = raw
	return nil
}

func (s *EncodingSetSpec) MarshalJSON() ([]byte, error) {
	out := make(map[string][]*ChannelSpec, len(s.Channels))
	for k, v := range s.Channels {
		out[k] = v
	}
	return json.Marshal(out)
}

func (s *EncodingSetSpec) UnmarshalJSON(data []byte) error {
	// Each channel in a Vega spec may be either a single object or an
	// array of objects (e.g. multi-value "stroke-dash" style channels);
	// normalize both to []*ChannelSpec.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding encoding set: %w", err)
	}
	s.Channels = make(map[string][]*ChannelSpec, len(raw))
	for name, msg := range raw {
		var list []*ChannelSpec
		if err := json.Unmarshal(msg, &list); err == nil {
			s.Channels[name] = list
			continue
		}
		var single ChannelSpec
		if err := json.Unmarshal(msg, &single); err != nil {
			return fmt.Errorf("decoding channel %q: %w", name, err)
		}
		s.Channels[name] = []*ChannelSpec{&single}
	}
	return nil
}
