package chartspec

import "encoding/json"

// marshalWithExtra marshals alias (expected to be a pointer to a type-alias
// of a node type, so its own MarshalJSON isn't recursively invoked), then
// folds in any keys from extra that aren't already produced by alias's own
// known fields. Known fields always win on conflict, matching how
// encoding/json would wire a native `json:",inline"` extension if it had
// one.
func marshalWithExtra(alias any, extra map[string]json.RawMessage) ([]byte, error) {
	base, err := json.Marshal(alias)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return base, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, exists := m[k]; !exists {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// unmarshalWithExtra decodes data into alias for its known fields, then
// returns every top-level key of data not present in known as an Extra bag,
// or nil if there were none.
func unmarshalWithExtra(data []byte, alias any, known map[string]bool) (map[string]json.RawMessage, error) {
	if err := json.Unmarshal(data, alias); err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	var extra map[string]json.RawMessage
	for k, v := range m {
		if known[k] {
			continue
		}
		if extra == nil {
			extra = map[string]json.RawMessage{}
		}
		extra[k] = v
	}
	return extra, nil
}

func keySet(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

var chartSpecKeys = keySet("$schema", "data", "signals", "scales", "axes", "marks")

type chartSpecAlias ChartSpec

func (c *ChartSpec) MarshalJSON() ([]byte, error) {
	return marshalWithExtra((*chartSpecAlias)(c), c.Extra)
}

func (c *ChartSpec) UnmarshalJSON(data []byte) error {
	extra, err := unmarshalWithExtra(data, (*chartSpecAlias)(c), chartSpecKeys)
	if err != nil {
		return err
	}
	c.Extra = extra
	if c.Schema == "" {
		c.Schema = DefaultSchema
	}
	return nil
}

var dataSpecKeys = keySet("name", "source", "url", "values", "format", "transform")

type dataSpecAlias DataSpec

func (d *DataSpec) MarshalJSON() ([]byte, error) {
	return marshalWithExtra((*dataSpecAlias)(d), d.Extra)
}

func (d *DataSpec) UnmarshalJSON(data []byte) error {
	extra, err := unmarshalWithExtra(data, (*dataSpecAlias)(d), dataSpecKeys)
	if err != nil {
		return err
	}
	d.Extra = extra
	return nil
}

var dataFormatSpecKeys = keySet("type", "batchSize")

type dataFormatSpecAlias DataFormatSpec

func (f *DataFormatSpec) MarshalJSON() ([]byte, error) {
	return marshalWithExtra((*dataFormatSpecAlias)(f), f.Extra)
}

func (f *DataFormatSpec) UnmarshalJSON(data []byte) error {
	extra, err := unmarshalWithExtra(data, (*dataFormatSpecAlias)(f), dataFormatSpecKeys)
	if err != nil {
		return err
	}
	f.Extra = extra
	return nil
}

var signalSpecKeys = keySet("name", "value", "update")

type signalSpecAlias SignalSpec

func (s *SignalSpec) MarshalJSON() ([]byte, error) {
	return marshalWithExtra((*signalSpecAlias)(s), s.Extra)
}

func (s *SignalSpec) UnmarshalJSON(data []byte) error {
	extra, err := unmarshalWithExtra(data, (*signalSpecAlias)(s), signalSpecKeys)
	if err != nil {
		return err
	}
	s.Extra = extra
	return nil
}

var scaleSpecKeys = keySet("name", "type", "domain")

type scaleSpecAlias ScaleSpec

func (s *ScaleSpec) MarshalJSON() ([]byte, error) {
	return marshalWithExtra((*scaleSpecAlias)(s), s.Extra)
}

func (s *ScaleSpec) UnmarshalJSON(data []byte) error {
	extra, err := unmarshalWithExtra(data, (*scaleSpecAlias)(s), scaleSpecKeys)
	if err != nil {
		return err
	}
	s.Extra = extra
	return nil
}

var axisSpecKeys = keySet("scale", "formatType")

type axisSpecAlias AxisSpec

func (a *AxisSpec) MarshalJSON() ([]byte, error) {
	return marshalWithExtra((*axisSpecAlias)(a), a.Extra)
}

func (a *AxisSpec) UnmarshalJSON(data []byte) error {
	extra, err := unmarshalWithExtra(data, (*axisSpecAlias)(a), axisSpecKeys)
	if err != nil {
		return err
	}
	a.Extra = extra
	return nil
}

var markSpecKeys = keySet("type", "from", "encode", "data", "signals", "scales", "axes", "marks")

type markSpecAlias MarkSpec

func (m *MarkSpec) MarshalJSON() ([]byte, error) {
	return marshalWithExtra((*markSpecAlias)(m), m.Extra)
}

func (m *MarkSpec) UnmarshalJSON(data []byte) error {
	extra, err := unmarshalWithExtra(data, (*markSpecAlias)(m), markSpecKeys)
	if err != nil {
		return err
	}
	m.Extra = extra
	return nil
}

var markFromSpecKeys = keySet("data")

type markFromSpecAlias MarkFromSpec

func (f *MarkFromSpec) MarshalJSON() ([]byte, error) {
	return marshalWithExtra((*markFromSpecAlias)(f), f.Extra)
}

func (f *MarkFromSpec) UnmarshalJSON(data []byte) error {
	extra, err := unmarshalWithExtra(data, (*markFromSpecAlias)(f), markFromSpecKeys)
	if err != nil {
		return err
	}
	f.Extra = extra
	return nil
}

var channelSpecKeys = keySet("scale", "field")

type channelSpecAlias ChannelSpec

func (c *ChannelSpec) MarshalJSON() ([]byte, error) {
	return marshalWithExtra((*channelSpecAlias)(c), c.Extra)
}

func (c *ChannelSpec) UnmarshalJSON(data []byte) error {
	extra, err := unmarshalWithExtra(data, (*channelSpecAlias)(c), channelSpecKeys)
	if err != nil {
		return err
	}
	c.Extra = extra
	return nil
}

// Parse decodes a chart specification from JSON.
func Parse(data []byte) (*ChartSpec, error) {
	var spec ChartSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// MarshalIndent renders spec back to pretty-printed JSON.
func MarshalIndent(spec *ChartSpec) ([]byte, error) {
	return json.MarshalIndent(spec, "", "  ")
}
