package planner

import (
	"fmt"
	"sort"

	"github.com/MarcoGorelli/vegafusion/internal/chartspec"
	"github.com/MarcoGorelli/vegafusion/internal/taskscope"
	"github.com/MarcoGorelli/vegafusion/internal/variable"
)

// StringifyLocalDatetimes is the one planner pass spec.md specifies in
// full. The server stores timestamps as UTC milliseconds; a chart rendered
// by the client may use any browser timezone. For every dataset column fed
// into a non-UTC time scale, this pass converts that column on the server to
// a formatted local-time string (in the deployment's output timezone), and
// has the client reparse it as a local date - so the rendered chart looks
// identical regardless of the viewer's browser timezone.
//
// Grounded directly on
// vegafusion-core/src/planning/stringify_local_datetimes.rs: five visitors
// over the client and server specs, run in a fixed order, accumulating
// state from one into the next. Two resolution-failure behaviors are
// preserved exactly as upstream: a failed resolve while walking marks aborts
// the whole pass (a mark referencing a truly unknown dataset or scale is a
// spec error), while a failed resolve while walking a scale's domain field
// references is silently skipped (a scale may reference a dataset that
// simply isn't eligible, which is not an error).
func StringifyLocalDatetimes(server, client *chartspec.ChartSpec, plan *CommPlan, domainDatasetFields map[variable.ScopedKey]DomainMapping) error {
	clientScope := taskscope.Build(client)

	scales := &collectLocalTimeScalesVisitor{localTimeScales: map[variable.ScopedKey]bool{}}
	chartspec.Walk(client, scales)

	candidateDatasets := map[variable.ScopedKey]bool{}
	for _, v := range plan.ServerToClient {
		if v.Var.Namespace == variable.Data {
			candidateDatasets[v.Key()] = true
		}
	}

	fields := &collectLocalTimeScaledFieldsVisitor{
		scope:               clientScope,
		candidateDatasets:   candidateDatasets,
		localTimeScales:     scales.localTimeScales,
		localDatetimeFields: map[variable.ScopedKey]map[string]bool{},
	}
	chartspec.Walk(client, fields)
	if fields.err != nil {
		return fields.err
	}
	localDatetimeFields := fields.localDatetimeFields

	if len(localDatetimeFields) == 0 {
		return nil
	}

	serverScope := taskscope.Build(server)
	serverVisitor := &stringifyServerVisitor{
		localDatetimeFields: localDatetimeFields,
		scope:               serverScope,
		domainDatasetFields: domainDatasetFields,
	}
	chartspec.WalkMut(server, serverVisitor)
	if serverVisitor.err != nil {
		return serverVisitor.err
	}

	clientVisitor := &formatClientVisitor{
		localDatetimeFields: localDatetimeFields,
		domainDatasetFields: domainDatasetFields,
	}
	chartspec.WalkMut(client, clientVisitor)
	return nil
}

// collectLocalTimeScalesVisitor gathers the scoped variable of every scale
// that is either itself type "time" or rendered by a "time"-formatted axis.
type collectLocalTimeScalesVisitor struct {
	chartspec.NoopVisitor
	localTimeScales map[variable.ScopedKey]bool
}

func (v *collectLocalTimeScalesVisitor) VisitScale(s *chartspec.ScaleSpec, scope variable.Scope) {
	if s.Type == chartspec.ScaleTypeTime {
		v.localTimeScales[scaleKey(s.Name, scope)] = true
	}
}

func (v *collectLocalTimeScalesVisitor) VisitAxis(a *chartspec.AxisSpec, scope variable.Scope) {
	if a.FormatType == chartspec.AxisFormatTypeTime {
		v.localTimeScales[scaleKey(a.Scale, scope)] = true
	}
}

func scaleKey(name string, scope variable.Scope) variable.ScopedKey {
	return variable.NewScoped(variable.MustNew(variable.Scale, name), scope).Key()
}

func dataKey(name string, scope variable.Scope) variable.ScopedKey {
	return variable.NewScoped(variable.MustNew(variable.Data, name), scope).Key()
}

// collectLocalTimeScaledFieldsVisitor finds, per candidate dataset, the set
// of fields that are fed into a local time scale - either directly through a
// mark's encoding channel, or through a local-time scale's own domain field
// reference.
type collectLocalTimeScaledFieldsVisitor struct {
	chartspec.NoopVisitor
	scope               *taskscope.TaskScope
	candidateDatasets   map[variable.ScopedKey]bool
	localTimeScales     map[variable.ScopedKey]bool
	localDatetimeFields map[variable.ScopedKey]map[string]bool
	err                 error
}

func (v *collectLocalTimeScaledFieldsVisitor) add(key variable.ScopedKey, field string) {
	m, ok := v.localDatetimeFields[key]
	if !ok {
		m = map[string]bool{}
		v.localDatetimeFields[key] = m
	}
	m[field] = true
}

func (v *collectLocalTimeScaledFieldsVisitor) VisitNonGroupMark(m *chartspec.MarkSpec, scope variable.Scope) {
	if v.err != nil || m.From == nil || m.From.Data == "" {
		return
	}
	resolvedData, err := v.scope.Resolve(variable.MustNew(variable.Data, m.From.Data), scope)
	if err != nil {
		v.err = err
		return
	}
	datasetKey := variable.NewScoped(resolvedData.Var, resolvedData.Scope).Key()
	if !v.candidateDatasets[datasetKey] || m.Encode == nil {
		return
	}
	for _, set := range m.Encode.Sets {
		for _, channels := range set.Channels {
			for _, ch := range channels {
				if ch.Scale == nil || ch.Field == nil {
					continue
				}
				resolvedScale, err := v.scope.Resolve(variable.MustNew(variable.Scale, *ch.Scale), scope)
				if err != nil {
					v.err = err
					return
				}
				scaleKey := variable.NewScoped(resolvedScale.Var, resolvedScale.Scope).Key()
				if v.localTimeScales[scaleKey] {
					v.add(datasetKey, *ch.Field)
				}
			}
		}
	}
}

func (v *collectLocalTimeScaledFieldsVisitor) VisitScale(s *chartspec.ScaleSpec, scope variable.Scope) {
	if v.err != nil {
		return
	}
	if !v.localTimeScales[scaleKey(s.Name, scope)] {
		return
	}
	for _, fr := range s.Domain.FieldRefs() {
		resolved, err := v.scope.Resolve(variable.MustNew(variable.Data, fr.Data), scope)
		if err != nil {
			// A time scale's domain may reference a dataset outside this
			// pass's concern; unlike the mark case, that is not an error.
			continue
		}
		key := variable.NewScoped(resolved.Var, resolved.Scope).Key()
		if v.candidateDatasets[key] {
			v.add(key, fr.Field)
		}
	}
}

func getLocalDatetimeFields(
	key variable.ScopedKey,
	localDatetimeFields map[variable.ScopedKey]map[string]bool,
	domainDatasetFields map[variable.ScopedKey]DomainMapping,
) map[string]bool {
	if fields, ok := localDatetimeFields[key]; ok {
		return fields
	}
	if mapping, ok := domainDatasetFields[key]; ok {
		if fields, ok := localDatetimeFields[mapping.MappedVar]; ok && fields[mapping.Field] {
			return map[string]bool{mapping.Field: true}
		}
	}
	return nil
}

func sortedFields(fields map[string]bool) []string {
	out := make([]string, 0, len(fields))
	for f := range fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// stringifyServerVisitor appends the timeFormat formula transform to every
// affected server DataSpec, and - when this dataset's source is itself
// stringified - prepends the inverse toDate formula so the child sees
// millisecond timestamps again before its own transforms run.
type stringifyServerVisitor struct {
	chartspec.NoopVisitor
	localDatetimeFields map[variable.ScopedKey]map[string]bool
	scope               *taskscope.TaskScope
	domainDatasetFields map[variable.ScopedKey]DomainMapping
	err                 error
}

func (v *stringifyServerVisitor) VisitData(d *chartspec.DataSpec, scope variable.Scope) {
	if v.err != nil {
		return
	}
	key := dataKey(d.Name, scope)
	fields := getLocalDatetimeFields(key, v.localDatetimeFields, v.domainDatasetFields)
	for _, field := range sortedFields(fields) {
		expr := fmt.Sprintf("timeFormat(datum['%s'], '%%Y-%%m-%%d %%H:%%M:%%S.%%L')", field)
		d.Transform = append(d.Transform, chartspec.NewFormulaTransform(expr, field))
	}

	if d.Source == "" {
		return
	}
	resolved, err := v.scope.Resolve(variable.MustNew(variable.Data, d.Source), scope)
	if err != nil {
		v.err = err
		return
	}
	sourceKey := variable.NewScoped(resolved.Var, resolved.Scope).Key()
	sourceFields, ok := v.localDatetimeFields[sourceKey]
	if !ok {
		return
	}
	// Matches upstream's repeated insert-at-front: each field in ascending
	// order is prepended, so the final prefix ends up in descending order.
	for _, field := range sortedFields(sourceFields) {
		expr := fmt.Sprintf("toDate(datum['%s'], 'local')", field)
		d.Transform = append([]chartspec.TransformSpec{chartspec.NewFormulaTransform(expr, field)}, d.Transform...)
	}
}

// formatClientVisitor prepends a toDate formula to every affected client
// DataSpec so the client reparses the strings the server now sends.
type formatClientVisitor struct {
	chartspec.NoopVisitor
	localDatetimeFields map[variable.ScopedKey]map[string]bool
	domainDatasetFields map[variable.ScopedKey]DomainMapping
}

func (v *formatClientVisitor) VisitData(d *chartspec.DataSpec, scope variable.Scope) {
	key := dataKey(d.Name, scope)
	fields := getLocalDatetimeFields(key, v.localDatetimeFields, v.domainDatasetFields)
	for _, field := range sortedFields(fields) {
		expr := fmt.Sprintf("toDate(datum['%s'])", field)
		d.Transform = append([]chartspec.TransformSpec{chartspec.NewFormulaTransform(expr, field)}, d.Transform...)
	}
}
