// Package planner implements the pipeline of pure AST-to-AST rewrites that
// turns one parsed ChartSpec into a (server_spec, client_spec, comm_plan)
// triple: the server spec is what the runtime orchestrator evaluates, the
// client spec is what a rendering frontend receives, and comm_plan records
// which scoped variables cross that boundary in which direction.
//
// Passes are pure functions over (server, client, plan, domain dataset
// fields) - the same "AST in, rewritten AST out, no hidden state" shape
// OpenTofu's internal/lang/eval compile pipeline uses for its own ordered
// pass list. Running the same spec through the same pipeline twice must
// produce byte-identical output; nothing here performs I/O.
package planner

import (
	"github.com/MarcoGorelli/vegafusion/internal/chartspec"
	"github.com/MarcoGorelli/vegafusion/internal/diagnostics"
	"github.com/MarcoGorelli/vegafusion/internal/variable"
)

// CommPlan records which scoped variables cross the server/client boundary,
// and in which direction.
type CommPlan struct {
	// ServerToClient lists values the server computes that the client
	// consumes (typically every dataset, plus any signal the server drives).
	ServerToClient []variable.Scoped
	// ClientToServer lists signals the client drives that the server must
	// observe (typically every interaction-bound signal).
	ClientToServer []variable.Scoped
}

// DomainMapping records, for an auxiliary scale-domain dataset synthesised
// by an earlier pass, the original dataset and column it mirrors - the
// "domain_dataset_fields" indirection the stringify-local-datetimes pass
// consults so that a synthetic domain dataset inherits its source's
// local-datetime-field treatment instead of needing its own.
type DomainMapping struct {
	MappedVar variable.ScopedKey
	Field     string
}

// Pass is one stage of the planner pipeline: given the server and client
// specs (mutated in place) and the running comm plan, rewrite whatever this
// pass is responsible for. Run calls each pass exactly once, and
// domain_dataset_fields accumulates across passes rather than resetting.
// Passes are not idempotent in general: StringifyLocalDatetimes, run again
// on its own output, appends its formulas a second time.
type Pass func(server, client *chartspec.ChartSpec, plan *CommPlan, domainDatasetFields map[variable.ScopedKey]DomainMapping) error

// Options configures a planner Run.
type Options struct {
	// CommPlan seeds the comm plan passed to every pass. If both of its
	// slices are nil, DefaultCommPlan(spec) is used instead.
	CommPlan CommPlan
	// DomainDatasetFields maps auxiliary scale-domain datasets back to the
	// dataset/field they mirror. May be nil if the spec has none.
	DomainDatasetFields map[variable.ScopedKey]DomainMapping
	// Passes is the ordered pipeline to run. Defaults to
	// []Pass{StringifyLocalDatetimes} when nil - the one pass this module
	// specifies in full; additional passes (mark splitting, scale-domain
	// dataset synthesis, and so on) are out of scope here and compose by
	// simply being appended to this slice by a caller that implements them.
	Passes []Pass
}

// Result is the output of a planner Run.
type Result struct {
	Server *chartspec.ChartSpec
	Client *chartspec.ChartSpec
	Plan   CommPlan
}

// Run clones spec into independent server and client copies and runs the
// configured pipeline over them, returning the rewritten specs and the final
// comm plan. Passes run in order and share one comm plan and one
// domain-dataset-fields map; a pass that fails aborts the pipeline and its
// error is returned unchanged, with no Result. Passes only ever mutate Run's
// own clones, so spec itself is left unchanged whether Run succeeds or not.
func Run(spec *chartspec.ChartSpec, opts Options) (*Result, error) {
	server, err := chartspec.Clone(spec)
	if err != nil {
		return nil, diagnostics.InternalErrorf("planner: cloning server spec: %v", err)
	}
	client, err := chartspec.Clone(spec)
	if err != nil {
		return nil, diagnostics.InternalErrorf("planner: cloning client spec: %v", err)
	}

	plan := opts.CommPlan
	if plan.ServerToClient == nil && plan.ClientToServer == nil {
		plan = DefaultCommPlan(spec)
	}

	domainFields := opts.DomainDatasetFields
	if domainFields == nil {
		domainFields = map[variable.ScopedKey]DomainMapping{}
	}

	passes := opts.Passes
	if passes == nil {
		passes = []Pass{StringifyLocalDatetimes}
	}

	for _, pass := range passes {
		if err := pass(server, client, &plan, domainFields); err != nil {
			return nil, err
		}
	}

	return &Result{Server: server, Client: client, Plan: plan}, nil
}

// DefaultCommPlan builds the comm plan used when Options.CommPlan is left
// unset: every declared dataset becomes a server-to-client value (the server
// computes every dataset and the client needs it to render), and every
// declared signal becomes a client-to-server value (the client drives
// interactivity and the server observes it). spec.md leaves the pass(es)
// that actually decide this split out of scope - only the
// stringify-local-datetimes pass operating downstream of it is specified in
// full - so this default is a documented planner-level assumption, not a
// literal port of anything upstream; see DESIGN.md.
func DefaultCommPlan(spec *chartspec.ChartSpec) CommPlan {
	c := &commPlanCollector{}
	chartspec.Walk(spec, c)
	return CommPlan{ServerToClient: c.serverToClient, ClientToServer: c.clientToServer}
}

type commPlanCollector struct {
	chartspec.NoopVisitor
	serverToClient []variable.Scoped
	clientToServer []variable.Scoped
}

func (c *commPlanCollector) VisitData(d *chartspec.DataSpec, scope variable.Scope) {
	c.serverToClient = append(c.serverToClient, variable.NewScoped(variable.MustNew(variable.Data, d.Name), scope))
}

func (c *commPlanCollector) VisitSignal(s *chartspec.SignalSpec, scope variable.Scope) {
	c.clientToServer = append(c.clientToServer, variable.NewScoped(variable.MustNew(variable.Signal, s.Name), scope))
}
