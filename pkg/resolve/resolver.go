package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hostvault/hostvault/pkg/machine"
	"github.com/hostvault/hostvault/pkg/template"
)

const tracerName = "hostvault/resolve"

// Resolver runs the full resolution pipeline over a parsed template and
// a machine context. It holds no per-resolution state; a single Resolver
// is safe for concurrent use as long as its predicate registry is not
// mutated mid-flight.
type Resolver struct {
	logger           zerolog.Logger
	predicates       *PredicateRegistry
	predicateTimeout time.Duration
	tracer           trace.Tracer
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithPredicates sets the named-predicate registry used by condition
// evaluation.
func WithPredicates(registry *PredicateRegistry) Option {
	return func(r *Resolver) { r.predicates = registry }
}

// WithPredicateTimeout bounds the wall-clock time of a single predicate
// invocation.
func WithPredicateTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.predicateTimeout = d }
}

// NewResolver creates a resolver with the builtin predicate registry and
// a disabled logger unless options say otherwise.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		logger:           zerolog.New(nil).Level(zerolog.Disabled),
		predicateTimeout: DefaultPredicateTimeout,
		tracer:           otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.predicates == nil {
		r.predicates = NewPredicateRegistry()
	}
	return r
}

// Resolve merges the template's shared, machine-specific, and conditional
// tiers for the given machine, applies its inheritance rules, and
// validates the result. The template and machine context are never
// mutated; identical inputs always produce an identical tree.
func (r *Resolver) Resolve(ctx context.Context, tpl *template.Template, mc *machine.Context, schemas SectionSchemas) (*ResolvedConfig, error) {
	if tpl == nil {
		return nil, fmt.Errorf("template is nil")
	}
	if mc == nil {
		return nil, fmt.Errorf("machine context is nil")
	}

	ctx, span := r.tracer.Start(ctx, "resolve",
		trace.WithAttributes(
			attribute.String("template.name", tpl.Metadata.Name),
			attribute.String("machine.name", mc.MachineName),
		))
	defer span.End()

	start := time.Now()
	logger := r.logger.With().
		Str("template", tpl.Metadata.Name).
		Str("machine", mc.MachineName).
		Logger()

	selectors := NewSelectorEvaluator(logger)
	conditions := NewConditionEvaluator(r.predicates, r.predicateTimeout, logger)
	m := newMerger(selectors, conditions, logger)

	_, sharedSpan := r.tracer.Start(ctx, "resolve.shared")
	m.sharedPass(tpl)
	sharedSpan.End()

	_, overlaySpan := r.tracer.Start(ctx, "resolve.overlays")
	m.applyOverlays(tpl, mc)
	overlaySpan.End()

	_, ruleSpan := r.tracer.Start(ctx, "resolve.rules")
	rules := NewRuleProcessor(logger)
	m.warnings = append(m.warnings, rules.Apply(tpl.InheritanceRules, m.out)...)
	ruleSpan.End()

	condCtx, condSpan := r.tracer.Start(ctx, "resolve.conditionals")
	m.injectConditionalSections(condCtx, tpl, mc)
	condSpan.End()

	m.out.Warnings = m.warnings

	_, validateSpan := r.tracer.Start(ctx, "resolve.validate")
	validator := NewValidator(logger)
	warns, err := validator.Validate(m.out, tpl.Configuration.Level(), schemas)
	validateSpan.End()
	m.out.Warnings = append(m.out.Warnings, warns...)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("resolve.entries", m.out.EntryCount()),
		attribute.Int("resolve.warnings", len(m.out.Warnings)),
	)
	logger.Info().
		Int("sections", len(m.out.Sections)).
		Int("entries", m.out.EntryCount()).
		Int("warnings", len(m.out.Warnings)).
		Dur("duration", time.Since(start)).
		Msg("Template resolved")

	return m.out, nil
}
