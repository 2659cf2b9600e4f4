package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	ph "github.com/gofhir/phigate"
)

// TracerName is the instrumentation name of pipeline spans.
const TracerName = "github.com/gofhir/phigate/pipeline"

// Pipeline runs registered phases over a record, group by group. Whatever
// the execution mode, issues land in the result ordered by priority and
// then registration, so two runs over the same record agree.
type Pipeline struct {
	mu       sync.RWMutex
	registry *PhaseRegistry
	groups   []*PhaseGroup

	metrics *ph.Metrics
	tracer  trace.Tracer
	options *PipelineOptions
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	// ParallelExecution lets a group of parallel phases fan out.
	ParallelExecution bool

	// CollectMetrics records per-phase timing into the metrics.
	CollectMetrics bool

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// DefaultPipelineOptions returns sequential execution with metrics on.
func DefaultPipelineOptions() *PipelineOptions {
	return &PipelineOptions{CollectMetrics: true}
}

// NewPipeline returns an empty pipeline. A nil opts uses the defaults.
func NewPipeline(opts *PipelineOptions) *Pipeline {
	if opts == nil {
		opts = DefaultPipelineOptions()
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Pipeline{
		registry: NewPhaseRegistry(),
		metrics:  ph.NewMetrics(),
		tracer:   tp.Tracer(TracerName),
		options:  opts,
	}
}

// PhaseOption adjusts a phase at registration.
type PhaseOption func(*PhaseConfig)

// WithPriority sets the phase priority.
func WithPriority(priority PhasePriority) PhaseOption {
	return func(c *PhaseConfig) { c.Priority = priority }
}

// WithParallel sets whether the phase may run in parallel.
func WithParallel(parallel bool) PhaseOption {
	return func(c *PhaseConfig) { c.Parallel = parallel }
}

// WithRequired marks the phase as required.
func WithRequired(required bool) PhaseOption {
	return func(c *PhaseConfig) { c.Required = required }
}

// Register adds phase under id, enabled, at normal priority unless opts
// say otherwise.
func (p *Pipeline) Register(id PhaseID, phase Phase, opts ...PhaseOption) {
	cfg := &PhaseConfig{
		Phase:    phase,
		Priority: PriorityNormal,
		Parallel: true,
		Enabled:  true,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry.Register(id, cfg)
	p.regroup()
}

// Enable turns id back on.
func (p *Pipeline) Enable(id PhaseID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry.Enable(id)
	p.regroup()
}

// Disable turns id off. Required phases stay on.
func (p *Pipeline) Disable(id PhaseID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry.Disable(id)
	p.regroup()
}

// regroup recomputes the groups. p.mu must be held for writing.
func (p *Pipeline) regroup() {
	enabled := p.registry.GetEnabled()
	if len(enabled) == 0 {
		p.groups = nil
		return
	}
	p.groups = groupByPriority(enabled, p.options.ParallelExecution)
}

// Execute runs every group against pctx and returns pctx.Result. The first
// phase fault stops execution; the error is marked phigate.ErrInternal and
// names the phase.
func (p *Pipeline) Execute(ctx context.Context, pctx *Context) (*ph.Result, error) {
	if pctx.Result == nil {
		pctx.Result = ph.NewResult()
	}

	p.mu.RLock()
	groups := p.groups
	p.mu.RUnlock()

	for _, g := range groups {
		if err := p.runGroup(ctx, pctx, g); err != nil {
			return pctx.Result, err
		}
	}
	return pctx.Result, nil
}

func (p *Pipeline) runGroup(ctx context.Context, pctx *Context, g *PhaseGroup) error {
	results := make([]PhaseResult, len(g.Phases))

	if g.Parallel && len(g.Phases) > 1 {
		var wg sync.WaitGroup
		for i, cfg := range g.Phases {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = p.runPhase(ctx, pctx, cfg)
			}()
		}
		wg.Wait()
	} else {
		for i, cfg := range g.Phases {
			results[i] = p.runPhase(ctx, pctx, cfg)
			if results[i].Error != nil {
				break
			}
		}
	}

	// Merge in declared order, not completion order.
	for _, r := range results {
		if r.Error != nil {
			return r.Error
		}
		pctx.Result.AddIssues(r.Issues)
	}
	return nil
}

// runPhase runs one phase inside a span. A panic becomes an internal fault.
func (p *Pipeline) runPhase(ctx context.Context, pctx *Context, cfg *PhaseConfig) (res PhaseResult) {
	name := cfg.Phase.Name()
	res.PhaseID = cfg.ID

	ctx, span := p.tracer.Start(ctx, "phigate.phase."+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("phigate.phase", name)))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Issues = nil
			res.Error = ph.WrapInternal(errors.Newf("panic: %s", fmt.Sprint(r)), "phase "+name)
		}
		elapsed := time.Since(start)
		res.Duration = elapsed.Nanoseconds()
		if p.options.CollectMetrics && p.metrics != nil {
			p.metrics.RecordPhase(name, elapsed, len(res.Issues))
		}

		span.SetAttributes(attribute.Int("phigate.issues", len(res.Issues)))
		if res.Error != nil {
			span.RecordError(res.Error)
			span.SetStatus(codes.Error, "phase fault")
		}
		span.End()
	}()

	issues, err := cfg.Phase.Validate(ctx, pctx)
	switch {
	case err == nil:
		res.Issues = issues
	case ph.IsInternal(err):
		res.Error = errors.Wrapf(err, "phase %s", name)
	default:
		res.Error = ph.WrapInternal(err, "phase "+name)
	}
	return res
}

// Plan returns the groups as they stand now.
func (p *Pipeline) Plan() *ExecutionPlan {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return NewExecutionPlan(p.groups)
}

// Metrics returns the pipeline metrics.
func (p *Pipeline) Metrics() *ph.Metrics { return p.metrics }

// SetMetrics replaces the metrics sink. Call it before Execute.
func (p *Pipeline) SetMetrics(m *ph.Metrics) { p.metrics = m }

// Registry returns the phase registry.
func (p *Pipeline) Registry() *PhaseRegistry { return p.registry }

// PhaseCount is the number of enabled phases.
func (p *Pipeline) PhaseCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.registry.GetEnabled())
}

// GroupCount returns the number of execution groups.
func (p *Pipeline) GroupCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.groups)
}

// sortPhases orders by priority, then registration.
func sortPhases(phases []*PhaseConfig) {
	sort.SliceStable(phases, func(i, j int) bool {
		if phases[i].Priority != phases[j].Priority {
			return phases[i].Priority < phases[j].Priority
		}
		return phases[i].order < phases[j].order
	})
}
