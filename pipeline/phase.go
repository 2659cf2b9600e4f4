package pipeline

import (
	"context"

	ph "github.com/gofhir/phigate"
)

// Phase is one check applied to a record. Implementations keep no per-record
// state outside the Context and must tolerate concurrent calls. A phase runs
// to completion once started.
type Phase interface {
	Name() string

	// Validate returns the issues the phase found in pctx.Record. A non-nil
	// error is a fault in the phase itself; bad data is reported as issues.
	Validate(ctx context.Context, pctx *Context) ([]ph.Issue, error)
}

type funcPhase struct {
	name string
	fn   func(ctx context.Context, pctx *Context) ([]ph.Issue, error)
}

// NewPhaseFunc adapts fn into a Phase named name.
func NewPhaseFunc(name string, fn func(ctx context.Context, pctx *Context) ([]ph.Issue, error)) Phase {
	return &funcPhase{name: name, fn: fn}
}

func (p *funcPhase) Name() string { return p.name }

func (p *funcPhase) Validate(ctx context.Context, pctx *Context) ([]ph.Issue, error) {
	return p.fn(ctx, pctx)
}

// PhaseID is the registry key of a phase.
type PhaseID string

const (
	PhaseIDSchema  PhaseID = "schema"
	PhaseIDPHI     PhaseID = "phi"
	PhaseIDQuality PhaseID = "quality"
)

// PhasePriority orders phases. Lower runs first and its issues come first
// in the result.
type PhasePriority int

const (
	PriorityFirst  PhasePriority = 100 // schema
	PriorityEarly  PhasePriority = 200
	PriorityNormal PhasePriority = 500 // phi
	PriorityLate   PhasePriority = 800 // quality
	PriorityLast   PhasePriority = 900
)

// PhaseConfig is a registered phase with its scheduling flags.
type PhaseConfig struct {
	ID       PhaseID
	Phase    Phase
	Priority PhasePriority

	// Parallel allows the phase to share a goroutine fan-out with other
	// parallel phases of the same priority.
	Parallel bool

	// Required phases ignore Disable.
	Required bool
	Enabled  bool

	order int // registration sequence, breaks priority ties
}

// PhaseResult is the outcome of one phase on one record.
type PhaseResult struct {
	PhaseID  PhaseID
	Issues   []ph.Issue
	Duration int64 // ns
	Error    error
}

// PhaseRegistry holds the phases known to a pipeline.
type PhaseRegistry struct {
	phases map[PhaseID]*PhaseConfig
	next   int
}

// NewPhaseRegistry creates an empty registry.
func NewPhaseRegistry() *PhaseRegistry {
	return &PhaseRegistry{phases: make(map[PhaseID]*PhaseConfig)}
}

// Register stores config under id. Replacing an existing id keeps its
// position among phases of equal priority.
func (r *PhaseRegistry) Register(id PhaseID, config *PhaseConfig) {
	config.ID = id
	if prev, ok := r.phases[id]; ok {
		config.order = prev.order
	} else {
		config.order = r.next
		r.next++
	}
	r.phases[id] = config
}

// Get returns the phase registered under id.
func (r *PhaseRegistry) Get(id PhaseID) (*PhaseConfig, bool) {
	cfg, ok := r.phases[id]
	return cfg, ok
}

// GetEnabled returns the enabled phases in no particular order; callers
// sort with sortPhases.
func (r *PhaseRegistry) GetEnabled() []*PhaseConfig {
	var out []*PhaseConfig
	for _, cfg := range r.phases {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out
}

// Enable turns on id.
func (r *PhaseRegistry) Enable(id PhaseID) {
	if cfg, ok := r.phases[id]; ok {
		cfg.Enabled = true
	}
}

// Disable turns off id unless it is required.
func (r *PhaseRegistry) Disable(id PhaseID) {
	if cfg, ok := r.phases[id]; ok && !cfg.Required {
		cfg.Enabled = false
	}
}

type conditionalPhase struct {
	Phase
	condition func(*Context) bool
}

// NewConditionalPhase wraps phase so it reports nothing when condition
// returns false for the record being validated.
func NewConditionalPhase(phase Phase, condition func(*Context) bool) Phase {
	return &conditionalPhase{Phase: phase, condition: condition}
}

func (p *conditionalPhase) Validate(ctx context.Context, pctx *Context) ([]ph.Issue, error) {
	if p.condition != nil && !p.condition(pctx) {
		return nil, nil
	}
	return p.Phase.Validate(ctx, pctx)
}

type compositePhase struct {
	name   string
	phases []Phase
}

// NewCompositePhase runs phases one after another under a single name and
// concatenates their issues. The first fault stops it.
func NewCompositePhase(name string, phases ...Phase) Phase {
	return &compositePhase{name: name, phases: phases}
}

func (p *compositePhase) Name() string { return p.name }

func (p *compositePhase) Validate(ctx context.Context, pctx *Context) ([]ph.Issue, error) {
	var issues []ph.Issue
	for _, sub := range p.phases {
		found, err := sub.Validate(ctx, pctx)
		if err != nil {
			return issues, err
		}
		issues = append(issues, found...)
	}
	return issues, nil
}
