package pipeline

// PhaseGroup is a set of phases sharing a priority. Issues of a group are
// merged in Phases order even when the group runs in parallel.
type PhaseGroup struct {
	Priority PhasePriority
	Phases   []*PhaseConfig
	Parallel bool
}

// Names returns the phase names of the group.
func (g *PhaseGroup) Names() []string {
	names := make([]string, len(g.Phases))
	for i, cfg := range g.Phases {
		names[i] = cfg.Phase.Name()
	}
	return names
}

// Stage places a phase in the standard record flow.
type Stage struct {
	ID       PhaseID
	Priority PhasePriority
	Parallel bool
}

// StandardStages is the record flow: schema, then PHI, then quality.
var StandardStages = []Stage{
	{ID: PhaseIDSchema, Priority: PriorityFirst},
	{ID: PhaseIDPHI, Priority: PriorityNormal, Parallel: true},
	{ID: PhaseIDQuality, Priority: PriorityLate},
}

// ExecutionPlan is a snapshot of the groups a pipeline will run.
type ExecutionPlan struct {
	Groups []*PhaseGroup
}

// NewExecutionPlan creates a plan over groups.
func NewExecutionPlan(groups []*PhaseGroup) *ExecutionPlan {
	return &ExecutionPlan{Groups: groups}
}

// PhaseNames lists phase names in merge order.
func (p *ExecutionPlan) PhaseNames() []string {
	var names []string
	for _, g := range p.Groups {
		names = append(names, g.Names()...)
	}
	return names
}

// TotalPhases returns the number of phases in the plan.
func (p *ExecutionPlan) TotalPhases() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g.Phases)
	}
	return n
}

// ParallelPhases counts phases that actually fan out, i.e. members of a
// parallel group with more than one phase.
func (p *ExecutionPlan) ParallelPhases() int {
	n := 0
	for _, g := range p.Groups {
		if g.Parallel && len(g.Phases) > 1 {
			n += len(g.Phases)
		}
	}
	return n
}

// groupByPriority sorts phases and splits them at priority boundaries. A
// group is parallel only if allowParallel is set and all its members are.
func groupByPriority(phases []*PhaseConfig, allowParallel bool) []*PhaseGroup {
	sorted := make([]*PhaseConfig, len(phases))
	copy(sorted, phases)
	sortPhases(sorted)

	var groups []*PhaseGroup
	for _, cfg := range sorted {
		if n := len(groups); n == 0 || groups[n-1].Priority != cfg.Priority {
			groups = append(groups, &PhaseGroup{Priority: cfg.Priority, Parallel: allowParallel})
		}
		g := groups[len(groups)-1]
		g.Phases = append(g.Phases, cfg)
		g.Parallel = g.Parallel && cfg.Parallel
	}
	return groups
}
