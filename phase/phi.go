package phase

import (
	"context"
	"strconv"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/phi"
	"github.com/gofhir/phigate/pipeline"
)

// PHIPhase scans the record for protected health information and stores
// the findings on the context. In strict mode a non-advisory finding is an
// error; otherwise every finding is a warning.
type PHIPhase struct {
	matcher *phi.Matcher
}

// NewPHIPhase creates a PHI phase backed by m.
func NewPHIPhase(m *phi.Matcher) *PHIPhase {
	return &PHIPhase{matcher: m}
}

// Name returns the phase name.
func (p *PHIPhase) Name() string {
	return "phi"
}

// Validate runs the matcher over the record.
func (p *PHIPhase) Validate(_ context.Context, pctx *pipeline.Context) ([]ph.Issue, error) {
	findings := p.matcher.Detect(pctx.Record)
	pctx.SetFindings(findings)
	if len(findings) == 0 {
		return nil, nil
	}

	strict := pctx.Strict()
	issues := make([]ph.Issue, 0, len(findings))
	for _, f := range findings {
		issues = append(issues, FindingIssue(f, strict && !f.Advisory))
	}
	return issues, nil
}

// FindingIssue converts a finding into an error or a warning issue.
func FindingIssue(f ph.Finding, asError bool) ph.Issue {
	b := ph.Warning(ph.IssueTypePHI).Diagnostics(f.String())
	if asError {
		b = ph.Error(ph.IssueTypePHI).Diagnostics("PHI detected in field " + f.Field + ": " +
			string(f.Category) + " (confidence " + strconv.FormatFloat(f.Confidence, 'f', 2, 64) + ")")
	}
	return b.Field(f.Field).Category(f.Category).Phase("phi").Build()
}

// PHIPhaseConfig returns the standard configuration for the PHI phase.
func PHIPhaseConfig(m *phi.Matcher) *pipeline.PhaseConfig {
	return &pipeline.PhaseConfig{
		Phase:    NewPHIPhase(m),
		Priority: pipeline.PriorityNormal,
		Parallel: true,
		Required: true,
		Enabled:  true,
	}
}
