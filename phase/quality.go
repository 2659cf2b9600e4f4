package phase

import (
	"context"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/pipeline"
	"github.com/gofhir/phigate/quality"
)

// QualityPhase scores the record and stores the report on the context.
// Failed sub-checks become informational issues; they never affect
// validity.
type QualityPhase struct {
	scorer *quality.Scorer
}

// NewQualityPhase creates a quality phase backed by sc.
func NewQualityPhase(sc *quality.Scorer) *QualityPhase {
	return &QualityPhase{scorer: sc}
}

// Name returns the phase name.
func (p *QualityPhase) Name() string {
	return "quality"
}

// Validate scores the record. A rule evaluation fault is returned as an
// error.
func (p *QualityPhase) Validate(_ context.Context, pctx *pipeline.Context) ([]ph.Issue, error) {
	report, err := p.scorer.Score(pctx.Record)
	if err != nil {
		return nil, err
	}
	pctx.SetQuality(report)

	var issues []ph.Issue
	for _, msg := range report.Issues {
		issues = append(issues, ph.Info(ph.IssueTypeQuality).
			Diagnostics(msg).
			Phase(p.Name()).
			Build())
	}
	return issues, nil
}

// QualityPhaseConfig returns the standard configuration for the quality
// phase. It only runs when the context includes quality reports.
func QualityPhaseConfig(sc *quality.Scorer) *pipeline.PhaseConfig {
	return &pipeline.PhaseConfig{
		Phase:    pipeline.NewConditionalPhase(NewQualityPhase(sc), includeQuality),
		Priority: pipeline.PriorityLate,
		Parallel: false,
		Required: false,
		Enabled:  true,
	}
}

func includeQuality(pctx *pipeline.Context) bool {
	return pctx.Options == nil || pctx.Options.IncludeQuality
}
