package phase

import (
	"context"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/pipeline"
)

// UnknownFieldsPhase reports top-level fields the schema does not declare.
// Unknown fields are never errors; records stay forward compatible.
type UnknownFieldsPhase struct{}

// NewUnknownFieldsPhase creates a new unknown fields detection phase.
func NewUnknownFieldsPhase() *UnknownFieldsPhase {
	return &UnknownFieldsPhase{}
}

// Name returns the phase name.
func (p *UnknownFieldsPhase) Name() string {
	return "unknown-fields"
}

// Validate returns one warning per unknown field, sorted by name.
func (p *UnknownFieldsPhase) Validate(_ context.Context, pctx *pipeline.Context) ([]ph.Issue, error) {
	if pctx.Schema == nil {
		return nil, errNoSchema
	}

	var issues []ph.Issue
	for _, name := range pctx.Record.Keys() {
		if pctx.Schema.Has(name) {
			continue
		}
		issues = append(issues, ph.Warning(ph.IssueTypeUnknownField).
			Diagnostics("unknown field: "+name).
			Field(name).
			Phase(p.Name()).
			Build())
	}
	return issues, nil
}
