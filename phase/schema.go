package phase

import (
	"context"

	"github.com/cockroachdb/errors"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/pipeline"
	"github.com/gofhir/phigate/pkg/typecheck"
)

// errNoSchema is returned when a context reaches the schema phase without
// a schema; the engine never builds such a context.
var errNoSchema = errors.New("validation context has no schema")

// SchemaPhase checks every declared field of the record. Issues are
// produced in schema field order so results are reproducible.
type SchemaPhase struct {
	checker *typecheck.Checker
}

// NewSchemaPhase creates a schema phase. A nil terminology disables value
// set checks.
func NewSchemaPhase(terminology ph.Terminology) *SchemaPhase {
	return &SchemaPhase{checker: typecheck.New(terminology)}
}

// Name returns the phase name.
func (p *SchemaPhase) Name() string {
	return "schema"
}

// Validate checks required fields and field values.
func (p *SchemaPhase) Validate(_ context.Context, pctx *pipeline.Context) ([]ph.Issue, error) {
	if pctx.Schema == nil {
		return nil, errNoSchema
	}

	var issues []ph.Issue
	for _, spec := range pctx.Schema.Fields() {
		v, ok := pctx.Field(spec.Name)
		if !ok || v.IsNull() {
			if spec.Required {
				issues = append(issues, typecheck.Missing(spec))
			}
			continue
		}
		issues = append(issues, p.checker.Check(spec, v)...)
	}
	return issues, nil
}

// SchemaPhaseConfig returns the standard configuration for the schema
// phase, including unknown-field warnings when the context asks for them.
func SchemaPhaseConfig(terminology ph.Terminology) *pipeline.PhaseConfig {
	return &pipeline.PhaseConfig{
		Phase: pipeline.NewCompositePhase("schema",
			NewSchemaPhase(terminology),
			pipeline.NewConditionalPhase(NewUnknownFieldsPhase(), warnUnknownFields),
		),
		Priority: pipeline.PriorityFirst,
		Parallel: false,
		Required: true,
		Enabled:  true,
	}
}

func warnUnknownFields(pctx *pipeline.Context) bool {
	return pctx.Options != nil && pctx.Options.WarnUnknownFields
}
