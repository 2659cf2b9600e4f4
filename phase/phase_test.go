package phase

import (
	"context"
	"testing"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/pipeline"
	"github.com/gofhir/phigate/record"
	"github.com/gofhir/phigate/schema"
)

func patientSchema() *schema.Schema {
	return schema.MustNew("patient_vitals", "1.0.0",
		schema.FieldSpec{Name: "patient_id", Type: schema.TypeString, Required: true, Format: `P[0-9]+`},
		schema.FieldSpec{Name: "age", Type: schema.TypeInteger, Required: true, Range: &ph.Range{Min: 0, Max: 120}},
		schema.FieldSpec{Name: "temperature", Type: schema.TypeFloat},
		schema.FieldSpec{Name: "status", Type: schema.TypeString, AllowedValues: []record.Value{record.String("active"), record.String("inactive")}},
		schema.FieldSpec{Name: "diagnosis", Type: schema.TypeString, ValueSet: "http://example.org/vs/diagnosis"},
		schema.FieldSpec{Name: "notes", Type: schema.TypeString},
	)
}

func newContext(fields map[string]any, opts *pipeline.ContextOptions) *pipeline.Context {
	return pipeline.NewContext(record.MustFromMap(fields), patientSchema(), opts)
}

func codes(issues []ph.Issue) []ph.IssueType {
	out := make([]ph.IssueType, len(issues))
	for i, issue := range issues {
		out[i] = issue.Code
	}
	return out
}

type fakeTerminology map[string]map[string]bool

func (f fakeTerminology) Contains(url, code string) (bool, bool) {
	vs, ok := f[url]
	if !ok {
		return false, false
	}
	return vs[code], true
}

func mustRun(t *testing.T, p pipeline.Phase, pctx *pipeline.Context) []ph.Issue {
	t.Helper()
	issues, err := p.Validate(context.Background(), pctx)
	if err != nil {
		t.Fatalf("%s.Validate() error = %v", p.Name(), err)
	}
	return issues
}
