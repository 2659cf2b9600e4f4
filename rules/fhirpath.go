package rules

import (
	"encoding/json"

	"github.com/gofhir/fhirpath"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/cache"
	"github.com/gofhir/phigate/record"
)

var fhirpathExprs = cache.New[string, *fhirpath.Expression](256)

type fhirpathRule struct {
	base
	expr *fhirpath.Expression
}

func compileFHIRPath(key string, b base, cfg ph.RuleConfig) (Rule, error) {
	if cfg.Expression == "" {
		return nil, ph.NewConfigurationError(key, "fhirpath rule needs an expression")
	}
	expr, err := fhirpathExprs.GetOrCompute(cfg.Expression, func() (*fhirpath.Expression, error) {
		return fhirpath.Compile(cfg.Expression)
	})
	if err != nil {
		return nil, ph.WrapConfigurationError(err, key)
	}

	b.fields = fieldsOrReferenced(cfg, b.schema)
	if b.description == "" {
		b.description = cfg.Expression
	}
	return &fhirpathRule{base: b, expr: expr}, nil
}

// Evaluate runs the expression against the record's JSON form. An empty
// result means the constraint does not apply and holds; a non-boolean,
// non-empty result is truthy.
func (r *fhirpathRule) Evaluate(rec record.Record) (Outcome, error) {
	if _, ok := r.operands(rec); !ok {
		return NotApplicable, nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return NotApplicable, ph.WrapInternal(err, "fhirpath rule "+r.name)
	}
	result, err := r.expr.Evaluate(data)
	if err != nil {
		return NotApplicable, ph.WrapInternal(err, "fhirpath rule "+r.name)
	}
	if result.Empty() {
		return Holds, nil
	}
	b, err := result.ToBoolean()
	if err != nil {
		return Holds, nil
	}
	return outcome(b), nil
}
