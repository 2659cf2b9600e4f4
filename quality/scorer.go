// Package quality scores records for completeness, consistency and
// accuracy.
package quality

import (
	"fmt"
	"sort"
	"strconv"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/record"
	"github.com/gofhir/phigate/rules"
	"github.com/gofhir/phigate/schema"
)

// Scorer computes quality reports against one schema. It is immutable
// after New and safe for concurrent use.
type Scorer struct {
	schema  *schema.Schema
	rules   []rules.Rule
	ranges  map[string]ph.Range
	fields  []string // reference range fields, sorted
	weights ph.QualityWeights
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithRules sets the consistency rules, evaluated in order.
func WithRules(rs ...rules.Rule) Option {
	return func(s *Scorer) {
		s.rules = append(s.rules, rs...)
	}
}

// WithReferenceRanges sets plausibility bounds for numeric fields. Keys
// may be dotted paths into nested maps.
func WithReferenceRanges(ranges map[string]ph.Range) Option {
	return func(s *Scorer) {
		for k, v := range ranges {
			s.ranges[k] = v
		}
	}
}

// WithWeights sets the sub-score weights.
func WithWeights(w ph.QualityWeights) Option {
	return func(s *Scorer) {
		s.weights = w
	}
}

// New creates a Scorer. Weights are normalized; reference ranges must be
// well formed and, when the schema declares the field, on a numeric type.
func New(s *schema.Schema, opts ...Option) (*Scorer, error) {
	if s == nil {
		return nil, ph.NewConfigurationError("schema", "quality scorer needs a schema")
	}
	sc := &Scorer{
		schema:  s,
		ranges:  make(map[string]ph.Range),
		weights: ph.DefaultQualityWeights(),
	}
	for _, opt := range opts {
		opt(sc)
	}

	w, err := sc.weights.Normalize()
	if err != nil {
		return nil, err
	}
	sc.weights = w

	for field, r := range sc.ranges {
		key := "reference_ranges." + field
		if r.Min > r.Max {
			return nil, ph.NewConfigurationError(key, "min must not exceed max")
		}
		if spec, ok := s.Field(field); ok && !spec.Type.IsNumeric() {
			return nil, ph.NewConfigurationError(key, "reference range on non-numeric field of type "+string(spec.Type))
		}
		sc.fields = append(sc.fields, field)
	}
	sort.Strings(sc.fields)
	return sc, nil
}

// FromOptions builds a Scorer from validator options, compiling the
// configured validation rules.
func FromOptions(o *ph.Options, s *schema.Schema) (*Scorer, error) {
	rs, err := rules.CompileAll(o.ValidationRules, s)
	if err != nil {
		return nil, err
	}
	return New(s,
		WithRules(rs...),
		WithReferenceRanges(o.ReferenceRanges),
		WithWeights(o.QualityWeights),
	)
}

// Rules returns the consistency rules in evaluation order.
func (sc *Scorer) Rules() []rules.Rule {
	out := make([]rules.Rule, len(sc.rules))
	copy(out, sc.rules)
	return out
}

// Score computes the quality report for rec. The error is non-nil only
// when a rule fails internally.
func (sc *Scorer) Score(rec record.Record) (*ph.QualityReport, error) {
	report := &ph.QualityReport{Issues: []string{}}

	report.CompletenessScore = sc.completeness(rec, report)

	consistency, err := sc.consistency(rec, report)
	if err != nil {
		return nil, err
	}
	report.ConsistencyScore = consistency

	report.AccuracyScore = sc.accuracy(rec, report)

	w := sc.weights
	overall := w.Completeness*report.CompletenessScore +
		w.Consistency*report.ConsistencyScore +
		w.Accuracy*report.AccuracyScore
	report.OverallScore = clamp(overall)
	return report, nil
}

func (sc *Scorer) completeness(rec record.Record, report *ph.QualityReport) float64 {
	required := sc.schema.Required()
	if len(required) == 0 {
		return 1.0
	}
	present := 0
	for _, f := range required {
		if rec.Present(f.Name) {
			present++
			continue
		}
		report.Issues = append(report.Issues, "completeness: required field "+f.Name+" is missing")
	}
	return ratio(present, len(required))
}

func (sc *Scorer) consistency(rec record.Record, report *ph.QualityReport) (float64, error) {
	applicable, holding := 0, 0
	for _, r := range sc.rules {
		out, err := r.Evaluate(rec)
		if err != nil {
			return 0, err
		}
		switch out {
		case rules.Holds:
			applicable++
			holding++
		case rules.Violated:
			applicable++
			report.Issues = append(report.Issues, "consistency: rule "+r.Name()+" failed: "+r.Description())
		}
	}
	if applicable == 0 {
		return 1.0, nil
	}
	return ratio(holding, applicable), nil
}

func (sc *Scorer) accuracy(rec record.Record, report *ph.QualityReport) float64 {
	checked, within := 0, 0
	for _, field := range sc.fields {
		v, ok := rec.Lookup(field)
		if !ok {
			continue
		}
		n, isNum := v.Number()
		if !isNum {
			continue
		}
		checked++
		r := sc.ranges[field]
		if r.Contains(n) {
			within++
			continue
		}
		report.Issues = append(report.Issues, fmt.Sprintf("accuracy: field %s value %s outside reference range [%s,%s]",
			field, v.String(), formatFloat(r.Min), formatFloat(r.Max)))
	}
	if checked == 0 {
		return 1.0
	}
	return ratio(within, checked)
}

func ratio(n, d int) float64 {
	return float64(n) / float64(d)
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
