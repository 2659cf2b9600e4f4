package quality

import (
	"math"
	"reflect"
	"testing"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/record"
	"github.com/gofhir/phigate/schema"
)

func vitalsSchema() *schema.Schema {
	return schema.MustNew("vitals", "1.0.0",
		schema.FieldSpec{Name: "patient_id", Type: schema.TypeString, Required: true},
		schema.FieldSpec{Name: "heart_rate", Type: schema.TypeInteger, Required: true},
		schema.FieldSpec{Name: "temperature", Type: schema.TypeFloat},
		schema.FieldSpec{Name: "admission_date", Type: schema.TypeDate},
		schema.FieldSpec{Name: "discharge_date", Type: schema.TypeDate},
		schema.FieldSpec{Name: "notes", Type: schema.TypeString},
	)
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func mustScorer(t *testing.T, o *ph.Options) *Scorer {
	t.Helper()
	sc, err := FromOptions(o, vitalsSchema())
	if err != nil {
		t.Fatalf("FromOptions() error = %v", err)
	}
	return sc
}

func TestScore_Perfect(t *testing.T) {
	sc := mustScorer(t, ph.DefaultOptions())
	report, err := sc.Score(record.MustFromMap(map[string]any{"patient_id": "P1", "heart_rate": 72}))
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	want := &ph.QualityReport{
		CompletenessScore: 1,
		ConsistencyScore:  1,
		AccuracyScore:     1,
		OverallScore:      1,
		Issues:            []string{},
	}
	if !reflect.DeepEqual(report, want) {
		t.Errorf("Score() = %+v; want %+v", report, want)
	}
}

func TestScore_Completeness(t *testing.T) {
	sc := mustScorer(t, ph.DefaultOptions())
	report, _ := sc.Score(record.MustFromMap(map[string]any{"patient_id": "P1", "heart_rate": nil}))

	if !near(report.CompletenessScore, 0.5) {
		t.Errorf("CompletenessScore = %v; want 0.5", report.CompletenessScore)
	}
	if len(report.Issues) != 1 || report.Issues[0] != "completeness: required field heart_rate is missing" {
		t.Errorf("Issues = %v", report.Issues)
	}
}

func TestScore_NoRequiredFields(t *testing.T) {
	s := schema.MustNew("free", "1", schema.FieldSpec{Name: "x", Type: schema.TypeString})
	sc, err := New(s)
	if err != nil {
		t.Fatal(err)
	}
	report, _ := sc.Score(record.Record{})
	if report.CompletenessScore != 1 {
		t.Errorf("CompletenessScore = %v; want 1 without required fields", report.CompletenessScore)
	}
}

func TestScore_Consistency(t *testing.T) {
	o := ph.Apply(ph.WithValidationRules(
		ph.RuleConfig{Name: "stay", Left: "discharge_date", Op: ">=", Right: "admission_date"},
		ph.RuleConfig{Name: "fever_note", Language: ph.RuleLanguageCEL, Expression: "temperature < 38.0 || size(notes) > 0"},
	))
	sc := mustScorer(t, o)

	report, err := sc.Score(record.MustFromMap(map[string]any{
		"patient_id":     "P1",
		"heart_rate":     72,
		"admission_date": "2024-01-10",
		"discharge_date": "2024-01-05",
	}))
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	// fever_note is not applicable: temperature and notes are absent.
	if report.ConsistencyScore != 0 {
		t.Errorf("ConsistencyScore = %v; want 0 (one applicable rule, violated)", report.ConsistencyScore)
	}
	want := []string{"consistency: rule stay failed: discharge_date >= admission_date"}
	if !reflect.DeepEqual(report.Issues, want) {
		t.Errorf("Issues = %v; want %v", report.Issues, want)
	}

	report, _ = sc.Score(record.MustFromMap(map[string]any{
		"patient_id":     "P1",
		"heart_rate":     72,
		"admission_date": "2024-01-05",
		"discharge_date": "2024-01-10",
		"temperature":    39.1,
		"notes":          "",
	}))
	if !near(report.ConsistencyScore, 0.5) {
		t.Errorf("ConsistencyScore = %v; want 0.5", report.ConsistencyScore)
	}
}

func TestScore_Accuracy(t *testing.T) {
	o := ph.Apply(
		ph.WithReferenceRange("heart_rate", 20, 250),
		ph.WithReferenceRange("temperature", 30, 45),
		ph.WithReferenceRange("vitals.spo2", 50, 100),
	)
	sc := mustScorer(t, o)

	report, _ := sc.Score(record.MustFromMap(map[string]any{
		"patient_id":  "P1",
		"heart_rate":  400,
		"temperature": 36.6,
		"vitals":      map[string]any{"spo2": 101},
	}))
	if !near(report.AccuracyScore, 1.0/3.0) {
		t.Errorf("AccuracyScore = %v; want 1/3", report.AccuracyScore)
	}
	want := []string{
		"accuracy: field heart_rate value 400 outside reference range [20,250]",
		"accuracy: field vitals.spo2 value 101 outside reference range [50,100]",
	}
	if !reflect.DeepEqual(report.Issues, want) {
		t.Errorf("Issues = %v; want %v", report.Issues, want)
	}

	// Fields without a value are left out of the denominator.
	report, _ = sc.Score(record.MustFromMap(map[string]any{"patient_id": "P1", "heart_rate": 60}))
	if report.AccuracyScore != 1 {
		t.Errorf("AccuracyScore = %v; want 1", report.AccuracyScore)
	}
}

func TestScore_IssueOrder(t *testing.T) {
	o := ph.Apply(
		ph.WithReferenceRange("temperature", 30, 45),
		ph.WithValidationRules(ph.RuleConfig{Name: "stay", Left: "discharge_date", Op: ">=", Right: "admission_date"}),
	)
	sc := mustScorer(t, o)
	report, _ := sc.Score(record.MustFromMap(map[string]any{
		"temperature":    50.5,
		"admission_date": "2024-01-10",
		"discharge_date": "2024-01-05",
	}))

	want := []string{
		"completeness: required field patient_id is missing",
		"completeness: required field heart_rate is missing",
		"consistency: rule stay failed: discharge_date >= admission_date",
		"accuracy: field temperature value 50.5 outside reference range [30,45]",
	}
	if !reflect.DeepEqual(report.Issues, want) {
		t.Errorf("Issues = %v; want %v", report.Issues, want)
	}
	if report.OverallScore != 0 {
		t.Errorf("OverallScore = %v; want 0", report.OverallScore)
	}
}

func TestScore_Weights(t *testing.T) {
	o := ph.Apply(
		ph.WithReferenceRange("heart_rate", 20, 250),
		ph.WithQualityWeights(ph.QualityWeights{Completeness: 3, Consistency: 0, Accuracy: 1}),
	)
	sc := mustScorer(t, o)

	report, _ := sc.Score(record.MustFromMap(map[string]any{"patient_id": "P1", "heart_rate": 300}))
	if !near(report.OverallScore, 0.75) {
		t.Errorf("OverallScore = %v; want 0.75", report.OverallScore)
	}
}

func TestNew_ConfigurationErrors(t *testing.T) {
	s := vitalsSchema()
	tests := []struct {
		name string
		opts []Option
	}{
		{"zero weights", []Option{WithWeights(ph.QualityWeights{})}},
		{"negative weight", []Option{WithWeights(ph.QualityWeights{Completeness: -1, Accuracy: 2})}},
		{"inverted range", []Option{WithReferenceRanges(map[string]ph.Range{"heart_rate": {Min: 10, Max: 1}})}},
		{"range on string", []Option{WithReferenceRanges(map[string]ph.Range{"notes": {Min: 0, Max: 1}})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(s, tt.opts...); !ph.IsConfigurationError(err) {
				t.Errorf("New() error = %v; want configuration error", err)
			}
		})
	}

	if _, err := New(nil); !ph.IsConfigurationError(err) {
		t.Errorf("New(nil) error = %v; want configuration error", err)
	}
}

func TestScore_Deterministic(t *testing.T) {
	o := ph.Apply(
		ph.WithReferenceRange("heart_rate", 20, 250),
		ph.WithReferenceRange("temperature", 30, 45),
	)
	sc := mustScorer(t, o)
	rec := record.MustFromMap(map[string]any{"heart_rate": 10, "temperature": 50})

	first, _ := sc.Score(rec)
	for i := 0; i < 10; i++ {
		got, _ := sc.Score(rec)
		if !reflect.DeepEqual(got, first) {
			t.Fatalf("Score() = %+v; want %+v", got, first)
		}
	}
}
