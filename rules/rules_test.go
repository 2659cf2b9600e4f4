package rules

import (
	"testing"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/record"
	"github.com/gofhir/phigate/schema"
)

func encounterSchema() *schema.Schema {
	return schema.MustNew("encounter", "1.0.0",
		schema.FieldSpec{Name: "patient_id", Type: schema.TypeString, Required: true},
		schema.FieldSpec{Name: "age", Type: schema.TypeInteger},
		schema.FieldSpec{Name: "admission_date", Type: schema.TypeDate},
		schema.FieldSpec{Name: "discharge_date", Type: schema.TypeDate},
		schema.FieldSpec{Name: "systolic", Type: schema.TypeFloat},
		schema.FieldSpec{Name: "diastolic", Type: schema.TypeFloat},
	)
}

func mustCompile(t *testing.T, cfg ph.RuleConfig) Rule {
	t.Helper()
	r, err := Compile(cfg, encounterSchema())
	if err != nil {
		t.Fatalf("Compile(%s) error = %v", cfg.Name, err)
	}
	return r
}

func TestCompareRule(t *testing.T) {
	r := mustCompile(t, ph.RuleConfig{Name: "discharge_after_admission", Left: "discharge_date", Op: ">=", Right: "admission_date"})

	tests := []struct {
		name string
		rec  map[string]any
		want Outcome
	}{
		{"holds", map[string]any{"admission_date": "2024-01-05", "discharge_date": "2024-01-10"}, Holds},
		{"same day", map[string]any{"admission_date": "2024-01-05", "discharge_date": "2024-01-05"}, Holds},
		{"violated", map[string]any{"admission_date": "2024-01-10", "discharge_date": "2024-01-05"}, Violated},
		{"mixed precision", map[string]any{"admission_date": "2024-01", "discharge_date": "2024-02-01T10:00:00Z"}, Holds},
		{"missing operand", map[string]any{"admission_date": "2024-01-10"}, NotApplicable},
		{"null operand", map[string]any{"admission_date": "2024-01-10", "discharge_date": nil}, NotApplicable},
		{"wrong type", map[string]any{"admission_date": "2024-01-10", "discharge_date": "soon"}, NotApplicable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Evaluate(record.MustFromMap(tt.rec))
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %s; want %s", got, tt.want)
			}
		})
	}

	if r.Description() != "discharge_date >= admission_date" {
		t.Errorf("Description() = %q", r.Description())
	}
	if f := r.Fields(); len(f) != 2 || f[0] != "discharge_date" {
		t.Errorf("Fields() = %v", f)
	}
}

func TestCompareRule_Numeric(t *testing.T) {
	r := mustCompile(t, ph.RuleConfig{Name: "pulse_pressure", Expression: "systolic > diastolic"})

	got, err := r.Evaluate(record.MustFromMap(map[string]any{"systolic": 120, "diastolic": 80.5}))
	if err != nil || got != Holds {
		t.Errorf("Evaluate(120 > 80.5) = %s, %v; want holds", got, err)
	}
	got, _ = r.Evaluate(record.MustFromMap(map[string]any{"systolic": 70.0, "diastolic": 80}))
	if got != Violated {
		t.Errorf("Evaluate(70 > 80) = %s; want violated", got)
	}
}

func TestCompareRule_WithoutSchema(t *testing.T) {
	r, err := Compile(ph.RuleConfig{Name: "codes", Left: "a", Op: "!=", Right: "b"}, nil)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	got, _ := r.Evaluate(record.MustFromMap(map[string]any{"a": "x", "b": "y"}))
	if got != Holds {
		t.Errorf("Evaluate(x != y) = %s; want holds", got)
	}
	got, _ = r.Evaluate(record.MustFromMap(map[string]any{"a": "1", "b": 1}))
	if got != Holds {
		t.Errorf("Evaluate(\"1\" != 1) = %s; want holds, kinds differ", got)
	}
}

func TestCELRule(t *testing.T) {
	r := mustCompile(t, ph.RuleConfig{
		Name:       "adult_or_guardian",
		Language:   ph.RuleLanguageCEL,
		Expression: "age >= 18 || has(record.guardian)",
	})
	if f := r.Fields(); len(f) != 1 || f[0] != "age" {
		t.Errorf("Fields() = %v; want inferred [age]", f)
	}

	tests := []struct {
		name string
		rec  map[string]any
		want Outcome
	}{
		{"adult", map[string]any{"age": 45}, Holds},
		{"minor with guardian", map[string]any{"age": 9, "guardian": "G1"}, Holds},
		{"minor alone", map[string]any{"age": 9}, Violated},
		{"age missing", map[string]any{"guardian": "G1"}, NotApplicable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Evaluate(record.MustFromMap(tt.rec))
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %s; want %s", got, tt.want)
			}
		})
	}
}

func TestCELRule_Dates(t *testing.T) {
	r := mustCompile(t, ph.RuleConfig{
		Name:       "stay",
		Language:   ph.RuleLanguageCEL,
		Expression: "discharge_date >= admission_date",
	})
	got, err := r.Evaluate(record.MustFromMap(map[string]any{
		"admission_date": "2024-01-10",
		"discharge_date": "2024-01-05",
	}))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got != Violated {
		t.Errorf("Evaluate() = %s; want violated", got)
	}
}

func TestFHIRPathRule(t *testing.T) {
	r := mustCompile(t, ph.RuleConfig{
		Name:       "adult",
		Language:   ph.RuleLanguageFHIRPath,
		Expression: "age >= 18",
	})

	got, err := r.Evaluate(record.MustFromMap(map[string]any{"age": 45}))
	if err != nil || got != Holds {
		t.Errorf("Evaluate(45) = %s, %v; want holds", got, err)
	}
	got, err = r.Evaluate(record.MustFromMap(map[string]any{"age": 9}))
	if err != nil || got != Violated {
		t.Errorf("Evaluate(9) = %s, %v; want violated", got, err)
	}
	got, _ = r.Evaluate(record.MustFromMap(map[string]any{"patient_id": "P1"}))
	if got != NotApplicable {
		t.Errorf("Evaluate(no age) = %s; want not-applicable", got)
	}
}

func TestCompile_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  ph.RuleConfig
	}{
		{"no name", ph.RuleConfig{Left: "age", Op: ">", Right: "age"}},
		{"unknown language", ph.RuleConfig{Name: "r", Language: "sql", Expression: "1"}},
		{"bad operator", ph.RuleConfig{Name: "r", Left: "age", Op: "=>", Right: "age"}},
		{"missing right", ph.RuleConfig{Name: "r", Left: "age", Op: ">"}},
		{"undeclared field", ph.RuleConfig{Name: "r", Left: "age", Op: ">", Right: "height"}},
		{"malformed compare expression", ph.RuleConfig{Name: "r", Expression: "age >"}},
		{"cel syntax", ph.RuleConfig{Name: "r", Language: ph.RuleLanguageCEL, Expression: "age >"}},
		{"cel not bool", ph.RuleConfig{Name: "r", Language: ph.RuleLanguageCEL, Expression: `"text"`}},
		{"cel empty", ph.RuleConfig{Name: "r", Language: ph.RuleLanguageCEL}},
		{"fhirpath syntax", ph.RuleConfig{Name: "r", Language: ph.RuleLanguageFHIRPath, Expression: "((age"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.cfg, encounterSchema())
			if !ph.IsConfigurationError(err) {
				t.Errorf("Compile() error = %v; want configuration error", err)
			}
		})
	}
}

func TestCompileAll(t *testing.T) {
	cfgs := []ph.RuleConfig{
		{Name: "a", Left: "age", Op: ">=", Right: "age"},
		{Name: "b", Language: ph.RuleLanguageCEL, Expression: "age < 200"},
	}
	rs, err := CompileAll(cfgs, encounterSchema())
	if err != nil {
		t.Fatalf("CompileAll() error = %v", err)
	}
	if len(rs) != 2 || rs[0].Name() != "a" || rs[1].Language() != ph.RuleLanguageCEL {
		t.Errorf("CompileAll() = %v; want rules in order", rs)
	}

	if _, err := CompileAll(append(cfgs, cfgs[0]), encounterSchema()); !ph.IsConfigurationError(err) {
		t.Errorf("CompileAll(duplicate) error = %v; want configuration error", err)
	}
}

func TestOutcome_String(t *testing.T) {
	for o, want := range map[Outcome]string{NotApplicable: "not-applicable", Holds: "holds", Violated: "violated"} {
		if o.String() != want {
			t.Errorf("%d.String() = %q; want %q", o, o.String(), want)
		}
	}
}

func TestCELRule_SharedProgram(t *testing.T) {
	cfg := ph.RuleConfig{Name: "bp", Language: "cel", Expression: "systolic > diastolic && age >= 0"}
	mustCompile(t, cfg)
	before := celPrograms.Stats().Hits

	r := mustCompile(t, cfg)
	if celPrograms.Stats().Hits != before+1 {
		t.Error("second compile of the same expression should reuse the program")
	}

	got, err := r.Evaluate(record.MustFromMap(map[string]any{"systolic": 120.0, "diastolic": 80.0, "age": 50}))
	if err != nil || got != Holds {
		t.Errorf("Evaluate() = %v, %v; want holds", got, err)
	}

	other := schema.MustNew("vitals", "1", schema.FieldSpec{Name: "systolic", Type: schema.TypeFloat})
	if _, err := Compile(cfg, other); !ph.IsConfigurationError(err) {
		t.Errorf("Compile() against a schema without diastolic error = %v; want configuration error", err)
	}
}

func TestCELRule_NonBoolResult(t *testing.T) {
	// Dynamic expressions compile; a non-bool value is a fault at evaluation.
	r := mustCompile(t, ph.RuleConfig{
		Name:       "echo",
		Language:   ph.RuleLanguageCEL,
		Expression: "patient_id",
	})
	got, err := r.Evaluate(record.MustFromMap(map[string]any{"patient_id": "P1"}))
	if err == nil {
		t.Fatal("Evaluate() error = nil; want internal fault")
	}
	if !ph.IsInternal(err) {
		t.Errorf("IsInternal(%v) = false", err)
	}
	if got != NotApplicable {
		t.Errorf("Evaluate() = %s; want %s", got, NotApplicable)
	}

	if _, err := Compile(ph.RuleConfig{Name: "num", Language: ph.RuleLanguageCEL, Expression: "1 + 2"}, encounterSchema()); !ph.IsConfigurationError(err) {
		t.Errorf("Compile(int expression) error = %v; want configuration error", err)
	}
}
