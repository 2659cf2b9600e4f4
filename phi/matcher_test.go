package phi

import (
	"reflect"
	"strings"
	"testing"
	"time"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/record"
	"github.com/gofhir/phigate/schema"
)

func mustMatcher(t *testing.T, opts ...Option) *Matcher {
	t.Helper()
	m, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func findingFor(findings []ph.Finding, field string, cat ph.Category) (ph.Finding, bool) {
	for _, f := range findings {
		if f.Field == field && f.Category == cat {
			return f, true
		}
	}
	return ph.Finding{}, false
}

func TestDetect_SSNField(t *testing.T) {
	m := mustMatcher(t)
	rec := record.MustFromMap(map[string]any{"ssn": "123-45-6789", "age": 45})

	findings := m.Detect(rec)
	if len(findings) != 1 {
		t.Fatalf("Detect() = %v; want one finding", findings)
	}
	f := findings[0]
	if f.Category != ph.CategorySSN || f.Confidence != 1.0 || f.Field != "ssn" {
		t.Errorf("finding = %+v; want ssn/1.0 on field ssn", f)
	}
}

func TestDetect_Patterns(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		cat     ph.Category
		conf    float64
		pattern string
	}{
		{"dashed ssn", "id 123-45-6789", ph.CategorySSN, 1.0, "ssn"},
		{"contiguous ssn", "123456789", ph.CategorySSN, 0.7, "ssn-contiguous"},
		{"us phone", "call 555-123-4567 after 5", ph.CategoryTelephone, 0.9, "phone-us"},
		{"us phone parens", "(555) 123-4567", ph.CategoryTelephone, 0.9, "phone-us"},
		{"intl phone", "+44 20 7946 0958", ph.CategoryTelephone, 0.6, "phone-intl"},
		{"email", "reach jane.doe@example.org", ph.CategoryEmail, 1.0, "email"},
		{"url", "see https://example.org/p/1", ph.CategoryURL, 1.0, "url"},
		{"www", "www.example.com", ph.CategoryURL, 0.7, "url-www"},
		{"ipv4", "10.0.0.12", ph.CategoryIP, 1.0, "ipv4"},
	}

	m := mustMatcher(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := m.DetectField("comment", record.String(tt.value))
			f, ok := findingFor(findings, "comment", tt.cat)
			if !ok {
				t.Fatalf("Detect(%q) = %v; want %s", tt.value, findings, tt.cat)
			}
			if f.Confidence != tt.conf {
				t.Errorf("Confidence = %v; want %v", f.Confidence, tt.conf)
			}
			if f.Pattern != tt.pattern {
				t.Errorf("Pattern = %q; want %q", f.Pattern, tt.pattern)
			}
		})
	}
}

func TestDetect_Clean(t *testing.T) {
	m := mustMatcher(t)
	rec := record.MustFromMap(map[string]any{
		"patient_id":     "P1",
		"age":            45,
		"diagnosis_code": "E11.9",
		"weight":         72.5,
		"smoker":         false,
	})
	if findings := m.Detect(rec); len(findings) != 0 {
		t.Errorf("Detect() = %v; want none", findings)
	}
}

func TestDetect_FieldNames(t *testing.T) {
	m := mustMatcher(t)

	tests := []struct {
		field string
		want  []ph.Category
	}{
		{"Patient_Name", []ph.Category{ph.CategoryNames}},
		{"home_address", []ph.Category{ph.CategoryGeographic}},
		{"ip_address", []ph.Category{ph.CategoryIP}},
		{"email_address", []ph.Category{ph.CategoryEmail}},
		{"mobile_phone", []ph.Category{ph.CategoryTelephone}},
		{"MRN", []ph.Category{ph.CategoryMRN}},
		{"zip", []ph.Category{ph.CategoryGeographic}},
		{"patient_zip", []ph.Category{ph.CategoryGeographic}},
		{"zip_code", []ph.Category{ph.CategoryGeographic}},
		{"vin", []ph.Category{ph.CategoryVehicle}},
		{"diagnosis", nil},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			findings := m.DetectField(tt.field, record.String("x"))
			var got []ph.Category
			for _, f := range findings {
				got = append(got, f.Category)
				if f.Pattern != "field-name" || f.Confidence != 1.0 {
					t.Errorf("finding = %+v; want field-name at 1.0", f)
				}
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("categories = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestDetect_ExtraFieldNames(t *testing.T) {
	m := mustMatcher(t, WithFieldNames(map[string]ph.Category{"Beneficiary": ph.CategoryHealthPlan}))
	findings := m.DetectField("beneficiary_no", record.Int(7))
	if _, ok := findingFor(findings, "beneficiary_no", ph.CategoryHealthPlan); !ok {
		t.Errorf("Detect() = %v; want health_plan", findings)
	}
}

func TestDetect_OneFindingPerCategory(t *testing.T) {
	m := mustMatcher(t)
	findings := m.DetectField("phone", record.String("555-123-4567 or 555-987-6543"))
	if len(findings) != 1 {
		t.Fatalf("Detect() = %v; want one telephone finding", findings)
	}
	if findings[0].Pattern != "field-name" {
		t.Errorf("Pattern = %q; want the deny-list to win", findings[0].Pattern)
	}
}

func TestDetect_Nested(t *testing.T) {
	m := mustMatcher(t)
	rec := record.Record{
		"contact": record.Map(map[string]record.Value{
			"email": record.String("a@b.org"),
			"note":  record.String("ok"),
		}),
		"phones": record.List(record.String("n/a")),
		"visit": record.Map(map[string]record.Value{
			"on": record.DateValue(record.Date{Time: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), Precision: record.PrecisionDay}),
		}),
	}

	findings := m.Detect(rec)
	var fields []string
	for _, f := range findings {
		fields = append(fields, f.Field+":"+string(f.Category))
	}
	want := "contact.email:email,phones[0]:telephone,visit.on:dates"
	if got := strings.Join(fields, ","); got != want {
		t.Errorf("findings = %s; want %s", got, want)
	}
}

func TestDetect_DateGranularity(t *testing.T) {
	s := schema.MustNew("encounter", "1",
		schema.FieldSpec{Name: "admission_date", Type: schema.TypeDate},
		schema.FieldSpec{Name: "birth_year", Type: schema.TypeDate},
		schema.FieldSpec{Name: "service_month", Type: schema.TypeDate, AggregateDate: true},
		schema.FieldSpec{Name: "code", Type: schema.TypeString},
	)
	m := mustMatcher(t, WithSchema(s), WithAggregateDates("discharged_at"))

	tests := []struct {
		field string
		value record.Value
		want  bool
	}{
		{"admission_date", record.String("2024-01-15"), true},
		{"admission_date", record.String("2024-01-15T08:30:00Z"), true},
		{"birth_year", record.String("1980"), false},
		{"birth_year", record.String("1980-04"), false},
		{"service_month", record.String("2024-01-15"), false},
		{"discharged_at", record.DateValue(record.DateOf(time.Now())), false},
		{"code", record.String("2024-01-15"), false},
		{"seen", record.DateValue(record.Date{Time: time.Now(), Precision: record.PrecisionDay}), true},
	}
	for _, tt := range tests {
		t.Run(tt.field+"="+tt.value.String(), func(t *testing.T) {
			_, got := findingFor(m.DetectField(tt.field, tt.value), tt.field, ph.CategoryDates)
			if got != tt.want {
				t.Errorf("flagged = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestDetect_FreeText(t *testing.T) {
	m := mustMatcher(t)

	short := m.DetectField("notes", record.String("Seen by John Smith"))
	if len(short) != 0 {
		t.Errorf("short text findings = %v; want none below threshold", short)
	}

	long := "Patient John was seen by Doctor Alice in the morning clinic today"
	findings := m.DetectField("notes", record.String(long))
	f, ok := findingFor(findings, "notes", ph.CategoryNames)
	if !ok {
		t.Fatalf("Detect() = %v; want a names finding", findings)
	}
	if !f.Advisory {
		t.Error("free-text finding should be advisory")
	}
	if f.Confidence != 0.4 {
		t.Errorf("Confidence = %v; want 0.4 for two bigrams", f.Confidence)
	}

	lower := m.DetectField("notes", record.String(strings.Repeat("no names in this lowercase text ", 3)))
	if len(lower) != 0 {
		t.Errorf("lowercase text findings = %v; want none", lower)
	}
}

func TestDetect_FreeTextThreshold(t *testing.T) {
	m := mustMatcher(t, WithFreeTextThreshold(10))
	findings := m.DetectField("notes", record.String("Seen by John Smith"))
	if f, ok := findingFor(findings, "notes", ph.CategoryNames); !ok || f.Confidence != 0.3 {
		t.Errorf("Detect() = %v; want names at 0.3", findings)
	}
}

func TestBigramConfidence(t *testing.T) {
	for n, want := range map[int]float64{1: 0.3, 2: 0.4, 3: 0.5, 9: 0.5} {
		if got := bigramConfidence(n); got != want {
			t.Errorf("bigramConfidence(%d) = %v; want %v", n, got, want)
		}
	}
}

func TestNew_ConfiguredPatterns(t *testing.T) {
	m := mustMatcher(t, WithPatterns(ph.PatternConfig{
		Name:       "local-mrn",
		Category:   "MRN",
		Pattern:    `MRN-\d{6}`,
		Confidence: 0.95,
	}))
	findings := m.DetectField("ref", record.String("MRN-123456"))
	f, ok := findingFor(findings, "ref", ph.CategoryMRN)
	if !ok || f.Confidence != 0.95 || f.Pattern != "local-mrn" {
		t.Errorf("Detect() = %v; want local-mrn at 0.95", findings)
	}
	if got := len(m.Patterns()); got != len(DefaultPatterns())+1 {
		t.Errorf("len(Patterns()) = %d", got)
	}
}

func TestNew_InvalidPatterns(t *testing.T) {
	tests := []struct {
		name string
		cfg  ph.PatternConfig
	}{
		{"bad regexp", ph.PatternConfig{Category: "mrn", Pattern: "(["}},
		{"unknown category", ph.PatternConfig{Category: "shoe_size", Pattern: `\d+`}},
		{"empty pattern", ph.PatternConfig{Category: "mrn"}},
		{"confidence above one", ph.PatternConfig{Category: "mrn", Pattern: `\d+`, Confidence: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(WithPatterns(tt.cfg))
			if !ph.IsConfigurationError(err) {
				t.Errorf("New() error = %v; want configuration error", err)
			}
		})
	}
}

func TestFromOptions(t *testing.T) {
	o := ph.DefaultOptions()
	ph.WithPHIPatterns(ph.PatternConfig{Category: "account", Pattern: `ACCT\d+`})(o)
	m, err := FromOptions(o, nil)
	if err != nil {
		t.Fatalf("FromOptions() error = %v", err)
	}
	if _, ok := findingFor(m.DetectField("x", record.String("ACCT42")), "x", ph.CategoryAccount); !ok {
		t.Error("configured pattern should be active")
	}
}

func TestDetect_NonMutation(t *testing.T) {
	m := mustMatcher(t)
	rec := record.MustFromMap(map[string]any{
		"ssn":   "123-45-6789",
		"notes": []any{"call 555-123-4567", map[string]any{"by": "Dr Who"}},
	})
	before := rec.Clone()

	_ = m.Detect(rec)
	_ = Redact(rec, m.Detect(rec))

	if !rec.Equal(before) {
		t.Error("Detect/Redact must not alter the record")
	}
}

func TestDetect_Deterministic(t *testing.T) {
	m := mustMatcher(t)
	rec := record.MustFromMap(map[string]any{
		"email":   "a@b.org",
		"comment": "ip 10.0.0.1 or https://x.org",
		"ssn":     "123456789",
		"home":    map[string]any{"address": "1 Main St", "zip_code": "12345"},
	})

	first := m.Detect(rec)
	for i := 0; i < 20; i++ {
		if got := m.Detect(rec); !reflect.DeepEqual(got, first) {
			t.Fatalf("Detect() run %d = %v; want %v", i, got, first)
		}
	}
}

func BenchmarkDetect(b *testing.B) {
	m, _ := New()
	rec := record.MustFromMap(map[string]any{
		"patient_id": "P1",
		"age":        45,
		"notes":      "Patient reports improvement after two weeks on metformin, follow up in March",
		"contact":    map[string]any{"email": "a@b.org"},
	})

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = m.Detect(rec)
	}
}
