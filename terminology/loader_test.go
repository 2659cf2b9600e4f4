package terminology

import (
	"os"
	"path/filepath"
	"testing"
)

const conditionsCodeSystem = `{
  "resourceType": "CodeSystem",
  "url": "http://example.org/CodeSystem/conditions",
  "concept": [
    {"code": "disorder", "display": "Disorder", "concept": [
      {"code": "diabetes", "display": "Diabetes"},
      {"code": "_grouping"}
    ]},
    {"code": "asthma", "property": [{"code": "subsumedBy", "valueCode": "disorder"}]},
    {"code": "finding"}
  ]
}`

const disordersValueSet = `{
  "resourceType": "ValueSet",
  "url": "http://example.org/ValueSet/disorders",
  "compose": {"include": [{
    "system": "http://example.org/CodeSystem/conditions",
    "filter": [{"property": "concept", "op": "is-a", "value": "disorder"}]
  }]}
}`

const strictDisordersValueSet = `{
  "resourceType": "ValueSet",
  "url": "http://example.org/ValueSet/strict-disorders",
  "compose": {"include": [{
    "system": "http://example.org/CodeSystem/conditions",
    "filter": [{"property": "concept", "op": "descendent-of", "value": "disorder"}]
  }]}
}`

const allConditionsValueSet = `{
  "resourceType": "ValueSet",
  "url": "http://example.org/ValueSet/all-conditions",
  "compose": {"include": [{"system": "http://example.org/CodeSystem/conditions"}]}
}`

func TestLoadJSON_Filters(t *testing.T) {
	ts := NewEmptyStore()
	for _, doc := range []string{disordersValueSet, strictDisordersValueSet, allConditionsValueSet, conditionsCodeSystem} {
		if _, err := ts.LoadJSON([]byte(doc)); err != nil {
			t.Fatalf("LoadJSON() error = %v", err)
		}
	}

	tests := []struct {
		vs, code string
		want     bool
	}{
		{"http://example.org/ValueSet/disorders", "disorder", true},
		{"http://example.org/ValueSet/disorders", "diabetes", true},
		{"http://example.org/ValueSet/disorders", "asthma", true},
		{"http://example.org/ValueSet/disorders", "_grouping", false},
		{"http://example.org/ValueSet/disorders", "finding", false},
		{"http://example.org/ValueSet/strict-disorders", "disorder", false},
		{"http://example.org/ValueSet/strict-disorders", "asthma", true},
		{"http://example.org/ValueSet/all-conditions", "finding", true},
	}
	for _, tt := range tests {
		member, known := ts.Contains(tt.vs, tt.code)
		if !known || member != tt.want {
			t.Errorf("Contains(%s, %s) = %v, %v; want %v, true", tt.vs, tt.code, member, known, tt.want)
		}
	}
}

func TestLoadJSON_Bundle(t *testing.T) {
	ts := NewEmptyStore()
	doc := `{"resourceType": "Bundle", "entry": [
		{"resource": ` + disordersValueSet + `},
		{"resource": ` + conditionsCodeSystem + `},
		{"resource": {"resourceType": "Patient", "id": "p1"}},
		{}
	]}`

	stats, err := ts.LoadJSON([]byte(doc))
	if err != nil {
		t.Fatalf("LoadJSON() error = %v", err)
	}
	if stats.CodeSystems != 1 || stats.ValueSets != 1 || stats.Errors != 0 {
		t.Errorf("stats = %+v; want 1 code system, 1 value set", stats)
	}
	if member, _ := ts.Contains("http://example.org/ValueSet/disorders", "diabetes"); !member {
		t.Error("diabetes should be a disorder")
	}
}

func TestLoadJSON_Errors(t *testing.T) {
	ts := NewEmptyStore()
	if _, err := ts.LoadJSON([]byte("{")); err == nil {
		t.Error("LoadJSON(invalid) should fail")
	}
	if _, err := ts.LoadJSON([]byte(`{"resourceType": "Patient"}`)); err == nil {
		t.Error("LoadJSON(Patient) should fail")
	}
	if _, err := ts.LoadJSON([]byte(`{"resourceType": "ValueSet"}`)); err == nil {
		t.Error("LoadJSON(ValueSet without url) should fail")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"ValueSet-disorders.json":    disordersValueSet,
		"CodeSystem-conditions.json": conditionsCodeSystem,
		"package.json":               `{"name": "example"}`,
		"broken.json":                `{`,
		"notes.txt":                  "ignored",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	ts := NewEmptyStore()
	stats, err := ts.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if stats.CodeSystems != 1 || stats.ValueSets != 1 || stats.Errors != 1 {
		t.Errorf("stats = %+v; want 1 code system, 1 value set, 1 error", stats)
	}
	if member, _ := ts.Contains("http://example.org/ValueSet/disorders", "asthma"); !member {
		t.Error("asthma should be a disorder")
	}

	if _, err := ts.LoadDir(filepath.Join(dir, "missing")); err == nil {
		t.Error("LoadDir(missing) should fail")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	ts := NewEmptyStore()
	if _, err := ts.LoadFile(filepath.Join(t.TempDir(), "none.json")); err == nil {
		t.Error("LoadFile(missing) should fail")
	}
}
