package phigate

import (
	"testing"
)

func TestSchemaVersion_Compare(t *testing.T) {
	tests := []struct {
		a, b SchemaVersion
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.2.0", "1.10.0", -1},
		{"2.0.0", "1.10.0", 1},
		{"v1.1", "1.1.0", 0},
		{"2024-01", "2024-02", -1},
		{"beta", "alpha", 1},
	}

	for _, tt := range tests {
		if got := tt.a.Compare(tt.b); got != tt.want {
			t.Errorf("SchemaVersion(%q).Compare(%q) = %d; want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSchemaVersion_Satisfies(t *testing.T) {
	ok, err := SchemaVersion("1.4.2").Satisfies(">= 1.2, < 2")
	if err != nil {
		t.Fatalf("Satisfies() error = %v", err)
	}
	if !ok {
		t.Error("1.4.2 should satisfy >= 1.2, < 2")
	}

	ok, err = SchemaVersion("opaque").Satisfies(">= 1")
	if err != nil || ok {
		t.Errorf("Satisfies() for non-semver = %v, %v; want false, nil", ok, err)
	}

	if _, err := SchemaVersion("1.0.0").Satisfies("not a constraint"); !IsConfigurationError(err) {
		t.Errorf("Satisfies() with bad constraint error = %v; want configuration error", err)
	}
}

func TestSchemaVersion_IsZero(t *testing.T) {
	if !SchemaVersion("").IsZero() {
		t.Error("empty version should be zero")
	}
	if SchemaVersion("1").String() != "1" {
		t.Error("String() should return the raw version")
	}
}
