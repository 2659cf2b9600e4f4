// Package typecheck validates single field values against their schema
// specs: type, range, format, allowed values and value set membership.
//
// Checks never coerce. A numeric string in an integer field is a type
// error. The only accepted widenings are integers in float fields and
// ISO-8601 strings in date fields, since JSON has no date type.
package typecheck

import (
	"fmt"
	"strconv"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/record"
	"github.com/gofhir/phigate/schema"
)

// PhaseName is recorded on issues produced by this package.
const PhaseName = "schema"

// Checker validates values against field specs. It is stateless apart
// from its optional terminology and safe for concurrent use.
type Checker struct {
	terminology ph.Terminology
}

// New creates a Checker. A nil terminology disables value set checks.
func New(terminology ph.Terminology) *Checker {
	return &Checker{terminology: terminology}
}

var defaultChecker = New(nil)

// Check validates v against spec without value set checks.
func Check(spec schema.FieldSpec, v record.Value) []ph.Issue {
	return defaultChecker.Check(spec, v)
}

// Missing returns the issue for a required field absent from a record.
func Missing(spec schema.FieldSpec) ph.Issue {
	return ph.Error(ph.IssueTypeRequired).
		Diagnostics("missing required field: " + spec.Name).
		Field(spec.Name).
		Phase(PhaseName).
		Build()
}

// Check validates v against spec. A null value is treated as absent and
// yields no issues; required-field checks are the caller's concern.
// Range, format and membership checks only run once the type matches.
func (c *Checker) Check(spec schema.FieldSpec, v record.Value) []ph.Issue {
	if v.IsNull() {
		return nil
	}

	raw := v
	v, ok := Normalize(spec.Type, v)
	if !ok {
		return []ph.Issue{typeIssue(spec, v)}
	}

	var issues []ph.Issue

	if spec.Range != nil {
		if n, isNum := v.Number(); isNum && !spec.Range.Contains(n) {
			issues = append(issues, ph.Error(ph.IssueTypeRange).
				Diagnostics(fmt.Sprintf("field %s: value %s outside allowed range [%s,%s]",
					spec.Name, v.String(), formatBound(spec.Range.Min), formatBound(spec.Range.Max))).
				Field(spec.Name).
				Phase(PhaseName).
				Build())
		}
	}

	if spec.Format != "" {
		if s, isText := formatSubject(raw); isText && !spec.MatchFormat(s) {
			issues = append(issues, ph.Error(ph.IssueTypeFormat).
				Diagnostics(fmt.Sprintf("field %s: value does not match format %s", spec.Name, spec.Format)).
				Field(spec.Name).
				Phase(PhaseName).
				Build())
		}
	}

	if !spec.Allows(v) {
		issues = append(issues, ph.Error(ph.IssueTypeValue).
			Diagnostics(fmt.Sprintf("field %s: value not in allowed values", spec.Name)).
			Field(spec.Name).
			Phase(PhaseName).
			Build())
	}

	if spec.ValueSet != "" && c.terminology != nil {
		if code, isStr := v.Str(); isStr {
			issues = append(issues, c.checkCode(spec, code)...)
		}
	}

	return issues
}

func (c *Checker) checkCode(spec schema.FieldSpec, code string) []ph.Issue {
	member, known := c.terminology.Contains(spec.ValueSet, code)
	switch {
	case !known:
		return []ph.Issue{ph.Warning(ph.IssueTypeCodeInvalid).
			Diagnostics(fmt.Sprintf("field %s: value set %s is not available", spec.Name, spec.ValueSet)).
			Field(spec.Name).
			Phase(PhaseName).
			Build()}
	case !member:
		return []ph.Issue{ph.Error(ph.IssueTypeCodeInvalid).
			Diagnostics(fmt.Sprintf("field %s: code %s not in value set %s", spec.Name, code, spec.ValueSet)).
			Field(spec.Name).
			Phase(PhaseName).
			Build()}
	}
	return nil
}

// Matches reports whether v has the runtime type required by t.
func Matches(t schema.FieldType, v record.Value) bool {
	_, ok := Normalize(t, v)
	return ok
}

// Normalize returns v in the form checks run against: date strings are
// parsed into dates. ok is false on a type mismatch.
func Normalize(t schema.FieldType, v record.Value) (record.Value, bool) {
	switch t {
	case schema.TypeFloat:
		return v, v.Kind() == record.KindFloat || v.Kind() == record.KindInteger
	case schema.TypeDate:
		if v.Kind() == record.KindDate {
			return v, true
		}
		if s, ok := v.Str(); ok {
			if d, err := record.ParseDate(s); err == nil {
				return record.DateValue(d), true
			}
		}
		return v, false
	default:
		return v, v.Kind() == t.Kind()
	}
}

func typeIssue(spec schema.FieldSpec, v record.Value) ph.Issue {
	return ph.Error(ph.IssueTypeType).
		Diagnostics(fmt.Sprintf("field %s: expected type %s, got %s", spec.Name, spec.Type, v.Kind())).
		Field(spec.Name).
		Phase(PhaseName).
		Build()
}

func formatSubject(v record.Value) (string, bool) {
	if s, ok := v.Str(); ok {
		return s, true
	}
	if d, ok := v.Date(); ok {
		return d.String(), true
	}
	return "", false
}

func formatBound(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
