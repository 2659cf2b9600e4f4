package phi

import (
	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/record"
)

// Placeholder returns the replacement text for a redacted value.
func Placeholder(cat ph.Category) string {
	return "[REDACTED:" + string(cat) + "]"
}

// Redact returns a new record in which every value flagged by findings is
// replaced. Date findings are generalized to the year, which Safe-Harbor
// permits; any other finding replaces the value with a placeholder naming
// the first category reported for it. rec itself is never modified.
func Redact(rec record.Record, findings []ph.Finding) record.Record {
	if len(findings) == 0 {
		return rec.Clone()
	}

	byPath := make(map[string]ph.Category, len(findings))
	for _, f := range findings {
		prev, ok := byPath[f.Field]
		if !ok || prev == ph.CategoryDates {
			byPath[f.Field] = f.Category
		}
	}

	return rec.Transform(func(l record.Leaf) record.Value {
		cat, ok := byPath[l.Path]
		if !ok {
			return l.Value
		}
		if cat == ph.CategoryDates {
			if v, ok := generalizeDate(l.Value); ok {
				return v
			}
		}
		return record.String(Placeholder(cat))
	})
}

func generalizeDate(v record.Value) (record.Value, bool) {
	if d, ok := v.Date(); ok {
		return record.DateValue(d.Year()), true
	}
	if s, ok := v.Str(); ok {
		if d, err := record.ParseDate(s); err == nil {
			return record.String(d.Year().String()), true
		}
	}
	return v, false
}
