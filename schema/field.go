package schema

import (
	"regexp"
	"strings"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/record"
)

// FieldType is the declared type of a field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeFloat   FieldType = "float"
	TypeBool    FieldType = "bool"
	TypeDate    FieldType = "date"
	TypeList    FieldType = "list"
	TypeMap     FieldType = "map"
)

var typeAliases = map[string]FieldType{
	"string":   TypeString,
	"str":      TypeString,
	"text":     TypeString,
	"integer":  TypeInteger,
	"int":      TypeInteger,
	"float":    TypeFloat,
	"number":   TypeFloat,
	"double":   TypeFloat,
	"decimal":  TypeFloat,
	"bool":     TypeBool,
	"boolean":  TypeBool,
	"date":     TypeDate,
	"datetime": TypeDate,
	"list":     TypeList,
	"array":    TypeList,
	"map":      TypeMap,
	"object":   TypeMap,
}

// ParseFieldType parses a type name case-insensitively.
func ParseFieldType(s string) (FieldType, bool) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}

// String returns the type name used in diagnostics.
func (t FieldType) String() string {
	return string(t)
}

// IsNumeric reports whether the type is integer or float.
func (t FieldType) IsNumeric() bool {
	return t == TypeInteger || t == TypeFloat
}

// Kind returns the record kind that holds values of this type.
func (t FieldType) Kind() record.Kind {
	switch t {
	case TypeString:
		return record.KindString
	case TypeInteger:
		return record.KindInteger
	case TypeFloat:
		return record.KindFloat
	case TypeBool:
		return record.KindBool
	case TypeDate:
		return record.KindDate
	case TypeList:
		return record.KindList
	case TypeMap:
		return record.KindMap
	default:
		return record.KindNull
	}
}

// FieldSpec declares one field of a schema.
type FieldSpec struct {
	Name     string
	Type     FieldType
	Required bool

	// Range bounds numeric values, inclusive
	Range *ph.Range

	// Format is a regular expression a string value must match in full
	Format string

	// AllowedValues restricts values to a fixed set
	AllowedValues []record.Value

	// ValueSet is the canonical URL of the value set coded values must
	// belong to
	ValueSet string

	// AggregateDate exempts a date field from the day-precision PHI check
	AggregateDate bool

	Description string

	pattern *regexp.Regexp
}

// MatchFormat reports whether s matches the field's format. A field
// without a format matches everything.
func (f FieldSpec) MatchFormat(s string) bool {
	if f.Format == "" {
		return true
	}
	re := f.pattern
	if re == nil {
		var err error
		re, err = compileFormat(f.Format)
		if err != nil {
			return false
		}
	}
	return re.MatchString(s)
}

// Allows reports whether v is one of the allowed values. A field without
// allowed values allows everything.
func (f FieldSpec) Allows(v record.Value) bool {
	if len(f.AllowedValues) == 0 {
		return true
	}
	for _, a := range f.AllowedValues {
		if a.Equal(v) {
			return true
		}
		// An integer in the set also matches the same float value.
		if an, ok := a.Number(); ok {
			if vn, ok := v.Number(); ok && an == vn {
				return true
			}
		}
	}
	return false
}

func compileFormat(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`^(?:` + pattern + `)$`)
}

// compile validates the spec and compiles its format.
func (f *FieldSpec) compile(key string) error {
	if strings.TrimSpace(f.Name) == "" {
		return ph.NewConfigurationError(key, "field name must not be empty")
	}
	if _, ok := ParseFieldType(string(f.Type)); !ok {
		return ph.NewConfigurationError(key, "unknown type "+strings.TrimSpace(string(f.Type)))
	}
	f.Type, _ = ParseFieldType(string(f.Type))

	if f.Range != nil {
		if !f.Type.IsNumeric() {
			return ph.NewConfigurationError(key, "range is only valid on numeric fields")
		}
		if f.Range.Min > f.Range.Max {
			return ph.NewConfigurationError(key, "range min is greater than max")
		}
	}

	if f.Format != "" {
		if f.Type != TypeString && f.Type != TypeDate {
			return ph.NewConfigurationError(key, "format is only valid on string and date fields")
		}
		re, err := compileFormat(f.Format)
		if err != nil {
			return ph.WrapConfigurationError(err, key+".format")
		}
		f.pattern = re
	}

	for _, v := range f.AllowedValues {
		ok := v.Kind() == f.Type.Kind() ||
			(f.Type == TypeFloat && v.Kind() == record.KindInteger)
		if !ok {
			return ph.NewConfigurationError(key, "allowed value "+v.String()+" is not of type "+f.Type.String())
		}
	}

	if f.ValueSet != "" && f.Type != TypeString {
		return ph.NewConfigurationError(key, "value_set is only valid on string fields")
	}
	if f.AggregateDate && f.Type != TypeDate {
		return ph.NewConfigurationError(key, "aggregate_date is only valid on date fields")
	}
	return nil
}
