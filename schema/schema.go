// Package schema holds versioned record schemas and their loading.
//
// A Schema is validated once, when it is built, and is immutable afterwards.
// Every definition problem is reported as a configuration error at that
// point, never while validating a record.
package schema

import (
	"strconv"

	ph "github.com/gofhir/phigate"
)

// Schema is an ordered set of field definitions for one record type.
type Schema struct {
	name        string
	version     ph.SchemaVersion
	description string
	fields      []FieldSpec
	index       map[string]int
}

// New builds a schema from field specs in declaration order.
// It returns an error marked phigate.ErrConfiguration when the schema
// declares no fields, a field name is empty or repeated, a type is unknown,
// a range is inverted or on a non-numeric field, or a format does not compile.
func New(name string, version ph.SchemaVersion, fields ...FieldSpec) (*Schema, error) {
	if name == "" {
		return nil, ph.NewConfigurationError("schema.name", "schema name must not be empty")
	}
	if len(fields) == 0 {
		return nil, ph.NewConfigurationError("schema.fields", "schema "+name+" declares no fields")
	}

	s := &Schema{
		name:    name,
		version: version,
		fields:  make([]FieldSpec, len(fields)),
		index:   make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		key := "schema.fields[" + strconv.Itoa(i) + "]"
		if f.Name != "" {
			key = "schema.fields." + f.Name
		}
		f.AllowedValues = append(f.AllowedValues[:0:0], f.AllowedValues...)
		if err := f.compile(key); err != nil {
			return nil, err
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, ph.NewConfigurationError(key, "duplicate field "+f.Name)
		}
		s.fields[i] = f
		s.index[f.Name] = i
	}
	return s, nil
}

// MustNew is like New but panics on error. It is intended for tests and
// static schemas.
func MustNew(name string, version ph.SchemaVersion, fields ...FieldSpec) *Schema {
	s, err := New(name, version, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the record type name.
func (s *Schema) Name() string {
	return s.name
}

// Version returns the schema version.
func (s *Schema) Version() ph.SchemaVersion {
	return s.version
}

// Description returns the free-form schema description.
func (s *Schema) Description() string {
	return s.description
}

// Len returns the number of declared fields.
func (s *Schema) Len() int {
	return len(s.fields)
}

// Fields returns the field specs in declaration order.
func (s *Schema) Fields() []FieldSpec {
	out := make([]FieldSpec, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field returns the spec of the named field.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	i, ok := s.index[name]
	if !ok {
		return FieldSpec{}, false
	}
	return s.fields[i], true
}

// Has reports whether the schema declares the named field.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Required returns the required field specs in declaration order.
func (s *Schema) Required() []FieldSpec {
	var out []FieldSpec
	for _, f := range s.fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

// Names returns the field names in declaration order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// Key returns "name@version", the registry key of the schema.
func (s *Schema) Key() string {
	return key(s.name, s.version)
}

func key(name string, version ph.SchemaVersion) string {
	return name + "@" + string(version)
}
