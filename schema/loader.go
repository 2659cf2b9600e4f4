package schema

import (
	_ "embed"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/record"
)

//go:embed schema.json
var metaSchemaJSON string

const metaSchemaURL = "https://phigate.local/schema/record-schema.json"

var compileMetaSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(metaSchemaURL, strings.NewReader(metaSchemaJSON)); err != nil {
		return nil, errors.Wrap(err, "load schema meta-schema")
	}
	return c.Compile(metaSchemaURL)
})

// document is the on-disk form of a schema.
type document struct {
	Name        string    `yaml:"name"`
	Version     yaml.Node `yaml:"version"`
	Description string    `yaml:"description"`
	Fields      yaml.Node `yaml:"fields"`
}

type fieldDocument struct {
	Name          string    `yaml:"name"`
	Type          string    `yaml:"type"`
	Required      bool      `yaml:"required"`
	Range         *ph.Range `yaml:"range"`
	Format        string    `yaml:"format"`
	AllowedValues []any     `yaml:"allowed_values"`
	ValueSet      string    `yaml:"value_set"`
	AggregateDate bool      `yaml:"aggregate_date"`
	Description   string    `yaml:"description"`
}

// Parse builds a schema from a YAML or JSON document:
//
//	name: encounter
//	version: 1.2.0
//	fields:
//	  - name: patient_id
//	    type: string
//	    required: true
//	  - name: age
//	    type: integer
//	    range: {min: 0, max: 130}
//
// fields may also be a mapping from field name to spec, in which case the
// document order of the mapping is the field order.
func Parse(data []byte) (*Schema, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, ph.WrapConfigurationError(err, "schema")
	}
	if err := validateDocument(&root); err != nil {
		return nil, err
	}

	var doc document
	if err := root.Decode(&doc); err != nil {
		return nil, ph.WrapConfigurationError(err, "schema")
	}

	fields, err := decodeFields(&doc.Fields)
	if err != nil {
		return nil, err
	}
	s, err := New(doc.Name, ph.SchemaVersion(doc.Version.Value), fields...)
	if err != nil {
		return nil, err
	}
	s.description = doc.Description
	return s, nil
}

// Load reads and parses a schema file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ph.WrapConfigurationError(err, "schema "+path)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return s, nil
}

// validateDocument checks the document against the embedded meta-schema.
func validateDocument(root *yaml.Node) error {
	var generic any
	if err := root.Decode(&generic); err != nil {
		return ph.WrapConfigurationError(err, "schema")
	}
	// Round-trip through JSON so the validator sees JSON-native types.
	raw, err := json.Marshal(generic)
	if err != nil {
		return ph.WrapConfigurationError(err, "schema")
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ph.WrapConfigurationError(err, "schema")
	}

	meta, err := compileMetaSchema()
	if err != nil {
		return ph.WrapInternal(err, "compile meta-schema")
	}
	if err := meta.Validate(decoded); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return ph.NewConfigurationError("schema", describe(verr))
		}
		return ph.WrapConfigurationError(err, "schema")
	}
	return nil
}

// describe flattens a validation error into one line naming the innermost
// failing locations.
func describe(verr *jsonschema.ValidationError) string {
	var msgs []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			msgs = append(msgs, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return strings.Join(msgs, "; ")
}

func decodeFields(node *yaml.Node) ([]FieldSpec, error) {
	var docs []fieldDocument
	switch node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&docs); err != nil {
			return nil, ph.WrapConfigurationError(err, "schema.fields")
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			var fd fieldDocument
			if err := node.Content[i+1].Decode(&fd); err != nil {
				return nil, ph.WrapConfigurationError(err, "schema.fields."+node.Content[i].Value)
			}
			fd.Name = node.Content[i].Value
			docs = append(docs, fd)
		}
	default:
		return nil, ph.NewConfigurationError("schema.fields", "fields must be a list or a mapping")
	}

	fields := make([]FieldSpec, 0, len(docs))
	for _, fd := range docs {
		f := FieldSpec{
			Name:          fd.Name,
			Type:          FieldType(fd.Type),
			Required:      fd.Required,
			Range:         fd.Range,
			Format:        fd.Format,
			ValueSet:      fd.ValueSet,
			AggregateDate: fd.AggregateDate,
			Description:   fd.Description,
		}
		for _, raw := range fd.AllowedValues {
			v, err := record.FromAny(raw)
			if err != nil {
				return nil, ph.WrapConfigurationError(err, "schema.fields."+fd.Name+".allowed_values")
			}
			f.AllowedValues = append(f.AllowedValues, v)
		}
		fields = append(fields, f)
	}
	return fields, nil
}
