// Package rules compiles and evaluates cross-field consistency rules such
// as "discharge_date >= admission_date".
//
// Three languages are supported: a plain field comparison (the default),
// CEL and FHIRPath. Rules compile once at validator construction; compile
// failures are configuration errors. A rule whose operand fields are absent
// from a record, or hold a value of the wrong schema type, is not
// applicable to that record and counts neither for nor against it.
package rules

import (
	"regexp"
	"strconv"

	"github.com/cockroachdb/errors"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/pkg/typecheck"
	"github.com/gofhir/phigate/record"
	"github.com/gofhir/phigate/schema"
)

// Outcome is the result of evaluating a rule against one record.
type Outcome uint8

const (
	NotApplicable Outcome = iota
	Holds
	Violated
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Holds:
		return "holds"
	case Violated:
		return "violated"
	default:
		return "not-applicable"
	}
}

// Rule is a compiled consistency rule. Implementations are safe for
// concurrent use.
type Rule interface {
	Name() string
	Language() string
	// Description is the human-readable text used when the rule fails.
	Description() string
	// Fields returns the operand fields that must be present.
	Fields() []string
	// Evaluate checks rec. A non-nil error is an internal fault, not a
	// data problem.
	Evaluate(rec record.Record) (Outcome, error)
}

// Compile compiles one rule configuration. s may be nil; when set it is
// used for operand typing and to infer operand fields of expressions.
func Compile(cfg ph.RuleConfig, s *schema.Schema) (Rule, error) {
	key := "validation_rules." + cfg.Name
	if cfg.Name == "" {
		return nil, ph.NewConfigurationError("validation_rules", "rule name must not be empty")
	}

	b := base{name: cfg.Name, lang: cfg.Lang(), description: cfg.Description, schema: s}
	switch cfg.Lang() {
	case ph.RuleLanguageCompare:
		return compileCompare(key, b, cfg)
	case ph.RuleLanguageCEL:
		return compileCEL(key, b, cfg)
	case ph.RuleLanguageFHIRPath:
		return compileFHIRPath(key, b, cfg)
	default:
		return nil, ph.NewConfigurationError(key, "unknown rule language "+strconv.Quote(cfg.Language))
	}
}

// CompileAll compiles rules in order, rejecting duplicate names.
func CompileAll(cfgs []ph.RuleConfig, s *schema.Schema) ([]Rule, error) {
	out := make([]Rule, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))
	for _, cfg := range cfgs {
		if seen[cfg.Name] {
			return nil, ph.NewConfigurationError("validation_rules."+cfg.Name, "duplicate rule name")
		}
		seen[cfg.Name] = true
		r, err := Compile(cfg, s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

type base struct {
	name        string
	lang        string
	description string
	fields      []string
	schema      *schema.Schema
}

func (b *base) Name() string     { return b.name }
func (b *base) Language() string { return b.lang }

func (b *base) Description() string {
	if b.description != "" {
		return b.description
	}
	return b.name
}

func (b *base) Fields() []string {
	out := make([]string, len(b.fields))
	copy(out, b.fields)
	return out
}

// operands returns the normalized operand values, or ok=false when the
// rule is not applicable to rec.
func (b *base) operands(rec record.Record) (map[string]record.Value, bool) {
	vals := make(map[string]record.Value, len(b.fields))
	for _, f := range b.fields {
		v, ok := rec.Get(f)
		if !ok || v.IsNull() {
			return nil, false
		}
		if b.schema != nil {
			if spec, declared := b.schema.Field(f); declared {
				nv, typed := typecheck.Normalize(spec.Type, v)
				if !typed {
					return nil, false
				}
				if n, isNum := nv.Number(); isNum && spec.Type == schema.TypeFloat {
					nv = record.Float(n)
				}
				v = nv
			}
		}
		vals[f] = v
	}
	return vals, true
}

var errRuleNotBool = errors.New("rule did not evaluate to a boolean")

var identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// referencedFields returns the schema fields named as identifiers in expr,
// in schema order.
func referencedFields(expr string, s *schema.Schema) []string {
	if s == nil {
		return nil
	}
	idents := make(map[string]bool)
	for _, id := range identRe.FindAllString(expr, -1) {
		idents[id] = true
	}
	var out []string
	for _, name := range s.Names() {
		if idents[name] {
			out = append(out, name)
		}
	}
	return out
}

func fieldsOrReferenced(cfg ph.RuleConfig, s *schema.Schema) []string {
	if len(cfg.Fields) > 0 {
		out := make([]string, len(cfg.Fields))
		copy(out, cfg.Fields)
		return out
	}
	return referencedFields(cfg.Expression, s)
}
