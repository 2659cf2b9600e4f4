package rules

import (
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/cache"
	"github.com/gofhir/phigate/record"
	"github.com/gofhir/phigate/schema"
)

const (
	celCostLimit      = 10000
	celInterruptEvery = 100
)

var celIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var celReserved = map[string]bool{
	"true": true, "false": true, "null": true, "in": true, "as": true,
	"break": true, "const": true, "continue": true, "else": true,
	"for": true, "function": true, "if": true, "import": true, "let": true,
	"loop": true, "package": true, "namespace": true, "return": true,
	"var": true, "void": true, "while": true, "record": true,
}

type celRule struct {
	base
	prg cel.Program
}

// celPrograms holds compiled programs keyed by declared variables and
// expression, so validators for the same schema share them.
var celPrograms = cache.New[string, cel.Program](256)

// celVariables lists the schema fields that are valid CEL identifiers.
func celVariables(s *schema.Schema) []string {
	if s == nil {
		return nil
	}
	var vars []string
	for _, name := range s.Names() {
		if celIdent.MatchString(name) && !celReserved[name] {
			vars = append(vars, name)
		}
	}
	return vars
}

// celEnv declares every variable as dynamic, plus "record" holding the
// whole record as a map.
func celEnv(vars []string) (*cel.Env, error) {
	opts := []cel.EnvOption{
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	}
	for _, name := range vars {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	return cel.NewEnv(opts...)
}

func celProgram(vars []string, expr string) (cel.Program, error) {
	key := strings.Join(vars, ",") + "\x00" + expr
	return celPrograms.GetOrCompute(key, func() (cel.Program, error) {
		env, err := celEnv(vars)
		if err != nil {
			return nil, err
		}
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, issues.Err()
		}
		out := ast.OutputType()
		if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
			return nil, errNotBool{out.String()}
		}
		return env.Program(ast,
			cel.InterruptCheckFrequency(celInterruptEvery),
			cel.CostLimit(celCostLimit),
		)
	})
}

type errNotBool struct{ typ string }

func (e errNotBool) Error() string {
	return "cel expression must evaluate to bool, not " + e.typ
}

func compileCEL(key string, b base, cfg ph.RuleConfig) (Rule, error) {
	if cfg.Expression == "" {
		return nil, ph.NewConfigurationError(key, "cel rule needs an expression")
	}
	prg, err := celProgram(celVariables(b.schema), cfg.Expression)
	if err != nil {
		return nil, ph.WrapConfigurationError(err, key)
	}

	b.fields = fieldsOrReferenced(cfg, b.schema)
	if b.description == "" {
		b.description = cfg.Expression
	}
	return &celRule{base: b, prg: prg}, nil
}

func (r *celRule) Evaluate(rec record.Record) (Outcome, error) {
	vals, ok := r.operands(rec)
	if !ok {
		return NotApplicable, nil
	}

	input := make(map[string]any, len(rec)+1)
	input["record"] = rec.Native()
	if r.schema != nil {
		for _, name := range r.schema.Names() {
			if !celIdent.MatchString(name) || celReserved[name] {
				continue
			}
			if v, typed := vals[name]; typed {
				input[name] = v.Native()
			} else if v, present := rec.Get(name); present {
				input[name] = v.Native()
			}
		}
	}

	out, _, err := r.prg.Eval(input)
	if err != nil {
		return NotApplicable, ph.WrapInternal(err, "cel rule "+r.name)
	}
	holds, isBool := out.Value().(bool)
	if !isBool {
		return NotApplicable, ph.WrapInternal(errRuleNotBool, "cel rule "+r.name)
	}
	return outcome(holds), nil
}
