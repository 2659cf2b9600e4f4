package rules

import (
	"strings"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/record"
)

var compareOps = map[string]func(c int) bool{
	"==": func(c int) bool { return c == 0 },
	"!=": func(c int) bool { return c != 0 },
	"<":  func(c int) bool { return c < 0 },
	"<=": func(c int) bool { return c <= 0 },
	">":  func(c int) bool { return c > 0 },
	">=": func(c int) bool { return c >= 0 },
}

type compareRule struct {
	base
	left, op, right string
	test            func(int) bool
}

func compileCompare(key string, b base, cfg ph.RuleConfig) (Rule, error) {
	left, right := strings.TrimSpace(cfg.Left), strings.TrimSpace(cfg.Right)
	op := strings.TrimSpace(cfg.Op)

	// "left op right" may also be given as the expression.
	if left == "" && right == "" && cfg.Expression != "" {
		parts := strings.Fields(cfg.Expression)
		if len(parts) != 3 {
			return nil, ph.NewConfigurationError(key, "compare expression must be \"<field> <op> <field>\"")
		}
		left, op, right = parts[0], parts[1], parts[2]
	}
	if left == "" || right == "" {
		return nil, ph.NewConfigurationError(key, "compare rule needs left and right fields")
	}
	test, ok := compareOps[op]
	if !ok {
		return nil, ph.NewConfigurationError(key, "unknown comparison operator "+op)
	}
	if b.schema != nil {
		for _, f := range []string{left, right} {
			if !b.schema.Has(f) {
				return nil, ph.NewConfigurationError(key, "field "+f+" is not declared in schema "+b.schema.Name())
			}
		}
	}

	b.fields = []string{left, right}
	if b.description == "" {
		b.description = left + " " + op + " " + right
	}
	return &compareRule{base: b, left: left, op: op, right: right, test: test}, nil
}

func (r *compareRule) Evaluate(rec record.Record) (Outcome, error) {
	vals, ok := r.operands(rec)
	if !ok {
		return NotApplicable, nil
	}
	c, comparable := compareValues(vals[r.left], vals[r.right])
	if !comparable {
		// Only equality is meaningful across incomparable kinds.
		switch r.op {
		case "==":
			return outcome(vals[r.left].Equal(vals[r.right])), nil
		case "!=":
			return outcome(!vals[r.left].Equal(vals[r.right])), nil
		}
		return Violated, nil
	}
	return outcome(r.test(c)), nil
}

func outcome(holds bool) Outcome {
	if holds {
		return Holds
	}
	return Violated
}

// compareValues orders two values of compatible kinds: numbers
// numerically, dates chronologically, strings lexically.
func compareValues(a, b record.Value) (int, bool) {
	if x, ok := a.Number(); ok {
		if y, ok := b.Number(); ok {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if x, ok := asDate(a); ok {
		if y, ok := asDate(b); ok {
			return x.Compare(y), true
		}
		return 0, false
	}
	if x, ok := a.Str(); ok {
		if y, ok := b.Str(); ok {
			return strings.Compare(x, y), true
		}
	}
	return 0, false
}

func asDate(v record.Value) (record.Date, bool) {
	if d, ok := v.Date(); ok {
		return d, true
	}
	return record.Date{}, false
}
