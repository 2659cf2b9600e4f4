// Package phi detects Protected Health Information in records.
//
// Detection is layered and runs per leaf value in a fixed order:
//
//  1. field-name deny-list (substring, case-insensitive)
//  2. structured patterns on string values (SSN, phone, email, URL, IPv4,
//     then configured patterns)
//  3. date granularity: date values with day or finer precision
//  4. free text: capitalized bigrams in long strings, advisory only
//
// A field is reported at most once per category; the earliest layer and
// pattern wins. Findings never alter the record.
package phi

import (
	"regexp"
	"strings"
	"unicode/utf8"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/record"
	"github.com/gofhir/phigate/schema"
)

// DefaultFreeTextThreshold is the minimum rune length scanned for names.
const DefaultFreeTextThreshold = 40

var bigramRe = regexp.MustCompile(`\b[A-Z][a-z]+[ \t]+[A-Z][a-z]+\b`)

// Matcher applies the layered PHI strategy. It holds no mutable state and
// is safe for concurrent use.
type Matcher struct {
	terms     []denyTerm
	patterns  []Pattern
	schema    *schema.Schema
	aggregate map[string]bool
	threshold int
}

// Option configures a Matcher.
type Option func(*config)

type config struct {
	patterns  []ph.PatternConfig
	names     map[string]ph.Category
	schema    *schema.Schema
	aggregate []string
	threshold int
}

// WithPatterns adds patterns evaluated after the built-in ones.
func WithPatterns(patterns ...ph.PatternConfig) Option {
	return func(c *config) {
		c.patterns = append(c.patterns, patterns...)
	}
}

// WithFieldNames extends the field-name deny-list.
func WithFieldNames(names map[string]ph.Category) Option {
	return func(c *config) {
		for k, v := range names {
			c.names[strings.ToLower(k)] = v
		}
	}
}

// WithSchema lets the matcher treat date-typed string fields as dates and
// honour aggregate date declarations.
func WithSchema(s *schema.Schema) Option {
	return func(c *config) {
		c.schema = s
	}
}

// WithAggregateDates whitelists date fields from the granularity check.
func WithAggregateDates(fields ...string) Option {
	return func(c *config) {
		c.aggregate = append(c.aggregate, fields...)
	}
}

// WithFreeTextThreshold sets the minimum string length scanned for names.
func WithFreeTextThreshold(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.threshold = n
		}
	}
}

// New builds a Matcher. Invalid configured patterns are configuration
// errors.
func New(opts ...Option) (*Matcher, error) {
	c := &config{
		names:     DefaultFieldNames(),
		threshold: DefaultFreeTextThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}

	patterns := DefaultPatterns()
	for i, pc := range c.patterns {
		p, err := CompilePattern(patternKey(i), pc)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}

	m := &Matcher{
		terms:     sortTerms(c.names),
		patterns:  patterns,
		schema:    c.schema,
		aggregate: make(map[string]bool, len(c.aggregate)),
		threshold: c.threshold,
	}
	for _, f := range c.aggregate {
		m.aggregate[f] = true
	}
	if c.schema != nil {
		for _, f := range c.schema.Fields() {
			if f.AggregateDate {
				m.aggregate[f.Name] = true
			}
		}
	}
	return m, nil
}

// FromOptions builds a Matcher from validator options.
func FromOptions(o *ph.Options, s *schema.Schema) (*Matcher, error) {
	return New(
		WithPatterns(o.PHIPatterns...),
		WithFieldNames(o.PHIFieldNames),
		WithSchema(s),
		WithAggregateDates(o.AggregateDateFields...),
		WithFreeTextThreshold(o.FreeTextThreshold),
	)
}

func patternKey(i int) string {
	pb := record.AcquirePathBuilder()
	defer pb.Release()
	pb.AppendField("phi_patterns")
	pb.AppendIndex(i)
	return pb.String()
}

// Patterns returns the compiled patterns in evaluation order.
func (m *Matcher) Patterns() []Pattern {
	out := make([]Pattern, len(m.patterns))
	copy(out, m.patterns)
	return out
}

// Detect returns the PHI findings in rec. Leaves are visited in sorted
// path order.
func (m *Matcher) Detect(rec record.Record) []ph.Finding {
	var findings []ph.Finding
	rec.Walk(func(l record.Leaf) bool {
		findings = m.detectLeaf(findings, l)
		return true
	})
	return findings
}

// DetectField returns the findings for a single top-level field.
func (m *Matcher) DetectField(name string, v record.Value) []ph.Finding {
	return m.Detect(record.Record{name: v})
}

type leafFindings struct {
	out  []ph.Finding
	seen map[ph.Category]bool
	path string
}

func (lf *leafFindings) add(cat ph.Category, conf float64, pattern string, advisory bool) {
	if lf.seen[cat] {
		return
	}
	lf.seen[cat] = true
	lf.out = append(lf.out, ph.Finding{
		Field:      lf.path,
		Category:   cat,
		Confidence: conf,
		Pattern:    pattern,
		Advisory:   advisory,
	})
}

func (m *Matcher) detectLeaf(out []ph.Finding, l record.Leaf) []ph.Finding {
	lf := &leafFindings{out: out, seen: make(map[ph.Category]bool, 2), path: l.Path}

	m.matchName(lf, l.Path)

	s, isStr := l.Value.Str()
	if isStr {
		for _, p := range m.patterns {
			if !lf.seen[p.Category] && p.MatchString(s) {
				lf.add(p.Category, p.Confidence, p.Name, false)
			}
		}
	}

	if d, ok := m.dateOf(l); ok && d.Precision >= record.PrecisionDay && !m.isAggregate(l) {
		lf.add(ph.CategoryDates, 1.0, "date-precision-"+d.Precision.String(), false)
	}

	if isStr && !lf.seen[ph.CategoryNames] && utf8.RuneCountInString(s) >= m.threshold {
		if n := len(bigramRe.FindAllStringIndex(s, -1)); n > 0 {
			lf.add(ph.CategoryNames, bigramConfidence(n), "capitalized-bigram", true)
		}
	}

	return lf.out
}

// matchName applies the deny-list. Terms are tried longest first and a
// matched span is blanked so that e.g. "ip_address" does not also match
// "address".
func (m *Matcher) matchName(lf *leafFindings, path string) {
	name := []byte(strings.ToLower(path))
	var hits []ph.Category
	for _, t := range m.terms {
		i := strings.Index(string(name), t.term)
		if i < 0 {
			continue
		}
		for j := i; j < i+len(t.term); j++ {
			name[j] = ' '
		}
		hits = append(hits, t.category)
	}
	if len(hits) == 0 {
		return
	}
	// Report in Safe-Harbor order regardless of term length.
	for _, cat := range ph.Categories() {
		for _, h := range hits {
			if h == cat {
				lf.add(cat, 1.0, "field-name", false)
				break
			}
		}
	}
}

func (m *Matcher) dateOf(l record.Leaf) (record.Date, bool) {
	if d, ok := l.Value.Date(); ok {
		return d, true
	}
	if m.schema == nil || l.Path != l.Field {
		return record.Date{}, false
	}
	spec, ok := m.schema.Field(l.Field)
	if !ok || spec.Type != schema.TypeDate {
		return record.Date{}, false
	}
	s, _ := l.Value.Str()
	d, err := record.ParseDate(s)
	return d, err == nil
}

func (m *Matcher) isAggregate(l record.Leaf) bool {
	return m.aggregate[l.Path] || m.aggregate[l.Field]
}

func bigramConfidence(n int) float64 {
	switch {
	case n >= 3:
		return 0.5
	case n == 2:
		return 0.4
	default:
		return 0.3
	}
}
