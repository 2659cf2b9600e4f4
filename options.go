package phigate

import (
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gofhir/phigate/audit"
)

// Option configures the Validator.
type Option func(*Options)

// Rule languages for cross-field consistency rules.
const (
	RuleLanguageCompare  = "compare"
	RuleLanguageCEL      = "cel"
	RuleLanguageFHIRPath = "fhirpath"
)

// PatternConfig is an additional PHI pattern merged into the default set.
type PatternConfig struct {
	Name       string  `json:"name" mapstructure:"name"`
	Category   string  `json:"category" mapstructure:"category"`
	Pattern    string  `json:"pattern" mapstructure:"pattern"`
	Confidence float64 `json:"confidence" mapstructure:"confidence"`
}

// RuleConfig is a cross-field consistency rule.
//
// A compare rule holds when "Left Op Right" holds for the two named fields.
// CEL and FHIRPath rules hold when Expression evaluates to true. Fields
// lists the fields a rule reads; a rule is not applicable to a record in
// which any of them is absent.
type RuleConfig struct {
	Name        string   `json:"name" mapstructure:"name"`
	Language    string   `json:"language,omitempty" mapstructure:"language"`
	Expression  string   `json:"expression,omitempty" mapstructure:"expression"`
	Left        string   `json:"left,omitempty" mapstructure:"left"`
	Op          string   `json:"op,omitempty" mapstructure:"op"`
	Right       string   `json:"right,omitempty" mapstructure:"right"`
	Fields      []string `json:"fields,omitempty" mapstructure:"fields"`
	Description string   `json:"description,omitempty" mapstructure:"description"`
}

// Lang returns the rule language, defaulting to compare.
func (r RuleConfig) Lang() string {
	if r.Language == "" {
		return RuleLanguageCompare
	}
	return strings.ToLower(r.Language)
}

// Terminology resolves value set membership for coded fields.
type Terminology interface {
	// Contains reports whether code is a member of the value set. known is
	// false when the value set is not available.
	Contains(valueSetURL, code string) (member, known bool)
}

// AuditOptions tunes the audit emitter created when no publisher is given.
type AuditOptions struct {
	BufferSize    int
	BatchSize     int
	MaxRetries    int
	RetryBackoff  time.Duration
	FlushInterval time.Duration
}

// Options holds all configuration for the Validator.
type Options struct {
	// Validation flags
	StrictMode         bool
	WarnUnknownFields  bool
	IncludePHIFindings bool
	IncludeQuality     bool

	// PHI detection
	PHIPatterns         []PatternConfig
	PHIFieldNames       map[string]Category
	FreeTextThreshold   int
	AggregateDateFields []string

	// Quality scoring
	ValidationRules []RuleConfig
	ReferenceRanges map[string]Range
	QualityWeights  QualityWeights

	// Coded fields
	Terminology Terminology

	// Performance
	WorkerCount    int
	ParallelPhases bool

	// Audit
	AuditLogPath string
	Auditor      audit.Publisher
	Audit        AuditOptions
	Actor        string

	// Observability
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
}

// DefaultOptions returns the default configuration.
func DefaultOptions() *Options {
	return &Options{
		StrictMode:         true,
		IncludePHIFindings: true,
		IncludeQuality:     true,

		FreeTextThreshold: 40,
		QualityWeights:    DefaultQualityWeights(),

		WorkerCount:    runtime.NumCPU(),
		ParallelPhases: false,

		AuditLogPath: "validation_audit.log",
		Audit: AuditOptions{
			BufferSize:    1024,
			BatchSize:     64,
			MaxRetries:    3,
			RetryBackoff:  50 * time.Millisecond,
			FlushInterval: 200 * time.Millisecond,
		},
		Actor: "phigate.Validator",

		Logger: zap.NewNop(),
	}
}

// Apply applies opts to a copy of the defaults.
func Apply(opts ...Option) *Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// --- Validation Options ---

// WithStrictMode escalates PHI findings to validation errors.
func WithStrictMode(enable bool) Option {
	return func(o *Options) {
		o.StrictMode = enable
	}
}

// WithWarnUnknownFields reports fields not declared by the schema as warnings.
func WithWarnUnknownFields(enable bool) Option {
	return func(o *Options) {
		o.WarnUnknownFields = enable
	}
}

// WithPHIFindings includes PHI findings in results.
func WithPHIFindings(enable bool) Option {
	return func(o *Options) {
		o.IncludePHIFindings = enable
	}
}

// WithQuality includes the quality report in results.
func WithQuality(enable bool) Option {
	return func(o *Options) {
		o.IncludeQuality = enable
	}
}

// --- PHI Options ---

// WithPHIPatterns adds patterns after the default PHI pattern set.
func WithPHIPatterns(patterns ...PatternConfig) Option {
	return func(o *Options) {
		o.PHIPatterns = append(o.PHIPatterns, patterns...)
	}
}

// WithPHIFieldName adds a term to the field-name deny-list.
func WithPHIFieldName(term string, category Category) Option {
	return func(o *Options) {
		if o.PHIFieldNames == nil {
			o.PHIFieldNames = make(map[string]Category)
		}
		o.PHIFieldNames[strings.ToLower(term)] = category
	}
}

// WithFreeTextThreshold sets the minimum length, in runes, of strings
// scanned for possible names.
func WithFreeTextThreshold(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.FreeTextThreshold = n
		}
	}
}

// WithAggregateDateFields exempts the named date fields from the
// day-precision check.
func WithAggregateDateFields(fields ...string) Option {
	return func(o *Options) {
		o.AggregateDateFields = append(o.AggregateDateFields, fields...)
	}
}

// --- Quality Options ---

// WithValidationRules adds cross-field consistency rules.
func WithValidationRules(rules ...RuleConfig) Option {
	return func(o *Options) {
		o.ValidationRules = append(o.ValidationRules, rules...)
	}
}

// WithReferenceRange sets the plausibility bounds of a numeric field.
func WithReferenceRange(field string, minVal, maxVal float64) Option {
	return func(o *Options) {
		if o.ReferenceRanges == nil {
			o.ReferenceRanges = make(map[string]Range)
		}
		o.ReferenceRanges[field] = Range{Min: minVal, Max: maxVal}
	}
}

// WithQualityWeights sets the sub-score weights of the overall score.
func WithQualityWeights(w QualityWeights) Option {
	return func(o *Options) {
		o.QualityWeights = w
	}
}

// WithTerminology enables value set checks for coded fields.
func WithTerminology(t Terminology) Option {
	return func(o *Options) {
		o.Terminology = t
	}
}

// --- Performance Options ---

// WithWorkerCount sets the number of workers for batch validation.
// Defaults to runtime.NumCPU().
func WithWorkerCount(count int) Option {
	return func(o *Options) {
		if count > 0 {
			o.WorkerCount = count
		}
	}
}

// WithParallelPhases runs independent phases of the same priority
// concurrently. Results are merged in priority order either way.
func WithParallelPhases(enable bool) Option {
	return func(o *Options) {
		o.ParallelPhases = enable
	}
}

// --- Audit Options ---

// WithAuditLogPath sets the file the default audit emitter appends to.
// It is ignored when a publisher is set with WithAuditor.
func WithAuditLogPath(path string) Option {
	return func(o *Options) {
		o.AuditLogPath = path
	}
}

// WithAuditor sets the publisher audit events are emitted to.
// The caller owns the publisher and is responsible for closing it.
func WithAuditor(p audit.Publisher) Option {
	return func(o *Options) {
		o.Auditor = p
	}
}

// WithAuditTuning tunes the default audit emitter.
func WithAuditTuning(a AuditOptions) Option {
	return func(o *Options) {
		if a.BufferSize > 0 {
			o.Audit.BufferSize = a.BufferSize
		}
		if a.BatchSize > 0 {
			o.Audit.BatchSize = a.BatchSize
		}
		if a.MaxRetries != 0 {
			o.Audit.MaxRetries = a.MaxRetries
		}
		if a.RetryBackoff > 0 {
			o.Audit.RetryBackoff = a.RetryBackoff
		}
		if a.FlushInterval > 0 {
			o.Audit.FlushInterval = a.FlushInterval
		}
	}
}

// WithActor sets the identity recorded as the actor of audit events.
func WithActor(actor string) Option {
	return func(o *Options) {
		if actor != "" {
			o.Actor = actor
		}
	}
}

// --- Observability Options ---

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		if l == nil {
			l = zap.NewNop()
		}
		o.Logger = l
	}
}

// WithTracerProvider sets the provider validation spans are created from.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

// --- Presets ---

// StrictOptions returns options for gatekeeping data before training:
// PHI fails validation and unknown fields are reported.
func StrictOptions() []Option {
	return []Option{
		WithStrictMode(true),
		WithWarnUnknownFields(true),
		WithPHIFindings(true),
		WithQuality(true),
	}
}

// LenientOptions returns options for profiling data: PHI findings are
// reported as warnings only.
func LenientOptions() []Option {
	return []Option{
		WithStrictMode(false),
		WithWarnUnknownFields(false),
		WithPHIFindings(true),
		WithQuality(true),
	}
}

// MinimalOptions returns options that produce only is_valid, errors and
// warnings.
func MinimalOptions() []Option {
	return []Option{
		WithPHIFindings(false),
		WithQuality(false),
	}
}
