// Package engine provides the validation orchestrator.
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/audit"
	"github.com/gofhir/phigate/phase"
	"github.com/gofhir/phigate/phi"
	"github.com/gofhir/phigate/pipeline"
	"github.com/gofhir/phigate/quality"
	"github.com/gofhir/phigate/record"
	"github.com/gofhir/phigate/schema"
)

// TracerName is the instrumentation name of validator spans.
const TracerName = "github.com/gofhir/phigate/engine"

// SourceType is recorded as the source type of validator audit events.
const SourceType = "validator"

// Validator validates records against one schema, detects PHI, scores
// quality and keeps running statistics. All methods are safe for concurrent
// use; statistics are the only shared mutable state.
type Validator struct {
	schema  *schema.Schema
	options *ph.Options
	ctxOpts *pipeline.ContextOptions

	matcher *phi.Matcher
	scorer  *quality.Scorer
	pipe    *pipeline.Pipeline
	metrics *ph.Metrics

	auditor audit.Publisher
	emitter *audit.Emitter // owned; nil when the caller supplied a publisher

	tracer trace.Tracer
	logger *zap.Logger
}

// New creates a Validator for s. Every configuration problem is reported
// here as an error marked phigate.ErrConfiguration; validation calls never
// fail because of configuration.
//
// When no publisher is set with phigate.WithAuditor, New opens a file sink
// at the audit log path and owns the emitter; Close releases it.
func New(ctx context.Context, s *schema.Schema, opts ...ph.Option) (*Validator, error) {
	if s == nil || s.Len() == 0 {
		return nil, ph.NewConfigurationError("schema", "schema is empty")
	}
	o := ph.Apply(opts...)
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	matcher, err := phi.FromOptions(o, s)
	if err != nil {
		return nil, asConfigurationError(err, "phi_patterns")
	}
	scorer, err := quality.FromOptions(o, s)
	if err != nil {
		return nil, asConfigurationError(err, "validation_rules")
	}

	tp := o.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	v := &Validator{
		schema:  s,
		options: o,
		ctxOpts: pipeline.OptionsFrom(o),
		matcher: matcher,
		scorer:  scorer,
		metrics: ph.NewMetrics(),
		auditor: o.Auditor,
		tracer:  tp.Tracer(TracerName),
		logger:  o.Logger.With(zap.String("schema", s.Key())),
	}

	if v.auditor == nil {
		sink, err := audit.NewFileSink(o.AuditLogPath)
		if err != nil {
			return nil, ph.WrapConfigurationError(err, "audit_log_path")
		}
		v.emitter = audit.NewEmitter(sink,
			audit.WithConfig(auditConfig(o.Audit)),
			audit.WithLogger(o.Logger.Named("audit")))
		v.auditor = v.emitter
	}

	v.buildPipeline(tp)

	_, span := v.tracer.Start(ctx, "phigate.init")
	span.SetAttributes(attribute.String("phigate.schema", s.Key()))
	span.End()

	v.emit(audit.EventValidatorInitialized, audit.StatusSuccess, map[string]any{
		"schema":          s.Name(),
		"schema_version":  s.Version().String(),
		"fields":          s.Len(),
		"strict_mode":     o.StrictMode,
		"phi_patterns":    len(matcher.Patterns()),
		"rules":           len(scorer.Rules()),
		"reference_range": len(o.ReferenceRanges),
	})
	v.logger.Info("validator initialized",
		zap.Int("fields", s.Len()),
		zap.Bool("strict_mode", o.StrictMode))
	return v, nil
}

// buildPipeline registers the standard phases in their standard groups.
func (v *Validator) buildPipeline(tp trace.TracerProvider) {
	v.pipe = pipeline.NewPipeline(&pipeline.PipelineOptions{
		ParallelExecution: v.options.ParallelPhases,
		CollectMetrics:    true,
		TracerProvider:    tp,
	})
	v.pipe.SetMetrics(v.metrics)

	configs := map[pipeline.PhaseID]*pipeline.PhaseConfig{
		pipeline.PhaseIDSchema:  phase.SchemaPhaseConfig(v.options.Terminology),
		pipeline.PhaseIDPHI:     phase.PHIPhaseConfig(v.matcher),
		pipeline.PhaseIDQuality: phase.QualityPhaseConfig(v.scorer),
	}
	for _, stage := range pipeline.StandardStages {
		cfg := configs[stage.ID]
		v.pipe.Register(stage.ID, cfg.Phase,
			pipeline.WithPriority(stage.Priority),
			pipeline.WithParallel(stage.Parallel && cfg.Parallel),
			pipeline.WithRequired(cfg.Required))
	}
}

// Validate runs the schema, PHI and quality checks on rec and aggregates
// them into one result. Invalid data is reported in the result, never as
// an error; an error is returned only for an internal fault and is marked
// phigate.ErrInternal. Every call updates the statistics exactly once and
// emits audit events, whatever the outcome.
func (v *Validator) Validate(ctx context.Context, rec record.Record) (*ph.Result, error) {
	id := uuid.NewString()
	ctx, span := v.tracer.Start(ctx, "phigate.validate",
		trace.WithAttributes(
			attribute.String("phigate.schema", v.schema.Key()),
			attribute.String("phigate.validation_id", id)))
	defer span.End()

	start := time.Now()
	v.emit(audit.EventValidationStart, audit.StatusStarted, map[string]any{
		"validation_id": id,
		"fields":        len(rec),
	})

	pctx := pipeline.AcquireContext()
	pctx.Record = rec
	pctx.Schema = v.schema
	pctx.Options = v.ctxOpts
	pctx.Result = ph.NewResult()

	result, err := v.pipe.Execute(ctx, pctx)
	findings := pctx.Findings()
	report := pctx.Quality()
	pctx.Result = nil
	pctx.Release()

	if err != nil {
		v.metrics.RecordValidation(time.Since(start), false, 0)
		v.emit(audit.EventValidationError, audit.StatusError, map[string]any{
			"validation_id": id,
			"error":         errors.Redact(err),
		})
		v.logger.Error("validation fault", zap.String("validation_id", id), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "internal fault")
		return nil, err
	}

	result.Schema = v.schema.Name()
	result.SchemaVersion = v.schema.Version()
	if v.options.IncludePHIFindings {
		result.PHIFindings = findings
		if result.PHIFindings == nil {
			result.PHIFindings = []ph.Finding{}
		}
	}
	if v.options.IncludeQuality && report != nil {
		result.Quality = report
	}

	for _, f := range findings {
		v.metrics.RecordFinding(f.Category)
	}
	for _, issue := range result.Issues {
		v.metrics.RecordIssue(issue.Severity)
	}
	duration := time.Since(start)
	v.metrics.RecordValidation(duration, result.Valid, nonFatal(findings, v.options.StrictMode))

	if len(findings) > 0 {
		v.emit(audit.EventPHIDetected, audit.StatusWarning, findingDetails(id, findings, v.options.StrictMode))
	}
	status := audit.StatusSuccess
	if !result.Valid {
		status = audit.StatusFailure
	}
	details := map[string]any{
		"validation_id": id,
		"is_valid":      result.Valid,
		"errors":        len(result.Errors),
		"warnings":      len(result.Warnings),
		"phi_findings":  len(findings),
		"duration_ms":   duration.Milliseconds(),
	}
	if report != nil {
		details["quality_score"] = report.OverallScore
	}
	v.emit(audit.EventValidationComplete, status, details)

	span.SetAttributes(
		attribute.Bool("phigate.valid", result.Valid),
		attribute.Int("phigate.errors", len(result.Errors)),
		attribute.Int("phigate.phi_findings", len(findings)))
	v.logger.Debug("record validated",
		zap.String("validation_id", id),
		zap.Bool("valid", result.Valid),
		zap.Int("errors", len(result.Errors)),
		zap.Int("warnings", len(result.Warnings)),
		zap.Duration("duration", duration))
	return result, nil
}

// ValidateSchema runs only the schema checks. It does not touch the
// statistics or the audit log.
func (v *Validator) ValidateSchema(ctx context.Context, rec record.Record) (*ph.Result, error) {
	pctx := pipeline.NewContext(rec, v.schema, v.ctxOpts)
	issues, err := phase.SchemaPhaseConfig(v.options.Terminology).Phase.Validate(ctx, pctx)
	if err != nil {
		return nil, ph.WrapInternal(err, "schema check")
	}
	result := ph.NewResult()
	result.AddIssues(issues)
	result.Schema = v.schema.Name()
	result.SchemaVersion = v.schema.Version()
	return result, nil
}

// DetectPHI returns the PHI findings of rec. It never modifies rec.
func (v *Validator) DetectPHI(rec record.Record) []ph.Finding {
	return v.matcher.Detect(rec)
}

// Score returns the quality report of rec.
func (v *Validator) Score(rec record.Record) (*ph.QualityReport, error) {
	report, err := v.scorer.Score(rec)
	if err != nil {
		return nil, ph.WrapInternal(err, "quality score")
	}
	return report, nil
}

// Redact returns a copy of rec with every PHI finding replaced by a
// category placeholder.
func (v *Validator) Redact(rec record.Record) record.Record {
	return phi.Redact(rec, v.matcher.Detect(rec))
}

// Statistics returns a consistent snapshot of the running counters.
func (v *Validator) Statistics() ph.Statistics {
	return v.metrics.Statistics()
}

// ResetStatistics zeroes the counters and returns their values from just
// before the reset. It never interleaves with the counter updates of an
// in-flight validation.
func (v *Validator) ResetStatistics() ph.Statistics {
	before := v.metrics.Reset()
	v.emit(audit.EventStatisticsReset, audit.StatusSuccess, map[string]any{
		"total_validations": before.TotalValidations,
		"passed":            before.Passed,
		"failed":            before.Failed,
		"warnings":          before.Warnings,
	})
	v.logger.Info("statistics reset", zap.Uint64("total_validations", before.TotalValidations))
	return before
}

// Metrics returns the validator metrics.
func (v *Validator) Metrics() *ph.Metrics {
	return v.metrics
}

// Options returns the validator options.
func (v *Validator) Options() *ph.Options {
	return v.options
}

// Schema returns the schema records are validated against.
func (v *Validator) Schema() *schema.Schema {
	return v.schema
}

// Plan returns the phase execution plan.
func (v *Validator) Plan() *pipeline.ExecutionPlan {
	return v.pipe.Plan()
}

// Close flushes and closes the audit emitter if the validator owns it.
// A caller-supplied publisher is left open.
func (v *Validator) Close(ctx context.Context) error {
	if v.emitter == nil {
		return nil
	}
	return v.emitter.Close(ctx)
}

func (v *Validator) emit(t audit.EventType, status string, details map[string]any) {
	v.auditor.Emit(audit.Event{
		EventType:  t,
		SourceType: SourceType,
		SourcePath: v.schema.Key(),
		Actor:      v.options.Actor,
		Status:     status,
		Details:    details,
	})
}

// nonFatal counts the findings reported as warnings rather than errors:
// all of them when lenient, only advisory ones when strict.
func nonFatal(findings []ph.Finding, strict bool) int {
	if !strict {
		return len(findings)
	}
	n := 0
	for _, f := range findings {
		if f.Advisory {
			n++
		}
	}
	return n
}

// findingDetails describes findings by field name and category only.
func findingDetails(id string, findings []ph.Finding, strict bool) map[string]any {
	fields := make(map[string]bool)
	categories := make(map[string]bool)
	advisory := 0
	for _, f := range findings {
		fields[f.Field] = true
		categories[string(f.Category)] = true
		if f.Advisory {
			advisory++
		}
	}
	return map[string]any{
		"validation_id": id,
		"fields":        sortedKeys(fields),
		"categories":    sortedKeys(categories),
		"count":         len(findings),
		"advisory":      advisory,
		"strict_mode":   strict,
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func auditConfig(a ph.AuditOptions) audit.Config {
	return audit.Config{
		BufferSize:    a.BufferSize,
		BatchSize:     a.BatchSize,
		MaxRetries:    a.MaxRetries,
		RetryBackoff:  a.RetryBackoff,
		FlushInterval: a.FlushInterval,
	}
}

func asConfigurationError(err error, key string) error {
	if ph.IsConfigurationError(err) {
		return err
	}
	return ph.WrapConfigurationError(err, key)
}
