// Package phigate provides a deterministic validation and PHI detection
// gate for healthcare records entering a machine-learning pipeline.
//
// A record is checked against a versioned schema, scanned for the HIPAA
// Safe-Harbor identifier classes, and scored for quality. Every call emits
// audit events to a pluggable, non-blocking sink.
//
// # Quick Start
//
//	import (
//	    ph "github.com/gofhir/phigate"
//	    "github.com/gofhir/phigate/engine"
//	    "github.com/gofhir/phigate/schema"
//	)
//
//	s, err := schema.Load("schemas/encounter.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	v, err := engine.New(ctx, s, ph.WithStrictMode(true))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer v.Close(ctx)
//
//	result, err := v.Validate(ctx, rec)
//	if !result.Valid {
//	    for _, msg := range result.Errors {
//	        fmt.Println(msg)
//	    }
//	}
//
// # Functional Options
//
//	v, err := engine.New(ctx, s,
//	    ph.WithStrictMode(false),
//	    ph.WithReferenceRange("heart_rate", 20, 250),
//	    ph.WithValidationRules(ph.RuleConfig{
//	        Name: "discharge-after-admission",
//	        Left: "discharge_date", Op: ">=", Right: "admission_date",
//	    }),
//	    ph.WithAuditor(emitter),
//	)
//
// # Validation Phases
//
// Validation runs in phases, merged in a fixed order:
//
//   - Schema: required fields, types, ranges, formats, allowed values
//   - PHI: field-name deny-list, structured patterns, date granularity,
//     free-text name heuristic
//   - Quality: completeness, consistency and accuracy scores
//
// In strict mode a PHI finding fails the record; otherwise it becomes a
// warning. Low-confidence free-text findings are always warnings.
//
// # Errors
//
// Data problems are returned as data in Result.Errors. Only invalid
// configuration (ErrConfiguration, at construction) and internal faults
// (ErrInternal) are returned as Go errors. Audit sink failures are retried,
// then dropped and logged; they never fail a validation call.
package phigate
