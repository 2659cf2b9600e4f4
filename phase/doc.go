// Package phase provides concrete validation phase implementations.
//
// Each phase validates one aspect of a record:
//   - schema: required fields, types, ranges, formats, allowed values and
//     value set membership, in schema field order
//   - unknown-fields: fields the schema does not declare (warnings only)
//   - phi: protected health information findings
//   - quality: completeness, consistency and accuracy scoring
//
// Phases implement the pipeline.Phase interface and can be registered
// with a Pipeline for execution.
package phase
