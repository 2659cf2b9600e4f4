package phigate

import (
	"sync"
)

// Result contains the outcome of validating one record.
//
// Errors and Warnings hold the diagnostics of the error and warning issues
// in the order they were added. The validator adds them in schema field
// order, then phase order, so two validations of the same record produce
// identical results.
type Result struct {
	// Valid is true if no errors were found (warnings are allowed)
	Valid bool `json:"is_valid"`

	// Errors contains the diagnostics of all error issues
	Errors []string `json:"errors"`

	// Warnings contains the diagnostics of all warning issues
	Warnings []string `json:"warnings"`

	// PHIFindings is populated when PHI findings are included by configuration
	PHIFindings []Finding `json:"phi_findings,omitempty"`

	// Quality is populated when quality scoring is included by configuration
	Quality *QualityReport `json:"quality,omitempty"`

	// Schema and SchemaVersion identify the schema the record was validated against
	Schema        string        `json:"schema,omitempty"`
	SchemaVersion SchemaVersion `json:"schema_version,omitempty"`

	// Issues contains the typed form of every error and warning
	Issues []Issue `json:"-"`

	// mu protects concurrent access to Issues
	mu sync.Mutex
}

// NewResult creates a new, valid result with no issues.
func NewResult() *Result {
	return &Result{
		Valid:    true,
		Errors:   []string{},
		Warnings: []string{},
		Issues:   make([]Issue, 0, 8),
	}
}

// AddIssue adds a validation issue to the result.
// Informational issues are kept in Issues only.
// This method is thread-safe.
func (r *Result) AddIssue(issue Issue) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.addLocked(issue)
}

// AddIssues adds multiple issues to the result, preserving their order.
// This method is thread-safe.
func (r *Result) AddIssues(issues []Issue) {
	if len(issues) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, issue := range issues {
		r.addLocked(issue)
	}
}

func (r *Result) addLocked(issue Issue) {
	r.Issues = append(r.Issues, issue)
	switch {
	case issue.IsError():
		r.Errors = append(r.Errors, issue.Diagnostics)
		r.Valid = false
	case issue.IsWarning():
		r.Warnings = append(r.Warnings, issue.Diagnostics)
	}
}

// HasErrors returns true if there are any error or fatal issues.
func (r *Result) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any warning issues.
func (r *Result) HasWarnings() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.Warnings) > 0
}

// ErrorCount returns the number of error and fatal issues.
func (r *Result) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.Errors)
}

// WarningCount returns the number of warning issues.
func (r *Result) WarningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.Warnings)
}

// ErrorIssues returns all error and fatal issues.
func (r *Result) ErrorIssues() []Issue {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []Issue
	for _, issue := range r.Issues {
		if issue.IsError() {
			errs = append(errs, issue)
		}
	}
	return errs
}

// WarningIssues returns all warning issues.
func (r *Result) WarningIssues() []Issue {
	r.mu.Lock()
	defer r.mu.Unlock()

	var warnings []Issue
	for _, issue := range r.Issues {
		if issue.IsWarning() {
			warnings = append(warnings, issue)
		}
	}
	return warnings
}

// IssuesForField returns the issues that refer to the named field.
func (r *Result) IssuesForField(field string) []Issue {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Issue
	for _, issue := range r.Issues {
		if issue.Field == field {
			out = append(out, issue)
		}
	}
	return out
}

// Merge appends the issues of another result to this one.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}

	other.mu.Lock()
	issues := make([]Issue, len(other.Issues))
	copy(issues, other.Issues)
	other.mu.Unlock()

	r.AddIssues(issues)
}

// Clone creates a deep copy of the result.
func (r *Result) Clone() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := &Result{
		Valid:         r.Valid,
		Errors:        append([]string{}, r.Errors...),
		Warnings:      append([]string{}, r.Warnings...),
		Issues:        append([]Issue(nil), r.Issues...),
		Schema:        r.Schema,
		SchemaVersion: r.SchemaVersion,
	}
	if r.PHIFindings != nil {
		clone.PHIFindings = append([]Finding{}, r.PHIFindings...)
	}
	if r.Quality != nil {
		q := r.Quality.Clone()
		clone.Quality = &q
	}
	return clone
}
