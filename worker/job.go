package worker

import (
	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/record"
)

// Job is one record to validate.
type Job struct {
	// ID is a caller-chosen identifier echoed in the result.
	ID string

	// Record is the record to validate.
	Record record.Record
}

// JobResult represents the result of a validation job.
type JobResult struct {
	// ID matches the Job.ID that produced this result.
	ID string

	// Index is the position of the record in its batch, or the submission
	// order for pool jobs.
	Index int

	// Result contains the validation result.
	Result *ph.Result

	// Error is an internal fault raised while validating the record.
	Error error

	// Duration is the time taken to validate (in nanoseconds).
	Duration int64
}

// BatchResult aggregates results from multiple jobs.
type BatchResult struct {
	// Results holds the completed jobs in input order.
	Results []*JobResult

	// TotalJobs is the number of jobs submitted.
	TotalJobs int

	// CompletedJobs is the number of jobs completed (including faults).
	CompletedJobs int

	// FailedJobs is the number of jobs that failed with an internal fault.
	FailedJobs int

	// TotalDuration is the total time for all validations (in nanoseconds).
	TotalDuration int64

	// Cancelled is set when the context was cancelled before every record
	// was validated.
	Cancelled bool
}

// HasErrors returns true if any job faulted or produced an invalid result.
func (br *BatchResult) HasErrors() bool {
	for _, r := range br.Results {
		if r.Error != nil {
			return true
		}
		if r.Result != nil && !r.Result.Valid {
			return true
		}
	}
	return false
}

// ErrorCount returns the total number of validation errors across all results.
func (br *BatchResult) ErrorCount() int {
	count := 0
	for _, r := range br.Results {
		if r.Result != nil {
			count += r.Result.ErrorCount()
		}
	}
	return count
}

// ValidCount returns the number of results that passed validation.
func (br *BatchResult) ValidCount() int {
	count := 0
	for _, r := range br.Results {
		if r.Error == nil && r.Result != nil && r.Result.Valid {
			count++
		}
	}
	return count
}

// InvalidCount returns the number of results that failed validation.
// Faulted jobs are not counted.
func (br *BatchResult) InvalidCount() int {
	count := 0
	for _, r := range br.Results {
		if r.Error == nil && r.Result != nil && !r.Result.Valid {
			count++
		}
	}
	return count
}
