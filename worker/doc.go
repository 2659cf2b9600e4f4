// Package worker provides a worker pool for parallel record validation.
//
// Record validation is CPU bound and stateless, so batches fan out across
// a fixed number of goroutines. Cancellation is observed between records,
// never while a record is being validated.
//
// Example usage:
//
//	pool := worker.NewPool(validator, 4)
//
//	for i, rec := range records {
//	    pool.Submit(worker.Job{ID: strconv.Itoa(i), Record: rec})
//	}
//
//	batch := pool.CloseAndWait()
//	for _, r := range batch.Results {
//	    if r.Error != nil {
//	        // internal fault
//	    }
//	}
package worker
