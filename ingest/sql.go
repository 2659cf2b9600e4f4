package ingest

import (
	"context"
	"database/sql"
	"iter"

	"github.com/cockroachdb/errors"

	"github.com/gofhir/phigate/record"
)

// SQLSource reads records from the rows of a query. Column names become
// field names; NULL columns are null values.
type SQLSource struct {
	db    *sql.DB
	name  string
	query string
	args  []any
}

// NewSQLSource creates a source over query. name identifies the source in
// audit events; it must not contain credentials.
func NewSQLSource(db *sql.DB, name, query string, args ...any) *SQLSource {
	return &SQLSource{db: db, name: name, query: query, args: args}
}

// Name returns the source name.
func (s *SQLSource) Name() string { return s.name }

// Kind returns "sql".
func (s *SQLSource) Kind() string { return KindSQL }

// Records runs the query and iterates over its rows.
func (s *SQLSource) Records(ctx context.Context) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		rows, err := s.db.QueryContext(ctx, s.query, s.args...)
		if err != nil {
			yield(nil, errors.Wrapf(err, "query %s", s.name))
			return
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			yield(nil, errors.Wrapf(err, "columns of %s", s.name))
			return
		}

		for row := 1; rows.Next(); row++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				if !yield(nil, &RecordError{Source: s.name, Line: row, Err: err}) {
					return
				}
				continue
			}

			rec, err := rowRecord(cols, values)
			if err != nil {
				if !yield(nil, &RecordError{Source: s.name, Line: row, Err: err}) {
					return
				}
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, errors.Wrapf(err, "read rows of %s", s.name))
		}
	}
}

func rowRecord(cols []string, values []any) (record.Record, error) {
	rec := make(record.Record, len(cols))
	for i, col := range cols {
		raw := values[i]
		// Drivers return text columns as bytes.
		if b, ok := raw.([]byte); ok {
			raw = string(b)
		}
		v, err := record.FromAny(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "column %s", col)
		}
		rec[col] = v
	}
	return rec, nil
}
