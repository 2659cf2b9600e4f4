// Package ingest reads records from external sources.
//
// A Source yields records lazily as an iterator. Errors for a single
// record (a malformed line, a bad row) are yielded in place of that record
// and iteration continues; errors that make the source unreadable are
// yielded once and end the iteration. Cancelling the context ends the
// iteration before the next record.
package ingest

import (
	"context"
	"io"
	"iter"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/gofhir/phigate/record"
)

// Source is a stream of records.
type Source interface {
	// Name identifies the source in audit events and logs, typically a
	// file path or table name.
	Name() string

	// Records iterates over the records of the source.
	Records(ctx context.Context) iter.Seq2[record.Record, error]
}

// Kind values reported by the built-in sources.
const (
	KindCSV       = "csv"
	KindJSONLines = "jsonl"
	KindSQL       = "sql"
	KindFHIR      = "fhir"
)

// Kinded is implemented by sources that report their kind.
type Kinded interface {
	Kind() string
}

// KindOf returns the kind of src, or "custom".
func KindOf(src Source) string {
	if k, ok := src.(Kinded); ok {
		return k.Kind()
	}
	return "custom"
}

// Describer is implemented by sources that report lineage metadata, such
// as column names or file size. Audited adds it to ingestion_complete.
type Describer interface {
	Metadata() map[string]any
}

// fileSize returns the size of path, or false when path is empty or
// cannot be stat'ed.
func fileSize(path string) (int64, bool) {
	if path == "" {
		return 0, false
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}

// RecordError locates a per-record failure within a source.
type RecordError struct {
	Source string
	// Line is the 1-based line or row number; zero when unknown
	Line int
	Err  error
}

func (e *RecordError) Error() string {
	if e.Line > 0 {
		return e.Source + ":" + strconv.Itoa(e.Line) + ": " + e.Err.Error()
	}
	return e.Source + ": " + e.Err.Error()
}

func (e *RecordError) Unwrap() error { return e.Err }

// IsRecordError reports whether err affects a single record only.
func IsRecordError(err error) bool {
	var re *RecordError
	return errors.As(err, &re)
}

// Collect drains src into a slice. It stops at the first error.
func Collect(ctx context.Context, src Source) ([]record.Record, error) {
	var out []record.Record
	for rec, err := range src.Records(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// opener returns a fresh reader for each iteration.
type opener func() (io.ReadCloser, error)

func fileOpener(path string) opener {
	return func() (io.ReadCloser, error) {
		f, err := os.Open(path) // #nosec G304 -- path is explicit caller input
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", path)
		}
		return f, nil
	}
}

// readerOpener serves r once; later iterations fail.
func readerOpener(r io.Reader) opener {
	used := false
	return func() (io.ReadCloser, error) {
		if used {
			return nil, errors.New("reader source already consumed")
		}
		used = true
		return io.NopCloser(r), nil
	}
}
