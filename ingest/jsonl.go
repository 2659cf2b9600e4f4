package ingest

import (
	"bufio"
	"context"
	"io"
	"iter"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/gofhir/phigate/record"
)

// maxLineSize bounds a single JSON line.
const maxLineSize = 10 * 1024 * 1024

// JSONLinesSource reads one JSON object per line. Blank lines are skipped.
type JSONLinesSource struct {
	name string
	path string
	open opener
}

// NewJSONLinesFile creates a source that reads path on each iteration.
func NewJSONLinesFile(path string) *JSONLinesSource {
	return &JSONLinesSource{name: path, path: path, open: fileOpener(path)}
}

// NewJSONLinesReader creates a single-use source over r.
func NewJSONLinesReader(name string, r io.Reader) *JSONLinesSource {
	return &JSONLinesSource{name: name, open: readerOpener(r)}
}

// Name returns the source name.
func (s *JSONLinesSource) Name() string { return s.name }

// Kind returns "jsonl".
func (s *JSONLinesSource) Kind() string { return KindJSONLines }

// Metadata reports the file size of file sources.
func (s *JSONLinesSource) Metadata() map[string]any {
	md := map[string]any{}
	if n, ok := fileSize(s.path); ok {
		md["file_size_bytes"] = n
	}
	return md
}

// Records iterates over the lines.
func (s *JSONLinesSource) Records(ctx context.Context) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		rc, err := s.open()
		if err != nil {
			yield(nil, err)
			return
		}
		defer rc.Close()

		scanner := bufio.NewScanner(rc)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		for lineNo := 1; scanner.Scan(); lineNo++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			rec, err := record.ParseJSON([]byte(line))
			if err != nil {
				if !yield(nil, &RecordError{Source: s.name, Line: lineNo, Err: err}) {
					return
				}
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, errors.Wrapf(err, "read %s", s.name))
		}
	}
}
