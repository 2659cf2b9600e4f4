package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"iter"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/gofhir/phigate/record"
	"github.com/gofhir/phigate/schema"
)

// CSVSource reads records from comma separated text with a header row.
//
// Without a schema every non-empty cell is a string. With a schema, cells
// of declared integer, float, bool and date columns are parsed into those
// types; a cell that does not parse stays a string so validation reports
// it. Empty cells are null.
type CSVSource struct {
	name   string
	path   string // empty for reader sources
	open   opener
	schema *schema.Schema
	comma  rune

	mu      sync.Mutex
	columns []string // header of the last iteration
}

// CSVOption configures a CSVSource.
type CSVOption func(*CSVSource)

// WithCSVSchema types cells by the schema's field declarations.
func WithCSVSchema(s *schema.Schema) CSVOption {
	return func(c *CSVSource) {
		c.schema = s
	}
}

// WithComma sets the field delimiter.
func WithComma(r rune) CSVOption {
	return func(c *CSVSource) {
		if r != 0 {
			c.comma = r
		}
	}
}

// NewCSVFile creates a source that reads path on each iteration.
func NewCSVFile(path string, opts ...CSVOption) *CSVSource {
	c := newCSV(path, fileOpener(path), opts)
	c.path = path
	return c
}

// NewCSVReader creates a single-use source over r.
func NewCSVReader(name string, r io.Reader, opts ...CSVOption) *CSVSource {
	return newCSV(name, readerOpener(r), opts)
}

func newCSV(name string, open opener, opts []CSVOption) *CSVSource {
	c := &CSVSource{name: name, open: open, comma: ','}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the source name.
func (c *CSVSource) Name() string { return c.name }

// Kind returns "csv".
func (c *CSVSource) Kind() string { return KindCSV }

// Columns returns the header read by the most recent iteration.
func (c *CSVSource) Columns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.columns...)
}

// Metadata reports the columns and, for file sources, the file size.
func (c *CSVSource) Metadata() map[string]any {
	md := map[string]any{"columns": c.Columns()}
	if n, ok := fileSize(c.path); ok {
		md["file_size_bytes"] = n
	}
	return md
}

// Records iterates over the data rows.
func (c *CSVSource) Records(ctx context.Context) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		rc, err := c.open()
		if err != nil {
			yield(nil, err)
			return
		}
		defer rc.Close()

		r := csv.NewReader(rc)
		r.Comma = c.comma
		r.FieldsPerRecord = 0
		r.TrimLeadingSpace = true

		header, err := r.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			yield(nil, errors.Wrapf(err, "read header of %s", c.name))
			return
		}
		for i := range header {
			header[i] = strings.TrimSpace(header[i])
		}
		c.mu.Lock()
		c.columns = append([]string(nil), header...)
		c.mu.Unlock()

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			cells, err := r.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				var perr *csv.ParseError
				if errors.As(err, &perr) {
					if !yield(nil, &RecordError{Source: c.name, Line: perr.Line, Err: perr.Err}) {
						return
					}
					continue
				}
				yield(nil, errors.Wrapf(err, "read %s", c.name))
				return
			}
			if !yield(c.toRecord(header, cells), nil) {
				return
			}
		}
	}
}

func (c *CSVSource) toRecord(header, cells []string) record.Record {
	rec := make(record.Record, len(header))
	for i, name := range header {
		if name == "" {
			continue
		}
		rec[name] = c.cell(name, cells[i])
	}
	return rec
}

func (c *CSVSource) cell(name, raw string) record.Value {
	if raw == "" {
		return record.Null()
	}
	if c.schema == nil {
		return record.String(raw)
	}
	spec, ok := c.schema.Field(name)
	if !ok {
		return record.String(raw)
	}
	return ParseCell(spec.Type, raw)
}

// ParseCell parses a text cell as type t. A cell that does not parse is
// returned as a string.
func ParseCell(t schema.FieldType, raw string) record.Value {
	s := strings.TrimSpace(raw)
	switch t {
	case schema.TypeInteger:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return record.Int(n)
		}
	case schema.TypeFloat:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return record.Int(n)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return record.Float(f)
		}
	case schema.TypeBool:
		if b, err := strconv.ParseBool(s); err == nil {
			return record.Bool(b)
		}
	case schema.TypeDate:
		if d, err := record.ParseDate(s); err == nil {
			return record.DateValue(d)
		}
	}
	return record.String(raw)
}
