package ingest

import (
	"context"
	"encoding/json"
	"io"
	"iter"

	"github.com/cockroachdb/errors"

	"github.com/gofhir/phigate/record"
)

// FHIRSource reads FHIR JSON resources. A Bundle is streamed entry by
// entry and each entry resource becomes a record; any other resource is a
// single record. Resource fields are kept as-is, nested elements as maps.
type FHIRSource struct {
	name  string
	open  opener
	types map[string]bool
}

// FHIROption configures a FHIRSource.
type FHIROption func(*FHIRSource)

// WithResourceTypes keeps only resources of the given types.
func WithResourceTypes(types ...string) FHIROption {
	return func(s *FHIRSource) {
		if s.types == nil {
			s.types = make(map[string]bool, len(types))
		}
		for _, t := range types {
			s.types[t] = true
		}
	}
}

// NewFHIRFile creates a source that reads path on each iteration.
func NewFHIRFile(path string, opts ...FHIROption) *FHIRSource {
	return newFHIR(path, fileOpener(path), opts)
}

// NewFHIRReader creates a single-use source over r.
func NewFHIRReader(name string, r io.Reader, opts ...FHIROption) *FHIRSource {
	return newFHIR(name, readerOpener(r), opts)
}

func newFHIR(name string, open opener, opts []FHIROption) *FHIRSource {
	s := &FHIRSource{name: name, open: open}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the source name.
func (s *FHIRSource) Name() string { return s.name }

// Kind returns "fhir".
func (s *FHIRSource) Kind() string { return KindFHIR }

// Records iterates over the resources.
func (s *FHIRSource) Records(ctx context.Context) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		rc, err := s.open()
		if err != nil {
			yield(nil, err)
			return
		}
		defer rc.Close()

		dec := json.NewDecoder(rc)
		dec.UseNumber()

		token, err := dec.Token()
		if err != nil {
			yield(nil, errors.Wrapf(err, "read %s", s.name))
			return
		}
		if delim, ok := token.(json.Delim); !ok || delim != '{' {
			yield(nil, errors.Newf("%s: expected object start, got %v", s.name, token))
			return
		}

		// Fields are buffered until resourceType shows the document is a
		// Bundle; from then on the entry array is streamed.
		fields := make(map[string]any)
		for dec.More() {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			token, err := dec.Token()
			if err != nil {
				yield(nil, errors.Wrapf(err, "read field of %s", s.name))
				return
			}
			name, _ := token.(string)

			if name == "entry" && fields["resourceType"] == "Bundle" {
				s.entries(ctx, dec, yield)
				return
			}

			var v any
			if err := dec.Decode(&v); err != nil {
				yield(nil, errors.Wrapf(err, "read field %s of %s", name, s.name))
				return
			}
			fields[name] = v
		}

		if fields["resourceType"] == "Bundle" {
			if entries, ok := fields["entry"].([]any); ok {
				for i, e := range entries {
					if !s.yieldEntry(i, e, yield) {
						return
					}
				}
			}
			return
		}
		if rec, ok, err := s.resource(fields); err != nil {
			yield(nil, &RecordError{Source: s.name, Err: err})
		} else if ok {
			yield(rec, nil)
		}
	}
}

func (s *FHIRSource) entries(ctx context.Context, dec *json.Decoder, yield func(record.Record, error) bool) {
	token, err := dec.Token()
	if err != nil {
		yield(nil, errors.Wrapf(err, "read entries of %s", s.name))
		return
	}
	if delim, ok := token.(json.Delim); !ok || delim != '[' {
		yield(nil, errors.Newf("%s: expected array start, got %v", s.name, token))
		return
	}

	for index := 0; dec.More(); index++ {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		var entry any
		if err := dec.Decode(&entry); err != nil {
			yield(nil, errors.Wrapf(err, "decode entry %d of %s", index, s.name))
			return
		}
		if !s.yieldEntry(index, entry, yield) {
			return
		}
	}
}

func (s *FHIRSource) yieldEntry(index int, entry any, yield func(record.Record, error) bool) bool {
	m, ok := entry.(map[string]any)
	if !ok {
		return yield(nil, &RecordError{Source: s.name, Line: index + 1, Err: errors.New("entry is not an object")})
	}
	res, ok := m["resource"].(map[string]any)
	if !ok {
		return true
	}
	rec, keep, err := s.resource(res)
	if err != nil {
		return yield(nil, &RecordError{Source: s.name, Line: index + 1, Err: err})
	}
	if !keep {
		return true
	}
	return yield(rec, nil)
}

func (s *FHIRSource) resource(m map[string]any) (record.Record, bool, error) {
	rt, _ := m["resourceType"].(string)
	if rt == "" {
		return nil, false, errors.New("resource has no resourceType")
	}
	if s.types != nil && !s.types[rt] {
		return nil, false, nil
	}
	rec, err := record.FromMap(m)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}
