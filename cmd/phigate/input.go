package main

import (
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/gofhir/phigate/ingest"
	"github.com/gofhir/phigate/schema"
)

// openInput picks a source by file extension. CSV cells are typed by s
// when it is not nil.
func openInput(path string, s *schema.Schema) (ingest.Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		opts := []ingest.CSVOption{}
		if s != nil {
			opts = append(opts, ingest.WithCSVSchema(s))
		}
		return ingest.NewCSVFile(path, opts...), nil
	case ".tsv":
		opts := []ingest.CSVOption{ingest.WithComma('\t')}
		if s != nil {
			opts = append(opts, ingest.WithCSVSchema(s))
		}
		return ingest.NewCSVFile(path, opts...), nil
	case ".jsonl", ".ndjson":
		return ingest.NewJSONLinesFile(path), nil
	case ".json":
		return ingest.NewFHIRFile(path), nil
	}
	return nil, errors.Newf("%s: unsupported input format (want .csv, .tsv, .jsonl, .ndjson or .json)", path)
}
