package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/config"
	"github.com/gofhir/phigate/ingest"
	"github.com/gofhir/phigate/phi"
	"github.com/gofhir/phigate/record"
	"github.com/gofhir/phigate/schema"
)

// scanLine is one line of scan output.
type scanLine struct {
	Source   string        `json:"source"`
	Index    int           `json:"index"`
	Findings []ph.Finding  `json:"phi_findings,omitempty"`
	Redacted record.Record `json:"redacted,omitempty"`
}

func (c *cli) scanCmd() *cobra.Command {
	var schemaPath string
	var redact bool

	cmd := &cobra.Command{
		Use:   "scan [--schema FILE] INPUT...",
		Short: "Report PHI findings without validating",
		Long: `Scan every record of the inputs for protected health information and
write the findings of each record that has any as one JSON line. With
--redact the redacted record is written for every record instead.

The schema is optional; it types CSV cells and enables the date-precision
check on declared date fields.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := c.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			var s *schema.Schema
			if schemaPath != "" {
				if s, err = schema.Load(schemaPath); err != nil {
					return err
				}
			}
			return runScan(cmd.Context(), cfg, log, s, args, cmd.OutOrStdout(), redact)
		},
	}
	cmd.Flags().StringVarP(&schemaPath, "schema", "s", "", "schema document (yaml or json)")
	cmd.Flags().BoolVar(&redact, "redact", false, "write redacted records")
	return cmd
}

func runScan(ctx context.Context, cfg *config.Config, log *zap.Logger, s *schema.Schema,
	inputs []string, out io.Writer, redact bool) error {
	m, err := phi.FromOptions(ph.Apply(cfg.Options()...), s)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	found := 0
	for _, path := range inputs {
		src, err := openInput(path, s)
		if err != nil {
			return err
		}
		index := 0
		for rec, err := range src.Records(ctx) {
			if err != nil {
				if ingest.IsRecordError(err) {
					log.Warn("record skipped", zap.String("error", errors.Redact(err)))
					continue
				}
				return errors.Wrapf(err, "scan %s", path)
			}
			findings := m.Detect(rec)
			line := scanLine{Source: src.Name(), Index: index, Findings: findings}
			index++
			if len(findings) > 0 {
				found++
			}
			switch {
			case redact:
				line.Redacted = phi.Redact(rec, findings)
			case len(findings) == 0:
				continue
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
		}
	}
	if found > 0 {
		return errFindings
	}
	return nil
}
