package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	ph "github.com/gofhir/phigate"
	"github.com/gofhir/phigate/config"
	"github.com/gofhir/phigate/engine"
	"github.com/gofhir/phigate/record"
	"github.com/gofhir/phigate/schema"
)

// validationLine is one line of validate output.
type validationLine struct {
	Source string     `json:"source"`
	Index  int        `json:"index"`
	Result *ph.Result `json:"result"`
}

// summaryLine closes the validate output.
type summaryLine struct {
	Sources    []engine.SourceSummary `json:"sources"`
	Statistics ph.Statistics          `json:"statistics"`
}

func (c *cli) validateCmd() *cobra.Command {
	var schemaPath string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "validate --schema FILE INPUT...",
		Short: "Validate records against a schema",
		Long: `Validate every record of the inputs and write one JSON result per line
to stdout, followed by a summary line. Inputs are CSV/TSV with a header row,
JSON lines, or FHIR JSON resources and Bundles.

The exit status is 1 when any record is invalid.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := c.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			s, err := schema.Load(schemaPath)
			if err != nil {
				return err
			}
			return runValidate(cmd.Context(), cfg, log, s, args, cmd.OutOrStdout(), quiet)
		},
	}
	cmd.Flags().StringVarP(&schemaPath, "schema", "s", "", "schema document (yaml or json)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only invalid records")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}

func runValidate(ctx context.Context, cfg *config.Config, log *zap.Logger, s *schema.Schema,
	inputs []string, out io.Writer, quiet bool) (err error) {
	auditor, err := cfg.OpenAuditor(ctx, log, nil)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if cerr := auditor.Close(closeCtx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	opts := append(cfg.Options(), ph.WithAuditor(auditor), ph.WithLogger(log))
	term, stats, err := cfg.LoadTerminology()
	if err != nil {
		return err
	}
	if term != nil {
		log.Info("terminology loaded",
			zap.Int("code_systems", stats.CodeSystems),
			zap.Int("value_sets", stats.ValueSets),
			zap.Int("errors", stats.Errors))
		opts = append(opts, ph.WithTerminology(term))
	}

	v, err := engine.New(ctx, s, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = v.Close(ctx) }()

	enc := json.NewEncoder(out)
	summary := summaryLine{}
	invalid := 0
	for _, path := range inputs {
		src, err := openInput(path, s)
		if err != nil {
			return err
		}
		sum, err := v.ValidateSource(ctx, src, func(i int, _ record.Record, res *ph.Result) error {
			if quiet && res.Valid {
				return nil
			}
			return enc.Encode(validationLine{Source: src.Name(), Index: i, Result: res})
		})
		summary.Sources = append(summary.Sources, sum)
		invalid += sum.Invalid + sum.Rejected
		if err != nil {
			return errors.Wrapf(err, "validate %s", path)
		}
	}

	summary.Statistics = v.Statistics()
	if err := enc.Encode(summary); err != nil {
		return err
	}
	if invalid > 0 {
		return errFindings
	}
	return nil
}
