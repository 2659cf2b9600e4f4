// Package main implements the phigate CLI: record validation, PHI scanning
// and schema checks from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gofhir/phigate/config"
)

const version = "0.1.0"

// errFindings makes the process exit with status 1 without printing an
// error: invalid records or PHI findings were reported on stdout.
var errFindings = errors.New("findings reported")

// cli holds state shared by the commands of one invocation.
type cli struct {
	v       *viper.Viper
	cfgFile string
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "phigate",
		Short: "Validate healthcare records and detect PHI",
		Long: `phigate validates tabular healthcare records against a schema, detects
protected health information and scores data quality. Every validation is
recorded in an append-only audit trail.

Configuration is read from --config, PHIGATE_* environment variables and
flags, in increasing order of precedence.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.ReadFile(c.v, c.cfgFile)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.cfgFile, "config", "c", "", "configuration file (yaml, toml or json)")
	pf.Bool("strict", true, "fail records with PHI findings")
	pf.String("audit-log", "", "audit log file")
	pf.String("audit-sink", "", "audit sink: file, postgres, redis, kafka, none")
	pf.Int("workers", 0, "concurrent validations (default: number of CPUs)")
	pf.String("log-level", "", "log level: debug, info, warn, error, none")
	pf.Bool("log-json", false, "log as JSON")
	pf.String("terminology", "", "directory of FHIR ValueSet and CodeSystem resources")

	bind := map[string]string{
		"strict_mode":     "strict",
		"audit_log_path":  "audit-log",
		"audit.sink":      "audit-sink",
		"workers":         "workers",
		"log.level":       "log-level",
		"log.json":        "log-json",
		"terminology.dir": "terminology",
	}
	for key, flag := range bind {
		_ = c.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(c.validateCmd(), c.scanCmd(), schemaCmd())
	return root
}

// load decodes the configuration and builds the logger.
func (c *cli) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.FromViper(c.v)
	if err != nil {
		return nil, nil, err
	}
	log, err := cfg.Logger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	switch {
	case err == nil:
	case errors.Is(err, errFindings):
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "phigate: %v\n", err)
		os.Exit(2)
	}
}
