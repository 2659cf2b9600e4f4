package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/gofhir/phigate/schema"
)

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Work with schema documents",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check FILE...",
		Short: "Check schema documents and print their fields",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			reg := schema.NewRegistry()
			failed := 0
			for _, path := range args {
				s, err := schema.Load(path)
				if err == nil {
					err = reg.Register(s)
				}
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "FAIL %s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(out, "ok   %s %s (%d fields, %d required)\n", path, s.Key(), s.Len(), len(s.Required()))
				for _, f := range s.Fields() {
					req := ""
					if f.Required {
						req = " required"
					}
					fmt.Fprintf(out, "       %-24s %s%s\n", f.Name, f.Type, req)
				}
			}
			if failed > 0 {
				return errors.Newf("%d of %d schema documents failed", failed, len(args))
			}
			return nil
		},
	})
	return cmd
}
