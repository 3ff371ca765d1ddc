package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rushteam/frecency/telemetry"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [ping.json]",
		Short: "Validate a frecency-update ping against the telemetry schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			raw, err := readAll(path)
			if err != nil {
				return err
			}
			p, err := telemetry.ValidateJSON(raw)
			if err != nil {
				var missing *telemetry.MissingFieldsError
				if errors.As(err, &missing) {
					for _, f := range missing.Fields {
						fmt.Fprintf(cmd.ErrOrStderr(), "missing: %s\n", f)
					}
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s model_version=%d loss=%g\n",
				p.StudyVariation, p.ModelVersion, p.Loss)
			return nil
		},
	}
}

func readAll(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
