package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/okian/baseline/pkg/logger"
)

func newRootCmd() *cobra.Command {
	var level string
	root := &cobra.Command{
		Use:   "bblctl",
		Short: "Inspect baseline study resources",
		Long: `bblctl works with the resources of a baseline study.

Examples:
  bblctl populations --metrics resources/metrics.json
  bblctl score --metrics resources/metrics.json --metric flanker --category sex --band male 412
  bblctl tests --bundle resources --idiom pad
  bblctl load --url http://localhost:9080 --metric flanker`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.Init(logger.WithWriter(cmd.ErrOrStderr())); err != nil {
				return err
			}
			return logger.SetLevelString(level)
		},
	}
	root.PersistentFlags().StringVar(&level, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(
		newScoreCmd(),
		newPopulationsCmd(),
		newTestsCmd(),
		newLoadCmd(),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
