package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/okian/baseline/internal/domain/population"
)

func newPopulationsCmd() *cobra.Command {
	var metrics string
	cmd := &cobra.Command{
		Use:   "populations",
		Short: "Summarize the reference populations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defs, err := population.LoadFile(metrics)
			if err != nil {
				return err
			}
			refs, err := population.NewStore(defs)
			if err != nil {
				return err
			}
			return printPopulations(cmd, refs.Snapshot())
		},
	}
	cmd.Flags().StringVar(&metrics, "metrics", "metrics.json", "path to metrics.json")
	return cmd
}

func printPopulations(cmd *cobra.Command, snap *population.Snapshot) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tCATEGORY\tBAND\tCOUNT\tMEAN\tMEDIAN\tSTDDEV")
	for _, metric := range snap.Metrics() {
		for _, category := range snap.Categories(metric) {
			for _, band := range snap.Bands(metric, category) {
				dist, _ := snap.Distribution(metric, category, band)
				s, err := dist.Summary()
				switch {
				case errors.Is(err, population.ErrEmptyDistribution):
					fmt.Fprintf(tw, "%s\t%s\t%s\t0\t-\t-\t-\n", metric, category, band)
					continue
				case err != nil:
					return fmt.Errorf("%s/%s/%s: %w", metric, category, band, err)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f\t%.2f\t%.2f\n",
					metric, category, band, s.Count, s.Mean, s.Median, s.StdDev)
			}
		}
	}
	fmt.Fprintf(tw, "\nmin sample size: %d\n", snap.MinSampleSize())
	return tw.Flush()
}
