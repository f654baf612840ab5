package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/okian/baseline/internal/domain/population"
	"github.com/okian/baseline/internal/domain/scoring"
)

type scoreOptions struct {
	metrics    string
	metric     string
	category   string
	band       string
	minSamples int
}

func newScoreCmd() *cobra.Command {
	var o scoreOptions
	cmd := &cobra.Command{
		Use:   "score <value> [worst best]",
		Short: "Rank a score against a reference band",
		Long: `Rank a raw score, or a score with its error band, against one band of
the reference populations in metrics.json. The band is used as given; no
user profile is consulted.`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 && len(args) != 3 {
				return fmt.Errorf("expected 1 or 3 scores, got %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd, o, args)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.metrics, "metrics", "metrics.json", "path to metrics.json")
	f.StringVar(&o.metric, "metric", "", "metric name")
	f.StringVar(&o.category, "category", population.CategoryOverall, "population category")
	f.StringVar(&o.band, "band", "", "band within the category")
	f.IntVar(&o.minSamples, "min-samples", 0, "override the minimum reference sample size")
	_ = cmd.MarkFlagRequired("metric")
	_ = cmd.MarkFlagRequired("band")
	return cmd
}

func runScore(cmd *cobra.Command, o scoreOptions, args []string) error {
	scores := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("score %q: %w", a, err)
		}
		scores[i] = v
	}

	defs, err := population.LoadFile(o.metrics)
	if err != nil {
		return err
	}
	refs, err := population.NewStore(defs, population.WithMinSampleSize(o.minSamples))
	if err != nil {
		return err
	}
	snap := refs.Snapshot()
	scorer := scoring.NewScorer(scoring.WithMinSamples(snap.MinSampleSize()))

	dist, matched := snap.Distribution(o.metric, o.category, o.band)
	var d scoring.Distribution
	if matched {
		d = dist
	}
	out, err := scorer.Evaluate(scores, o.band, matched, d)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), struct {
		Metric   string `json:"metric"`
		Category string `json:"category"`
		scoring.Outcome
	}{o.metric, o.category, out})
}
