package main

import (
	"context"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/baseline/internal/loadgen"
	"github.com/okian/baseline/pkg/logger"
)

// Default load settings.
const (
	defaultUsers          = 100
	defaultResultsPerUser = 10
	defaultWorkers        = 2 // multiplier for runtime.NumCPU()
	defaultTimeout        = 30 * time.Second
	defaultRunTimeout     = 10 * time.Minute
)

func newLoadCmd() *cobra.Command {
	cfg := loadgen.Config{}
	var runTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Drive users and results against a running server",
		Long: `Create users, submit generated results concurrently and verify every
score the server returns.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
			defer cancel()

			st, err := loadgen.Run(ctx, &cfg, logger.Named("load"))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"users_created":     st.UsersCreated,
				"results_submitted": st.ResultsSubmitted,
				"results_failed":    st.ResultsFailed,
				"scored":            st.Scored,
				"unmatched":         st.Unmatched,
				"insufficient_data": st.InsufficientData,
				"duration":          st.Duration.String(),
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", "http://localhost:9080", "base URL of the service")
	f.IntVar(&cfg.Users, "users", defaultUsers, "number of users to create")
	f.IntVar(&cfg.ResultsPerUser, "results", defaultResultsPerUser, "results per user")
	f.StringVar(&cfg.Metric, "metric", "", "metric the results are recorded under")
	f.StringVar(&cfg.Property, "property", "", "property set on every user")
	f.StringSliceVar(&cfg.Values, "values", nil, "values cycled through for --property")
	f.IntVar(&cfg.Workers, "workers", runtime.NumCPU()*defaultWorkers, "number of concurrent requests")
	f.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	f.Uint64Var(&cfg.Seed, "seed", uint64(time.Now().UnixNano()), "seed for generated scores")
	f.DurationVar(&runTimeout, "run-timeout", defaultRunTimeout, "overall run deadline")
	_ = cmd.MarkFlagRequired("metric")
	return cmd
}
