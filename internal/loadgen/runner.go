package loadgen

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/baseline/pkg/logger"
)

// Score generation ranges.
const (
	scoreMin      = 0.0
	scoreRange    = 100.0
	errorBandProb = 0.25
	errorBandMax  = 5.0
	maxPercentile = 100.0
)

// Run executes a complete load run and returns its statistics. It fails when
// the service is unhealthy or any score read back is malformed; individual
// submission failures are counted, not fatal.
func Run(ctx context.Context, cfg *Config, log logger.Logger) (Stats, error) {
	if err := cfg.validate(); err != nil {
		return Stats{}, err
	}
	if log == nil {
		log = logger.Discard()
	}
	start := time.Now()
	c := newClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("users", cfg.Users),
		logger.Int("resultsPerUser", cfg.ResultsPerUser),
		logger.Int("workers", cfg.Workers))

	if err := c.do(ctx, http.MethodGet, "/healthz", nil, http.StatusOK, nil); err != nil {
		return Stats{}, fmt.Errorf("service health check failed: %w", err)
	}

	var st Stats
	users, err := createUsers(ctx, c, cfg)
	if err != nil {
		return Stats{}, fmt.Errorf("user creation failed: %w", err)
	}
	st.UsersCreated = len(users)

	ids, failed := submitResults(ctx, c, cfg, users, log)
	st.ResultsSubmitted = len(ids)
	st.ResultsFailed = failed

	if err := verifyScores(ctx, c, cfg, ids, &st); err != nil {
		return st, fmt.Errorf("score verification failed: %w", err)
	}

	st.Duration = time.Since(start)
	log.Info(ctx, "load run completed",
		logger.Int("usersCreated", st.UsersCreated),
		logger.Int("resultsSubmitted", st.ResultsSubmitted),
		logger.Int("resultsFailed", st.ResultsFailed),
		logger.Int("scored", st.Scored),
		logger.Int("unmatched", st.Unmatched),
		logger.Int("insufficientData", st.InsufficientData),
		logger.Duration("duration", st.Duration))
	return st, nil
}

// createUsers registers one uniquely named user per slot and applies the
// configured property.
func createUsers(ctx context.Context, c *client, cfg *Config) ([]string, error) {
	users := make([]string, cfg.Users)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := range users {
		name := "load-" + uuid.NewString()
		users[i] = name
		g.Go(func() error {
			if err := c.do(gctx, http.MethodPost, "/users", map[string]string{"name": name}, http.StatusCreated, nil); err != nil {
				return err
			}
			if cfg.Property == "" || len(cfg.Values) == 0 {
				return nil
			}
			v := cfg.Values[i%len(cfg.Values)]
			return c.do(gctx, http.MethodPut, userPath(name)+"/properties/"+cfg.Property, v, http.StatusNoContent, nil)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return users, nil
}

// submitResults posts ResultsPerUser results for every user and returns the
// ids the service assigned, plus the number of failed submissions.
func submitResults(ctx context.Context, c *client, cfg *Config, users []string, log logger.Logger) ([]string, int) {
	var (
		mu     sync.Mutex
		ids    = make([]string, 0, len(users)*cfg.ResultsPerUser)
		failed atomic.Int64
		rng    = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, user := range users {
		for range cfg.ResultsPerUser {
			req := map[string]any{
				"user":   user,
				"metric": cfg.Metric,
				"scores": generateScores(rng),
			}
			g.Go(func() error {
				var resp struct {
					ResultID string `json:"result_id"`
				}
				if err := c.do(gctx, http.MethodPost, "/results", req, http.StatusCreated, &resp); err != nil {
					failed.Add(1)
					log.Debug(gctx, "result submission failed", logger.String("user", user), logger.Error(err))
					return nil
				}
				mu.Lock()
				ids = append(ids, resp.ResultID)
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()
	return ids, int(failed.Load())
}

// generateScores returns [score] or, occasionally, [score, worst, best].
func generateScores(rng *rand.Rand) []float64 {
	score := scoreMin + rng.Float64()*scoreRange
	if rng.Float64() >= errorBandProb {
		return []float64{score}
	}
	spread := rng.Float64() * errorBandMax
	return []float64{score, score - spread, score + spread}
}

// verifyScores reads every category of every result back and checks each
// outcome is well formed.
func verifyScores(ctx context.Context, c *client, cfg *Config, ids []string, st *Stats) error {
	var scored, unmatched, insufficient atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, id := range ids {
		g.Go(func() error {
			var resp struct {
				Scores map[string]outcome `json:"scores"`
			}
			if err := c.do(gctx, http.MethodGet, "/results/"+id+"/scores", nil, http.StatusOK, &resp); err != nil {
				return err
			}
			for category, o := range resp.Scores {
				if err := checkOutcome(o); err != nil {
					return fmt.Errorf("result %s category %s: %w", id, category, err)
				}
				switch o.Reason {
				case "ok":
					scored.Add(1)
				case "unmatched":
					unmatched.Add(1)
				case "insufficient_data":
					insufficient.Add(1)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	st.Scored = int(scored.Load())
	st.Unmatched = int(unmatched.Load())
	st.InsufficientData = int(insufficient.Load())
	return nil
}

func checkOutcome(o outcome) error {
	switch o.Reason {
	case "ok":
		if o.Score == nil {
			return fmt.Errorf("reason ok without a score")
		}
		for _, p := range []float64{o.Score.Percentile, o.Score.WorstPercentile, o.Score.BestPercentile} {
			if p < 0 || p > maxPercentile {
				return fmt.Errorf("percentile %v out of range", p)
			}
		}
	case "unmatched", "insufficient_data":
		if o.Score != nil {
			return fmt.Errorf("reason %s with a score", o.Reason)
		}
	default:
		return fmt.Errorf("unknown reason %q", o.Reason)
	}
	return nil
}
