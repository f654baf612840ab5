package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/baseline/internal/domain/population"
	"github.com/okian/baseline/internal/domain/profile"
	"github.com/okian/baseline/internal/domain/result"
	"github.com/okian/baseline/internal/domain/scoring"
	"github.com/okian/baseline/pkg/logger"
	"github.com/okian/baseline/pkg/metrics"
)

// scoreLimit bounds concurrent category evaluations per result.
const scoreLimit = 8

// ScoreForPopulationCategory scores a result against the band the user's
// properties select in category. Unmatched users and small populations are
// reported through the outcome reason, not as errors.
func (c *Context) ScoreForPopulationCategory(ctx context.Context, id result.ID, category string) (scoring.Outcome, error) {
	r, props, err := c.load(ctx, id)
	if err != nil {
		return scoring.Outcome{}, err
	}
	snap := c.refs.Snapshot()
	band, matched := c.matcher.MatchBand(props, r.Telemetry.Metric, category, snap)
	return c.evaluate(r, snap, category, band, matched)
}

// ScoreForPopulation scores a result against an explicit band. A band
// without a distribution is unmatched.
func (c *Context) ScoreForPopulation(ctx context.Context, id result.ID, band, category string) (scoring.Outcome, error) {
	r, err := c.Result(ctx, id)
	if err != nil {
		return scoring.Outcome{}, err
	}
	snap := c.refs.Snapshot()
	_, matched := snap.Distribution(r.Telemetry.Metric, category, band)
	return c.evaluate(r, snap, category, band, matched)
}

// ScoresForAllCategories scores a result against every category its metric
// defines.
func (c *Context) ScoresForAllCategories(ctx context.Context, id result.ID) (map[string]scoring.Outcome, error) {
	r, props, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.evaluateAll(ctx, r, props, c.refs.Snapshot())
}

// recompute scores r against snap. Server-side score changes and
// distribution changes are detected against these outcomes.
func (c *Context) recompute(ctx context.Context, r result.Result, snap *population.Snapshot) (map[string]scoring.Outcome, error) {
	props, err := c.properties(ctx, r.User)
	if err != nil {
		return nil, err
	}
	return c.evaluateAll(ctx, r, props, snap)
}

func (c *Context) load(ctx context.Context, id result.ID) (result.Result, profile.Properties, error) {
	r, err := c.Result(ctx, id)
	if err != nil {
		return result.Result{}, nil, err
	}
	props, err := c.properties(ctx, r.User)
	if err != nil {
		return result.Result{}, nil, err
	}
	return r, props, nil
}

func (c *Context) properties(ctx context.Context, user string) (profile.Properties, error) {
	props, err := c.profiles.Properties(ctx, user)
	if errors.Is(err, profile.ErrUserNotFound) {
		// constant rules still match an empty profile
		return profile.Properties{}, nil
	}
	return props, err
}

func (c *Context) evaluate(r result.Result, snap *population.Snapshot, category, band string, matched bool) (scoring.Outcome, error) {
	start := time.Now()
	dist, _ := snap.Distribution(r.Telemetry.Metric, category, band)
	var d scoring.Distribution
	if dist != nil {
		d = dist
	}
	out, err := c.scorer.Evaluate(r.EffectiveScores(), band, matched, d)
	metrics.RecordScoringLatency(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		return scoring.Outcome{}, err
	}
	metrics.RecordScore(category, string(out.Reason))
	return out, nil
}

func (c *Context) evaluateAll(ctx context.Context, r result.Result, props profile.Properties, snap *population.Snapshot) (map[string]scoring.Outcome, error) {
	categories := snap.Categories(r.Telemetry.Metric)
	out := make(map[string]scoring.Outcome, len(categories))
	var mu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(scoreLimit)
	for _, category := range categories {
		g.Go(func() error {
			band, matched := c.matcher.MatchBand(props, r.Telemetry.Metric, category, snap)
			o, err := c.evaluate(r, snap, category, band, matched)
			if err != nil {
				return err
			}
			mu.Lock()
			out[category] = o
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// prime caches the provisional outcomes of a new result without
// publishing, so later changes are detected against them.
func (c *Context) prime(ctx context.Context, id result.ID) {
	if _, err := c.rescore(ctx, id, false, ""); err != nil {
		c.logger.Warn(ctx, "priming scores failed", logger.Stringer("result_id", id), logger.Error(err))
	}
}
