// Package scoring converts raw test scores into population percentiles.
//
// Scoring is pure and synchronous: it reads an already resident distribution
// and never performs I/O.
package scoring

import (
	"errors"
	"fmt"
	"math"
)

// Default scoring configuration constants.
const (
	defaultMinSamples = 30
	maxPercentile     = 100
)

// Sentinel kinds for scoring errors.
var (
	// ErrInvalidArgument marks a malformed scores array. It is a programmer
	// error and is never downgraded to an absent score.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInsufficientData marks a distribution below the sample threshold.
	ErrInsufficientData = errors.New("insufficient reference data")
)

// Distribution is the read-only view of a band's reference scores.
type Distribution interface {
	Count() int
	CountBelow(x float64) int
	CountEqual(x float64) int
}

// PercentileScore is a percentile with an optional error band.
// WorstPercentile and BestPercentile are meaningful only when HasErrorScores.
type PercentileScore struct {
	Percentile      float64 `json:"percentile"`
	HasErrorScores  bool    `json:"has_error_scores"`
	WorstPercentile float64 `json:"worst_percentile,omitempty"`
	BestPercentile  float64 `json:"best_percentile,omitempty"`
}

// NewPercentileScore wraps values that are already percentiles, such as
// scores recomputed by the server. The arity rules of Score apply and every
// value must lie in [0, 100].
func NewPercentileScore(scores []float64) (PercentileScore, error) {
	if err := ValidateScores(scores); err != nil {
		return PercentileScore{}, err
	}
	for _, v := range scores {
		if v < 0 || v > maxPercentile {
			return PercentileScore{}, fmt.Errorf("%w: percentile %v out of range", ErrInvalidArgument, v)
		}
	}
	ps := PercentileScore{Percentile: scores[0]}
	if len(scores) == 3 {
		ps.HasErrorScores = true
		ps.WorstPercentile = scores[1]
		ps.BestPercentile = scores[2]
	}
	return ps, nil
}

// ValidateScores checks the scores array convention: [score] or
// [score, worstScore, bestScore], all finite.
func ValidateScores(scores []float64) error {
	if len(scores) != 1 && len(scores) != 3 {
		return fmt.Errorf("%w: scores must have 1 or 3 elements, got %d", ErrInvalidArgument, len(scores))
	}
	for i, v := range scores {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: scores[%d] is not finite", ErrInvalidArgument, i)
		}
	}
	return nil
}

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithMinSamples sets the smallest distribution that may produce a percentile.
func WithMinSamples(n int) Option {
	return func(s *Scorer) {
		if n > 0 {
			s.minSamples = n
		}
	}
}

// Scorer computes midrank percentiles.
type Scorer struct {
	minSamples int
}

// NewScorer creates a scorer with configuration options.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{minSamples: defaultMinSamples}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MinSamples returns the configured sample threshold.
func (s *Scorer) MinSamples() int { return s.minSamples }

// Score ranks scores against dist. A 3-element array also ranks the worst
// and best scores against the same distribution.
func (s *Scorer) Score(scores []float64, dist Distribution) (PercentileScore, error) {
	if err := ValidateScores(scores); err != nil {
		return PercentileScore{}, err
	}
	n := 0
	if dist != nil {
		n = dist.Count()
	}
	if n < s.minSamples {
		return PercentileScore{}, fmt.Errorf("%w: %d samples, need %d", ErrInsufficientData, n, s.minSamples)
	}

	ps := PercentileScore{Percentile: Percentile(scores[0], dist)}
	if len(scores) == 3 {
		ps.HasErrorScores = true
		ps.WorstPercentile = Percentile(scores[1], dist)
		ps.BestPercentile = Percentile(scores[2], dist)
	}
	return ps, nil
}

// Percentile returns the midrank percentile of x in dist:
// 100 * (below + equal/2) / n, clamped to [0, 100]. Ties sit at the midpoint
// of their rank range, which keeps the mapping monotonic in x.
func Percentile(x float64, dist Distribution) float64 {
	n := dist.Count()
	if n == 0 {
		return 0
	}
	below := float64(dist.CountBelow(x))
	equal := float64(dist.CountEqual(x))
	p := maxPercentile * (below + 0.5*equal) / float64(n)
	return math.Max(0, math.Min(maxPercentile, p))
}
