package scoring

import (
	"errors"
)

// Reason explains why an outcome has or lacks a score.
type Reason string

// Outcome reasons. Unmatched and InsufficientData both present as "no score"
// but stay distinguishable.
const (
	ReasonOK               Reason = "ok"
	ReasonUnmatched        Reason = "unmatched"
	ReasonInsufficientData Reason = "insufficient_data"
)

// Outcome is the result of scoring a result against one category.
type Outcome struct {
	Score  *PercentileScore `json:"score"`
	Reason Reason           `json:"reason"`
	Band   string           `json:"band,omitempty"`
}

// HasScore reports whether a percentile is available.
func (o Outcome) HasScore() bool { return o.Score != nil }

// Evaluate folds a band match and a scoring attempt into an Outcome.
// Malformed scores are returned as ErrInvalidArgument even when the user is
// unmatched; the two "no score" cases are never errors.
func (s *Scorer) Evaluate(scores []float64, band string, matched bool, dist Distribution) (Outcome, error) {
	if err := ValidateScores(scores); err != nil {
		return Outcome{}, err
	}
	if !matched {
		return Outcome{Reason: ReasonUnmatched}, nil
	}
	ps, err := s.Score(scores, dist)
	switch {
	case errors.Is(err, ErrInsufficientData):
		return Outcome{Reason: ReasonInsufficientData, Band: band}, nil
	case err != nil:
		return Outcome{}, err
	}
	return Outcome{Score: &ps, Reason: ReasonOK, Band: band}, nil
}
