// Package loadgen drives a running baseline server over HTTP: it creates
// users, submits results concurrently and verifies the scores it reads back.
package loadgen

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by Run for unusable settings.
var ErrInvalidConfig = errors.New("invalid load configuration")

// Config holds configuration for a load run.
type Config struct {
	BaseURL        string        // Base URL of the service
	Users          int           // Number of users to create
	ResultsPerUser int           // Results submitted for each user
	Metric         string        // Metric the results are recorded under
	Property       string        // Optional property set on every user
	Values         []string      // Values cycled through for Property
	Workers        int           // Number of concurrent requests
	Timeout        time.Duration // HTTP request timeout
	Seed           uint64        // Seed for generated scores
}

func (c *Config) validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	case c.Users <= 0:
		return fmt.Errorf("%w: users must be positive", ErrInvalidConfig)
	case c.ResultsPerUser <= 0:
		return fmt.Errorf("%w: results per user must be positive", ErrInvalidConfig)
	case c.Metric == "":
		return fmt.Errorf("%w: metric is required", ErrInvalidConfig)
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	return nil
}

// Stats holds run statistics.
type Stats struct {
	UsersCreated     int
	ResultsSubmitted int
	ResultsFailed    int
	Scored           int
	Unmatched        int
	InsufficientData int
	Duration         time.Duration
}

// outcome mirrors the score payload of GET /results/{id}/scores.
type outcome struct {
	Score *struct {
		Percentile      float64 `json:"percentile"`
		HasErrorScores  bool    `json:"has_error_scores"`
		WorstPercentile float64 `json:"worst_percentile"`
		BestPercentile  float64 `json:"best_percentile"`
	} `json:"score"`
	Reason string `json:"reason"`
	Band   string `json:"band"`
}
