// Package population holds the reference score distributions that results are
// ranked against. Definitions are loaded from the study's metrics.json and
// served as immutable snapshots.
package population

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
)

// DefaultMinSampleSize is used when metrics.json does not set min_sample_size.
const DefaultMinSampleSize = 30

// CategoryOverall is the implicit category every user belongs to.
const CategoryOverall = "overall"

// Definitions is the parsed metrics.json resource.
type Definitions struct {
	MinSampleSize      int                 `json:"min_sample_size"`
	RequiredCategories []string            `json:"required_categories"`
	Rules              map[string]RuleSpec `json:"rules"`
	// Metrics maps metric -> category -> band -> reference data.
	Metrics map[string]map[string]map[string]BandSpec `json:"metrics"`
}

// RuleSpec configures how a category matches users to bands. Its fields are
// interpreted by the matching package according to Kind.
type RuleSpec struct {
	Kind     string            `json:"kind"`
	Band     string            `json:"band,omitempty"`
	Property string            `json:"property,omitempty"`
	Values   map[string]string `json:"values,omitempty"`
	From     string            `json:"from,omitempty"`
	Ranges   []RangeSpec       `json:"bands,omitempty"`
}

// RangeSpec is one [Min, Max) interval of a range rule. A nil bound is open.
type RangeSpec struct {
	Band string   `json:"band"`
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
}

// BandSpec holds the reference data of one band, either raw samples or a
// histogram of value counts.
type BandSpec struct {
	Samples   []float64 `json:"samples,omitempty"`
	Histogram []Bin     `json:"histogram,omitempty"`
}

// Bin is one histogram bucket.
type Bin struct {
	Value float64 `json:"value"`
	Count int     `json:"count"`
}

// LoadOption adjusts loading.
type LoadOption func(*loadConfig)

type loadConfig struct {
	required []string
}

// WithRequiredCategories overrides required_categories from the resource.
func WithRequiredCategories(categories ...string) LoadOption {
	return func(c *loadConfig) {
		if len(categories) > 0 {
			c.required = categories
		}
	}
}

// LoadFile reads definitions from a metrics.json path.
func LoadFile(path string, opts ...LoadOption) (*Definitions, error) {
	f, err := os.Open(path) //nolint:gosec // operator supplied resource path
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	defer func() { _ = f.Close() }()
	return LoadDefinitions(f, opts...)
}

// LoadDefinitions parses and validates a metrics.json document.
func LoadDefinitions(r io.Reader, opts ...LoadOption) (*Definitions, error) {
	var raw struct {
		Definitions
		Metrics map[string]map[string]map[string]json.RawMessage `json:"metrics"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrConfig, err)
	}

	defs := raw.Definitions
	cfg := loadConfig{required: defs.RequiredCategories}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.required) == 0 {
		cfg.required = []string{CategoryOverall}
	}
	defs.RequiredCategories = cfg.required
	if defs.MinSampleSize == 0 {
		defs.MinSampleSize = DefaultMinSampleSize
	}
	if defs.MinSampleSize < 0 {
		return nil, fmt.Errorf("%w: min_sample_size must not be negative", ErrConfig)
	}
	if defs.Rules == nil {
		defs.Rules = map[string]RuleSpec{}
	}
	if len(raw.Metrics) == 0 {
		return nil, fmt.Errorf("%w: no metrics defined", ErrConfig)
	}

	defs.Metrics = make(map[string]map[string]map[string]BandSpec, len(raw.Metrics))
	for metric, categories := range raw.Metrics {
		for _, req := range cfg.required {
			if _, ok := categories[req]; !ok {
				return nil, fmt.Errorf("%w: metric %q is missing required category %q", ErrConfig, metric, req)
			}
		}
		parsed := make(map[string]map[string]BandSpec, len(categories))
		for category, bands := range categories {
			if len(bands) == 0 {
				return nil, fmt.Errorf("%w: metric %q category %q has no bands", ErrConfig, metric, category)
			}
			parsed[category] = make(map[string]BandSpec, len(bands))
			for band, body := range bands {
				spec, err := parseBand(body)
				if err != nil {
					return nil, fmt.Errorf("%w: %s/%s/%s: %w", ErrConfig, metric, category, band, err)
				}
				parsed[category][band] = spec
			}
		}
		defs.Metrics[metric] = parsed
	}
	return &defs, nil
}

var errNoSamples = errors.New("band has neither samples nor histogram")

func parseBand(body json.RawMessage) (BandSpec, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return BandSpec{}, err
	}
	_, hasSamples := fields["samples"]
	_, hasHistogram := fields["histogram"]
	if !hasSamples && !hasHistogram {
		return BandSpec{}, errNoSamples
	}

	var spec BandSpec
	if err := json.Unmarshal(body, &spec); err != nil {
		return BandSpec{}, err
	}
	for _, v := range spec.Samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return BandSpec{}, fmt.Errorf("non-finite sample %v", v)
		}
	}
	total := len(spec.Samples)
	for _, b := range spec.Histogram {
		if math.IsNaN(b.Value) || math.IsInf(b.Value, 0) {
			return BandSpec{}, fmt.Errorf("non-finite histogram value %v", b.Value)
		}
		if b.Count < 0 {
			return BandSpec{}, fmt.Errorf("negative histogram count %d for value %v", b.Count, b.Value)
		}
		if total > math.MaxInt-b.Count {
			return BandSpec{}, fmt.Errorf("histogram count %d for value %v overflows the sample size", b.Count, b.Value)
		}
		total += b.Count
	}
	return spec, nil
}

// Count returns the number of samples described by the band.
func (b BandSpec) Count() int {
	n := len(b.Samples)
	for _, bin := range b.Histogram {
		n += bin.Count
	}
	return n
}

// MetricNames returns the defined metrics in lexical order.
func (d *Definitions) MetricNames() []string {
	out := make([]string, 0, len(d.Metrics))
	for m := range d.Metrics {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
