// Package matching resolves which population band a user belongs to for a
// category. The rule table comes from metrics.json and can be extended at
// runtime with Register.
package matching

import (
	"sort"
	"sync"
	"time"

	"github.com/okian/baseline/internal/domain/population"
	"github.com/okian/baseline/internal/domain/profile"
	"github.com/okian/baseline/pkg/metrics"
)

// Matcher holds one rule per category.
type Matcher struct {
	mu    sync.RWMutex
	rules map[string]Rule
	now   func() time.Time
}

// Option applies a configuration option to the Matcher.
type Option func(*Matcher)

// WithClock sets the clock used by birth-year range rules.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates a matcher with only the overall rule installed.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		rules: map[string]Rule{population.CategoryOverall: Constant{Band: DefaultOverallBand}},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FromDefinitions compiles the rules of a metrics.json resource. The overall
// category keeps its implicit constant rule unless the resource overrides it.
func FromDefinitions(defs *population.Definitions, opts ...Option) (*Matcher, error) {
	m := New(opts...)
	for category, spec := range defs.Rules {
		r, err := Compile(category, spec, m.clock)
		if err != nil {
			return nil, err
		}
		m.rules[category] = r
	}
	return m, nil
}

func (m *Matcher) clock() time.Time { return m.now() }

// Register installs or replaces the rule for a category.
func (m *Matcher) Register(category string, r Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r == nil {
		delete(m.rules, category)
		return
	}
	m.rules[category] = r
}

// Categories lists categories that have a rule, in lexical order.
func (m *Matcher) Categories() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.rules))
	for c := range m.rules {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// MatchBand resolves the band of a user for a metric category. It is
// unmatched when the category has no rule, the rule finds no usable property,
// or the band has no distribution for the metric. Unmatched is not an error.
func (m *Matcher) MatchBand(props profile.Properties, metric, category string, snap *population.Snapshot) (string, bool) {
	m.mu.RLock()
	r, ok := m.rules[category]
	m.mu.RUnlock()
	if !ok {
		metrics.RecordBandMatch(category, false)
		return "", false
	}
	band, ok := r.Match(props)
	if ok && snap != nil {
		_, ok = snap.Distribution(metric, category, band)
	}
	metrics.RecordBandMatch(category, ok)
	if !ok {
		return "", false
	}
	return band, true
}
