package population

import "sort"

// Snapshot is an immutable view of every reference distribution. Readers load
// it once per query and never lock.
type Snapshot struct {
	version       uint64
	minSampleSize int
	// metric -> category -> band
	bands map[string]map[string]map[string]*Distribution
}

// Version increases with every published snapshot.
func (s *Snapshot) Version() uint64 { return s.version }

// MinSampleSize is the configured threshold for a usable distribution.
func (s *Snapshot) MinSampleSize() int { return s.minSampleSize }

// Distribution returns the distribution of a band for a metric.
func (s *Snapshot) Distribution(metric, category, band string) (*Distribution, bool) {
	d, ok := s.bands[metric][category][band]
	return d, ok
}

// HasCategory reports whether metric defines category at all.
func (s *Snapshot) HasCategory(metric, category string) bool {
	_, ok := s.bands[metric][category]
	return ok
}

// Metrics lists metric names in lexical order.
func (s *Snapshot) Metrics() []string {
	return sortedKeys(s.bands)
}

// Categories lists the categories of metric in lexical order.
func (s *Snapshot) Categories(metric string) []string {
	return sortedKeys(s.bands[metric])
}

// Bands lists the bands of a metric category in lexical order.
func (s *Snapshot) Bands(metric, category string) []string {
	return sortedKeys(s.bands[metric][category])
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
