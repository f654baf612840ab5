package population

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
)

// Distribution is the frozen reference score set of one band, stored as its
// distinct values with prefix counts. Rank queries are binary searches and
// memory grows with the number of distinct values, not with the sample size.
// It is immutable and safe for concurrent readers.
type Distribution struct {
	values []float64
	// cum[i] is the number of samples below values[i]; cum[len(values)] is
	// the sample size.
	cum []int
}

// NewDistribution copies and sorts samples. Non-finite samples are rejected.
func NewDistribution(samples []float64) (*Distribution, error) {
	for _, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite sample %v", ErrConfig, v)
		}
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	var bins []Bin
	for _, v := range sorted {
		if n := len(bins); n > 0 && bins[n-1].Value == v {
			bins[n-1].Count++
			continue
		}
		bins = append(bins, Bin{Value: v, Count: 1})
	}
	return fromBins(bins), nil
}

func fromTree(t *SampleTree) *Distribution {
	return fromBins(t.Bins())
}

// fromBins expects distinct ascending values with positive counts whose sum
// fits an int; SampleTree guarantees all three.
func fromBins(bins []Bin) *Distribution {
	d := &Distribution{
		values: make([]float64, len(bins)),
		cum:    make([]int, len(bins)+1),
	}
	for i, b := range bins {
		d.values[i] = b.Value
		d.cum[i+1] = d.cum[i] + b.Count
	}
	return d
}

// Count returns the sample size.
func (d *Distribution) Count() int {
	if d == nil || len(d.cum) == 0 {
		return 0
	}
	return d.cum[len(d.cum)-1]
}

// CountBelow returns the number of samples strictly less than x.
func (d *Distribution) CountBelow(x float64) int {
	if d == nil || len(d.values) == 0 {
		return 0
	}
	return d.cum[sort.SearchFloat64s(d.values, x)]
}

// CountEqual returns the number of samples equal to x.
func (d *Distribution) CountEqual(x float64) int {
	if d == nil {
		return 0
	}
	i := sort.SearchFloat64s(d.values, x)
	if i < len(d.values) && d.values[i] == x {
		return d.cum[i+1] - d.cum[i]
	}
	return 0
}

// Bins returns a copy of the distinct values and their counts in ascending order.
func (d *Distribution) Bins() []Bin {
	if d == nil {
		return nil
	}
	out := make([]Bin, len(d.values))
	for i, v := range d.values {
		out[i] = Bin{Value: v, Count: d.cum[i+1] - d.cum[i]}
	}
	return out
}

// at returns the k-th smallest sample, zero based.
func (d *Distribution) at(k int) float64 {
	i := sort.Search(len(d.values), func(i int) bool { return d.cum[i+1] > k })
	return d.values[i]
}

// Summary describes a distribution for reporting.
type Summary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stddev"`
	P25    float64 `json:"p25"`
	P75    float64 `json:"p75"`
}

// Summary computes descriptive statistics. An empty distribution returns a
// zero Summary and ErrEmptyDistribution.
func (d *Distribution) Summary() (Summary, error) {
	n := d.Count()
	if n == 0 {
		return Summary{}, ErrEmptyDistribution
	}

	s := Summary{Count: n, Min: d.values[0], Max: d.values[len(d.values)-1]}
	weighted := make(stats.Float64Data, len(d.values))
	for i, v := range d.values {
		weighted[i] = v * float64(d.cum[i+1]-d.cum[i])
	}
	total, err := stats.Sum(weighted)
	if err != nil {
		return Summary{}, fmt.Errorf("mean: %w", err)
	}
	s.Mean = total / float64(n)

	for i, v := range d.values {
		dev := v - s.Mean
		weighted[i] = dev * dev * float64(d.cum[i+1]-d.cum[i])
	}
	sq, err := stats.Sum(weighted)
	if err != nil {
		return Summary{}, fmt.Errorf("stddev: %w", err)
	}
	s.StdDev = math.Sqrt(sq / float64(n))

	if n%2 == 1 {
		s.Median = d.at(n / 2)
	} else if s.Median, err = stats.Mean(stats.Float64Data{d.at(n/2 - 1), d.at(n / 2)}); err != nil {
		return Summary{}, fmt.Errorf("median: %w", err)
	}
	if s.P25, err = d.percentile(25); err != nil {
		return Summary{}, fmt.Errorf("p25: %w", err)
	}
	if s.P75, err = d.percentile(75); err != nil {
		return Summary{}, fmt.Errorf("p75: %w", err)
	}
	return s, nil
}

// percentile uses the nearest-rank rule of stats.Percentile, averaging the
// two neighbours on fractional ranks. Ranks at or below the first sample
// yield the minimum instead of an error.
func (d *Distribution) percentile(p float64) (float64, error) {
	n := d.Count()
	if n == 1 {
		return d.at(0), nil
	}
	index := p / 100 * float64(n)
	i := int(index)
	switch {
	case index == float64(i) && i >= 1:
		return d.at(i - 1), nil
	case index > 1:
		return stats.Mean(stats.Float64Data{d.at(i - 1), d.at(i)})
	default:
		return d.at(0), nil
	}
}
