package population

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/okian/baseline/pkg/logger"
	"github.com/okian/baseline/pkg/metrics"
)

// Key addresses one band of one metric.
type Key struct {
	Metric   string
	Category string
	Band     string
}

// Samples is a batch of new reference values for one band, typically pushed
// by the remote synchronization service.
type Samples struct {
	Key
	Values []float64
}

// Store owns the mutable sample trees and publishes immutable snapshots.
// Writers are serialized; readers go through Snapshot and never block.
type Store struct {
	mu            sync.Mutex
	trees         map[Key]*SampleTree
	frozen        map[Key]*Distribution
	minSampleSize int
	seed          uint64
	version       uint64

	snapshot atomic.Pointer[Snapshot]
	logger   logger.Logger
}

// NewStore builds a store from loaded definitions and publishes the first snapshot.
func NewStore(defs *Definitions, opts ...Option) (*Store, error) {
	if defs == nil {
		return nil, fmt.Errorf("%w: nil definitions", ErrConfig)
	}
	s := &Store{
		trees:         make(map[Key]*SampleTree),
		frozen:        make(map[Key]*Distribution),
		minSampleSize: defs.MinSampleSize,
		seed:          1,
		logger:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.minSampleSize <= 0 {
		s.minSampleSize = DefaultMinSampleSize
	}

	for metric, categories := range defs.Metrics {
		for category, bands := range categories {
			for band, spec := range bands {
				k := Key{Metric: metric, Category: category, Band: band}
				t := s.tree(k)
				for _, v := range spec.Samples {
					if err := t.Insert(v, 1); err != nil {
						return nil, fmt.Errorf("%s/%s/%s: %w", metric, category, band, err)
					}
				}
				for _, bin := range spec.Histogram {
					if err := t.Insert(bin.Value, bin.Count); err != nil {
						return nil, fmt.Errorf("%s/%s/%s: %w", metric, category, band, err)
					}
				}
				s.frozen[k] = fromTree(t)
			}
		}
	}

	s.mu.Lock()
	s.publishLocked()
	s.mu.Unlock()
	return s, nil
}

func (s *Store) tree(k Key) *SampleTree {
	t, ok := s.trees[k]
	if !ok {
		t = NewSampleTree(s.seed + uint64(len(s.trees)))
		s.trees[k] = t
	}
	return t
}

// Snapshot returns the current immutable snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// ValidateSamples checks a batch without applying it: every entry needs a
// full band key and finite values.
func ValidateSamples(batch []Samples) error {
	for _, b := range batch {
		if b.Metric == "" || b.Category == "" || b.Band == "" {
			return fmt.Errorf("%w: samples need metric, category and band", ErrUnknownBand)
		}
		for _, v := range b.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: non-finite sample %v for %s/%s/%s", ErrConfig, v, b.Metric, b.Category, b.Band)
			}
		}
	}
	return nil
}

// AddSamples inserts a batch of reference values and publishes one new
// snapshot for the whole batch. Bands that did not exist are created.
// An invalid entry rejects the whole batch.
func (s *Store) AddSamples(ctx context.Context, batch []Samples) (*Snapshot, error) {
	if err := ValidateSamples(batch); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[Key]int, len(batch))
	for _, b := range batch {
		pending[b.Key] += len(b.Values)
	}
	for k, n := range pending {
		if have := s.trees[k].lenOrZero(); have > math.MaxInt-n {
			return nil, fmt.Errorf("%w: sample size of %s/%s/%s overflows", ErrConfig, k.Metric, k.Category, k.Band)
		}
	}

	added := 0
	for _, b := range batch {
		if len(b.Values) == 0 {
			continue
		}
		t := s.tree(b.Key)
		for _, v := range b.Values {
			if err := t.Insert(v, 1); err != nil {
				return nil, err
			}
		}
		added += len(b.Values)
	}
	if added == 0 {
		return s.snapshot.Load(), nil
	}
	for k, n := range pending {
		if n > 0 {
			s.frozen[k] = fromTree(s.trees[k])
		}
	}

	snap := s.publishLocked()
	s.logger.Debug(ctx, "reference samples added",
		logger.Int("samples", added),
		logger.Int("bands", len(pending)),
		logger.Int64("version", int64(snap.version)))
	return snap, nil
}

// publishLocked rebuilds the nested maps around the frozen distributions and
// swaps the snapshot pointer (assumes mu is held).
func (s *Store) publishLocked() *Snapshot {
	s.version++
	bands := make(map[string]map[string]map[string]*Distribution)
	perCategory := make(map[[2]string]float64)
	for k, d := range s.frozen {
		categories, ok := bands[k.Metric]
		if !ok {
			categories = make(map[string]map[string]*Distribution)
			bands[k.Metric] = categories
		}
		byBand, ok := categories[k.Category]
		if !ok {
			byBand = make(map[string]*Distribution)
			categories[k.Category] = byBand
		}
		byBand[k.Band] = d
		perCategory[[2]string{k.Metric, k.Category}] += float64(d.Count())
	}

	snap := &Snapshot{version: s.version, minSampleSize: s.minSampleSize, bands: bands}
	s.snapshot.Store(snap)

	for mc, n := range perCategory {
		metrics.UpdateReferenceSamples(mc[0], mc[1], n)
	}
	metrics.IncrementReferenceSnapshots()
	return snap
}
