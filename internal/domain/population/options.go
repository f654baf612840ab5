package population

import "github.com/okian/baseline/pkg/logger"

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMinSampleSize overrides min_sample_size from the definitions.
// Non-positive values keep the definitions' threshold.
func WithMinSampleSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.minSampleSize = n
		}
	}
}

// WithSeed fixes the treap priority seed.
func WithSeed(seed uint64) Option {
	return func(s *Store) {
		s.seed = seed
	}
}
