package dedupe

type config struct {
	maxSize int
}

// Option applies a configuration option to NewInMemoryDeduper.
type Option func(*config)

// WithMaxSize sets the maximum number of keys to keep in memory.
// If maxSize > 0: bounded mode evicting the oldest key.
// If maxSize <= 0: unbounded mode (no eviction, no size limit).
func WithMaxSize(maxSize int) Option {
	return func(c *config) {
		c.maxSize = maxSize
	}
}
