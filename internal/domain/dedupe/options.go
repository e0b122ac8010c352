package dedupe

// Option applies a configuration option to the in-memory coalescer.
type Option func(*inMemoryCoalescer)

// WithMaxSize caps the number of tracked pending keys.
// If maxSize <= 0 the coalescer is unbounded.
func WithMaxSize(maxSize int) Option {
	return func(c *inMemoryCoalescer) {
		c.maxSize = maxSize
	}
}
