package worker

import (
	"time"

	"github.com/okian/palate/internal/domain/dedupe"
	"github.com/okian/palate/pkg/logger"
)

// Option applies a configuration option to the Pool.
type Option func(*Pool)

// WithRetryDelay sets the fixed delay before the single retry.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Pool) {
		if d >= 0 {
			p.retryDelay = d
		}
	}
}

// WithCoalescer clears a job's pending mark when a worker takes it.
func WithCoalescer(c dedupe.Coalescer) Option {
	return func(p *Pool) {
		p.coalescer = c
	}
}

// WithLogger sets a custom logger for the pool and its workers.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}
