package cache

import (
	"time"

	"github.com/okian/palate/pkg/logger"
)

// Option applies a configuration option to the Tiered cache.
type Option func(*Tiered)

// WithTTLs overrides the friends, list and pair TTLs. Non-positive values keep the default.
func WithTTLs(friends, lists, pair time.Duration) Option {
	return func(c *Tiered) {
		if friends > 0 {
			c.friendsTTL = friends
		}
		if lists > 0 {
			c.listTTL = lists
		}
		if pair > 0 {
			c.pairTTL = pair
		}
	}
}

// WithLogger sets the cache logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Tiered) {
		if l != nil {
			c.logger = l
		}
	}
}
