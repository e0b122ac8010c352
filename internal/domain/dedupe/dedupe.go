// Package dedupe coalesces recomputation requests for the same pair.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/okian/palate/internal/domain/model"
)

// Coalescer tracks pair jobs that are queued but not yet picked up.
type Coalescer interface {
	// SeenAndRecord atomically checks whether key is pending and marks it if not.
	// Returns true if key was already pending, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord clears a pending key. Workers call it when they take the job,
	// and the trigger calls it when the enqueue fails.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// PairKey is the canonical coalescing key for a pair in one category.
func PairKey(a, b string, c model.Category) string {
	low, high := model.Canonical(a, b)
	return low + "|" + high + "|" + string(c)
}

type inMemoryCoalescer struct {
	mu      sync.Mutex
	pending map[string]struct{}
	maxSize int // 0 or negative = unbounded
	size    atomic.Int64
}

// NewInMemoryCoalescer creates an in-memory coalescer.
func NewInMemoryCoalescer(opts ...Option) Coalescer {
	c := &inMemoryCoalescer{
		maxSize: 50000,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.pending = make(map[string]struct{})
	return c
}

// SeenAndRecord reports whether key is already pending. When the bound is
// reached new keys are not tracked and the caller proceeds uncoalesced.
func (c *inMemoryCoalescer) SeenAndRecord(_ context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[key]; ok {
		return true
	}
	if c.maxSize > 0 && len(c.pending) >= c.maxSize {
		return false
	}
	c.pending[key] = struct{}{}
	c.size.Add(1)
	return false
}

func (c *inMemoryCoalescer) Unrecord(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[key]; ok {
		delete(c.pending, key)
		c.size.Add(-1)
	}
}

func (c *inMemoryCoalescer) Size() int64 {
	return c.size.Load()
}
