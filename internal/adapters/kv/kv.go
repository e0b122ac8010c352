// Package kv is the shared coordination store behind the cache and the
// batch lock. Redis serves a fleet; Badger serves a single host.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for a missing or expired key.
var ErrNotFound = errors.New("kv: key not found")

// Store is a byte-valued key/value store with expiry.
type Store interface {
	// Get returns the value of key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes key with an expiry; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX writes key only if absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes key only if it holds value.
	CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error)
	// Delete removes keys; missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// DeletePrefix removes every key starting with prefix and returns how many.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Close() error
}
