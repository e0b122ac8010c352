// Package lock is a fleet-wide mutual exclusion primitive over a kv.Store.
//
// A lock is a key written with set-if-absent and an expiry. The expiry is the
// only protection against a holder that dies without releasing.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/palate/internal/adapters/kv"
)

// BatchKey guards the daily similarity batch. It lives outside the cache
// namespace so a cache flush never drops it.
const BatchKey = "lock:taste-similarity:batch"

// DefaultTTL bounds how long a crashed holder blocks others.
const DefaultTTL = 2 * time.Hour

// ErrHeld is returned by Acquire when another holder owns the lock.
var ErrHeld = errors.New("lock held by another owner")

// Locker hands out Leases on keys of a kv.Store.
type Locker struct {
	store kv.Store
	ttl   time.Duration
}

// New creates a Locker; ttl <= 0 uses DefaultTTL.
func New(store kv.Store, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{store: store, ttl: ttl}
}

// Lease is a held lock.
type Lease struct {
	store kv.Store
	key   string
	token string
}

// Token identifies this holder.
func (l *Lease) Token() string { return l.token }

// Acquire takes key or returns ErrHeld.
func (l *Locker) Acquire(ctx context.Context, key string) (*Lease, error) {
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, key, []byte(token), l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{store: l.store, key: key, token: token}, nil
}

// Release drops the lock if this lease still owns it. A lease that expired
// and was taken by someone else is left alone.
func (l *Lease) Release(ctx context.Context) (bool, error) {
	ok, err := l.store.CompareAndDelete(ctx, l.key, []byte(l.token))
	if err != nil {
		return false, fmt.Errorf("release %s: %w", l.key, err)
	}
	return ok, nil
}
