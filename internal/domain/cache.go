package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locks so only one backend instance owns
// the contract subscription at a time.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function. Returns ErrLockHeld when another party holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)

	// WithLease blocks until the lock is acquired, runs fn under a context
	// that is cancelled if the lock is lost, and releases the lock when fn
	// returns.
	WithLease(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Publisher fans reconciliation outcomes out to downstream consumers. A
// message is published only when a write actually occurred.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
