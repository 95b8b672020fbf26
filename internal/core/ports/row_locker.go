package ports

import (
	"context"
	"time"
)

// RowLocker serializes work on the same row across executor instances.
type RowLocker interface {
	// TryLock returns a release func, or ok false if the lock is held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}
