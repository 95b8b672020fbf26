package inmemorylocker

import (
	"context"
	"sync"
	"time"

	"github.com/lumenwallet/custody/internal/core/ports"
)

type lease struct {
	token    uint64
	expireAt time.Time
}

type locker struct {
	lock   *sync.Mutex
	leases map[string]lease
	next   uint64
	now    func() time.Time
}

// NewRowLocker returns a process local locker. It serializes executors that
// share one process only.
func NewRowLocker() ports.RowLocker {
	return &locker{
		lock:   &sync.Mutex{},
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

func (l *locker) TryLock(
	_ context.Context, key string, ttl time.Duration,
) (func(), bool, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	now := l.now()
	if current, ok := l.leases[key]; ok && now.Before(current.expireAt) {
		return nil, false, nil
	}

	l.next++
	token := l.next
	l.leases[key] = lease{token, now.Add(ttl)}

	release := func() {
		l.lock.Lock()
		defer l.lock.Unlock()

		// An expired lease may have been taken over already.
		if current, ok := l.leases[key]; ok && current.token == token {
			delete(l.leases, key)
		}
	}
	return release, true, nil
}
