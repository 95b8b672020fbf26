package application

import (
	"context"
	"sync"
	"time"

	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/lumenwallet/custody/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const DefaultSessionTTL = 300 * time.Second

// SessionKeyCache holds at most one decrypted secret for a bounded time of
// inactivity. The secret is only reachable through WithKey, which runs with
// the cache locked: two users of the key never overlap, and Clear or expiry
// wait for the running one to finish.
type SessionKeyCache struct {
	lock    *sync.Mutex
	custody ports.KeyCustody
	audit   *domain.AuditLog
	ttl     time.Duration
	now     func() time.Time

	key            domain.Secret
	createdAt      time.Time
	lastAccessedAt time.Time
	timer          *time.Timer
	expired        bool
}

func NewSessionKeyCache(
	custody ports.KeyCustody, audit *domain.AuditLog, ttl time.Duration,
) *SessionKeyCache {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if audit == nil {
		audit = domain.NewAuditLog(domain.DefaultAuditLogSize)
	}
	return &SessionKeyCache{
		lock:    &sync.Mutex{},
		custody: custody,
		audit:   audit,
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the time source used for expiry checks on access.
func (c *SessionKeyCache) WithClock(now func() time.Time) *SessionKeyCache {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.now = now
	return c
}

func (c *SessionKeyCache) AuditLog() *domain.AuditLog {
	return c.audit
}

// Unlock decrypts blob and makes the result the session key, replacing any
// previous one. A failed attempt leaves the cache as it was.
func (c *SessionKeyCache) Unlock(
	ctx context.Context, blob domain.EncryptedSecret, password []byte,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key, err := c.custody.Decrypt(blob, password)
	c.audit.Append(domain.AuditDecrypt, err)
	if err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	c.wipe()
	now := c.now()
	c.key = key
	c.createdAt = now
	c.lastAccessedAt = now
	c.expired = false
	c.timer = time.AfterFunc(c.ttl, c.onTimer)

	log.Debug("session unlocked")
	return nil
}

// WithKey runs fn with the session key if a session is active. It returns
// false, without calling fn, when the cache is empty or the session expired.
// fn must not retain the slice it is given.
func (c *SessionKeyCache) WithKey(fn func(secret []byte) error) (bool, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.key == nil {
		if c.expired {
			c.audit.Append(domain.AuditExpire, domain.ErrExpiredSession)
		}
		return false, nil
	}
	now := c.now()
	if !now.Before(c.lastAccessedAt.Add(c.ttl)) {
		c.expire(domain.ErrExpiredSession)
		return false, nil
	}

	c.lastAccessedAt = now
	c.timer.Reset(c.ttl)

	err := fn(c.key)
	c.audit.Append(domain.AuditSign, err)
	return true, err
}

// WithKey is the typed variant of SessionKeyCache.WithKey.
func WithKey[T any](c *SessionKeyCache, fn func(secret []byte) (T, error)) (T, bool, error) {
	var result T
	ok, err := c.WithKey(func(secret []byte) error {
		var err error
		result, err = fn(secret)
		return err
	})
	return result, ok, err
}

// IsActive reports whether WithKey would currently run.
func (c *SessionKeyCache) IsActive() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.key != nil && c.now().Before(c.lastAccessedAt.Add(c.ttl))
}

// Clear wipes the session key. It is safe to call at any time.
func (c *SessionKeyCache) Clear() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.wipe()
	c.expired = false
	c.audit.Append(domain.AuditClear, nil)
}

func (c *SessionKeyCache) onTimer() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.key == nil {
		return
	}
	// The deadline may have moved since the timer was armed.
	if remaining := c.lastAccessedAt.Add(c.ttl).Sub(c.now()); remaining > 0 {
		c.timer.Reset(remaining)
		return
	}
	c.expire(nil)
}

// expire records err against the expire entry when an access attempt
// found the session past its deadline.
func (c *SessionKeyCache) expire(err error) {
	c.wipe()
	c.expired = true
	c.audit.Append(domain.AuditExpire, err)
	log.Debug("session expired")
}

func (c *SessionKeyCache) wipe() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.key != nil {
		c.key.Wipe()
		c.key = nil
	}
	c.createdAt = time.Time{}
	c.lastAccessedAt = time.Time{}
}
