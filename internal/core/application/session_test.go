package application_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lumenwallet/custody/internal/core/application"
	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func TestSessionKeyCache(t *testing.T) {
	custody := newCustody(t)
	builder := newBuilder(t)

	secret, publicKey := newKey(t, builder)
	blob, err := custody.Encrypt(secret, []byte(password))
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("unlock", func(t *testing.T) {
		session := application.NewSessionKeyCache(custody, nil, 0)
		require.False(t, session.IsActive())

		err := session.Unlock(ctx, *blob, []byte("wrong"))
		require.ErrorIs(t, err, domain.ErrAuthenticationFailed)
		require.False(t, session.IsActive())

		err = session.Unlock(ctx, *blob, []byte(password))
		require.NoError(t, err)
		require.True(t, session.IsActive())

		got, ok, err := application.WithKey(session, builder.PublicKey)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, publicKey, got)

		entries := session.AuditLog().Entries()
		require.Len(t, entries, 3)
		require.Equal(t, domain.AuditDecrypt, entries[0].Operation)
		require.False(t, entries[0].Success)
		require.Equal(t, domain.ClassAuthenticationFailed, entries[0].ErrorClass)
		require.Equal(t, domain.AuditDecrypt, entries[1].Operation)
		require.True(t, entries[1].Success)
		require.Equal(t, domain.AuditSign, entries[2].Operation)
		require.True(t, entries[2].Success)
	})

	t.Run("failed unlock keeps previous session", func(t *testing.T) {
		session := application.NewSessionKeyCache(custody, nil, 0)
		err := session.Unlock(ctx, *blob, []byte(password))
		require.NoError(t, err)

		err = session.Unlock(ctx, *blob, []byte("wrong"))
		require.ErrorIs(t, err, domain.ErrAuthenticationFailed)

		got, ok, err := application.WithKey(session, builder.PublicKey)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, publicKey, got)
		session.Clear()
	})

	t.Run("expires after inactivity", func(t *testing.T) {
		clock := newFakeClock(time.Now())
		session := application.NewSessionKeyCache(custody, nil, time.Hour).
			WithClock(clock.now)
		err := session.Unlock(ctx, *blob, []byte(password))
		require.NoError(t, err)

		clock.advance(50 * time.Minute)
		ok, err := session.WithKey(func([]byte) error { return nil })
		require.NoError(t, err)
		require.True(t, ok)

		// Access slides the deadline.
		clock.advance(50 * time.Minute)
		require.True(t, session.IsActive())

		clock.advance(10 * time.Minute)
		require.False(t, session.IsActive())

		called := false
		ok, err = session.WithKey(func([]byte) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		require.False(t, ok)
		require.False(t, called)

		entries := session.AuditLog().Entries()
		last := entries[len(entries)-1]
		require.Equal(t, domain.AuditExpire, last.Operation)
		require.False(t, last.Success)
		require.Equal(t, domain.ClassExpiredSession, last.ErrorClass)
	})

	t.Run("timer wipes the key", func(t *testing.T) {
		session := application.NewSessionKeyCache(custody, nil, 50*time.Millisecond)
		err := session.Unlock(ctx, *blob, []byte(password))
		require.NoError(t, err)

		var held []byte
		_, err = session.WithKey(func(secret []byte) error {
			held = secret
			return nil
		})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			entries := session.AuditLog().Entries()
			last := entries[len(entries)-1]
			return last.Operation == domain.AuditExpire && last.Success
		}, time.Second, 10*time.Millisecond)

		require.False(t, session.IsActive())
		require.Equal(t, make([]byte, len(held)), held)
	})

	t.Run("clear", func(t *testing.T) {
		session := application.NewSessionKeyCache(custody, nil, 0)
		session.Clear()

		err := session.Unlock(ctx, *blob, []byte(password))
		require.NoError(t, err)

		var held []byte
		_, err = session.WithKey(func(secret []byte) error {
			held = secret
			return nil
		})
		require.NoError(t, err)

		session.Clear()
		session.Clear()
		require.False(t, session.IsActive())
		require.Equal(t, make([]byte, len(held)), held)

		ok, err := session.WithKey(func([]byte) error { return nil })
		require.NoError(t, err)
		require.False(t, ok)

		count := 0
		for _, e := range session.AuditLog().Entries() {
			if e.Operation == domain.AuditClear {
				count++
			}
		}
		require.Equal(t, 3, count)
	})

	t.Run("callers never overlap", func(t *testing.T) {
		session := application.NewSessionKeyCache(custody, nil, 0)
		err := session.Unlock(ctx, *blob, []byte(password))
		require.NoError(t, err)
		defer session.Clear()

		var inside, maxInside int32
		wg := &sync.WaitGroup{}
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := session.WithKey(func([]byte) error {
					n := atomic.AddInt32(&inside, 1)
					if n > atomic.LoadInt32(&maxInside) {
						atomic.StoreInt32(&maxInside, n)
					}
					time.Sleep(5 * time.Millisecond)
					atomic.AddInt32(&inside, -1)
					return nil
				})
				require.NoError(t, err)
			}()
		}
		wg.Wait()

		require.Equal(t, int32(1), maxInside)
	})

	t.Run("clear waits for the running caller", func(t *testing.T) {
		session := application.NewSessionKeyCache(custody, nil, 0)
		err := session.Unlock(ctx, *blob, []byte(password))
		require.NoError(t, err)

		entered := make(chan struct{})
		done := make(chan []byte)
		go func() {
			_, _ = session.WithKey(func(secret []byte) error {
				close(entered)
				time.Sleep(20 * time.Millisecond)
				done <- append([]byte{}, secret...)
				return nil
			})
		}()

		<-entered
		cleared := make(chan struct{})
		go func() {
			session.Clear()
			close(cleared)
		}()

		seen := <-done
		require.True(t, domain.Secret(seen).Equal(secret))
		<-cleared
		require.False(t, session.IsActive())
	})
}
