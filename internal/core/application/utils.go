package application

import (
	"errors"
	"time"

	"github.com/lumenwallet/custody/internal/core/domain"
)

// backoff returns the wait before the next attempt, doubling from base with
// every failed attempt.
func backoff(base time.Duration, attempts uint32) time.Duration {
	if attempts <= 1 {
		return base
	}
	shift := attempts - 1
	if shift > 16 {
		shift = 16
	}
	return base << shift
}

// lastError is the text persisted alongside a failed row. Authentication
// failures are reported generically.
func lastError(err error) string {
	if errors.Is(err, domain.ErrAuthenticationFailed) {
		return domain.ErrAuthenticationFailed.Error()
	}
	return err.Error()
}

func snapshotKey(publicKey string) string {
	return "account:" + publicKey
}
