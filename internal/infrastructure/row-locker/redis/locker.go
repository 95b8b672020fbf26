package redislocker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lumenwallet/custody/internal/core/ports"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const keyPrefix = "rowlock:"

// Deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

type locker struct {
	rdb *redis.Client
}

// NewRowLocker returns a locker shared by every process using the same
// redis instance. Leases expire after their ttl even if never released.
func NewRowLocker(rdb *redis.Client) ports.RowLocker {
	return &locker{rdb}
}

func (l *locker) TryLock(
	ctx context.Context, key string, ttl time.Duration,
) (func(), bool, error) {
	redisKey := keyPrefix + key
	token := uuid.New().String()

	ok, err := l.rdb.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire row lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		if err := releaseScript.Run(
			context.Background(), l.rdb, []string{redisKey}, token,
		).Err(); err != nil {
			log.WithError(err).Warnf("failed to release row lock %s", key)
		}
	}
	return release, true, nil
}
