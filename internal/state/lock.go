package state

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cross-process lock for read-modify-write cycles on shared keys. The
// lock key is <key>:lock, held for at most lockExpiration; acquisition
// retries maxLockRetries times before giving up.
const (
	lockExpiration = 100 * time.Millisecond
	lockRetryEvery = 100 * time.Millisecond
	maxLockRetries = 10
)

var ErrLockNotAcquired = errors.New("state: lock not acquired")

// withLock runs fn while holding the lock for key. The lock is always
// released, also when fn fails.
func withLock(ctx context.Context, rdb *redis.Client, key string, fn func() error) error {
	lockKey := key + ":lock"
	acquired := false
	for i := 0; i < maxLockRetries; i++ {
		ok, err := rdb.SetNX(ctx, lockKey, 1, lockExpiration).Result()
		if err != nil {
			return err
		}
		if ok {
			acquired = true
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryEvery):
		}
	}
	if !acquired {
		return ErrLockNotAcquired
	}
	defer rdb.Del(context.WithoutCancel(ctx), lockKey)
	return fn()
}
