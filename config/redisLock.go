package config

import (
	"context"
	"time"

	"github.com/bsm/redislock"
)

var ErrLockNotObtained = redislock.ErrNotObtained

// Locker hands out named distributed locks. Obtain returns the release func.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

type redisLocker struct {
	client *redislock.Client
}

func (r redisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := r.client.Obtain(ctx, key, ttl, nil)
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}

// GetLocker wraps the global redislock client; nil until redis is connected.
func GetLocker() Locker {
	if locker == nil {
		return nil
	}
	return redisLocker{client: locker}
}
