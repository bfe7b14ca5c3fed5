package config

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// cacheKeyPrefix keeps cached lookups apart from rate-limit windows and locks
// sharing the same redis database.
const cacheKeyPrefix = "cache:"

var (
	rdb    *redis.Client
	locker *redislock.Client
)

// GetRedisDB returns the shared client, or nil before ConnectRedisWithRetry.
func GetRedisDB() *redis.Client {
	return rdb
}

// CacheGet decodes the JSON cached under key into dest. A miss, or redis not
// being connected, reports false with a nil error.
func CacheGet(ctx context.Context, key string, dest any) (bool, error) {
	if rdb == nil {
		return false, nil
	}
	raw, err := rdb.Get(ctx, cacheKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// CachePut stores value as JSON for ttl. It is a no-op without redis.
func CachePut(ctx context.Context, key string, value any, ttl time.Duration) error {
	if rdb == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, cacheKeyPrefix+key, raw, ttl).Err()
}

// ConnectRedisWithRetry blocks until redis answers a PING, then installs the
// shared client and the lock client behind GetLocker.
func ConnectRedisWithRetry(s Settings) {
	log := GetLogger().WithFields(logrus.Fields{"field": "Redis", "addr": s.RedisAddress})
	ctx := context.Background()
	for attempt := 1; ; attempt++ {
		client := redis.NewClient(&redis.Options{
			Addr:     s.RedisAddress,
			Password: s.RedisPassword,
			PoolSize: 100,
		})
		err := client.Ping(ctx).Err()
		if err == nil {
			rdb = client
			locker = redislock.New(rdb)
			log.WithField("attempt", attempt).Info("connected to redis")
			return
		}
		_ = client.Close()

		wait := connectBackoff(attempt)
		log.WithField("attempt", attempt).Warnf("redis unavailable: %v; retrying in %s", err, wait)
		time.Sleep(wait)
	}
}

// connectBackoff doubles from two seconds up to thirty.
func connectBackoff(attempt int) time.Duration {
	return min(time.Second*time.Duration(1<<min(attempt, 5)), 30*time.Second)
}
