package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Entry is one admitted API request.
type Entry struct {
	ClientId string
	TenantId string
	Method   string
	Path     string
	Status   int
	Latency  time.Duration
	At       time.Time
}

type Counter interface {
	Count(ctx context.Context, clientId string, since time.Time) (int64, error)
}

type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// redisRetention covers the daily window plus slack for clock skew.
const redisRetention = 25 * time.Hour

// RedisLog keeps one sorted set per client, scored by unix milliseconds.
type RedisLog struct {
	client *redis.Client
}

func NewRedisLog(client *redis.Client) *RedisLog {
	return &RedisLog{client: client}
}

func redisKey(clientId string) string { return "ratelimit:requests:" + clientId }

func (l *RedisLog) Record(ctx context.Context, e Entry) error {
	key := redisKey(e.ClientId)
	ms := e.At.UnixMilli()
	pipe := l.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(ms), Member: fmt.Sprintf("%d-%s", ms, uuid.NewString())})
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(e.At.Add(-redisRetention).UnixMilli(), 10))
	pipe.Expire(ctx, key, redisRetention)
	_, err := pipe.Exec(ctx)
	return err
}

func (l *RedisLog) Count(ctx context.Context, clientId string, since time.Time) (int64, error) {
	return l.client.ZCount(ctx, redisKey(clientId), strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
}

type requestLogStore interface {
	CreateRequestLog(ctx context.Context, entry *models.ApiRequestLog) error
	CountRequests(ctx context.Context, clientId string, since time.Time) (int64, error)
}

// DBLog counts and records through the api_request_logs table.
type DBLog struct {
	store requestLogStore
}

func NewDBLog(s requestLogStore) *DBLog {
	return &DBLog{store: s}
}

func (l *DBLog) Record(ctx context.Context, e Entry) error {
	return l.store.CreateRequestLog(ctx, &models.ApiRequestLog{
		ClientId:  e.ClientId,
		TenantId:  e.TenantId,
		Method:    e.Method,
		Path:      e.Path,
		Status:    e.Status,
		LatencyMs: e.Latency.Milliseconds(),
		CreatedAt: e.At,
	})
}

func (l *DBLog) Count(ctx context.Context, clientId string, since time.Time) (int64, error) {
	return l.store.CountRequests(ctx, clientId, since)
}
