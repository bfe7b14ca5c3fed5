// Package app assembles the platform's components from settings and the
// connected database and redis clients.
package app

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/config"
	"bitbucket.org/mmdatafocus/integration_platform/events"
	"bitbucket.org/mmdatafocus/integration_platform/health"
	"bitbucket.org/mmdatafocus/integration_platform/jobs"
	"bitbucket.org/mmdatafocus/integration_platform/oauth"
	"bitbucket.org/mmdatafocus/integration_platform/platforms"
	"bitbucket.org/mmdatafocus/integration_platform/ratelimit"
	"bitbucket.org/mmdatafocus/integration_platform/store"
	"bitbucket.org/mmdatafocus/integration_platform/syncengine"
	"bitbucket.org/mmdatafocus/integration_platform/webhook"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const tierCacheTTL = 5 * time.Minute

const (
	RateLimitBackendRedis    = "redis"
	RateLimitBackendDatabase = "database"
)

type App struct {
	Settings config.Settings
	Logger   *logrus.Logger

	Idempotency *store.IdempotencyStore

	OAuth         *oauth.Server
	Limiter       *ratelimit.Limiter
	Tiers         *ratelimit.CachedTierSource
	RateLimit     *ratelimit.Middleware
	Dispatcher    *webhook.Dispatcher
	Subscriptions *webhook.Subscriptions
	Retry         *webhook.RetryScheduler
	Events        *events.Publisher
	Engine        *syncengine.Engine
	Health        *health.Monitor
	Cleaner       *jobs.Cleaner
}

// healthStore joins the two stores the monitor reads from.
type healthStore struct {
	*store.IntegrationStore
	*store.SyncStore
}

// New wires every component. db and rdb must already be connected; rdb may be
// nil only when the database rate-limit backend is selected.
func New(s config.Settings, db *gorm.DB, rdb *redis.Client, locker config.Locker, logger *logrus.Logger) *App {
	integrations := store.NewIntegrationStore(db)
	records := store.NewRecordStore(db)
	syncs := store.NewSyncStore(db)
	logs := store.NewLogStore(db)
	oauthStore := store.NewOAuthStore(db)
	webhooks := store.NewWebhookStore(db)

	a := &App{Settings: s, Logger: logger, Idempotency: store.NewIdempotencyStore(db)}

	a.OAuth = oauth.NewServer(oauthStore, oauth.Options{
		SigningKey:      []byte(s.JWTSigningKey),
		AccessTokenTTL:  s.AccessTokenTTL,
		RefreshTokenTTL: s.RefreshTokenTTL,
	}, logger)

	a.Tiers = ratelimit.NewCachedTierSource(oauthStore, tierCacheTTL, logger)
	dbLog := ratelimit.NewDBLog(logs)
	if s.RateLimitBackend == RateLimitBackendDatabase || rdb == nil {
		a.Limiter = ratelimit.NewLimiter(dbLog)
		a.RateLimit = ratelimit.NewMiddleware(a.Limiter, a.Tiers, dbLog, nil, logger)
	} else {
		redisLog := ratelimit.NewRedisLog(rdb)
		a.Limiter = ratelimit.NewLimiter(redisLog)
		a.RateLimit = ratelimit.NewMiddleware(a.Limiter, a.Tiers, redisLog, dbLog, logger)
	}

	a.Dispatcher = webhook.NewDispatcher(webhooks, s.WebhookTimeout, s.WebhookMaxConcurrency, logger)
	a.Subscriptions = webhook.NewSubscriptions(webhooks, a.Dispatcher, !s.IsProduction())
	a.Retry = webhook.NewRetryScheduler(webhooks, logs, locker, webhook.RetryOptions{
		Timeout:        s.WebhookTimeout,
		BatchSize:      s.WebhookRetryBatchSize,
		LockTimeout:    s.WebhookLockTimeout,
		MaxConcurrency: s.WebhookMaxConcurrency,
	}, logger)

	a.Events = events.NewPublisher(s.WebhookEventsTopic, a.Dispatcher, logger)

	deps := syncengine.Deps{
		Integrations: integrations,
		Records:      records,
		Logs:         syncs,
		Registry: platforms.NewBuiltinRegistry(platforms.BuiltinOptions{
			Client: platforms.ClientOptions{
				Timeout:       s.PlatformHTTPTimeout,
				RatePerMinute: s.PlatformRateLimitPerMin,
			},
			PhoneDefaultRegion: s.PhoneDefaultRegion,
		}),
		Refresher: platforms.NewTokenRefresher(s.PlatformHTTPTimeout),
		Events:    a.Events,
		Locker:    locker,
		Logger:    logger,
		SyncTopic: s.SyncTopic,
	}
	if archiver := syncengine.NewGCSArchiver(s.SyncArchiveBucket); archiver != nil {
		deps.Archiver = archiver
	}
	a.Engine = syncengine.NewEngine(deps)

	a.Health = health.NewMonitor(healthStore{integrations, syncs}, logs, a.Events, locker, logger)
	a.Cleaner = jobs.NewCleaner(a.OAuth, logs, logs, logger)
	return a
}

// EnsureTopics creates the sync and webhook-event topics when configured to.
func (a *App) EnsureTopics(ctx context.Context) error {
	if !a.Settings.PubSubCreateTopics {
		return nil
	}
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	for _, topic := range []string{a.Settings.SyncTopic, a.Settings.WebhookEventsTopic} {
		if topic == "" {
			continue
		}
		if _, err := config.CreateTopicIfNotExists(ctx, client, topic); err != nil {
			return err
		}
	}
	return nil
}
