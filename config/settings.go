package config

import (
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Settings is the process configuration, read from the environment (and .env
// when present).
type Settings struct {
	Port     string `env:"PORT" envDefault:"8080"`
	GoEnv    string `env:"GO_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DBUser            string        `env:"DB_USER"`
	DBPassword        string        `env:"DB_PASSWORD"`
	DBHost            string        `env:"DB_HOST" envDefault:"127.0.0.1"`
	DBPort            string        `env:"DB_PORT" envDefault:"3306"`
	DBName            string        `env:"DB_NAME" envDefault:"integration_platform"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"50"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"25"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	DBConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"1m"`
	SkipMigrations    bool          `env:"SKIP_MIGRATIONS" envDefault:"false"`

	RedisAddress  string `env:"REDIS_ADDRESS" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	PubSubProjectID       string `env:"PUBSUB_PROJECT_ID"`
	PubSubCredentialsJSON string `env:"PUBSUB_CREDENTIALS_JSON"`
	PubSubCreateTopics    bool   `env:"PUBSUB_CREATE_TOPICS" envDefault:"false"`
	SyncTopic             string `env:"SYNC_TOPIC" envDefault:"integration-sync"`
	WebhookEventsTopic    string `env:"WEBHOOK_EVENTS_TOPIC"`

	JWTSigningKey    string        `env:"JWT_SIGNING_KEY"`
	AccessTokenTTL   time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL  time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	InternalAPIToken string        `env:"INTERNAL_API_TOKEN"`

	RateLimitBackend string `env:"RATE_LIMIT_BACKEND" envDefault:"redis"`

	WebhookTimeout        time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
	WebhookMaxConcurrency int           `env:"WEBHOOK_MAX_CONCURRENCY" envDefault:"8"`
	WebhookRetryBatchSize int           `env:"WEBHOOK_RETRY_BATCH_SIZE" envDefault:"50"`
	WebhookLockTimeout    time.Duration `env:"WEBHOOK_LOCK_TIMEOUT" envDefault:"2m"`

	PlatformHTTPTimeout     time.Duration `env:"PLATFORM_HTTP_TIMEOUT" envDefault:"30s"`
	PlatformRateLimitPerMin int           `env:"PLATFORM_RATE_LIMIT_PER_MIN" envDefault:"60"`
	PhoneDefaultRegion      string        `env:"PHONE_DEFAULT_REGION" envDefault:"US"`

	SyncArchiveBucket  string `env:"SYNC_ARCHIVE_BUCKET"`
	GCSCredentialsJSON string `env:"GCS_CREDENTIALS_JSON"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

var (
	settings     Settings
	settingsErr  error
	settingsOnce sync.Once
)

func init() {
	// Load env from .env
	godotenv.Load()
}

// GetSettings parses the environment once; later calls return the same value.
func GetSettings() (Settings, error) {
	settingsOnce.Do(func() {
		settings, settingsErr = Load()
	})
	return settings, settingsErr
}

func Load() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(s.GoEnv), "production")
}
