package ratelimit

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/config"
	"bitbucket.org/mmdatafocus/integration_platform/models"
	"github.com/sirupsen/logrus"
)

type Tier struct {
	Name              string `json:"name"`
	RequestsPerMinute int    `json:"rpm"`
	RequestsPerDay    int    `json:"rpd"`
	Burst             int    `json:"burst"`
}

const DefaultTier = "free"

var Tiers = map[string]Tier{
	"free":         {Name: "free", RequestsPerMinute: 60, RequestsPerDay: 1000, Burst: 10},
	"standard":     {Name: "standard", RequestsPerMinute: 300, RequestsPerDay: 10000, Burst: 50},
	"professional": {Name: "professional", RequestsPerMinute: 1000, RequestsPerDay: 100000, Burst: 200},
	"enterprise":   {Name: "enterprise", RequestsPerMinute: 5000, RequestsPerDay: 1000000, Burst: 1000},
}

// TierFor returns the named tier; unknown names get the free tier.
func TierFor(name string) Tier {
	if t, ok := Tiers[name]; ok {
		return t
	}
	return Tiers[DefaultTier]
}

type ApplicationGetter interface {
	GetApplication(ctx context.Context, clientId string) (*models.OAuthApplication, error)
}

// CachedTierSource resolves a client's tier through redis, falling back to
// the application row.
type CachedTierSource struct {
	apps   ApplicationGetter
	ttl    time.Duration
	logger *logrus.Logger
}

func NewCachedTierSource(apps ApplicationGetter, ttl time.Duration, logger *logrus.Logger) *CachedTierSource {
	return &CachedTierSource{apps: apps, ttl: ttl, logger: logger}
}

func (s *CachedTierSource) TierName(ctx context.Context, clientId string) (string, error) {
	key := "ratelimit:tier:" + clientId
	var cached string
	if ok, err := config.CacheGet(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}
	app, err := s.apps.GetApplication(ctx, clientId)
	if err != nil {
		return "", err
	}
	if err := config.CachePut(ctx, key, app.RateLimitTier, s.ttl); err != nil {
		s.logger.WithFields(logrus.Fields{"field": "RateLimiter", "client_id": clientId}).
			Warn("cache tier: " + err.Error())
	}
	return app.RateLimitTier, nil
}
