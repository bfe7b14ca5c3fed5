package webhook

import (
	"context"
	"net/url"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/models"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
)

type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *models.WebhookSubscription) error
	GetSubscription(ctx context.Context, id uint) (*models.WebhookSubscription, error)
	ListSubscriptions(ctx context.Context, tenantId string) ([]models.WebhookSubscription, error)
	DeleteSubscription(ctx context.Context, id uint) (bool, error)
	UpdateSecret(ctx context.Context, id uint, secret string) error
	EnableSubscription(ctx context.Context, id uint) error
	ListDeliveries(ctx context.Context, subscriptionId uint, limit int) ([]models.WebhookDelivery, error)
}

// Subscriptions manages a tenant's webhook endpoints. Reads go through the
// tenant-scoped store, so one tenant never sees another's subscriptions.
type Subscriptions struct {
	store         SubscriptionStore
	dispatcher    *Dispatcher
	allowInsecure bool
}

func NewSubscriptions(s SubscriptionStore, dispatcher *Dispatcher, allowInsecure bool) *Subscriptions {
	return &Subscriptions{store: s, dispatcher: dispatcher, allowInsecure: allowInsecure}
}

type NewSubscription struct {
	URL         string   `json:"url" validate:"required,url,max=2048"`
	EventTypes  []string `json:"event_types" validate:"required,min=1,dive,required"`
	Description string   `json:"description" validate:"max=255"`
}

type CreatedSubscription struct {
	Subscription *models.WebhookSubscription `json:"subscription"`
	Secret       string                      `json:"secret"`
}

func newSecret() (string, error) {
	raw, err := utils.GenerateToken(24)
	if err != nil {
		return "", err
	}
	return "whsec_" + raw, nil
}

func (s *Subscriptions) Create(ctx context.Context, tenantId, clientId string, in NewSubscription) (*CreatedSubscription, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}
	u, err := url.Parse(in.URL)
	if err != nil {
		return nil, utils.NewValidationError("url is invalid")
	}
	if !s.allowInsecure && !strings.EqualFold(u.Scheme, "https") {
		return nil, utils.NewValidationError("url must use https")
	}
	for _, t := range in.EventTypes {
		if t != models.WebhookEventWildcard && !utils.ContainsString(models.EventTypes, t) {
			return nil, utils.NewValidationError("unknown event type %s", t)
		}
	}
	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	sub := &models.WebhookSubscription{
		TenantId:    tenantId,
		ClientId:    clientId,
		URL:         in.URL,
		Secret:      secret,
		EventTypes:  models.EncodeJSON(in.EventTypes),
		Description: in.Description,
		Status:      models.WebhookStatusActive,
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return &CreatedSubscription{Subscription: sub, Secret: secret}, nil
}

func (s *Subscriptions) List(ctx context.Context, tenantId string) ([]models.WebhookSubscription, error) {
	return s.store.ListSubscriptions(ctx, tenantId)
}

func (s *Subscriptions) Delete(ctx context.Context, id uint) error {
	ok, err := s.store.DeleteSubscription(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return utils.NewNotFoundError("webhook subscription %d not found", id)
	}
	return nil
}

func (s *Subscriptions) Enable(ctx context.Context, id uint) (*models.WebhookSubscription, error) {
	if _, err := s.store.GetSubscription(ctx, id); err != nil {
		return nil, err
	}
	if err := s.store.EnableSubscription(ctx, id); err != nil {
		return nil, err
	}
	return s.store.GetSubscription(ctx, id)
}

// RotateSecret replaces the signing secret. Pending retries are signed with
// the new one.
func (s *Subscriptions) RotateSecret(ctx context.Context, id uint) (string, error) {
	if _, err := s.store.GetSubscription(ctx, id); err != nil {
		return "", err
	}
	secret, err := newSecret()
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateSecret(ctx, id, secret); err != nil {
		return "", err
	}
	return secret, nil
}

func (s *Subscriptions) Deliveries(ctx context.Context, id uint, limit int) ([]models.WebhookDelivery, error) {
	if _, err := s.store.GetSubscription(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListDeliveries(ctx, id, limit)
}

// SendTest pings one subscription with a webhook.test event.
func (s *Subscriptions) SendTest(ctx context.Context, id uint) (*DispatchSummary, error) {
	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.WebhookStatusActive {
		return nil, utils.NewConflictError("webhook subscription %d is disabled", id)
	}
	return s.dispatcher.DispatchTo(ctx, *sub, models.EventWebhookTest, map[string]interface{}{
		"subscription_id": sub.ID,
		"sent_at":         time.Now().UTC().Format(time.RFC3339),
	})
}
