// Package events fans the platform's domain events out to webhook
// subscribers, through Pub/Sub when a topic is configured.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/config"
	"bitbucket.org/mmdatafocus/integration_platform/models"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"bitbucket.org/mmdatafocus/integration_platform/webhook"
	"github.com/sirupsen/logrus"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, tenantId, eventType string, data interface{}) (*webhook.DispatchSummary, error)
}

// Message is the Pub/Sub payload for one domain event.
type Message struct {
	TenantId   string          `json:"tenant_id"`
	EventType  string          `json:"event_type"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type Publisher struct {
	topic       string
	dispatcher  Dispatcher
	logger      *logrus.Logger
	publishJSON func(ctx context.Context, topic string, obj interface{}, attrs map[string]string) (string, error)
	now         func() time.Time
	inflight    sync.WaitGroup
}

// NewPublisher publishes to topic, or dispatches in the background when topic
// is empty.
func NewPublisher(topic string, dispatcher Dispatcher, logger *logrus.Logger) *Publisher {
	return &Publisher{
		topic:       topic,
		dispatcher:  dispatcher,
		logger:      logger,
		publishJSON: config.PublishJSON,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (p *Publisher) Publish(ctx context.Context, tenantId, eventType string, data interface{}) error {
	if tenantId == "" {
		return errors.New("events: tenant id is required")
	}
	if !utils.ContainsString(models.EventTypes, eventType) {
		return utils.NewValidationError("unknown event type %q", eventType)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if p.topic == "" {
		p.inflight.Add(1)
		go p.dispatch(context.WithoutCancel(ctx), tenantId, eventType, raw)
		return nil
	}

	msg := Message{TenantId: tenantId, EventType: eventType, Data: raw, OccurredAt: p.now()}
	attrs := map[string]string{"tenant_id": tenantId, "event_type": eventType}
	id, err := p.publishJSON(ctx, p.topic, msg, attrs)
	if err != nil {
		return err
	}
	p.logger.WithFields(logrus.Fields{"field": "Events", "event_type": eventType, "message_id": id}).Info("event published")
	return nil
}

// dispatch fans one event out without blocking the publisher's caller.
// Failed deliveries are picked up by the webhook retry scheduler.
func (p *Publisher) dispatch(ctx context.Context, tenantId, eventType string, raw json.RawMessage) {
	defer p.inflight.Done()
	log := p.logger.WithFields(logrus.Fields{"field": "Events", "tenant_id": tenantId, "event_type": eventType})
	summary, err := p.dispatcher.Dispatch(ctx, tenantId, eventType, raw)
	if err != nil {
		log.Error("dispatch event: " + err.Error())
		return
	}
	log.WithFields(logrus.Fields{
		"event_id":  summary.EventId,
		"matched":   summary.Matched,
		"delivered": summary.Delivered,
	}).Info("event dispatched")
}

// Wait blocks until background dispatches started so far have finished.
func (p *Publisher) Wait() {
	p.inflight.Wait()
}
