package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"bitbucket.org/mmdatafocus/integration_platform/config"
	"bitbucket.org/mmdatafocus/integration_platform/middlewares"
	"bitbucket.org/mmdatafocus/integration_platform/models"
	"bitbucket.org/mmdatafocus/integration_platform/store"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const webhookEventsHandlerName = "events.webhook"

type Idempotency interface {
	Begin(ctx context.Context, tenantId, handlerName, messageId string) (bool, error)
	Succeeded(ctx context.Context, handlerName, messageId string) error
	Failed(ctx context.Context, handlerName, messageId string, err error) error
}

// PubSubWebhookEventsHandler dispatches events pushed by the webhook events
// subscription. Each Pub/Sub message is dispatched at most once to success.
func PubSubWebhookEventsHandler(d Dispatcher, idem Idempotency, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		var envelope config.PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil || envelope.Message.ID == "" {
			c.Status(http.StatusNoContent)
			return
		}
		var msg Message
		if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil || msg.TenantId == "" || msg.EventType == "" {
			logger.WithFields(logrus.Fields{"field": "Events", "message_id": envelope.Message.ID}).Warn("dropping malformed event message")
			c.Status(http.StatusNoContent)
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), msg.TenantId)
		messageId := envelope.Message.ID
		skip, err := idem.Begin(ctx, msg.TenantId, webhookEventsHandlerName, messageId)
		if errors.Is(err, store.ErrIdempotencyInProgress) {
			c.Status(http.StatusConflict)
			return
		}
		if err != nil {
			config.LogFailure(logger, "PubSubWebhookEvents", "begin idempotency", messageId, err)
			c.Status(http.StatusInternalServerError)
			return
		}
		if skip {
			c.Status(http.StatusNoContent)
			return
		}

		if _, err := d.Dispatch(ctx, msg.TenantId, msg.EventType, msg.Data); err != nil {
			if markErr := idem.Failed(ctx, webhookEventsHandlerName, messageId, err); markErr != nil {
				config.LogFailure(logger, "PubSubWebhookEvents", "mark failed", messageId, markErr)
			}
			config.LogFailure(logger, "PubSubWebhookEvents", "dispatch", msg.EventType, err)
			c.Status(http.StatusInternalServerError)
			return
		}
		if err := idem.Succeeded(ctx, webhookEventsHandlerName, messageId); err != nil {
			config.LogFailure(logger, "PubSubWebhookEvents", "mark succeeded", messageId, err)
		}
		c.Status(http.StatusNoContent)
	}
}

type EmitRequest struct {
	TenantId  string          `json:"tenant_id" validate:"required,max=64"`
	EventType string          `json:"event_type" validate:"required"`
	Data      json.RawMessage `json:"data"`
}

// EmitHandler lets internal services raise a domain event.
func EmitHandler(p *Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middlewares.RespondError(c, utils.NewValidationError("invalid request body"))
			return
		}
		if err := utils.ValidateStruct(req); err != nil {
			middlewares.RespondError(c, err)
			return
		}
		if !utils.ContainsString(models.EventTypes, req.EventType) {
			middlewares.RespondError(c, utils.NewValidationError("unknown event type %q", req.EventType))
			return
		}
		data := req.Data
		if len(data) == 0 {
			data = json.RawMessage("{}")
		}
		if err := p.Publish(c.Request.Context(), req.TenantId, req.EventType, data); err != nil {
			middlewares.RespondError(c, err)
			return
		}
		c.Status(http.StatusAccepted)
	}
}
