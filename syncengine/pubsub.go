package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/integration_platform/config"
	"bitbucket.org/mmdatafocus/integration_platform/models"
	"bitbucket.org/mmdatafocus/integration_platform/store"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const syncHandlerName = "syncengine.sync"

// SyncMessage is the Pub/Sub payload of an asynchronous sync trigger.
type SyncMessage struct {
	TenantId string      `json:"tenant_id"`
	Request  SyncRequest `json:"request"`
}

type Idempotency interface {
	Begin(ctx context.Context, tenantId, handlerName, messageId string) (bool, error)
	Succeeded(ctx context.Context, handlerName, messageId string) error
	Failed(ctx context.Context, handlerName, messageId string, err error) error
}

// PublishSync queues a sync on the sync topic and returns the message id. The
// request is validated up front so bad triggers fail synchronously.
func (e *Engine) PublishSync(ctx context.Context, req SyncRequest) (string, error) {
	if e.syncTopic == "" {
		return "", errors.New("sync topic not configured")
	}
	if err := utils.ValidateStruct(req); err != nil {
		return "", err
	}
	integ, err := e.integrations.GetIntegration(ctx, req.IntegrationId)
	if err != nil {
		return "", err
	}
	msg := SyncMessage{TenantId: integ.TenantId, Request: req}
	attrs := map[string]string{
		"tenant_id":      integ.TenantId,
		"integration_id": strconv.FormatUint(uint64(integ.ID), 10),
	}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		attrs["correlation_id"] = cid
	}
	id, err := e.publishJSON(ctx, e.syncTopic, msg, attrs)
	if err != nil {
		return "", err
	}
	e.log(integ).WithFields(logrus.Fields{"message_id": id, "entity_type": req.EntityType}).Info("sync queued")
	return id, nil
}

// PubSubSyncHandler runs syncs pushed by the sync subscription. Messages that
// can never succeed are acknowledged; internal failures answer 500 so Pub/Sub
// redelivers.
func PubSubSyncHandler(e *Engine, idem Idempotency) gin.HandlerFunc {
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
		var msg SyncMessage
		if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil || msg.TenantId == "" {
			e.logger.WithFields(logrus.Fields{"field": "SyncEngine", "message_id": envelope.Message.ID}).Warn("dropping malformed sync message")
			c.Status(http.StatusNoContent)
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), msg.TenantId)
		messageId := envelope.Message.ID
		skip, err := idem.Begin(ctx, msg.TenantId, syncHandlerName, messageId)
		if errors.Is(err, store.ErrIdempotencyInProgress) {
			c.Status(http.StatusConflict)
			return
		}
		if err != nil {
			config.LogFailure(e.logger, "PubSubSync", "begin idempotency", messageId, err)
			c.Status(http.StatusInternalServerError)
			return
		}
		if skip {
			c.Status(http.StatusNoContent)
			return
		}

		req := msg.Request
		req.TriggeredBy = models.SyncTriggeredPubSub
		_, runErr := e.Sync(ctx, req)
		if runErr == nil {
			if err := idem.Succeeded(ctx, syncHandlerName, messageId); err != nil {
				config.LogFailure(e.logger, "PubSubSync", "mark succeeded", messageId, err)
			}
			c.Status(http.StatusNoContent)
			return
		}

		if err := idem.Failed(ctx, syncHandlerName, messageId, runErr); err != nil {
			config.LogFailure(e.logger, "PubSubSync", "mark failed", messageId, err)
		}
		if utils.KindOf(runErr) == utils.ErrKindInternal {
			config.LogFailure(e.logger, "PubSubSync", "sync", msg, runErr)
			c.Status(http.StatusInternalServerError)
			return
		}
		e.logger.WithFields(logrus.Fields{
			"field":          "SyncEngine",
			"message_id":     messageId,
			"integration_id": req.IntegrationId,
		}).Warn("sync message rejected: " + runErr.Error())
		c.Status(http.StatusNoContent)
	}
}
