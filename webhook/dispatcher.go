// Package webhook delivers signed event notifications to subscriber URLs and
// retries failed deliveries with exponential backoff.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

// BaseRetryDelay is the wait after a first failed attempt; it doubles per attempt.
const BaseRetryDelay = 30 * time.Second

var tracer = otel.Tracer("integration_platform/webhook")

type DispatchStore interface {
	ListActiveForEvent(ctx context.Context, tenantId, eventType string) ([]models.WebhookSubscription, error)
	CreateDelivery(ctx context.Context, d *models.WebhookDelivery) error
	RecordSuccess(ctx context.Context, id uint, at time.Time) error
	RecordFailure(ctx context.Context, id uint, at time.Time) (bool, error)
}

type Dispatcher struct {
	store          DispatchStore
	client         *http.Client
	maxConcurrency int
	logger         *logrus.Logger
	now            func() time.Time
}

func NewDispatcher(s DispatchStore, timeout time.Duration, maxConcurrency int, logger *logrus.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}
	return &Dispatcher{
		store:          s,
		client:         &http.Client{Timeout: timeout},
		maxConcurrency: maxConcurrency,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

type DispatchSummary struct {
	EventId    string `json:"event_id"`
	Matched    int    `json:"matched"`
	Delivered  int    `json:"delivered"`
	Failed     int    `json:"failed"`
	Disabled   int    `json:"disabled"`
	StoreError int    `json:"store_errors"`
}

type deliveryOutcome struct {
	success  bool
	disabled bool
	storeErr bool
}

// Dispatch sends one event to every active subscription of tenantId that
// listens for eventType. Subscriptions are delivered concurrently and one
// slow endpoint never delays the others beyond the client timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantId, eventType string, data interface{}) (*DispatchSummary, error) {
	ctx, span := tracer.Start(ctx, "webhook.Dispatch")
	defer span.End()

	subs, err := d.store.ListActiveForEvent(ctx, tenantId, eventType)
	if err != nil {
		return nil, err
	}
	env, body, err := NewEnvelope(eventType, data, d.now())
	if err != nil {
		return nil, err
	}
	summary := &DispatchSummary{EventId: env.Id, Matched: len(subs)}
	if len(subs) == 0 {
		return summary, nil
	}

	outcomes := make([]deliveryOutcome, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxConcurrency)
	for i := range subs {
		g.Go(func() error {
			outcomes[i] = d.deliverFirst(gctx, subs[i], env, body)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o.success {
			summary.Delivered++
		} else {
			summary.Failed++
		}
		if o.disabled {
			summary.Disabled++
		}
		if o.storeErr {
			summary.StoreError++
		}
	}
	return summary, nil
}

// DispatchTo sends one event to a single subscription regardless of its event
// set. Used for test pings.
func (d *Dispatcher) DispatchTo(ctx context.Context, sub models.WebhookSubscription, eventType string, data interface{}) (*DispatchSummary, error) {
	env, body, err := NewEnvelope(eventType, data, d.now())
	if err != nil {
		return nil, err
	}
	o := d.deliverFirst(ctx, sub, env, body)
	summary := &DispatchSummary{EventId: env.Id, Matched: 1}
	if o.success {
		summary.Delivered = 1
	} else {
		summary.Failed = 1
	}
	if o.disabled {
		summary.Disabled = 1
	}
	return summary, nil
}

func (d *Dispatcher) deliverFirst(ctx context.Context, sub models.WebhookSubscription, env Envelope, body []byte) deliveryOutcome {
	createdAt := d.now()
	res := post(ctx, d.client, sub.URL, sub.Secret, env.Type, env.Id, body, 0)

	delivery := &models.WebhookDelivery{
		SubscriptionId: sub.ID,
		TenantId:       sub.TenantId,
		EventId:        env.Id,
		EventType:      env.Type,
		Payload:        datatypes.JSON(body),
		ResponseCode:   res.statusCode,
		DurationMs:     res.duration.Milliseconds(),
		Success:        res.success(),
		AttemptNumber:  1,
		LastAttemptAt:  &createdAt,
		CreatedAt:      createdAt,
	}
	if !res.success() {
		next := NextRetryAt(createdAt, 1)
		delivery.NextRetryAt = &next
		msg := res.errorMessage()
		delivery.LastError = &msg
	}

	out := deliveryOutcome{success: res.success()}
	log := d.logger.WithFields(logrus.Fields{
		"field":           "WebhookDispatcher",
		"subscription_id": sub.ID,
		"event_id":        env.Id,
		"event_type":      env.Type,
	})
	if err := d.store.CreateDelivery(ctx, delivery); err != nil {
		log.Error("record delivery: " + err.Error())
		out.storeErr = true
	}
	if out.success {
		if err := d.store.RecordSuccess(ctx, sub.ID, createdAt); err != nil {
			log.Error("record success: " + err.Error())
			out.storeErr = true
		}
		return out
	}
	disabled, err := d.store.RecordFailure(ctx, sub.ID, createdAt)
	if err != nil {
		log.Error("record failure: " + err.Error())
		out.storeErr = true
	}
	out.disabled = disabled
	if disabled {
		log.Warn("subscription disabled after consecutive failures")
	}
	return out
}

// NextRetryAt is when a delivery whose attempt-th try failed at attemptedAt
// becomes due again: 30s, 60s, 120s, 240s.
func NextRetryAt(attemptedAt time.Time, attempt int) time.Time {
	if attempt < 1 {
		attempt = 1
	}
	return attemptedAt.Add(BaseRetryDelay * time.Duration(1<<uint(attempt-1)))
}

type postResult struct {
	statusCode int
	duration   time.Duration
	err        error
}

func (r postResult) success() bool {
	return r.err == nil && r.statusCode >= 200 && r.statusCode < 300
}

func (r postResult) errorMessage() string {
	if r.err != nil {
		return r.err.Error()
	}
	return fmt.Sprintf("endpoint responded %d", r.statusCode)
}

// post sends body once. retryAttempt > 0 adds the X-Retry-Attempt header.
func post(ctx context.Context, client *http.Client, url, secret, eventType, eventId string, body []byte, retryAttempt int) postResult {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return postResult{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, Sign(body, secret))
	req.Header.Set(HeaderEventType, eventType)
	req.Header.Set(HeaderEventId, eventId)
	if retryAttempt > 0 {
		req.Header.Set(HeaderRetryAttempt, strconv.Itoa(retryAttempt))
	}
	resp, err := client.Do(req)
	if err != nil {
		return postResult{duration: time.Since(start), err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return postResult{statusCode: resp.StatusCode, duration: time.Since(start)}
}
