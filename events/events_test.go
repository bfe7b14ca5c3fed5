package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/integration_platform/config"
	"bitbucket.org/mmdatafocus/integration_platform/models"
	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"bitbucket.org/mmdatafocus/integration_platform/webhook"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type dispatched struct {
	tenantId  string
	eventType string
	data      string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatched
	err   error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, tenantId, eventType string, data interface{}) (*webhook.DispatchSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	raw, _ := json.Marshal(data)
	d.calls = append(d.calls, dispatched{tenantId, eventType, string(raw)})
	return &webhook.DispatchSummary{EventId: "evt_000000000001", Matched: 1, Delivered: 1}, nil
}

type fakeIdempotency struct {
	status map[string]models.IdempotencyStatus
}

func (f *fakeIdempotency) Begin(_ context.Context, _, handler, messageId string) (bool, error) {
	if f.status == nil {
		f.status = map[string]models.IdempotencyStatus{}
	}
	if f.status[handler+"/"+messageId] == models.IdempotencyStatusSucceeded {
		return true, nil
	}
	f.status[handler+"/"+messageId] = models.IdempotencyStatusStarted
	return false, nil
}

func (f *fakeIdempotency) Succeeded(_ context.Context, handler, messageId string) error {
	f.status[handler+"/"+messageId] = models.IdempotencyStatusSucceeded
	return nil
}

func (f *fakeIdempotency) Failed(_ context.Context, handler, messageId string, _ error) error {
	f.status[handler+"/"+messageId] = models.IdempotencyStatusFailed
	return nil
}

func TestPublishInline(t *testing.T) {
	d := &fakeDispatcher{}
	p := NewPublisher("", d, quietLogger())

	if err := p.Publish(context.Background(), "tenant-1", models.EventSyncCompleted, map[string]int{"records_processed": 3}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	p.Wait()
	if len(d.calls) != 1 || d.calls[0].tenantId != "tenant-1" || d.calls[0].data != `{"records_processed":3}` {
		t.Fatalf("calls = %+v", d.calls)
	}
	if err := p.Publish(context.Background(), "tenant-1", "invoice.paid", nil); !utils.IsKind(err, utils.ErrKindValidation) {
		t.Fatalf("err = %v, want validation for unknown event type", err)
	}
	if err := p.Publish(context.Background(), "", models.EventSyncCompleted, nil); err == nil {
		t.Fatalf("expected error without tenant")
	}
}

func TestPublishToTopic(t *testing.T) {
	d := &fakeDispatcher{}
	p := NewPublisher("webhook-events", d, quietLogger())
	var gotTopic string
	var gotMsg Message
	p.publishJSON = func(_ context.Context, topic string, obj interface{}, attrs map[string]string) (string, error) {
		gotTopic = topic
		gotMsg = obj.(Message)
		if attrs["event_type"] != models.EventIntegrationConnected {
			t.Errorf("attrs = %v", attrs)
		}
		return "m-1", nil
	}

	if err := p.Publish(context.Background(), "tenant-1", models.EventIntegrationConnected, map[string]string{"platform": "xero"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if gotTopic != "webhook-events" || gotMsg.TenantId != "tenant-1" || string(gotMsg.Data) != `{"platform":"xero"}` {
		t.Fatalf("topic = %s msg = %+v", gotTopic, gotMsg)
	}
	if len(d.calls) != 0 {
		t.Fatalf("topic publishing must not dispatch inline")
	}

	p.publishJSON = func(context.Context, string, interface{}, map[string]string) (string, error) {
		return "", errors.New("unavailable")
	}
	if err := p.Publish(context.Background(), "tenant-1", models.EventIntegrationConnected, nil); err == nil {
		t.Fatalf("expected publish error")
	}
}

func serve(h gin.HandlerFunc, path string, body []byte) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST(path, h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body)))
	return w
}

func eventEnvelope(t *testing.T, messageId string, msg Message) []byte {
	t.Helper()
	var env config.PubSubPushEnvelope
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	env.Message.Data = data
	env.Message.ID = messageId
	body, _ := json.Marshal(env)
	return body
}

func TestPubSubWebhookEventsHandler(t *testing.T) {
	d := &fakeDispatcher{}
	idem := &fakeIdempotency{}
	h := PubSubWebhookEventsHandler(d, idem, quietLogger())
	body := eventEnvelope(t, "m-1", Message{TenantId: "tenant-1", EventType: models.EventSyncFailed, Data: json.RawMessage(`{"integration_id":4}`)})

	if w := serve(h, "/pubsub/webhook-events", body); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if w := serve(h, "/pubsub/webhook-events", body); w.Code != http.StatusNoContent {
		t.Fatalf("redelivery status = %d", w.Code)
	}
	if len(d.calls) != 1 || d.calls[0].data != `{"integration_id":4}` {
		t.Fatalf("calls = %+v", d.calls)
	}

	if w := serve(h, "/pubsub/webhook-events", []byte("nope")); w.Code != http.StatusNoContent {
		t.Fatalf("malformed status = %d", w.Code)
	}

	d.err = errors.New("db down")
	body = eventEnvelope(t, "m-2", Message{TenantId: "tenant-1", EventType: models.EventSyncFailed})
	if w := serve(h, "/pubsub/webhook-events", body); w.Code != http.StatusInternalServerError {
		t.Fatalf("dispatch failure status = %d, want redelivery", w.Code)
	}
	if idem.status[webhookEventsHandlerName+"/m-2"] != models.IdempotencyStatusFailed {
		t.Fatalf("idempotency = %v", idem.status)
	}
}

func TestEmitHandler(t *testing.T) {
	d := &fakeDispatcher{}
	p := NewPublisher("", d, quietLogger())
	h := EmitHandler(p)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"tenant_id":"tenant-1","event_type":"integration.unhealthy","data":{"integration_id":1}}`, http.StatusAccepted},
		{"no data", `{"tenant_id":"tenant-1","event_type":"sync.completed"}`, http.StatusAccepted},
		{"unknown type", `{"tenant_id":"tenant-1","event_type":"invoice.paid"}`, http.StatusBadRequest},
		{"missing tenant", `{"event_type":"sync.completed"}`, http.StatusBadRequest},
		{"not json", `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := serve(h, "/internal/events", []byte(tc.body)); w.Code != tc.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tc.want, w.Body.String())
			}
		})
	}
	p.Wait()
	if len(d.calls) != 2 || d.calls[1].data != "{}" {
		t.Fatalf("calls = %+v", d.calls)
	}
}

type blockingDispatcher struct {
	release chan struct{}
	done    chan error
}

func (d *blockingDispatcher) Dispatch(ctx context.Context, _, _ string, _ interface{}) (*webhook.DispatchSummary, error) {
	<-d.release
	d.done <- ctx.Err()
	return &webhook.DispatchSummary{EventId: "evt_000000000002"}, nil
}

func TestPublishInlineDoesNotBlockCaller(t *testing.T) {
	d := &blockingDispatcher{release: make(chan struct{}), done: make(chan error, 1)}
	p := NewPublisher("", d, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Publish(ctx, "tenant-1", models.EventSyncFailed, map[string]string{"error": "boom"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	cancel()
	close(d.release)
	p.Wait()
	if err := <-d.done; err != nil {
		t.Fatalf("dispatch saw the caller's cancellation: %v", err)
	}
}
