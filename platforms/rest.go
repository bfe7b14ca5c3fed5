package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type endpoint struct {
	path         string
	idField      string
	updatedField string
	// normalize rewrites a decoded record in place before it is returned.
	normalize func(map[string]any)
}

type profile struct {
	platform       string
	category       string
	defaultBaseURL string
	authHeader     string
	entities       map[string]endpoint
}

// RESTAdapter implements Adapter for platforms that expose cursor-paged JSON
// collections with POST create and PUT update.
type RESTAdapter struct {
	profile profile
	client  *restClient
	now     func() time.Time
}

func newRESTAdapter(p profile, opts ClientOptions) *RESTAdapter {
	return &RESTAdapter{
		profile: p,
		client:  newRestClient(p.platform, p.defaultBaseURL, p.authHeader, opts),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (a *RESTAdapter) Platform() string { return a.profile.platform }

func (a *RESTAdapter) Category() string { return a.profile.category }

func (a *RESTAdapter) EntityTypes() []string {
	out := make([]string, 0, len(a.profile.entities))
	for e := range a.profile.entities {
		out = append(out, e)
	}
	return out
}

func (a *RESTAdapter) endpoint(entityType string) (endpoint, error) {
	ep, ok := a.profile.entities[entityType]
	if !ok {
		return endpoint{}, fmt.Errorf("%w: %s does not sync %s", ErrUnsupportedEntity, a.profile.platform, entityType)
	}
	return ep, nil
}

func (a *RESTAdapter) Pull(ctx context.Context, creds Credentials, entityType string, since *time.Time) ([]ExternalRecord, error) {
	ep, err := a.endpoint(entityType)
	if err != nil {
		return nil, err
	}
	raws, err := a.client.listAll(ctx, ep.path, since, creds)
	if err != nil {
		return nil, err
	}
	out := make([]ExternalRecord, 0, len(raws))
	for _, raw := range raws {
		data, err := decodeObject(raw)
		if err != nil {
			// Undecodable items surface as records without an id so the
			// engine counts them as failures.
			out = append(out, ExternalRecord{Data: map[string]any{"_raw": string(raw)}})
			continue
		}
		if ep.normalize != nil {
			ep.normalize(data)
		}
		out = append(out, ExternalRecord{
			ExternalId: stringField(data, ep.idField),
			UpdatedAt:  a.parseTimeOrNow(stringField(data, ep.updatedField)),
			Data:       data,
		})
	}
	return out, nil
}

// Push sends each record individually. A failure is reported on its
// PushResult and does not stop the remaining records.
func (a *RESTAdapter) Push(ctx context.Context, creds Credentials, entityType string, records []OutboundRecord) ([]PushResult, error) {
	ep, err := a.endpoint(entityType)
	if err != nil {
		return nil, err
	}
	results := make([]PushResult, 0, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := PushResult{CanonicalId: rec.CanonicalId, ExternalId: rec.ExternalId}
		var body map[string]any
		if rec.ExternalId == "" {
			res.Err = a.client.do(ctx, http.MethodPost, ep.path, nil, creds, rec.Data, &body)
			res.Created = true
		} else {
			res.Err = a.client.do(ctx, http.MethodPut, ep.path+"/"+rec.ExternalId, nil, creds, rec.Data, &body)
		}
		if res.Err == nil && res.ExternalId == "" {
			res.ExternalId = stringField(unwrapData(body), ep.idField)
		}
		results = append(results, res)
	}
	return results, nil
}

func (a *RESTAdapter) parseTimeOrNow(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return a.now()
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000-0700", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return a.now()
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("record is not an object")
	}
	return out, nil
}

// unwrapData returns body["data"] when the platform wraps single objects.
func unwrapData(body map[string]any) map[string]any {
	if inner, ok := body["data"].(map[string]any); ok {
		return inner
	}
	return body
}

func stringField(data map[string]any, field string) string {
	if data == nil || field == "" {
		return ""
	}
	switch v := data[field].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
