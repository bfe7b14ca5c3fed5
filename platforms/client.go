package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"golang.org/x/time/rate"
)

// restClient is the HTTP client shared by the built-in adapters: one per
// platform, paced by a token bucket and bounded by a request timeout.
type restClient struct {
	baseURL    string
	authHeader string
	http       *http.Client
	limiter    *rate.Limiter
}

type ClientOptions struct {
	Timeout       time.Duration
	RatePerMinute int
}

func newRestClient(platform, defaultBaseURL, authHeader string, opts ClientOptions) *restClient {
	envPrefix := strings.ToUpper(platform)
	baseURL := strings.TrimSpace(os.Getenv(envPrefix + "_API_BASE_URL"))
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RatePerMinute <= 0 {
		opts.RatePerMinute = 60
	}
	every := time.Minute / time.Duration(opts.RatePerMinute)
	return &restClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authHeader: authHeader,
		http:       &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Every(every), 1),
	}
}

type listPage struct {
	Data       []json.RawMessage `json:"data"`
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"next_cursor"`
	HasMore    *bool             `json:"has_more"`
}

func (p listPage) records() []json.RawMessage {
	if len(p.Data) > 0 {
		return p.Data
	}
	return p.Items
}

func (p listPage) done() bool {
	return p.NextCursor == "" || (p.HasMore != nil && !*p.HasMore)
}

func (c *restClient) authorize(req *http.Request, creds Credentials) error {
	if strings.TrimSpace(creds.AccessToken) == "" {
		return ErrCredentialsMissing
	}
	if c.authHeader == "" || strings.EqualFold(c.authHeader, "Authorization") {
		req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
		return nil
	}
	req.Header.Set(c.authHeader, creds.AccessToken)
	return nil
}

// do sends one request and decodes a 2xx JSON body into out. Non-2xx
// responses come back as upstream errors carrying the status and body.
func (c *restClient) do(ctx context.Context, method, path string, params url.Values, creds Credentials, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if err := c.authorize(req, creds); err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return utils.NewUpstreamError(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return utils.NewUpstreamError(
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
			"%s %s", method, path,
		)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}

// listAll follows next_cursor until the platform reports no more pages.
func (c *restClient) listAll(ctx context.Context, path string, since *time.Time, creds Credentials) ([]json.RawMessage, error) {
	var all []json.RawMessage
	cursor := ""
	for {
		params := url.Values{}
		if since != nil {
			params.Set("updated_since", since.UTC().Format(time.RFC3339))
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		params.Set("limit", "200")

		var page listPage
		if err := c.do(ctx, http.MethodGet, path, params, creds, nil, &page); err != nil {
			return all, err
		}
		all = append(all, page.records()...)
		if page.done() {
			return all, nil
		}
		cursor = page.NextCursor
	}
}
