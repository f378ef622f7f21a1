// Package providers contains adapters for metered upstream data sources.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"datacache/internal/core"
)

// maxResponseBytes bounds how much of a provider response is read.
const maxResponseBytes = 4 * 1024 * 1024

// HTTPProvider is a generic JSON-over-HTTP adapter for a metered data API.
// Single fetches are GETs with query parameters; batch fetches POST the
// grouped parameter sets to "<endpoint>/batch" and expect a JSON array of
// results in request order.
type HTTPProvider struct {
	spec   *core.ProviderSpec
	client *http.Client
	apiKey string
	// payloadPath optionally selects a sub-document of the response body
	// (gjson path, e.g. "data"); empty keeps the whole body.
	payloadPath string
}

// HTTPOption customizes an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithAPIKey sets the bearer token sent on every request.
func WithAPIKey(key string) HTTPOption {
	return func(p *HTTPProvider) { p.apiKey = key }
}

// WithPayloadPath selects a sub-document of the provider response as the
// cached payload.
func WithPayloadPath(path string) HTTPOption {
	return func(p *HTTPProvider) { p.payloadPath = path }
}

// NewHTTP creates an HTTP provider adapter. client may be nil, in which case
// http.DefaultClient is used.
func NewHTTP(spec *core.ProviderSpec, client *http.Client, opts ...HTTPOption) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	p := &HTTPProvider{spec: spec, client: client}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Spec implements core.Provider.
func (p *HTTPProvider) Spec() *core.ProviderSpec {
	return p.spec
}

// Fetch implements core.Provider.
func (p *HTTPProvider) Fetch(ctx context.Context, req *core.DataRequest) (*core.Response, error) {
	u, err := p.buildURL(req.Endpoint, req.Params)
	if err != nil {
		return nil, core.NewProviderFailureError(p.spec.Name, "invalid endpoint URL", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, core.NewProviderFailureError(p.spec.Name, "failed to build request", err)
	}
	p.setHeaders(httpReq)

	body, err := p.do(httpReq)
	if err != nil {
		return nil, err
	}

	payload, err := p.extractPayload(body)
	if err != nil {
		return nil, err
	}

	return &core.Response{
		Key:       req.CacheKey(),
		Payload:   payload,
		Provider:  p.spec.Name,
		FetchedAt: time.Now(),
	}, nil
}

// FetchBatch implements core.Provider. The group shares an endpoint; the
// adapter POSTs all parameter sets at once and aligns the returned array
// with the requests.
func (p *HTTPProvider) FetchBatch(ctx context.Context, reqs []*core.DataRequest) ([]*core.Response, error) {
	if !p.spec.SupportsBatch {
		return nil, core.NewProviderFailureError(p.spec.Name, "provider does not support batch calls", nil)
	}
	if len(reqs) == 0 {
		return nil, nil
	}

	paramSets := make([]map[string]string, len(reqs))
	for i, req := range reqs {
		paramSets[i] = req.Params
	}
	reqBody, err := json.Marshal(map[string]any{"requests": paramSets})
	if err != nil {
		return nil, core.NewProviderFailureError(p.spec.Name, "failed to marshal batch body", err)
	}

	endpoint := strings.TrimSuffix(reqs[0].Endpoint, "/") + "/batch"
	u, err := p.buildURL(endpoint, nil)
	if err != nil {
		return nil, core.NewProviderFailureError(p.spec.Name, "invalid endpoint URL", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(reqBody))
	if err != nil {
		return nil, core.NewProviderFailureError(p.spec.Name, "failed to build batch request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	p.setHeaders(httpReq)

	body, err := p.do(httpReq)
	if err != nil {
		return nil, err
	}

	results := gjson.GetBytes(body, "results")
	if !results.IsArray() {
		return nil, core.NewProviderFailureError(p.spec.Name, "batch response missing results array", nil)
	}
	items := results.Array()
	if len(items) != len(reqs) {
		return nil, core.NewProviderFailureError(p.spec.Name,
			fmt.Sprintf("batch response has %d results for %d requests", len(items), len(reqs)), nil)
	}

	now := time.Now()
	resps := make([]*core.Response, len(reqs))
	for i, item := range items {
		resps[i] = &core.Response{
			Key:       reqs[i].CacheKey(),
			Payload:   json.RawMessage(item.Raw),
			Provider:  p.spec.Name,
			FetchedAt: now,
		}
	}
	return resps, nil
}

func (p *HTTPProvider) buildURL(endpoint string, params map[string]string) (string, error) {
	base, err := url.Parse(p.spec.BaseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimPrefix(endpoint, "/"))
	if err != nil {
		return "", err
	}
	u := base.ResolveReference(ref)

	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (p *HTTPProvider) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

func (p *HTTPProvider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, core.NewProviderFailureError(p.spec.Name, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, core.NewProviderFailureError(p.spec.Name, "failed to read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		// Providers wrap errors differently; pull a message field if present.
		if m := gjson.GetBytes(body, "error.message"); m.Exists() {
			msg = m.String()
		} else if m := gjson.GetBytes(body, "message"); m.Exists() {
			msg = m.String()
		}
		return nil, core.NewProviderFailureError(p.spec.Name,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg), nil)
	}
	return body, nil
}

func (p *HTTPProvider) extractPayload(body []byte) (json.RawMessage, error) {
	if !gjson.ValidBytes(body) {
		return nil, core.NewProviderFailureError(p.spec.Name, "response is not valid JSON", nil)
	}
	if p.payloadPath == "" {
		return json.RawMessage(body), nil
	}
	sub := gjson.GetBytes(body, p.payloadPath)
	if !sub.Exists() {
		return nil, core.NewProviderFailureError(p.spec.Name,
			fmt.Sprintf("response missing %q field", p.payloadPath), nil)
	}
	return json.RawMessage(sub.Raw), nil
}
