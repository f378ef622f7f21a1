package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datacache/config"
	"datacache/internal/budget"
	"datacache/internal/cache"
	"datacache/internal/core"
	"datacache/internal/events"
	"datacache/internal/providers"
	"datacache/internal/ratelimit"
	"datacache/internal/router"
	"datacache/internal/service"
	"datacache/internal/usage"
)

type testEnv struct {
	server   *Server
	static   *providers.Static
	tracker  *budget.Tracker
	updates  []config.ProviderConfig
	removals []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{}

	spec := &core.ProviderSpec{
		Name:           "static",
		CostPerRequest: 0.01,
		Reliability:    0.99,
		DataQuality:    0.9,
		Specialties:    []core.DataType{core.DataTypeAll},
	}
	env.static = providers.NewStatic(spec)

	registry := router.NewRegistry()
	registry.Update(env.static)

	env.tracker = budget.NewTracker(budget.Limits{Hourly: 100, Daily: 1000}, nil)
	limiters := ratelimit.NewRegistry(nil)
	rt := router.New(registry, limiters, env.tracker, router.Config{})

	tiered := cache.NewTiered(nil, cache.TieredConfig{MaxL1Entries: 100})
	t.Cleanup(func() { tiered.Close() })

	bus := events.NewBus(64)
	svc := service.New(tiered, rt, env.tracker, bus, &usage.NoopLogger{}, service.Config{})

	env.server = New(svc, Config{
		BodySizeLimit: "1M",
		UpdateProvider: func(cfg config.ProviderConfig) error {
			if cfg.BaseURL == "" {
				return core.NewInvalidRequestError("base_url is required")
			}
			env.updates = append(env.updates, cfg)
			return nil
		},
		RemoveProvider: func(name string) bool {
			env.removals = append(env.removals, name)
			return name == "static"
		},
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var health service.Health
	decode(t, rec, &health)
	assert.Equal(t, "ok", health.Status)
}

func TestHealthDegraded(t *testing.T) {
	env := newTestEnv(t)
	env.tracker.Record(100)

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetDataEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.static.Load("market:quotes:league=nba", json.RawMessage(`{"odds": [1.5]}`))

	body := `{"endpoint": "quotes", "data_type": "market", "cacheable": true, "params": {"league": "nba"}}`

	rec := env.do(t, http.MethodPost, "/v1/data", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp core.Response
	decode(t, rec, &resp)
	assert.Equal(t, "static", resp.Provider)
	assert.False(t, resp.Cached)

	// A repeat of the same request is a cache hit.
	rec = env.do(t, http.MethodPost, "/v1/data", body)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.True(t, resp.Cached)
	assert.Zero(t, resp.Cost)
	assert.Equal(t, 1, env.static.Calls())
}

func TestGetDataValidationError(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/data", `{"data_type": "market"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "invalid_request", body.Error.Type)
}

func TestGetDataBudgetExceededMapsTo402(t *testing.T) {
	env := newTestEnv(t)
	env.tracker.Record(100)

	rec := env.do(t, http.MethodPost, "/v1/data",
		`{"endpoint": "quotes", "data_type": "market", "cacheable": false}`)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestBatchEndpoint(t *testing.T) {
	env := newTestEnv(t)

	body := `{"requests": [
		{"endpoint": "quotes", "data_type": "market", "cacheable": true, "params": {"league": "nba"}},
		{"endpoint": "quotes", "data_type": "market", "cacheable": true, "params": {"league": "nhl"}}
	]}`
	rec := env.do(t, http.MethodPost, "/v1/data/batch", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Results []json.RawMessage `json:"results"`
	}
	decode(t, rec, &out)
	assert.Len(t, out.Results, 2)
}

func TestBatchEndpointRejectsEmpty(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/data/batch", `{"requests": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWarmEndpoint(t *testing.T) {
	env := newTestEnv(t)

	body := `{"requests": [{"endpoint": "schedule", "data_type": "schedule", "cacheable": true}]}`
	rec := env.do(t, http.MethodPost, "/v1/warm", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Warmed    int `json:"warmed"`
		Requested int `json:"requested"`
	}
	decode(t, rec, &out)
	assert.Equal(t, 1, out.Warmed)
	assert.Equal(t, 1, out.Requested)
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Metrics service.Metrics `json:"metrics"`
	}
	decode(t, rec, &out)
	assert.Equal(t, 100.0, out.Metrics.Budget.Limits.Hourly)
}

func TestReportEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/report?period=1h", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report service.Report
	decode(t, rec, &report)
	assert.Equal(t, "1h0m0s", report.Period)
}

func TestReportRejectsBadPeriod(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/report?period=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportRequiresLedger(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/export", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "usage ledger")
}

func TestPutProvider(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/v1/providers/feed2",
		`{"base_url": "https://feed2.example", "cost_per_request": 0.02}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, env.updates, 1)
	// The path parameter wins over any name in the body.
	assert.Equal(t, "feed2", env.updates[0].Name)
	assert.Equal(t, "https://feed2.example", env.updates[0].BaseURL)
}

func TestPutProviderRejected(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/v1/providers/feed2", `{"cost_per_request": 0.02}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.updates)
}

func TestDeleteProvider(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/v1/providers/static", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/providers/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, []string{"static", "ghost"}, env.removals)
}

func TestInvalidateCache(t *testing.T) {
	env := newTestEnv(t)

	body := `{"endpoint": "quotes", "data_type": "market", "cacheable": true, "params": {"league": "nba"}}`
	rec := env.do(t, http.MethodPost, "/v1/data", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/cache", `{"tags": ["type:market"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Invalidated int `json:"invalidated"`
	}
	decode(t, rec, &out)
	assert.Equal(t, 1, out.Invalidated)

	// The next read misses and refetches.
	rec = env.do(t, http.MethodPost, "/v1/data", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, env.static.Calls())
}

func TestInvalidateCacheRequiresTarget(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/v1/cache", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBodyLimitEnforced(t *testing.T) {
	env := newTestEnv(t)

	huge := fmt.Sprintf(`{"endpoint": "quotes", "data_type": "market", "params": {"blob": %q}}`,
		strings.Repeat("x", 2<<20))
	rec := env.do(t, http.MethodPost, "/v1/data", huge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
