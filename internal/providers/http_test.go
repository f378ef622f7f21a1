package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datacache/internal/core"
)

func testSpec(baseURL string, batch bool) *core.ProviderSpec {
	return &core.ProviderSpec{
		Name:           "sportsfeed",
		BaseURL:        baseURL,
		CostPerRequest: 0.01,
		SupportsBatch:  batch,
	}
}

func quoteRequest() *core.DataRequest {
	return &core.DataRequest{
		Endpoint: "quotes",
		DataType: core.DataTypeMarket,
		Params:   map[string]string{"league": "nba"},
	}
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/quotes", r.URL.Path)
		assert.Equal(t, "nba", r.URL.Query().Get("league"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"odds": [1.5, 2.1]}`))
	}))
	defer srv.Close()

	p := NewHTTP(testSpec(srv.URL, false), srv.Client(), WithAPIKey("test-key"))

	resp, err := p.Fetch(context.Background(), quoteRequest())
	require.NoError(t, err)
	assert.Equal(t, "market:quotes:league=nba", resp.Key)
	assert.Equal(t, "sportsfeed", resp.Provider)
	assert.JSONEq(t, `{"odds": [1.5, 2.1]}`, string(resp.Payload))
	assert.False(t, resp.FetchedAt.IsZero())
}

func TestFetchPayloadPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"meta": {"page": 1}, "data": {"items": [{"id": 7}]}}`))
	}))
	defer srv.Close()

	p := NewHTTP(testSpec(srv.URL, false), srv.Client(), WithPayloadPath("data.items"))

	resp, err := p.Fetch(context.Background(), quoteRequest())
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id": 7}]`, string(resp.Payload))
}

func TestFetchMissingPayloadPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"meta": {}}`))
	}))
	defer srv.Close()

	p := NewHTTP(testSpec(srv.URL, false), srv.Client(), WithPayloadPath("data"))

	_, err := p.Fetch(context.Background(), quoteRequest())
	require.Error(t, err)
	assert.True(t, core.IsErrorType(err, core.ErrorTypeProviderFailure))
	assert.Contains(t, err.Error(), `"data"`)
}

func TestFetchUpstreamErrorExtractsMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"nested error object", `{"error": {"message": "quota exhausted"}}`, "quota exhausted"},
		{"flat message field", `{"message": "not found"}`, "not found"},
		{"opaque body", `plain failure`, "plain failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewHTTP(testSpec(srv.URL, false), srv.Client())

			_, err := p.Fetch(context.Background(), quoteRequest())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "HTTP 429")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFetchInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{broken`))
	}))
	defer srv.Close()

	p := NewHTTP(testSpec(srv.URL, false), srv.Client())

	_, err := p.Fetch(context.Background(), quoteRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestFetchContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	p := NewHTTP(testSpec(srv.URL, false), srv.Client())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Fetch(ctx, quoteRequest())
	require.Error(t, err)
	assert.True(t, core.IsErrorType(err, core.ErrorTypeProviderFailure))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/quotes/batch", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			Requests []map[string]string `json:"requests"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Requests, 2)
		assert.Equal(t, "nba", body.Requests[0]["league"])
		assert.Equal(t, "nhl", body.Requests[1]["league"])

		w.Write([]byte(`{"results": [{"odds": [1.5]}, {"odds": [2.0]}]}`))
	}))
	defer srv.Close()

	p := NewHTTP(testSpec(srv.URL, true), srv.Client())

	reqs := []*core.DataRequest{
		{Endpoint: "quotes", DataType: core.DataTypeMarket, Params: map[string]string{"league": "nba"}},
		{Endpoint: "quotes", DataType: core.DataTypeMarket, Params: map[string]string{"league": "nhl"}},
	}
	resps, err := p.FetchBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, resps, 2)
	assert.Equal(t, "market:quotes:league=nba", resps[0].Key)
	assert.JSONEq(t, `{"odds": [1.5]}`, string(resps[0].Payload))
	assert.Equal(t, "market:quotes:league=nhl", resps[1].Key)
	assert.JSONEq(t, `{"odds": [2.0]}`, string(resps[1].Payload))
}

func TestFetchBatchCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": [{"odds": []}]}`))
	}))
	defer srv.Close()

	p := NewHTTP(testSpec(srv.URL, true), srv.Client())

	reqs := []*core.DataRequest{
		{Endpoint: "quotes", DataType: core.DataTypeMarket, Params: map[string]string{"league": "nba"}},
		{Endpoint: "quotes", DataType: core.DataTypeMarket, Params: map[string]string{"league": "nhl"}},
	}
	_, err := p.FetchBatch(context.Background(), reqs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 results for 2 requests")
}

func TestFetchBatchUnsupported(t *testing.T) {
	p := NewHTTP(testSpec("https://example.invalid", false), nil)

	_, err := p.FetchBatch(context.Background(), []*core.DataRequest{quoteRequest()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support batch")
}

func TestFetchBatchEmpty(t *testing.T) {
	p := NewHTTP(testSpec("https://example.invalid", true), nil)

	resps, err := p.FetchBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, resps)
}
