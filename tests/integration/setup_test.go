//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"datacache/config"
	"datacache/internal/app"
)

// Fixture is a fully wired gateway backed by a fake upstream provider and a
// temporary SQLite ledger.
type Fixture struct {
	App       *app.App
	ServerURL string

	// Upstream is the fake provider API; UpstreamCalls counts the requests
	// that actually reached it.
	Upstream      *httptest.Server
	UpstreamCalls *atomic.Int64
}

// FixtureConfig tunes the test gateway.
type FixtureConfig struct {
	// UpstreamHandler overrides the default echo-style upstream.
	UpstreamHandler http.Handler

	// HourlyBudget overrides the default test budget of $10.
	HourlyBudget float64

	// SecondProvider adds a costlier fallback provider.
	SecondProvider bool
}

// SetupGateway starts a gateway wired to a fake upstream. Everything is torn
// down through t.Cleanup.
func SetupGateway(t *testing.T, cfg FixtureConfig) *Fixture {
	t.Helper()

	calls := &atomic.Int64{}
	handler := cfg.UpstreamHandler
	if handler == nil {
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"path": %q, "league": %q}`, r.URL.Path, r.URL.Query().Get("league"))
		})
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(upstream.Close)

	hourly := cfg.HourlyBudget
	if hourly <= 0 {
		hourly = 10
	}

	dir := t.TempDir()
	providersYAML := fmt.Sprintf(`
providers:
  - name: primary
    base_url: %s
    cost_per_request: 0.01
    reliability: 0.99
    data_quality: 0.9
    specialties: [all]
    fallback_priority: 1
    avg_latency_ms: 5
`, upstream.URL)
	if cfg.SecondProvider {
		providersYAML += fmt.Sprintf(`  - name: fallback
    base_url: %s
    cost_per_request: 0.05
    reliability: 0.8
    data_quality: 0.8
    specialties: [all]
    fallback_priority: 2
    avg_latency_ms: 5
`, upstream.URL)
	}
	providersPath := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(providersPath, []byte(providersYAML), 0o644))

	t.Setenv("PROVIDERS_FILE", providersPath)
	t.Setenv("USAGE_DB_PATH", filepath.Join(dir, "ledger.db"))
	t.Setenv("USAGE_FLUSH_INTERVAL", "50ms")
	t.Setenv("BUDGET_HOURLY", fmt.Sprintf("%g", hourly))
	t.Setenv("MONITOR_ENABLED", "false")

	appCfg, err := config.Load()
	require.NoError(t, err)

	application, err := app.New(context.Background(), appCfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		application.Shutdown(ctx)
	})

	gateway := httptest.NewServer(application.Handler())
	t.Cleanup(gateway.Close)

	return &Fixture{
		App:           application,
		ServerURL:     gateway.URL,
		Upstream:      upstream,
		UpstreamCalls: calls,
	}
}

// jsonField extracts a gjson path from a response body.
func jsonField(body []byte, path string) gjson.Result {
	return gjson.GetBytes(body, path)
}
