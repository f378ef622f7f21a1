package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "1M", cfg.Server.BodySizeLimit)
	assert.True(t, cfg.Server.MetricsEnabled)

	assert.Equal(t, 1000, cfg.Cache.MaxL1Entries)
	assert.Equal(t, 10, cfg.Cache.PromoteThreshold)
	assert.Empty(t, cfg.Cache.RedisURL)

	assert.InDelta(t, 1.0, cfg.Budget.Hourly, 1e-9)
	assert.InDelta(t, 20.0, cfg.Budget.Daily, 1e-9)
	assert.InDelta(t, 80.0, cfg.Budget.WarningThresholdPct, 1e-9)
	assert.False(t, cfg.Budget.BlockOnDaily)

	assert.True(t, cfg.Usage.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Usage.FlushInterval)

	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "providers.yaml", cfg.ProvidersPath)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_L1_MAX_ENTRIES", "50")
	t.Setenv("BUDGET_HOURLY", "2.5")
	t.Setenv("BUDGET_BLOCK_ON_DAILY", "true")
	t.Setenv("MONITOR_INTERVAL", "5s")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("PROVIDERS_FILE", "/etc/datacache/providers.yaml")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 50, cfg.Cache.MaxL1Entries)
	assert.InDelta(t, 2.5, cfg.Budget.Hourly, 1e-9)
	assert.True(t, cfg.Budget.BlockOnDaily)
	assert.Equal(t, 5*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/etc/datacache/providers.yaml", cfg.ProvidersPath)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CACHE_L1_MAX_ENTRIES", "not-a-number")
	t.Setenv("BUDGET_HOURLY", "lots")
	t.Setenv("MONITOR_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Cache.MaxL1Entries)
	assert.InDelta(t, 1.0, cfg.Budget.Hourly, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"zero l1 entries", "CACHE_L1_MAX_ENTRIES", "0", "CACHE_L1_MAX_ENTRIES"},
		{"negative hourly budget", "BUDGET_HOURLY", "-1", "BUDGET_HOURLY"},
		{"warning pct over 100", "BUDGET_WARNING_PCT", "150", "BUDGET_WARNING_PCT"},
		{"unknown log format", "LOG_FORMAT", "xml", "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpandString(t *testing.T) {
	t.Setenv("DC_SET", "value")
	t.Setenv("DC_EMPTY", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text untouched", "no placeholders here", "no placeholders here"},
		{"set variable", "${DC_SET}", "value"},
		{"unset variable", "${DC_UNSET}", ""},
		{"unset with default", "${DC_UNSET:-fallback}", "fallback"},
		{"set beats default", "${DC_SET:-fallback}", "value"},
		{"empty uses default", "${DC_EMPTY:-fallback}", "fallback"},
		{"embedded", "key: ${DC_SET}!", "key: value!"},
		{"empty default", "${DC_UNSET:-}", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandString(tt.input))
		})
	}
}
