package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"datacache/internal/core"
)

// ProviderConfig declares one upstream data provider in the YAML file.
type ProviderConfig struct {
	Name             string    `yaml:"name"`
	BaseURL          string    `yaml:"base_url"`
	APIKey           string    `yaml:"api_key"`
	CostPerRequest   float64   `yaml:"cost_per_request"`
	RateLimit        rateLimit `yaml:"rate_limit"`
	Reliability      float64   `yaml:"reliability"`
	DataQuality      float64   `yaml:"data_quality"`
	Specialties      []string  `yaml:"specialties"`
	FallbackPriority int       `yaml:"fallback_priority"`
	AvgLatencyMs     int       `yaml:"avg_latency_ms"`
	SupportsBatch    bool      `yaml:"supports_batch"`

	// PayloadPath optionally names the JSON sub-document to extract from
	// responses, e.g. "data.quotes".
	PayloadPath string `yaml:"payload_path"`
}

type rateLimit struct {
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
	PerDay    int `yaml:"per_day"`
}

// Spec converts the declaration into the router's provider spec.
func (p *ProviderConfig) Spec() *core.ProviderSpec {
	specialties := make([]core.DataType, 0, len(p.Specialties))
	for _, s := range p.Specialties {
		specialties = append(specialties, core.DataType(s))
	}
	return &core.ProviderSpec{
		Name:           p.Name,
		BaseURL:        p.BaseURL,
		CostPerRequest: p.CostPerRequest,
		RateLimit: core.RateLimit{
			RequestsPerMinute: p.RateLimit.PerMinute,
			RequestsPerHour:   p.RateLimit.PerHour,
			RequestsPerDay:    p.RateLimit.PerDay,
		},
		Reliability:      p.Reliability,
		DataQuality:      p.DataQuality,
		Specialties:      specialties,
		FallbackPriority: p.FallbackPriority,
		AvgLatency:       time.Duration(p.AvgLatencyMs) * time.Millisecond,
		SupportsBatch:    p.SupportsBatch,
	}
}

// ProvidersFile is the parsed provider/budget YAML document.
type ProvidersFile struct {
	Providers []ProviderConfig `yaml:"providers"`

	// Budget, when present, overrides the environment budget limits. This
	// keeps spend policy next to the provider pricing it governs.
	Budget *BudgetConfig `yaml:"budget"`
}

// LoadProviders reads and expands the provider YAML file.
func LoadProviders(path string) (*ProvidersFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}

	var pf ProvidersFile
	if err := yaml.Unmarshal([]byte(expandString(string(raw))), &pf); err != nil {
		return nil, fmt.Errorf("parse providers file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(pf.Providers))
	for i := range pf.Providers {
		p := &pf.Providers[i]
		if p.Name == "" {
			return nil, fmt.Errorf("providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
		if p.CostPerRequest < 0 {
			return nil, fmt.Errorf("provider %q: cost_per_request must not be negative", p.Name)
		}
		if p.Reliability < 0 || p.Reliability > 1 {
			return nil, fmt.Errorf("provider %q: reliability must be in [0, 1], got %g", p.Name, p.Reliability)
		}
		if p.DataQuality < 0 || p.DataQuality > 1 {
			return nil, fmt.Errorf("provider %q: data_quality must be in [0, 1], got %g", p.Name, p.DataQuality)
		}
		for _, s := range p.Specialties {
			if !core.DataType(s).Valid() {
				return nil, fmt.Errorf("provider %q: unknown specialty %q", p.Name, s)
			}
		}
	}
	return &pf, nil
}

// WatchProviders polls the provider file's modification time and invokes
// onChange with each successfully reloaded document. It blocks until ctx is
// cancelled. Parse failures keep the previous configuration active.
func WatchProviders(ctx context.Context, path string, interval time.Duration, onChange func(*ProvidersFile)) {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil || !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()
			pf, err := LoadProviders(path)
			if err != nil {
				slog.Warn("provider file reload failed, keeping previous configuration", "path", path, "error", err)
				continue
			}
			slog.Info("provider file reloaded", "path", path, "providers", len(pf.Providers))
			onChange(pf)
		}
	}
}

// expandString expands ${VAR} and ${VAR:-default} placeholders from the
// environment. Unset variables without a default expand to the empty string.
func expandString(s string) string {
	return os.Expand(s, func(key string) string {
		name, def, hasDefault := strings.Cut(key, ":-")
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})
}
