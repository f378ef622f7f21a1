// Package monitor samples cache, router, and budget statistics on a fixed
// cadence, drives the per-metric alert state machine, and emits alert
// events and Prometheus gauges. It observes the request path through
// snapshots only and never sits on it.
package monitor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"datacache/internal/core"
	"datacache/internal/events"
	"datacache/internal/service"
)

// Severity is the alert state for one metric:
// Normal -> Warning -> Critical -> (quiet period) -> Normal.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Metric identifies a sampled series.
type Metric string

const (
	MetricHitRate     Metric = "hit_rate"
	MetricLatency     Metric = "latency"
	MetricHourlySpend Metric = "hourly_spend"
	MetricDailySpend  Metric = "daily_spend"
	MetricErrorRate   Metric = "error_rate"
)

// Thresholds configures when each metric enters Warning and Critical.
// Hit rate alerts when it falls below the bound; the rest alert above.
type Thresholds struct {
	HitRateWarning  float64 `yaml:"hit_rate_warning" json:"hit_rate_warning"`
	HitRateCritical float64 `yaml:"hit_rate_critical" json:"hit_rate_critical"`

	LatencyWarningMs  float64 `yaml:"latency_warning_ms" json:"latency_warning_ms"`
	LatencyCriticalMs float64 `yaml:"latency_critical_ms" json:"latency_critical_ms"`

	// Spend thresholds are fractions of the window budget (e.g. 0.8).
	SpendWarning  float64 `yaml:"spend_warning" json:"spend_warning"`
	SpendCritical float64 `yaml:"spend_critical" json:"spend_critical"`

	ErrorRateWarning  float64 `yaml:"error_rate_warning" json:"error_rate_warning"`
	ErrorRateCritical float64 `yaml:"error_rate_critical" json:"error_rate_critical"`
}

// DefaultThresholds returns the stock alerting configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HitRateWarning:    0.5,
		HitRateCritical:   0.25,
		LatencyWarningMs:  1000,
		LatencyCriticalMs: 3000,
		SpendWarning:      0.8,
		SpendCritical:     0.95,
		ErrorRateWarning:  0.1,
		ErrorRateCritical: 0.25,
	}
}

// Alert is one active or historical alert record.
type Alert struct {
	ID        string    `json:"id"`
	Metric    Metric    `json:"metric"`
	Severity  Severity  `json:"severity"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Message   string    `json:"message"`
	StartedAt time.Time `json:"started_at"`
}

// Config holds monitor knobs.
type Config struct {
	// Interval is the sampling cadence (default 30s).
	Interval time.Duration

	// QuietPeriod is how long a metric must stay under its threshold
	// before its alert resolves, damping flap (default 2m).
	QuietPeriod time.Duration

	Thresholds Thresholds

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// MetricsSource supplies the sampled snapshot, implemented by the service.
type MetricsSource interface {
	Metrics() service.Metrics
}

// Monitor runs the sampling loop and the alert state machine.
type Monitor struct {
	svc        MetricsSource
	bus        *events.Bus
	interval   time.Duration
	quiet      time.Duration
	thresholds Thresholds
	now        func() time.Time

	mu         sync.Mutex
	active     map[Metric]*Alert
	lastBreach map[Metric]time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a monitor over the service's metric snapshots.
func New(svc MetricsSource, bus *events.Bus, cfg Config) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	quiet := cfg.QuietPeriod
	if quiet <= 0 {
		quiet = 2 * time.Minute
	}
	thresholds := cfg.Thresholds
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		svc:        svc,
		bus:        bus,
		interval:   interval,
		quiet:      quiet,
		thresholds: thresholds,
		now:        now,
		active:     make(map[Metric]*Alert),
		lastBreach: make(map[Metric]time.Time),
		done:       make(chan struct{}),
	}
}

// Start launches the sampling loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sample()
			case <-m.done:
				return
			}
		}
	}()
}

// Stop terminates the sampling loop.
func (m *Monitor) Stop() {
	close(m.done)
	m.wg.Wait()
}

// Sample takes one metrics snapshot and advances the alert state machine.
// Exposed so tests can drive cycles without the ticker.
func (m *Monitor) Sample() {
	metrics := m.svc.Metrics()
	updateGauges(metrics, m.ActiveCount())

	// Hit rate only means something once traffic exists.
	if metrics.Cache.Hits+metrics.Cache.Misses >= 10 {
		m.evaluate(MetricHitRate, metrics.Cache.HitRate,
			m.thresholds.HitRateWarning, m.thresholds.HitRateCritical, true)
	}
	if metrics.Router.Requests >= 5 {
		m.evaluate(MetricLatency, metrics.Router.AvgLatencyMs,
			m.thresholds.LatencyWarningMs, m.thresholds.LatencyCriticalMs, false)
		m.evaluate(MetricErrorRate, metrics.Router.ErrorRate,
			m.thresholds.ErrorRateWarning, m.thresholds.ErrorRateCritical, false)
	}
	m.evaluate(MetricHourlySpend, metrics.Budget.HourlyRatio(),
		m.thresholds.SpendWarning, m.thresholds.SpendCritical, false)
	m.evaluate(MetricDailySpend, metrics.Budget.DailyRatio(),
		m.thresholds.SpendWarning, m.thresholds.SpendCritical, false)
}

// evaluate classifies value against the thresholds and transitions the
// metric's alert. below inverts the comparison for metrics where low is bad.
func (m *Monitor) evaluate(metric Metric, value, warning, critical float64, below bool) {
	severity := SeverityNormal
	threshold := 0.0
	breach := func(bound float64) bool {
		if below {
			return value < bound
		}
		return value > bound
	}
	if breach(critical) {
		severity, threshold = SeverityCritical, critical
	} else if breach(warning) {
		severity, threshold = SeverityWarning, warning
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.active[metric]

	if severity == SeverityNormal {
		if current == nil {
			return
		}
		// Resolve only after the quiet period without a breach.
		if now.Sub(m.lastBreach[metric]) >= m.quiet {
			delete(m.active, metric)
			delete(m.lastBreach, metric)
			slog.Info("alert resolved", "metric", metric, "id", current.ID)
		}
		return
	}

	m.lastBreach[metric] = now
	if current != nil && current.Severity == severity {
		current.Value = value
		return
	}

	alert := &Alert{
		ID:        uuid.NewString(),
		Metric:    metric,
		Severity:  severity,
		Value:     value,
		Threshold: threshold,
		Message:   fmt.Sprintf("%s at %.3f breached %s threshold %.3f", metric, value, severity, threshold),
		StartedAt: now,
	}
	m.active[metric] = alert

	slog.Warn("alert raised", "metric", metric, "severity", severity, "value", value, "threshold", threshold)
	if m.bus != nil {
		m.bus.Publish(core.Event{
			Type:    core.EventAlert,
			Message: alert.Message,
			Metadata: map[string]any{
				"id":       alert.ID,
				"metric":   string(metric),
				"severity": string(severity),
				"value":    value,
			},
		})
	}
}

// ActiveAlerts returns a copy of the currently active alerts.
func (m *Monitor) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, *a)
	}
	return out
}

// ActiveCount returns the number of active alerts.
func (m *Monitor) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
