package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datacache/internal/budget"
	"datacache/internal/cache"
	"datacache/internal/core"
	"datacache/internal/events"
	"datacache/internal/router"
	"datacache/internal/service"
)

// stubSource serves whatever snapshot the test sets.
type stubSource struct {
	metrics service.Metrics
}

func (s *stubSource) Metrics() service.Metrics { return s.metrics }

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func healthyMetrics() service.Metrics {
	return service.Metrics{
		Cache: cache.Stats{Hits: 80, Misses: 20, HitRate: 0.8},
		Router: router.Stats{
			Requests:     100,
			Failures:     2,
			ErrorRate:    0.02,
			AvgLatencyMs: 150,
		},
		Budget: budget.State{
			HourlySpent: 0.10,
			DailySpent:  1.0,
			Limits:      budget.Limits{Hourly: 1.0, Daily: 20.0},
		},
	}
}

func newTestMonitor(t *testing.T) (*Monitor, *stubSource, *testClock, <-chan core.Event) {
	t.Helper()

	src := &stubSource{metrics: healthyMetrics()}
	clk := &testClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
	bus := events.NewBus(64)

	m := New(src, bus, Config{
		QuietPeriod: 2 * time.Minute,
		Now:         clk.Now,
	})

	ch, cancel := bus.Subscribe()
	t.Cleanup(cancel)

	return m, src, clk, ch
}

func drainAlerts(ch <-chan core.Event) []core.Event {
	var out []core.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSampleHealthyRaisesNothing(t *testing.T) {
	m, _, _, ch := newTestMonitor(t)

	m.Sample()

	assert.Zero(t, m.ActiveCount())
	assert.Empty(t, drainAlerts(ch))
}

func TestHitRateWarningThenCritical(t *testing.T) {
	m, src, _, ch := newTestMonitor(t)

	src.metrics.Cache.HitRate = 0.4
	m.Sample()

	alerts := m.ActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, MetricHitRate, alerts[0].Metric)
	assert.Equal(t, SeverityWarning, alerts[0].Severity)
	assert.InDelta(t, 0.5, alerts[0].Threshold, 1e-9)
	warningID := alerts[0].ID

	raised := drainAlerts(ch)
	require.Len(t, raised, 1)
	assert.Equal(t, core.EventAlert, raised[0].Type)
	assert.Equal(t, "hit_rate", raised[0].Metadata["metric"])
	assert.Equal(t, "warning", raised[0].Metadata["severity"])

	// Escalation replaces the alert with a new record.
	src.metrics.Cache.HitRate = 0.1
	m.Sample()

	alerts = m.ActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
	assert.NotEqual(t, warningID, alerts[0].ID)
	require.Len(t, drainAlerts(ch), 1)
}

func TestRepeatBreachUpdatesValueWithoutNewAlert(t *testing.T) {
	m, src, _, ch := newTestMonitor(t)

	src.metrics.Router.AvgLatencyMs = 1500
	m.Sample()
	require.Equal(t, 1, m.ActiveCount())
	first := m.ActiveAlerts()[0]
	drainAlerts(ch)

	src.metrics.Router.AvgLatencyMs = 1800
	m.Sample()

	alerts := m.ActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, first.ID, alerts[0].ID)
	assert.InDelta(t, 1800, alerts[0].Value, 1e-9)
	assert.Empty(t, drainAlerts(ch), "no duplicate event for a continuing breach")
}

func TestQuietPeriodDelaysResolution(t *testing.T) {
	m, src, clk, _ := newTestMonitor(t)

	src.metrics.Router.ErrorRate = 0.3
	m.Sample()
	require.Equal(t, 1, m.ActiveCount())

	// Recovery starts the quiet period; the alert stays active meanwhile.
	src.metrics.Router.ErrorRate = 0.01
	clk.Advance(time.Minute)
	m.Sample()
	assert.Equal(t, 1, m.ActiveCount())

	clk.Advance(time.Minute)
	m.Sample()
	assert.Zero(t, m.ActiveCount())
}

func TestBreachDuringQuietPeriodRestartsIt(t *testing.T) {
	m, src, clk, _ := newTestMonitor(t)

	src.metrics.Router.ErrorRate = 0.3
	m.Sample()
	require.Equal(t, 1, m.ActiveCount())

	src.metrics.Router.ErrorRate = 0.01
	clk.Advance(90 * time.Second)
	m.Sample()
	require.Equal(t, 1, m.ActiveCount())

	// Re-breach resets the clock on resolution.
	src.metrics.Router.ErrorRate = 0.3
	clk.Advance(10 * time.Second)
	m.Sample()

	src.metrics.Router.ErrorRate = 0.01
	clk.Advance(90 * time.Second)
	m.Sample()
	assert.Equal(t, 1, m.ActiveCount(), "quiet period restarted by the re-breach")

	clk.Advance(time.Minute)
	m.Sample()
	assert.Zero(t, m.ActiveCount())
}

func TestSpendAlertsUseBudgetRatios(t *testing.T) {
	m, src, _, _ := newTestMonitor(t)

	src.metrics.Budget.HourlySpent = 0.85
	src.metrics.Budget.DailySpent = 19.5
	m.Sample()

	alerts := m.ActiveAlerts()
	require.Len(t, alerts, 2)

	bySeverity := map[Metric]Severity{}
	for _, a := range alerts {
		bySeverity[a.Metric] = a.Severity
	}
	assert.Equal(t, SeverityWarning, bySeverity[MetricHourlySpend])
	assert.Equal(t, SeverityCritical, bySeverity[MetricDailySpend])
}

func TestLowTrafficSuppressesRateAlerts(t *testing.T) {
	m, src, _, _ := newTestMonitor(t)

	src.metrics.Cache = cache.Stats{Hits: 1, Misses: 5, HitRate: 1.0 / 6.0}
	src.metrics.Router = router.Stats{
		Requests:     3,
		Failures:     3,
		ErrorRate:    1.0,
		AvgLatencyMs: 9000,
	}
	m.Sample()

	assert.Zero(t, m.ActiveCount())
}

func TestStartStopSamplesOnInterval(t *testing.T) {
	src := &stubSource{metrics: healthyMetrics()}
	src.metrics.Router.AvgLatencyMs = 5000

	m := New(src, nil, Config{Interval: 10 * time.Millisecond})
	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool {
		return m.ActiveCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
}
