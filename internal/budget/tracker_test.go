package budget

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datacache/internal/core"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	// Mid-hour, mid-month so window boundaries are unambiguous.
	return &fakeClock{t: time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testLimits() Limits {
	return Limits{Hourly: 1.0, Daily: 10.0, Monthly: 100.0, WarningThresholdPct: 0.8}
}

func TestTrackerHourlyHardGate(t *testing.T) {
	clk := newFakeClock()
	tr := NewTracker(testLimits(), clk.Now)

	require.NoError(t, tr.CanAfford(0.95))
	tr.Record(0.95)

	err := tr.CanAfford(0.10)
	require.Error(t, err)
	assert.True(t, core.IsErrorType(err, core.ErrorTypeBudgetExceeded))

	// A cheaper call that still fits is allowed.
	assert.NoError(t, tr.CanAfford(0.05))
}

func TestTrackerRejectedCallNotCharged(t *testing.T) {
	clk := newFakeClock()
	tr := NewTracker(testLimits(), clk.Now)

	tr.Record(0.95)
	require.Error(t, tr.CanAfford(0.10))

	s := tr.Snapshot()
	assert.InDelta(t, 0.95, s.HourlySpent, 1e-9, "refused calls must not change spend")
}

func TestTrackerConservation(t *testing.T) {
	clk := newFakeClock()
	tr := NewTracker(testLimits(), clk.Now)

	costs := []float64{0.1, 0.25, 0.05, 0.3}
	var sum float64
	for _, c := range costs {
		require.NoError(t, tr.CanAfford(c))
		tr.Record(c)
		sum += c
	}

	s := tr.Snapshot()
	assert.InDelta(t, sum, s.HourlySpent, 1e-9)
	assert.InDelta(t, sum, s.DailySpent, 1e-9)
	assert.InDelta(t, sum, s.MonthlySpent, 1e-9)
}

func TestTrackerWindowResets(t *testing.T) {
	clk := newFakeClock()
	tr := NewTracker(testLimits(), clk.Now)

	tr.Record(0.9)

	// Crossing the hour boundary resets only the hourly counter.
	clk.Advance(time.Hour)
	s := tr.Snapshot()
	assert.Zero(t, s.HourlySpent)
	assert.InDelta(t, 0.9, s.DailySpent, 1e-9)
	assert.InDelta(t, 0.9, s.MonthlySpent, 1e-9)

	// Crossing midnight resets the daily counter too.
	clk.Advance(24 * time.Hour)
	s = tr.Snapshot()
	assert.Zero(t, s.DailySpent)
	assert.InDelta(t, 0.9, s.MonthlySpent, 1e-9)

	// A new month clears everything.
	clk.Advance(31 * 24 * time.Hour)
	s = tr.Snapshot()
	assert.Zero(t, s.MonthlySpent)
}

func TestTrackerDailyWarnOnlyByDefault(t *testing.T) {
	clk := newFakeClock()
	limits := testLimits()
	limits.Hourly = 100.0 // keep the hourly gate out of the way
	tr := NewTracker(limits, clk.Now)

	tr.Record(9.99)
	assert.NoError(t, tr.CanAfford(5.0), "daily overrun must not block by default")

	limits.BlockOnDaily = true
	tr.UpdateLimits(limits)
	err := tr.CanAfford(5.0)
	require.Error(t, err)
	assert.True(t, core.IsErrorType(err, core.ErrorTypeBudgetExceeded))
}

func TestTrackerNegativeCostRejected(t *testing.T) {
	tr := NewTracker(testLimits(), nil)
	err := tr.CanAfford(-0.01)
	require.Error(t, err)
	assert.True(t, core.IsErrorType(err, core.ErrorTypeInvalidRequest))

	// Record ignores non-positive costs.
	tr.Record(-1)
	assert.Zero(t, tr.Snapshot().HourlySpent)
}

func TestStateRatios(t *testing.T) {
	s := State{HourlySpent: 0.5, DailySpent: 2.0, Limits: Limits{Hourly: 1.0, Daily: 10.0}}
	assert.InDelta(t, 0.5, s.HourlyRatio(), 1e-9)
	assert.InDelta(t, 0.2, s.DailyRatio(), 1e-9)

	var zero State
	assert.Zero(t, zero.HourlyRatio())
	assert.Zero(t, zero.DailyRatio())
}
