// Package budget tracks provider spend against hourly, daily, and monthly
// budgets with exact wall-clock window resets.
package budget

import (
	"fmt"
	"sync"
	"time"

	"datacache/internal/core"
)

// Limits configures the spend ceilings and alerting thresholds.
type Limits struct {
	Hourly  float64 `yaml:"hourly" json:"hourly"`
	Daily   float64 `yaml:"daily" json:"daily"`
	Monthly float64 `yaml:"monthly" json:"monthly"`

	// WarningThresholdPct is the fraction of a window's budget at which a
	// cost warning fires (e.g. 0.8).
	WarningThresholdPct float64 `yaml:"warning_threshold_pct" json:"warning_threshold_pct"`

	// BlockOnDaily makes the daily budget a hard gate like the hourly one.
	// By default only the hourly budget blocks; daily and monthly overruns
	// warn and alert but do not refuse calls.
	BlockOnDaily bool `yaml:"block_on_daily" json:"block_on_daily"`
}

// State is a snapshot of current spend against the configured limits.
type State struct {
	HourlySpent  float64 `json:"hourly_spent"`
	DailySpent   float64 `json:"daily_spent"`
	MonthlySpent float64 `json:"monthly_spent"`
	Limits       Limits  `json:"limits"`
}

// HourlyRatio returns hourly spend as a fraction of the hourly limit,
// or 0 when no limit is set.
func (s State) HourlyRatio() float64 {
	if s.Limits.Hourly <= 0 {
		return 0
	}
	return s.HourlySpent / s.Limits.Hourly
}

// DailyRatio returns daily spend as a fraction of the daily limit.
func (s State) DailyRatio() float64 {
	if s.Limits.Daily <= 0 {
		return 0
	}
	return s.DailySpent / s.Limits.Daily
}

// Tracker accumulates spend in hourly/daily/monthly windows. Counters only
// increase within a window, reset exactly at the window boundary, and are
// never negative. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	limits Limits
	now    func() time.Time

	hourlySpent  float64
	dailySpent   float64
	monthlySpent float64
	hourStart    time.Time
	dayStart     time.Time
	monthStart   time.Time
}

// NewTracker creates a tracker. now may be nil, in which case time.Now is
// used; tests inject a controllable clock.
func NewTracker(limits Limits, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	t := &Tracker{limits: limits, now: now}
	t.resetWindows(now())
	return t
}

// CanAfford reports whether a call costing cost is allowed right now.
// The hourly budget is the hard gate because it bounds worst-case burn
// rate; the daily budget blocks only when BlockOnDaily is set.
func (t *Tracker) CanAfford(cost float64) error {
	if cost < 0 {
		return core.NewInvalidRequestError("cost must not be negative")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked(t.now())

	if t.limits.Hourly > 0 && t.hourlySpent+cost > t.limits.Hourly {
		return core.NewBudgetExceededError(fmt.Sprintf(
			"hourly budget exhausted: spent $%.4f of $%.4f, call costs $%.4f",
			t.hourlySpent, t.limits.Hourly, cost))
	}
	if t.limits.BlockOnDaily && t.limits.Daily > 0 && t.dailySpent+cost > t.limits.Daily {
		return core.NewBudgetExceededError(fmt.Sprintf(
			"daily budget exhausted: spent $%.4f of $%.4f, call costs $%.4f",
			t.dailySpent, t.limits.Daily, cost))
	}
	return nil
}

// Record charges cost against all windows. Rejected calls must not be
// recorded; callers gate with CanAfford first.
func (t *Tracker) Record(cost float64) {
	if cost <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked(t.now())

	t.hourlySpent += cost
	t.dailySpent += cost
	t.monthlySpent += cost
}

// Snapshot returns the current spend state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked(t.now())

	return State{
		HourlySpent:  t.hourlySpent,
		DailySpent:   t.dailySpent,
		MonthlySpent: t.monthlySpent,
		Limits:       t.limits,
	}
}

// UpdateLimits swaps the configured limits (hot reload). Spend counters are
// preserved.
func (t *Tracker) UpdateLimits(limits Limits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limits = limits
}

// rollLocked resets any window whose wall-clock boundary has passed.
func (t *Tracker) rollLocked(now time.Time) {
	if hourOf(now) != t.hourStart {
		t.hourlySpent = 0
		t.hourStart = hourOf(now)
	}
	if dayOf(now) != t.dayStart {
		t.dailySpent = 0
		t.dayStart = dayOf(now)
	}
	if monthOf(now) != t.monthStart {
		t.monthlySpent = 0
		t.monthStart = monthOf(now)
	}
}

func (t *Tracker) resetWindows(now time.Time) {
	t.hourStart = hourOf(now)
	t.dayStart = dayOf(now)
	t.monthStart = monthOf(now)
}

func hourOf(now time.Time) time.Time {
	return now.Truncate(time.Hour)
}

func dayOf(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

func monthOf(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
}
