package service

import (
	"context"
	"fmt"
	"time"

	"datacache/internal/budget"
	"datacache/internal/cache"
	"datacache/internal/core"
	"datacache/internal/router"
	"datacache/internal/usage"
)

// hitRateTarget is the per-data-type hit rate below which the report
// recommends a TTL increase.
const hitRateTarget = 0.7

// Report is the periodic cost-optimization summary.
type Report struct {
	GeneratedAt     time.Time           `json:"generated_at"`
	Period          string              `json:"period"`
	Totals          usage.Summary       `json:"totals"`
	ByDataType      []usage.TypeSummary `json:"by_data_type"`
	Cache           cache.Stats         `json:"cache"`
	Router          router.Stats        `json:"router"`
	Budget          budget.State        `json:"budget"`
	Recommendations []string            `json:"recommendations"`
}

// SetReader attaches the ledger reader used by reports and exports. The
// service works without one; reports then cover in-memory stats only.
func (s *Service) SetReader(r *usage.Reader) {
	s.reader = r
}

// OptimizationReport aggregates hit rate, spend, and per-data-type cost
// drivers over the trailing period and derives textual recommendations.
func (s *Service) OptimizationReport(ctx context.Context, period time.Duration) (*Report, error) {
	if period <= 0 {
		period = 24 * time.Hour
	}
	now := s.now()

	report := &Report{
		GeneratedAt: now,
		Period:      period.String(),
		Cache:       s.cache.Stats(),
		Router:      s.router.Stats(),
		Budget:      s.budget.Snapshot(),
	}

	if s.reader != nil {
		since := now.Add(-period)
		totals, err := s.reader.Totals(ctx, since)
		if err != nil {
			return nil, err
		}
		report.Totals = totals

		byType, err := s.reader.ByDataType(ctx, since)
		if err != nil {
			return nil, err
		}
		report.ByDataType = byType
	}

	report.Recommendations = s.recommend(report)

	if len(report.Recommendations) > 0 {
		s.publish(core.Event{
			Type:    core.EventConfigOptimized,
			Message: fmt.Sprintf("optimization report generated with %d recommendation(s)", len(report.Recommendations)),
		})
	}
	return report, nil
}

// recommend turns the aggregates into actionable advice.
func (s *Service) recommend(r *Report) []string {
	var recs []string

	for _, t := range r.ByDataType {
		if t.Requests < 10 {
			continue // too few samples to judge
		}
		if t.HitRate < hitRateTarget {
			recs = append(recs, fmt.Sprintf(
				"raise TTL for data type %q: hit rate %.0f%% is below the %.0f%% target and it cost $%.4f this period",
				t.DataType, t.HitRate*100, hitRateTarget*100, t.TotalCost))
		}
	}

	if len(r.ByDataType) > 0 {
		top := r.ByDataType[0]
		if top.TotalCost > 0 && r.Totals.TotalCost > 0 && top.TotalCost/r.Totals.TotalCost > 0.5 {
			recs = append(recs, fmt.Sprintf(
				"data type %q drives %.0f%% of spend; consider batching its requests or longer TTLs",
				top.DataType, top.TotalCost/r.Totals.TotalCost*100))
		}
	}

	if r.Budget.HourlyRatio() > 0.9 {
		recs = append(recs, fmt.Sprintf(
			"hourly spend at %.0f%% of budget; expect budget_exceeded refusals until the window resets",
			r.Budget.HourlyRatio()*100))
	}

	if r.Cache.L1Evictions > int64(r.Cache.L1Entries)*10 && r.Cache.L1Entries > 0 {
		recs = append(recs, "L1 eviction churn is high relative to capacity; consider raising the L1 entry limit")
	}

	return recs
}
