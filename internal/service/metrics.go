package service

import (
	"datacache/internal/budget"
	"datacache/internal/cache"
	"datacache/internal/router"
)

// Metrics is the synchronous snapshot served to readiness probes and the
// monitoring sampler.
type Metrics struct {
	Cache  cache.Stats  `json:"cache"`
	Router router.Stats `json:"router"`
	Budget budget.State `json:"budget"`
}

// Metrics returns a point-in-time snapshot of cache, router, and budget
// state.
func (s *Service) Metrics() Metrics {
	return Metrics{
		Cache:  s.cache.Stats(),
		Router: s.router.Stats(),
		Budget: s.budget.Snapshot(),
	}
}

// Health summarizes serviceability for readiness probes.
type Health struct {
	Status         string  `json:"status"`
	HitRate        float64 `json:"hit_rate"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	HourlySpendPct float64 `json:"hourly_spend_pct"`
	L2Degraded     bool    `json:"l2_degraded,omitempty"`
}

// HealthCheck reports "ok" while requests can still be served, "degraded"
// once the hourly budget gate is effectively shut.
func (s *Service) HealthCheck() Health {
	m := s.Metrics()
	h := Health{
		Status:         "ok",
		HitRate:        m.Cache.HitRate,
		AvgLatencyMs:   m.Router.AvgLatencyMs,
		HourlySpendPct: m.Budget.HourlyRatio() * 100,
		L2Degraded:     m.Cache.L2Errors > 0,
	}
	if m.Budget.HourlyRatio() >= 1.0 {
		h.Status = "degraded"
	}
	return h
}
