package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"datacache/internal/service"
)

var (
	gaugeHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "datacache",
		Name:      "cache_hit_rate",
		Help:      "Combined L1 and L2 cache hit rate.",
	})
	gaugeL1Entries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "datacache",
		Name:      "cache_l1_entries",
		Help:      "Entries currently held in the in-process tier.",
	})
	gaugeEvictions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "datacache",
		Name:      "cache_l1_evictions_total",
		Help:      "Entries evicted from the in-process tier since start.",
	})
	gaugeAvgLatency = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "datacache",
		Name:      "provider_avg_latency_ms",
		Help:      "Average provider fetch latency in milliseconds.",
	})
	gaugeErrorRate = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "datacache",
		Name:      "provider_error_rate",
		Help:      "Fraction of provider fetches that failed.",
	})
	gaugeHourlySpend = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "datacache",
		Name:      "budget_hourly_spend_ratio",
		Help:      "Hourly spend as a fraction of the hourly budget.",
	})
	gaugeDailySpend = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "datacache",
		Name:      "budget_daily_spend_ratio",
		Help:      "Daily spend as a fraction of the daily budget.",
	})
	gaugeActiveAlerts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "datacache",
		Name:      "active_alerts",
		Help:      "Number of alerts currently in warning or critical state.",
	})
)

func updateGauges(m service.Metrics, activeAlerts int) {
	gaugeHitRate.Set(m.Cache.HitRate)
	gaugeL1Entries.Set(float64(m.Cache.L1Entries))
	gaugeEvictions.Set(float64(m.Cache.L1Evictions))
	gaugeAvgLatency.Set(m.Router.AvgLatencyMs)
	gaugeErrorRate.Set(m.Router.ErrorRate)
	gaugeHourlySpend.Set(m.Budget.HourlyRatio())
	gaugeDailySpend.Set(m.Budget.DailyRatio())
	gaugeActiveAlerts.Set(float64(activeAlerts))
}
