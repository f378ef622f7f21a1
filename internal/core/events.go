package core

import "time"

// EventType identifies the kind of gateway event.
type EventType string

const (
	EventCacheHit         EventType = "cache_hit"
	EventCacheMiss        EventType = "cache_miss"
	EventRequestCompleted EventType = "request_completed"
	EventDataError        EventType = "data_error"
	EventCostWarning      EventType = "cost_warning"
	EventBudgetExceeded   EventType = "budget_exceeded"
	EventAlert            EventType = "alert"
	EventConfigOptimized  EventType = "configuration_optimized"
)

// Event is a single gateway event (immutable value type). Delivery to
// subscribers is best-effort; no consumer may block the emitter.
type Event struct {
	Type      EventType      `json:"type"`
	Key       string         `json:"key,omitempty"`
	DataType  DataType       `json:"data_type,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Cost      float64        `json:"cost,omitempty"`
	LatencyMs int64          `json:"latency_ms,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
