// Package usage records every data fetch and cache outcome in an async
// buffered ledger, and aggregates the records for cost reporting and export.
package usage

import (
	"context"
	"time"
)

// Store defines the interface for ledger storage backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// WriteBatch writes multiple entries to storage. Called by the Logger
	// when flushing buffered entries.
	WriteBatch(ctx context.Context, entries []*Entry) error

	// Flush forces any pending writes to complete. Called during graceful
	// shutdown.
	Flush(ctx context.Context) error

	// Close releases resources and flushes pending writes.
	Close() error
}

// Entry is a single fetch/lookup record.
type Entry struct {
	// ID is a unique identifier for this entry (UUID).
	ID string `json:"id"`

	// Timestamp is when the lookup completed.
	Timestamp time.Time `json:"timestamp"`

	Key      string `json:"key"`
	DataType string `json:"data_type"`
	Endpoint string `json:"endpoint"`

	// Provider is the upstream that served the data; empty for cache hits.
	Provider string `json:"provider,omitempty"`

	// Cost is the metered spend for this lookup ($, zero on cache hits).
	Cost float64 `json:"cost"`

	// CostSaved is the estimated spend avoided by serving from cache.
	CostSaved float64 `json:"cost_saved"`

	LatencyMs int64 `json:"latency_ms"`

	CacheHit bool `json:"cache_hit"`
	Stale    bool `json:"stale"`

	// Outcome is "ok", "error", "budget_exceeded", "routing_exhausted",
	// or "timeout".
	Outcome string `json:"outcome"`
}

// Config holds ledger configuration.
type Config struct {
	// Enabled controls whether the ledger is active.
	Enabled bool

	// BufferSize is the channel capacity for pending entries (default 1000).
	BufferSize int

	// FlushInterval is how often buffered entries are written (default 5s).
	FlushInterval time.Duration

	// RetentionDays is how long records are kept; 0 disables cleanup.
	RetentionDays int
}
