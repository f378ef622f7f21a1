// Package cache implements the tiered cache store: a bounded in-process L1
// backed by a shared Redis L2, with TTL policy, LRU eviction, tag-indexed
// invalidation, and promotion of frequently accessed keys.
package cache

import (
	"encoding/json"
	"time"

	"datacache/internal/core"
)

// Entry is a single cached value plus its bookkeeping metadata. The expiry
// check against CreatedAt+TTL is authoritative; any backend expiry is only a
// backstop.
type Entry struct {
	Key            string          `json:"key"`
	Value          json.RawMessage `json:"value"`
	TTL            time.Duration   `json:"ttl"`
	CreatedAt      time.Time       `json:"created_at"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
	AccessCount    int64           `json:"access_count"`
	CostSaved      float64         `json:"cost_saved"`
	Priority       core.Priority   `json:"priority"`
	Tags           []string        `json:"tags,omitempty"`
}

// Expired reports whether the entry is logically expired at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// Touch records a read hit.
func (e *Entry) Touch(now time.Time, costSaved float64) {
	e.AccessCount++
	e.CostSaved += costSaved
	if now.After(e.LastAccessedAt) {
		e.LastAccessedAt = now
	}
}

// Base TTLs per data type. Volatile market data expires fast; historical
// data barely changes.
var baseTTLs = map[core.DataType]time.Duration{
	core.DataTypeMarket:     30 * time.Second,
	core.DataTypeScores:     time.Minute,
	core.DataTypeStats:      10 * time.Minute,
	core.DataTypeSchedule:   time.Hour,
	core.DataTypeHistorical: 24 * time.Hour,
}

const (
	// DefaultTTL applies to data types without an explicit base TTL.
	DefaultTTL = 5 * time.Minute

	// CriticalTTLCeiling caps the TTL of critical-priority entries.
	// Freshness trumps cost for critical reads.
	CriticalTTLCeiling = 30 * time.Second

	// LowPriorityTTLFactor stretches the TTL of low-priority entries.
	// Staler data is acceptable when it saves provider spend.
	LowPriorityTTLFactor = 3
)

// TTLFor computes the effective TTL for a data type and priority.
func TTLFor(dt core.DataType, p core.Priority) time.Duration {
	ttl, ok := baseTTLs[dt]
	if !ok {
		ttl = DefaultTTL
	}
	switch p {
	case core.PriorityCritical:
		if ttl > CriticalTTLCeiling {
			ttl = CriticalTTLCeiling
		}
	case core.PriorityLow:
		ttl *= LowPriorityTTLFactor
	}
	return ttl
}
