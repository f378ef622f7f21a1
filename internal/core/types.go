package core

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// DataType classifies the kind of data a request is asking for.
// TTL policy and provider specialties key off this value.
type DataType string

const (
	DataTypeMarket     DataType = "market"
	DataTypeScores     DataType = "scores"
	DataTypeStats      DataType = "stats"
	DataTypeSchedule   DataType = "schedule"
	DataTypeHistorical DataType = "historical"

	// DataTypeAll is the wildcard specialty: a provider declaring it can
	// serve any data type.
	DataTypeAll DataType = "all"
)

// Valid reports whether dt is one of the known data types, including the
// wildcard.
func (dt DataType) Valid() bool {
	switch dt {
	case DataTypeMarket, DataTypeScores, DataTypeStats, DataTypeSchedule,
		DataTypeHistorical, DataTypeAll:
		return true
	}
	return false
}

// Priority controls cache placement and TTL shaping for a request.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is one of the known priority levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// DataRequest is the application-level request for a piece of data.
type DataRequest struct {
	Endpoint   string            `json:"endpoint"`
	Params     map[string]string `json:"params,omitempty"`
	DataType   DataType          `json:"data_type"`
	Priority   Priority          `json:"priority,omitempty"`
	MaxCost    float64           `json:"max_cost,omitempty"`
	Cacheable  bool              `json:"cacheable"`
	Batchable  bool              `json:"batchable,omitempty"`
	ForceFresh bool              `json:"force_fresh,omitempty"`

	// RequiredBy is the deadline by which the caller needs an answer.
	// Zero means no deadline.
	RequiredBy time.Time `json:"required_by,omitempty"`
}

// CacheKey returns the canonical cache key for the request:
// "<dataType>:<endpoint>:<sorted-params>". Params are sorted so that two
// requests with the same parameters in different order hit the same entry.
func (r *DataRequest) CacheKey() string {
	var b strings.Builder
	b.WriteString(string(r.DataType))
	b.WriteByte(':')
	b.WriteString(r.Endpoint)

	if len(r.Params) > 0 {
		keys := make([]string, 0, len(r.Params))
		for k := range r.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte(':')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(r.Params[k])
		}
	}
	return b.String()
}

// Deadline reports the request deadline and whether one is set.
func (r *DataRequest) Deadline() (time.Time, bool) {
	return r.RequiredBy, !r.RequiredBy.IsZero()
}

// RateLimit holds the per-provider request ceilings. All three windows are
// enforced simultaneously.
type RateLimit struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int `yaml:"requests_per_hour" json:"requests_per_hour"`
	RequestsPerDay    int `yaml:"requests_per_day" json:"requests_per_day"`
}

// ProviderSpec describes a metered upstream data provider. The router treats
// a spec as immutable once a request has been routed through it; the registry
// swaps whole specs on hot reload.
type ProviderSpec struct {
	Name             string        `yaml:"name" json:"name"`
	BaseURL          string        `yaml:"base_url" json:"base_url"`
	CostPerRequest   float64       `yaml:"cost_per_request" json:"cost_per_request"`
	RateLimit        RateLimit     `yaml:"rate_limit" json:"rate_limit"`
	Reliability      float64       `yaml:"reliability" json:"reliability"`
	DataQuality      float64       `yaml:"data_quality" json:"data_quality"`
	Specialties      []DataType    `yaml:"specialties" json:"specialties"`
	FallbackPriority int           `yaml:"fallback_priority" json:"fallback_priority"`
	AvgLatency       time.Duration `yaml:"avg_latency" json:"avg_latency"`
	SupportsBatch    bool          `yaml:"supports_batch" json:"supports_batch"`
}

// Specializes reports whether the provider declares dt as a specialty.
// The wildcard "all" matches every data type but does not count as
// specialized for scoring purposes.
func (s *ProviderSpec) Specializes(dt DataType) bool {
	for _, sp := range s.Specialties {
		if sp == dt {
			return true
		}
	}
	return false
}

// Serves reports whether the provider can serve dt at all (specialty match
// or wildcard).
func (s *ProviderSpec) Serves(dt DataType) bool {
	if s.Specializes(dt) {
		return true
	}
	for _, sp := range s.Specialties {
		if sp == DataTypeAll {
			return true
		}
	}
	return false
}

// Response is the outcome of a data lookup, whether served from cache or
// fetched from a provider.
type Response struct {
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	Provider  string          `json:"provider"`
	Cost      float64         `json:"cost"`
	Latency   time.Duration   `json:"latency"`
	FetchedAt time.Time       `json:"fetched_at"`

	// Stale is set when the payload came from an expired cache entry served
	// because a fresh fetch was refused (budget or routing pressure).
	Stale bool `json:"stale,omitempty"`

	// Cached is set when the payload was served from cache rather than a
	// provider call.
	Cached bool `json:"cached,omitempty"`
}

// RouteDecision is the router's transient verdict for a single request.
// It is never persisted.
type RouteDecision struct {
	Provider      *ProviderSpec
	EstimatedCost float64
	Reason        string
	Score         float64

	// Alternatives is the ordered fallback list, best first. Execute walks
	// it on provider failure, so fallback depth is bounded by its length.
	Alternatives []*ProviderSpec
}
