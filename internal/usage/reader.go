package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Summary holds aggregate ledger metrics for a period.
type Summary struct {
	Requests     int64   `json:"requests"`
	CacheHits    int64   `json:"cache_hits"`
	HitRate      float64 `json:"hit_rate"`
	TotalCost    float64 `json:"total_cost"`
	CostSaved    float64 `json:"cost_saved"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// TypeSummary breaks the ledger down by data type.
type TypeSummary struct {
	DataType string `json:"data_type"`
	Summary
}

// Reader aggregates ledger rows for reports and exports.
type Reader struct {
	db *sql.DB
}

// NewReader creates a reader over the ledger database.
func NewReader(db *sql.DB) (*Reader, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &Reader{db: db}, nil
}

// Totals returns aggregate metrics for records since the given time.
func (r *Reader) Totals(ctx context.Context, since time.Time) (Summary, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(cache_hit), 0),
		       COALESCE(SUM(cost), 0),
		       COALESCE(SUM(cost_saved), 0),
		       COALESCE(AVG(latency_ms), 0)
		FROM fetch_log WHERE timestamp >= ?`, since.UTC())

	var s Summary
	if err := row.Scan(&s.Requests, &s.CacheHits, &s.TotalCost, &s.CostSaved, &s.AvgLatencyMs); err != nil {
		return Summary{}, fmt.Errorf("failed to aggregate ledger totals: %w", err)
	}
	if s.Requests > 0 {
		s.HitRate = float64(s.CacheHits) / float64(s.Requests)
	}
	return s, nil
}

// ByDataType returns per-data-type aggregates for records since the given
// time, ordered by total cost descending (the cost drivers first).
func (r *Reader) ByDataType(ctx context.Context, since time.Time) ([]TypeSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT data_type,
		       COUNT(*),
		       COALESCE(SUM(cache_hit), 0),
		       COALESCE(SUM(cost), 0),
		       COALESCE(SUM(cost_saved), 0),
		       COALESCE(AVG(latency_ms), 0)
		FROM fetch_log WHERE timestamp >= ?
		GROUP BY data_type
		ORDER BY SUM(cost) DESC`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate ledger by data type: %w", err)
	}
	defer rows.Close()

	var out []TypeSummary
	for rows.Next() {
		var t TypeSummary
		if err := rows.Scan(&t.DataType, &t.Requests, &t.CacheHits, &t.TotalCost, &t.CostSaved, &t.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		if t.Requests > 0 {
			t.HitRate = float64(t.CacheHits) / float64(t.Requests)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Records returns raw ledger rows since the given time, newest first,
// bounded by limit. Used by the export endpoint.
func (r *Reader) Records(ctx context.Context, since time.Time, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, timestamp, key, data_type, endpoint, provider, cost, cost_saved, latency_ms, cache_hit, stale, outcome
		FROM fetch_log WHERE timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?`, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger records: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var cacheHit, stale int
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Key, &e.DataType, &e.Endpoint, &e.Provider,
			&e.Cost, &e.CostSaved, &e.LatencyMs, &cacheHit, &stale, &e.Outcome); err != nil {
			return nil, fmt.Errorf("failed to scan ledger record: %w", err)
		}
		e.CacheHit = cacheHit != 0
		e.Stale = stale != 0
		out = append(out, &e)
	}
	return out, rows.Err()
}
