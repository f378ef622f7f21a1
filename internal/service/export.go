package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"datacache/internal/core"
)

// ExportFormat selects the bulk export encoding.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// ExportMetrics dumps raw ledger records from the trailing period for
// external analysis. Not a hot-path operation.
func (s *Service) ExportMetrics(ctx context.Context, format ExportFormat, period time.Duration) ([]byte, error) {
	if s.reader == nil {
		return nil, core.NewInvalidRequestError("metrics export requires the usage ledger to be enabled")
	}
	if period <= 0 {
		period = 24 * time.Hour
	}

	records, err := s.reader.Records(ctx, s.now().Add(-period), 0)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportJSON, "":
		return json.MarshalIndent(records, "", "  ")

	case ExportCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write([]string{
			"id", "timestamp", "key", "data_type", "endpoint", "provider",
			"cost", "cost_saved", "latency_ms", "cache_hit", "stale", "outcome",
		}); err != nil {
			return nil, err
		}
		for _, r := range records {
			row := []string{
				r.ID,
				r.Timestamp.UTC().Format(time.RFC3339),
				r.Key,
				r.DataType,
				r.Endpoint,
				r.Provider,
				strconv.FormatFloat(r.Cost, 'f', -1, 64),
				strconv.FormatFloat(r.CostSaved, 'f', -1, 64),
				strconv.FormatInt(r.LatencyMs, 10),
				strconv.FormatBool(r.CacheHit),
				strconv.FormatBool(r.Stale),
				r.Outcome,
			}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	default:
		return nil, core.NewInvalidRequestError(fmt.Sprintf("unknown export format %q", format))
	}
}
