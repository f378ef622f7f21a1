package service

import (
	"context"
	"log/slog"

	"datacache/internal/core"
)

// WarmCache proactively fetches a known-hot request set ahead of expected
// demand (e.g., upcoming events). Warming runs through GetData, so it is
// subject to the same budget and rate gates as any caller. Returns how many
// keys were freshly fetched.
func (s *Service) WarmCache(ctx context.Context, reqs []*core.DataRequest) int {
	warmed := 0
	for _, req := range reqs {
		if err := validate(req); err != nil {
			slog.Warn("skipping invalid warm request", "endpoint", req.Endpoint, "error", err)
			continue
		}
		key := req.CacheKey()

		// Already fresh: nothing to spend.
		if s.cache.Get(ctx, key, 0) != nil {
			continue
		}

		if _, err := s.GetData(ctx, req); err != nil {
			if core.IsErrorType(err, core.ErrorTypeBudgetExceeded) {
				// No point warming further once the budget gate is shut.
				slog.Info("cache warming stopped by budget gate", "warmed", warmed)
				return warmed
			}
			slog.Warn("cache warming fetch failed", "key", key, "error", err)
			continue
		}
		warmed++
	}
	return warmed
}
