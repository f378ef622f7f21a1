package router

import (
	"context"
	"log/slog"

	"datacache/internal/core"
)

// BatchGroup collects batchable requests sharing an endpoint and data type.
type BatchGroup struct {
	Endpoint string
	DataType core.DataType
	Requests []*core.DataRequest
}

// groupKey identifies a batch group.
type groupKey struct {
	endpoint string
	dataType core.DataType
}

// GroupBatchable splits requests into batch groups (same endpoint and data
// type, marked batchable) and leftover singles.
func GroupBatchable(reqs []*core.DataRequest) (groups []*BatchGroup, singles []*core.DataRequest) {
	byKey := make(map[groupKey]*BatchGroup)
	for _, req := range reqs {
		if !req.Batchable {
			singles = append(singles, req)
			continue
		}
		k := groupKey{endpoint: req.Endpoint, dataType: req.DataType}
		g, ok := byKey[k]
		if !ok {
			g = &BatchGroup{Endpoint: req.Endpoint, DataType: req.DataType}
			byKey[k] = g
			groups = append(groups, g)
		}
		g.Requests = append(g.Requests, req)
	}

	// A group of one gains nothing from batch semantics.
	kept := groups[:0]
	for _, g := range groups {
		if len(g.Requests) == 1 {
			singles = append(singles, g.Requests[0])
			continue
		}
		kept = append(kept, g)
	}
	return kept, singles
}

// ExecuteBatch routes a group of requests. When the selected provider
// supports batch semantics the group goes out as one metered call; otherwise,
// or when the batch call fails, each request is routed individually with the
// normal fallback logic. Results are keyed by cache key; requests that could
// not be served are absent from the map.
func (r *Router) ExecuteBatch(ctx context.Context, reqs []*core.DataRequest) map[string]*core.Response {
	results := make(map[string]*core.Response, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	decision, err := r.SelectProvider(reqs[0])
	if err == nil && decision.Provider.SupportsBatch {
		if resps, err := r.executeBatchCall(ctx, reqs, decision); err == nil {
			for _, resp := range resps {
				results[resp.Key] = resp
			}
			return results
		}
		slog.Warn("batch call failed, degrading to individual requests",
			"provider", decision.Provider.Name,
			"count", len(reqs),
		)
	}

	// Sequential individual calls with the same routing logic per item.
	for _, req := range reqs {
		d, err := r.SelectProvider(req)
		if err != nil {
			continue
		}
		resp, err := r.Execute(ctx, req, d)
		if err != nil {
			continue
		}
		results[req.CacheKey()] = resp
	}
	return results
}

// executeBatchCall sends the whole group as one provider call. The batch
// counts as a single metered request for budget and rate purposes.
func (r *Router) executeBatchCall(ctx context.Context, reqs []*core.DataRequest, decision *core.RouteDecision) ([]*core.Response, error) {
	spec := decision.Provider

	if err := r.budget.CanAfford(spec.CostPerRequest); err != nil {
		return nil, err
	}

	provider := r.registry.Get(spec.Name)
	if provider == nil {
		return nil, core.NewProviderFailureError(spec.Name, "provider no longer registered", nil)
	}

	if err := r.limiters.For(spec).Wait(ctx); err != nil {
		return nil, core.NewProviderFailureError(spec.Name, "rate limit wait aborted", err)
	}

	r.budget.Record(spec.CostPerRequest)

	start := r.now()
	resps, err := provider.FetchBatch(ctx, reqs)
	if err != nil {
		r.recordFailure()
		return nil, err
	}

	latency := r.now().Sub(start)
	for _, resp := range resps {
		resp.Provider = spec.Name
		resp.Latency = latency
	}
	// Amortize the one metered call across the group for cost reporting.
	if len(resps) > 0 {
		per := spec.CostPerRequest / float64(len(resps))
		for _, resp := range resps {
			resp.Cost = per
		}
	}
	r.recordSuccess(latency, spec.CostPerRequest)
	return resps, nil
}
