package service

import (
	"context"
	"encoding/json"

	"datacache/internal/core"
	"datacache/internal/router"
)

// BatchResult pairs a cache key with its payload. Value is nil when the
// request could not be served; callers must treat nil as "temporarily
// unavailable", not "does not exist".
type BatchResult struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	Stale bool            `json:"stale,omitempty"`
}

// GetBatch resolves a set of requests, serving what it can from cache,
// sending batchable misses out as grouped provider calls, and falling back
// to per-request GetData when a group fails. Results keep request order.
func (s *Service) GetBatch(ctx context.Context, reqs []*core.DataRequest) []BatchResult {
	results := make([]BatchResult, len(reqs))
	indexByKey := make(map[string][]int, len(reqs))

	var misses []*core.DataRequest
	for i, req := range reqs {
		key := req.CacheKey()
		results[i] = BatchResult{Key: key}
		if err := validate(req); err != nil {
			continue
		}

		if req.Cacheable && !req.ForceFresh {
			if entry := s.cache.Get(ctx, key, s.savingsFor(req)); entry != nil {
				results[i].Value = entry.Value
				s.publish(core.Event{Type: core.EventCacheHit, Key: key, DataType: req.DataType})
				s.record(req, key, &core.Response{}, "ok", true, false)
				continue
			}
			s.publish(core.Event{Type: core.EventCacheMiss, Key: key, DataType: req.DataType})
		}

		if indexByKey[key] = append(indexByKey[key], i); len(indexByKey[key]) == 1 {
			misses = append(misses, req)
		}
	}

	if len(misses) == 0 {
		return results
	}

	groups, singles := router.GroupBatchable(misses)

	for _, g := range groups {
		fetched := s.router.ExecuteBatch(ctx, g.Requests)
		for _, req := range g.Requests {
			key := req.CacheKey()
			resp, ok := fetched[key]
			if !ok {
				// Group-level failure for this item: retry individually with
				// the full GetData path (stale serving included).
				resp, _ = s.GetData(ctx, req)
			} else {
				if req.Cacheable {
					s.store(ctx, req, resp)
				}
				s.record(req, key, resp, "ok", false, false)
			}
			if resp != nil {
				for _, i := range indexByKey[key] {
					results[i].Value = resp.Payload
					results[i].Stale = resp.Stale
				}
			}
		}
	}

	for _, req := range singles {
		resp, err := s.GetData(ctx, req)
		if err != nil || resp == nil {
			continue
		}
		for _, i := range indexByKey[req.CacheKey()] {
			results[i].Value = resp.Payload
			results[i].Stale = resp.Stale
		}
	}

	return results
}
