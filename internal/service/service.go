// Package service is the integration façade applications call: cache-first
// lookups with single-flight coalescing, routed fetches on miss, batched and
// pre-warmed reads, and cost/optimization reporting.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"datacache/internal/budget"
	"datacache/internal/cache"
	"datacache/internal/core"
	"datacache/internal/events"
	"datacache/internal/router"
	"datacache/internal/usage"
)

// DefaultHitSavings is the per-hit cost-avoidance estimate used when the
// request carries no cost ceiling to derive one from. Estimates only; this
// is not ledger-grade accounting.
const DefaultHitSavings = 0.01

// Config holds service knobs.
type Config struct {
	// HitSavings overrides the per-hit cost-avoidance estimate.
	HitSavings float64

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Service resolves data requests against the tiered cache, delegating
// misses to the router. Concurrent misses for the same key are coalesced
// into one origin fetch.
type Service struct {
	cache      *cache.Tiered
	router     *router.Router
	budget     *budget.Tracker
	bus        *events.Bus
	ledger     usage.LoggerInterface
	reader     *usage.Reader
	group      singleflight.Group
	hitSavings float64
	now        func() time.Time
}

// New wires the service. The router's late-result handler is registered
// here so abandoned fetches still land in the cache.
func New(tiered *cache.Tiered, rt *router.Router, tracker *budget.Tracker, bus *events.Bus, ledger usage.LoggerInterface, cfg Config) *Service {
	hitSavings := cfg.HitSavings
	if hitSavings <= 0 {
		hitSavings = DefaultHitSavings
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &Service{
		cache:      tiered,
		router:     rt,
		budget:     tracker,
		bus:        bus,
		ledger:     ledger,
		hitSavings: hitSavings,
		now:        now,
	}
	rt.SetLateResultHandler(s.commitLate)
	return s
}

// GetData resolves one request. A nil response with a nil error never
// happens; routing failures (budget, rate, no provider) return a typed
// error that the HTTP layer maps to "temporarily unavailable", alongside a
// data_error event. When the refusal is budget-driven and a stale cache
// copy exists, the stale copy is served flagged instead.
func (s *Service) GetData(ctx context.Context, req *core.DataRequest) (*core.Response, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	key := req.CacheKey()

	if req.Cacheable && !req.ForceFresh {
		if entry := s.cache.Get(ctx, key, s.savingsFor(req)); entry != nil {
			s.publish(core.Event{
				Type:     core.EventCacheHit,
				Key:      key,
				DataType: req.DataType,
			})
			s.record(req, key, &core.Response{Cost: 0}, "ok", true, false)
			return &core.Response{
				Key:       key,
				Payload:   entry.Value,
				Cached:    true,
				FetchedAt: entry.CreatedAt,
			}, nil
		}
		s.publish(core.Event{
			Type:     core.EventCacheMiss,
			Key:      key,
			DataType: req.DataType,
		})
	}

	// Coalesce concurrent misses: the first caller fetches, the rest await
	// its result. The fetch runs under the first caller's context.
	v, err, shared := s.group.Do(key, func() (any, error) {
		return s.fetchAndCache(ctx, req)
	})
	if err != nil {
		return s.handleFetchError(ctx, req, key, err)
	}

	resp := v.(*core.Response)
	if shared {
		// Followers get the leader's payload without a second charge.
		follower := *resp
		follower.Cost = 0
		follower.Cached = true
		return &follower, nil
	}
	return resp, nil
}

// fetchAndCache routes the request, caches the result, and emits the
// completion event.
func (s *Service) fetchAndCache(ctx context.Context, req *core.DataRequest) (*core.Response, error) {
	decision, err := s.router.SelectProvider(req)
	if err != nil {
		return nil, err
	}
	slog.Debug("routing request", "key", req.CacheKey(), "reason", decision.Reason)

	resp, err := s.router.Execute(ctx, req, decision)
	if err != nil {
		return nil, err
	}

	if req.Cacheable {
		s.store(ctx, req, resp)
	}

	s.publish(core.Event{
		Type:      core.EventRequestCompleted,
		Key:       resp.Key,
		DataType:  req.DataType,
		Provider:  resp.Provider,
		Cost:      resp.Cost,
		LatencyMs: resp.Latency.Milliseconds(),
	})
	s.record(req, resp.Key, resp, "ok", false, false)
	s.checkSpend()
	return resp, nil
}

// handleFetchError turns router refusals into the documented caller-facing
// behavior: budget refusals serve a flagged stale copy when one exists, and
// every failure emits a data_error event.
func (s *Service) handleFetchError(ctx context.Context, req *core.DataRequest, key string, err error) (*core.Response, error) {
	outcome := "error"
	switch {
	case core.IsErrorType(err, core.ErrorTypeBudgetExceeded):
		outcome = "budget_exceeded"
		s.publish(core.Event{
			Type:     core.EventBudgetExceeded,
			Key:      key,
			DataType: req.DataType,
			Message:  err.Error(),
		})
		if req.Cacheable {
			if entry := s.cache.GetStale(ctx, key); entry != nil {
				slog.Info("serving stale entry under budget pressure", "key", key)
				s.record(req, key, &core.Response{}, outcome, false, true)
				return &core.Response{
					Key:       key,
					Payload:   entry.Value,
					Cached:    true,
					Stale:     true,
					FetchedAt: entry.CreatedAt,
				}, nil
			}
		}
	case core.IsErrorType(err, core.ErrorTypeRoutingExhausted):
		outcome = "routing_exhausted"
	case core.IsErrorType(err, core.ErrorTypeTimeout):
		outcome = "timeout"
	}

	s.publish(core.Event{
		Type:     core.EventDataError,
		Key:      key,
		DataType: req.DataType,
		Message:  err.Error(),
	})
	s.record(req, key, &core.Response{}, outcome, false, false)
	return nil, err
}

// store writes a fetched response to the cache. Size-limit refusals are
// logged and swallowed: the caller still gets the value, it just is not
// cached.
func (s *Service) store(ctx context.Context, req *core.DataRequest, resp *core.Response) {
	tags := tagsFor(req)
	if err := s.cache.Set(ctx, resp.Key, resp.Payload, req.DataType, priorityOf(req), tags); err != nil {
		if core.IsErrorType(err, core.ErrorTypeSizeLimit) {
			slog.Warn("entry too large to cache, returning uncached", "key", resp.Key, "error", err)
			return
		}
		slog.Warn("failed to cache response", "key", resp.Key, "error", err)
	}
}

// commitLate caches a response that arrived after its caller's deadline so
// future reads benefit from the spend.
func (s *Service) commitLate(req *core.DataRequest, resp *core.Response) {
	if !req.Cacheable {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.store(ctx, req, resp)
	slog.Info("late provider response committed to cache", "key", resp.Key, "provider", resp.Provider)
}

// checkSpend emits a cost warning when spend crosses the configured
// threshold fraction of a budget window.
func (s *Service) checkSpend() {
	state := s.budget.Snapshot()
	threshold := state.Limits.WarningThresholdPct
	if threshold <= 0 {
		return
	}
	if state.HourlyRatio() >= threshold || state.DailyRatio() >= threshold {
		s.publish(core.Event{
			Type:    core.EventCostWarning,
			Message: "spend approaching budget ceiling",
			Metadata: map[string]any{
				"hourly_ratio": state.HourlyRatio(),
				"daily_ratio":  state.DailyRatio(),
			},
		})
	}
}

// Events subscribes to the gateway event stream.
func (s *Service) Events() (<-chan core.Event, func()) {
	return s.bus.Subscribe()
}

// Invalidate removes keys from both cache tiers.
func (s *Service) Invalidate(ctx context.Context, keys ...string) int {
	return s.cache.Invalidate(ctx, keys...)
}

// InvalidateTags removes all entries carrying any of the tags.
func (s *Service) InvalidateTags(ctx context.Context, tags ...string) int {
	return s.cache.InvalidateTags(ctx, tags...)
}

func (s *Service) savingsFor(req *core.DataRequest) float64 {
	if req.MaxCost > 0 && req.MaxCost < s.hitSavings {
		return req.MaxCost
	}
	return s.hitSavings
}

func (s *Service) publish(ev core.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

func (s *Service) record(req *core.DataRequest, key string, resp *core.Response, outcome string, hit, stale bool) {
	if s.ledger == nil {
		return
	}
	entry := &usage.Entry{
		ID:        uuid.NewString(),
		Timestamp: s.now(),
		Key:       key,
		DataType:  string(req.DataType),
		Endpoint:  req.Endpoint,
		Provider:  resp.Provider,
		Cost:      resp.Cost,
		LatencyMs: resp.Latency.Milliseconds(),
		CacheHit:  hit,
		Stale:     stale,
		Outcome:   outcome,
	}
	if hit {
		entry.CostSaved = s.savingsFor(req)
	}
	s.ledger.Write(entry)
}

func validate(req *core.DataRequest) error {
	if req == nil {
		return core.NewInvalidRequestError("request is required")
	}
	if req.Endpoint == "" {
		return core.NewInvalidRequestError("endpoint is required")
	}
	if req.DataType == "" {
		return core.NewInvalidRequestError("data_type is required")
	}
	if req.MaxCost < 0 {
		return core.NewInvalidRequestError("max_cost must not be negative")
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return core.NewInvalidRequestError("unknown priority: " + string(req.Priority))
	}
	return nil
}

func priorityOf(req *core.DataRequest) core.Priority {
	if req.Priority == "" {
		return core.PriorityMedium
	}
	return req.Priority
}

// tagsFor derives invalidation tags from the request: the data type and the
// endpoint, so whole families of entries can be dropped when an upstream
// dataset changes.
func tagsFor(req *core.DataRequest) []string {
	return []string{"type:" + string(req.DataType), "endpoint:" + req.Endpoint}
}
