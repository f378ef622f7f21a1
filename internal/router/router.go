package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"datacache/internal/budget"
	"datacache/internal/core"
	"datacache/internal/ratelimit"
)

// lateResultGrace is how long an abandoned provider call may keep running
// past the caller's deadline so its result can still be committed to cache.
const lateResultGrace = 30 * time.Second

// Stats is a snapshot of router activity for the monitoring layer.
type Stats struct {
	Requests     int64   `json:"requests"`
	Failures     int64   `json:"failures"`
	Fallbacks    int64   `json:"fallbacks"`
	ErrorRate    float64 `json:"error_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	TotalCost    float64 `json:"total_cost"`
}

// Config holds optional router knobs.
type Config struct {
	// Scorer ranks candidate providers (WeightedScorer by default).
	Scorer Scorer

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Router scores, selects, and executes provider calls. It consults the
// budget tracker and per-provider rate limiters before every call and walks
// the fallback chain on provider failure.
type Router struct {
	registry *Registry
	limiters *ratelimit.Registry
	budget   *budget.Tracker
	scorer   Scorer
	now      func() time.Time

	// onLateResult receives responses that arrived after their caller's
	// deadline, so they can still be cached for future reads.
	onLateResult func(req *core.DataRequest, resp *core.Response)

	mu           sync.Mutex
	requests     int64
	failures     int64
	fallbacks    int64
	totalLatency time.Duration
	totalCost    float64
}

// New creates a router over the given registry, limiter set, and budget.
func New(registry *Registry, limiters *ratelimit.Registry, tracker *budget.Tracker, cfg Config) *Router {
	scorer := cfg.Scorer
	if scorer == nil {
		scorer = &WeightedScorer{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		registry: registry,
		limiters: limiters,
		budget:   tracker,
		scorer:   scorer,
		now:      now,
	}
}

// SetLateResultHandler registers the callback for late-arriving responses.
// Must be called before the router serves requests.
func (r *Router) SetLateResultHandler(fn func(req *core.DataRequest, resp *core.Response)) {
	r.onLateResult = fn
}

// SelectProvider filters the provider set against the request's data type,
// cost ceiling, rate-limit capacity, and deadline, then picks the highest
// scoring survivor. The remaining survivors become the fallback chain.
// Returns a routing-exhausted error when nothing qualifies; the router never
// silently picks an over-budget provider.
func (r *Router) SelectProvider(req *core.DataRequest) (*core.RouteDecision, error) {
	if req.MaxCost < 0 {
		return nil, core.NewInvalidRequestError("max_cost must not be negative")
	}

	providers := r.registry.Snapshot()
	if len(providers) == 0 {
		return nil, core.NewRoutingExhaustedError("no providers registered")
	}

	now := r.now()
	deadline, hasDeadline := req.Deadline()

	type candidate struct {
		spec  *core.ProviderSpec
		score float64
	}

	var candidates []candidate
	var skippedCost, skippedRate, skippedDeadline int
	for _, p := range providers {
		spec := p.Spec()
		if !spec.Serves(req.DataType) {
			continue
		}
		if req.MaxCost > 0 && spec.CostPerRequest > req.MaxCost {
			skippedCost++
			continue
		}
		if !r.limiters.For(spec).Allow() {
			skippedRate++
			continue
		}
		if hasDeadline && now.Add(spec.AvgLatency).After(deadline) {
			skippedDeadline++
			continue
		}
		util := r.limiters.For(spec).Utilization()
		candidates = append(candidates, candidate{
			spec:  spec,
			score: r.scorer.Score(spec, req, util),
		})
	}

	if len(candidates) == 0 {
		return nil, core.NewRoutingExhaustedError(fmt.Sprintf(
			"no provider can serve %s request (over cost ceiling: %d, rate limited: %d, deadline infeasible: %d)",
			req.DataType, skippedCost, skippedRate, skippedDeadline))
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].spec.FallbackPriority < candidates[j].spec.FallbackPriority
	})

	best := candidates[0]
	alternatives := make([]*core.ProviderSpec, 0, len(candidates)-1)
	for _, c := range candidates[1:] {
		alternatives = append(alternatives, c.spec)
	}

	return &core.RouteDecision{
		Provider:      best.spec,
		EstimatedCost: best.spec.CostPerRequest,
		Score:         best.score,
		Reason: fmt.Sprintf("%s scored %.1f (reliability %.2f, quality %.2f, cost $%.4f/req), %d fallback(s)",
			best.spec.Name, best.score, best.spec.Reliability, best.spec.DataQuality,
			best.spec.CostPerRequest, len(alternatives)),
		Alternatives: alternatives,
	}, nil
}

// Execute runs the decision: budget gate, rate-limit wait, fetch, and
// fallback through the alternatives on provider failure. With N alternatives
// it makes at most N+1 attempts. Rejected calls are never charged.
func (r *Router) Execute(ctx context.Context, req *core.DataRequest, decision *core.RouteDecision) (*core.Response, error) {
	chain := append([]*core.ProviderSpec{decision.Provider}, decision.Alternatives...)

	var lastErr error
	for i, spec := range chain {
		if i > 0 {
			r.recordFallback()
		}

		if err := r.budget.CanAfford(spec.CostPerRequest); err != nil {
			// A cheaper alternative may still fit under the budget.
			lastErr = err
			continue
		}

		provider := r.registry.Get(spec.Name)
		if provider == nil {
			// Removed by a hot reload after selection.
			lastErr = core.NewProviderFailureError(spec.Name, "provider no longer registered", nil)
			continue
		}

		if err := r.limiters.For(spec).Wait(ctx); err != nil {
			lastErr = core.NewProviderFailureError(spec.Name, "rate limit wait aborted", err)
			continue
		}

		// The provider meters the request once sent, so charge on attempt.
		r.budget.Record(spec.CostPerRequest)

		start := r.now()
		resp, err := r.fetch(ctx, provider, spec, req)
		if err != nil {
			if core.IsErrorType(err, core.ErrorTypeTimeout) {
				// Deadline elapsed: alternatives cannot answer in time either.
				r.recordFailure()
				return nil, err
			}
			slog.Warn("provider fetch failed, trying fallback",
				"provider", spec.Name,
				"remaining", len(chain)-i-1,
				"error", err,
			)
			lastErr = err
			continue
		}

		resp.Provider = spec.Name
		resp.Cost = spec.CostPerRequest
		resp.Latency = r.now().Sub(start)
		r.recordSuccess(resp.Latency, resp.Cost)
		return resp, nil
	}

	r.recordFailure()
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, core.NewRoutingExhaustedError("all providers exhausted")
}

// fetch performs the provider call, honoring the request deadline. A call
// that outlives the deadline is abandoned for the caller, but the late
// result is still handed to the late-result handler so the cache benefits.
func (r *Router) fetch(ctx context.Context, provider core.Provider, spec *core.ProviderSpec, req *core.DataRequest) (*core.Response, error) {
	deadline, hasDeadline := req.Deadline()
	if !hasDeadline {
		return provider.Fetch(ctx, req)
	}

	ch := make(chan fetchResult, 1)

	// Detach so abandoning the caller does not cancel the upstream call;
	// the grace cap keeps the goroutine from leaking.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Until(deadline)+lateResultGrace)
	go func() {
		defer cancel()
		resp, err := provider.Fetch(bctx, req)
		ch <- fetchResult{resp, err}
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-ctx.Done():
		r.commitLate(spec, req, ch)
		return nil, core.NewTimeoutError(spec.Name, "request canceled before provider responded")
	case <-timer.C:
		r.commitLate(spec, req, ch)
		return nil, core.NewTimeoutError(spec.Name,
			fmt.Sprintf("deadline %s elapsed waiting on provider", deadline.Format(time.RFC3339)))
	}
}

type fetchResult struct {
	resp *core.Response
	err  error
}

// commitLate drains the in-flight call in the background and forwards a
// successful late response to the handler.
func (r *Router) commitLate(spec *core.ProviderSpec, req *core.DataRequest, ch <-chan fetchResult) {
	handler := r.onLateResult
	go func() {
		res := <-ch
		if res.err != nil || res.resp == nil {
			return
		}
		res.resp.Provider = spec.Name
		res.resp.Cost = spec.CostPerRequest
		if handler != nil {
			handler(req, res.resp)
		}
	}()
}

// Stats returns a snapshot of router counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		Requests:  r.requests,
		Failures:  r.failures,
		Fallbacks: r.fallbacks,
		TotalCost: r.totalCost,
	}
	if r.requests > 0 {
		s.ErrorRate = float64(r.failures) / float64(r.requests)
		completed := r.requests - r.failures
		if completed > 0 {
			s.AvgLatencyMs = float64(r.totalLatency.Milliseconds()) / float64(completed)
		}
	}
	return s
}

func (r *Router) recordSuccess(latency time.Duration, cost float64) {
	r.mu.Lock()
	r.requests++
	r.totalLatency += latency
	r.totalCost += cost
	r.mu.Unlock()
}

func (r *Router) recordFailure() {
	r.mu.Lock()
	r.requests++
	r.failures++
	r.mu.Unlock()
}

func (r *Router) recordFallback() {
	r.mu.Lock()
	r.fallbacks++
	r.mu.Unlock()
}
