package providers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"datacache/internal/core"
)

// Static is an in-memory provider serving fixed payloads by cache key.
// Used by tests and by warm-up tooling that replays recorded responses.
type Static struct {
	spec *core.ProviderSpec

	mu       sync.Mutex
	payloads map[string]json.RawMessage
	calls    int
	batches  int
	err      error
	delay    time.Duration
}

// NewStatic creates a static provider with the given spec.
func NewStatic(spec *core.ProviderSpec) *Static {
	return &Static{
		spec:     spec,
		payloads: make(map[string]json.RawMessage),
	}
}

// Load registers the payload served for a cache key.
func (s *Static) Load(key string, payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[key] = payload
}

// Fail makes every subsequent fetch return err (nil restores normal
// operation).
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Delay makes every fetch take d before responding.
func (s *Static) Delay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Calls returns the number of single fetches served.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Batches returns the number of batch fetches served.
func (s *Static) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

// Spec implements core.Provider.
func (s *Static) Spec() *core.ProviderSpec {
	return s.spec
}

// Fetch implements core.Provider.
func (s *Static) Fetch(ctx context.Context, req *core.DataRequest) (*core.Response, error) {
	s.mu.Lock()
	s.calls++
	err := s.err
	delay := s.delay
	payload, ok := s.payloads[req.CacheKey()]
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return nil, core.NewProviderFailureError(s.spec.Name, "static provider failure", err)
	}
	if !ok {
		payload = json.RawMessage(`{}`)
	}

	return &core.Response{
		Key:       req.CacheKey(),
		Payload:   payload,
		Provider:  s.spec.Name,
		FetchedAt: time.Now(),
	}, nil
}

// FetchBatch implements core.Provider.
func (s *Static) FetchBatch(ctx context.Context, reqs []*core.DataRequest) ([]*core.Response, error) {
	s.mu.Lock()
	s.batches++
	err := s.err
	s.mu.Unlock()

	if err != nil {
		return nil, core.NewProviderFailureError(s.spec.Name, "static provider failure", err)
	}
	if !s.spec.SupportsBatch {
		return nil, core.NewProviderFailureError(s.spec.Name, "provider does not support batch calls", nil)
	}

	resps := make([]*core.Response, len(reqs))
	for i, req := range reqs {
		s.mu.Lock()
		payload, ok := s.payloads[req.CacheKey()]
		s.mu.Unlock()
		if !ok {
			payload = json.RawMessage(`{}`)
		}
		resps[i] = &core.Response{
			Key:       req.CacheKey(),
			Payload:   payload,
			Provider:  s.spec.Name,
			FetchedAt: time.Now(),
		}
	}
	return resps, nil
}
