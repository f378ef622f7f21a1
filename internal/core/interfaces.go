package core

import "context"

// Provider defines the interface for metered upstream data providers.
type Provider interface {
	// Fetch executes a single data request against the provider.
	Fetch(ctx context.Context, req *DataRequest) (*Response, error)

	// FetchBatch executes a group of requests as one upstream call.
	// Providers whose Spec().SupportsBatch is false may return an error;
	// the router degrades to per-item Fetch calls.
	FetchBatch(ctx context.Context, reqs []*DataRequest) ([]*Response, error)

	// Spec returns the provider's routing metadata.
	Spec() *ProviderSpec
}
