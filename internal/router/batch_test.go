package router

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datacache/internal/budget"
	"datacache/internal/core"
)

func batchableReq(endpoint, id string) *core.DataRequest {
	return &core.DataRequest{
		Endpoint:  endpoint,
		Params:    map[string]string{"id": id},
		DataType:  core.DataTypeStats,
		Batchable: true,
	}
}

func TestGroupBatchable(t *testing.T) {
	reqs := []*core.DataRequest{
		batchableReq("teams", "1"),
		batchableReq("teams", "2"),
		batchableReq("players", "7"), // alone in its group, demoted to single
		{Endpoint: "quotes", DataType: core.DataTypeMarket},
	}

	groups, singles := GroupBatchable(reqs)
	require.Len(t, groups, 1)
	assert.Equal(t, "teams", groups[0].Endpoint)
	assert.Len(t, groups[0].Requests, 2)
	assert.Len(t, singles, 2)
}

func TestExecuteBatchSingleMeteredCall(t *testing.T) {
	s := spec("bulk", 0.01, 0.95, 0.95, 1, core.DataTypeStats)
	s.SupportsBatch = true
	h := newHarness(t, budget.Limits{}, s)

	reqs := []*core.DataRequest{
		batchableReq("teams", "1"),
		batchableReq("teams", "2"),
		batchableReq("teams", "3"),
	}

	results := h.router.ExecuteBatch(context.Background(), reqs)
	require.Len(t, results, 3)
	assert.Equal(t, 1, h.statics["bulk"].Batches())
	assert.Equal(t, 0, h.statics["bulk"].Calls())

	// One metered call charged once, amortized in the responses.
	assert.InDelta(t, 0.01, h.tracker.Snapshot().HourlySpent, 1e-9)
	for _, resp := range results {
		assert.InDelta(t, 0.01/3, resp.Cost, 1e-9)
	}
}

func TestExecuteBatchFallsBackToSingles(t *testing.T) {
	noBatch := spec("plain", 0.01, 0.95, 0.95, 1, core.DataTypeStats)
	h := newHarness(t, budget.Limits{}, noBatch)

	reqs := []*core.DataRequest{
		batchableReq("teams", "1"),
		batchableReq("teams", "2"),
	}

	results := h.router.ExecuteBatch(context.Background(), reqs)
	require.Len(t, results, 2)
	assert.Equal(t, 0, h.statics["plain"].Batches())
	assert.Equal(t, 2, h.statics["plain"].Calls())
	assert.InDelta(t, 0.02, h.tracker.Snapshot().HourlySpent, 1e-9)
}

func TestExecuteBatchDegradesOnBatchFailure(t *testing.T) {
	s := spec("flaky", 0.01, 0.95, 0.95, 1, core.DataTypeStats)
	s.SupportsBatch = true
	h := newHarness(t, budget.Limits{}, s)

	// Fail the batch call, then recover for the individual retries.
	h.statics["flaky"].Fail(fmt.Errorf("batch endpoint down"))

	reqs := []*core.DataRequest{
		batchableReq("teams", "1"),
		batchableReq("teams", "2"),
	}

	// With the provider still failing, nothing is served.
	results := h.router.ExecuteBatch(context.Background(), reqs)
	assert.Empty(t, results)

	h.statics["flaky"].Fail(nil)
	results = h.router.ExecuteBatch(context.Background(), reqs)
	assert.Len(t, results, 2)
}
