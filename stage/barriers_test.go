package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimensional-research/orchestrator/state"
	"github.com/dimensional-research/orchestrator/toolclient"
)

func TestPrepareResearch_AdvancesStageOnly(t *testing.T) {
	deps, store := newTestDeps(toolclient.NewMockCaller())
	s := baseWorkflowState()
	s.SessionID = "session-1"

	upd, err := deps.PrepareResearch(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, state.Update{}, upd)

	item, found, getErr := store.Get(context.Background(), "session-1")
	require.NoError(t, getErr)
	require.True(t, found)
	assert.Equal(t, "prepare_research", item.CurrentStage)
}

func TestPrepareDimensionReduction_FlushesBufferedResearchResults(t *testing.T) {
	deps, store := newTestDeps(toolclient.NewMockCaller())
	s := baseWorkflowState()
	s.SessionID = "session-1"
	s.ResearchByAspect = map[string]state.ResearchResult{
		state.AspectKey("Economic Viability", "Grid Costs"): {
			Content:   "Costs fell [https://example.com/a] and again [REF-2]",
			WordCount: 120,
		},
	}

	upd, err := deps.PrepareDimensionReduction(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, state.Update{}, upd)

	item, found, getErr := store.Get(context.Background(), "session-1")
	require.NoError(t, getErr)
	require.True(t, found)
	assert.Equal(t, "prepare_dimension_reduction", item.CurrentStage)
	require.Contains(t, item.ResearchByAspect, "Economic Viability::Grid Costs")
	summary := item.ResearchByAspect["Economic Viability::Grid Costs"]
	assert.Equal(t, 120, summary.WordCount)
	assert.Equal(t, 2, summary.SourcesCount)
}

func TestPrepareDimensionReduction_IgnoresMalformedKeys(t *testing.T) {
	deps, store := newTestDeps(toolclient.NewMockCaller())
	s := baseWorkflowState()
	s.SessionID = "session-1"
	s.ResearchByAspect = map[string]state.ResearchResult{
		"no-separator": {WordCount: 10},
	}

	upd, err := deps.PrepareDimensionReduction(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, state.Update{}, upd)

	item, found, getErr := store.Get(context.Background(), "session-1")
	require.NoError(t, getErr)
	require.True(t, found)
	assert.Empty(t, item.ResearchByAspect)
}

func TestAggregateDimensions_AdvancesStageOnly(t *testing.T) {
	deps, store := newTestDeps(toolclient.NewMockCaller())
	s := baseWorkflowState()
	s.SessionID = "session-1"

	upd, err := deps.AggregateDimensions(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, state.Update{}, upd)

	item, found, getErr := store.Get(context.Background(), "session-1")
	require.NoError(t, getErr)
	require.True(t, found)
	assert.Equal(t, "aggregate_dimensions", item.CurrentStage)
}
