package status

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimensional-research/orchestrator/statusstore"
)

func TestFlushDimensionsAndAspects_WritesAtomically(t *testing.T) {
	store := statusstore.NewMemStore()
	p := New(store, "session-1")
	ctx := context.Background()

	require.NoError(t, p.MarkProcessing(ctx))
	p.AddDimension("intro")
	p.AddDimension("methodology")
	p.AddAspect("intro", "background")
	p.AddAspect("intro", "scope")
	p.AddAspect("methodology", "approach")

	require.NoError(t, p.FlushDimensionsAndAspects(ctx))

	item, found, err := store.Get(ctx, "session-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.ElementsMatch(t, []string{"intro", "methodology"}, item.Dimensions)
	assert.Equal(t, 2, item.DimensionCount)
	assert.Equal(t, 3, item.TotalAspects)
	assert.Len(t, item.AspectsByDimension["intro"], 2)
}

func TestFlushResearchResults_MetadataOnly(t *testing.T) {
	store := statusstore.NewMemStore()
	p := New(store, "session-1")
	ctx := context.Background()

	p.AddResearchResult("intro", "background", 500, 3)
	require.NoError(t, p.FlushResearchResults(ctx))

	item, _, err := store.Get(ctx, "session-1")
	require.NoError(t, err)
	summary, ok := item.ResearchByAspect["intro::background"]
	require.True(t, ok)
	assert.Equal(t, 500, summary.WordCount)
	assert.Equal(t, 3, summary.SourcesCount)
}

func TestSetCurrentVersion_IsIdempotent(t *testing.T) {
	store := statusstore.NewMemStore()
	p := New(store, "session-1")
	ctx := context.Background()

	require.NoError(t, p.SetCurrentVersion(ctx, "v1"))
	first, _, err := store.Get(ctx, "session-1")
	require.NoError(t, err)

	require.NoError(t, p.SetCurrentVersion(ctx, "v1"))
	second, _, err := store.Get(ctx, "session-1")
	require.NoError(t, err)

	assert.Equal(t, first.CurrentVersion, second.CurrentVersion)
	assert.Equal(t, first.Versions, second.Versions)
}

func TestMarkFailed_AppendsErrorAndSetsStatus(t *testing.T) {
	store := statusstore.NewMemStore()
	p := New(store, "session-1")
	ctx := context.Background()

	require.NoError(t, p.MarkFailed(ctx, "boom"))

	item, _, err := store.Get(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, "failed", item.Status)
	require.Len(t, item.Errors, 1)
	assert.Equal(t, "boom", item.Errors[0].Message)
}

func TestFlushDimensionsAndAspects_NoOpWhenNothingBuffered(t *testing.T) {
	store := statusstore.NewMemStore()
	p := New(store, "session-1")
	ctx := context.Background()

	require.NoError(t, p.FlushDimensionsAndAspects(ctx))
	_, found, err := store.Get(ctx, "session-1")
	require.NoError(t, err)
	assert.False(t, found, "no write should occur when nothing was buffered")
}
