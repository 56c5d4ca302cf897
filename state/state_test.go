package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_DisjointMapMergeSucceeds(t *testing.T) {
	base := WorkflowState{
		ResearchByAspect: map[string]ResearchResult{
			AspectKey("intro", "history"): {AspectKey: AspectKey("intro", "history"), WordCount: 10},
		},
	}
	update := Update{
		ResearchByAspect: map[string]ResearchResult{
			AspectKey("intro", "impact"): {AspectKey: AspectKey("intro", "impact"), WordCount: 20},
		},
	}

	merged, err := Merge(base, update)
	require.NoError(t, err)
	assert.Len(t, merged.ResearchByAspect, 2)
	assert.Equal(t, 10, merged.ResearchByAspect[AspectKey("intro", "history")].WordCount)
	assert.Equal(t, 20, merged.ResearchByAspect[AspectKey("intro", "impact")].WordCount)
}

func TestMerge_CollisionFailsFast(t *testing.T) {
	key := AspectKey("intro", "history")
	base := WorkflowState{
		ResearchByAspect: map[string]ResearchResult{key: {AspectKey: key, WordCount: 10}},
	}
	update := Update{
		ResearchByAspect: map[string]ResearchResult{key: {AspectKey: key, WordCount: 99}},
	}

	_, err := Merge(base, update)
	require.Error(t, err)
	var mmErr *MapMergeError
	require.ErrorAs(t, err, &mmErr)
	assert.Equal(t, key, mmErr.Key)
}

func TestMerge_OrderIndependentForDisjointKeys(t *testing.T) {
	base := WorkflowState{}
	u1 := Update{DimensionDocs: map[string]string{"intro": "intro.md"}}
	u2 := Update{DimensionDocs: map[string]string{"methodology": "methodology.md"}}

	ab, err := Merge(base, u1)
	require.NoError(t, err)
	ab, err = Merge(ab, u2)
	require.NoError(t, err)

	ba, err := Merge(base, u2)
	require.NoError(t, err)
	ba, err = Merge(ba, u1)
	require.NoError(t, err)

	assert.Equal(t, ab.DimensionDocs, ba.DimensionDocs)
}

func TestMerge_LastWriterWinsOverwrites(t *testing.T) {
	base := WorkflowState{Topic: "old"}
	newTopic := "new"
	merged, err := Merge(base, Update{Topic: &newTopic})
	require.NoError(t, err)
	assert.Equal(t, "new", merged.Topic)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	base := WorkflowState{
		DimensionDocs: map[string]string{"intro": "intro.md"},
	}
	update := Update{DimensionDocs: map[string]string{"methodology": "methodology.md"}}

	merged, err := Merge(base, update)
	require.NoError(t, err)
	assert.Len(t, base.DimensionDocs, 1, "base map must not be mutated by Merge")
	assert.Len(t, merged.DimensionDocs, 2)
}
