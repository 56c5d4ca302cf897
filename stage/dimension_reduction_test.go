package stage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimensional-research/orchestrator/state"
	"github.com/dimensional-research/orchestrator/toolclient"
	"github.com/dimensional-research/orchestrator/workspace"
)

func dimensionReductionState() state.WorkflowState {
	s := baseWorkflowState()
	s.Dimensions = []string{"Economic Viability"}
	s.AspectsByDim = map[string][]state.Aspect{
		"Economic Viability": {{Name: "Grid Costs", Reasoning: "r", KeyQuestions: []string{"q1?"}}},
	}
	s.ResearchByAspect = map[string]state.ResearchResult{
		state.AspectKey("Economic Viability", "Grid Costs"): {
			AspectKey: state.AspectKey("Economic Viability", "Grid Costs"),
			Title:     "Grid Costs",
			Content:   "Grid costs have fallen [https://example.com].",
			WordCount: 6,
		},
	}
	return s
}

func TestDimensionReduction_WritesMarkdownFile(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &fakeProvider{text: "# Economic Viability\n\n## Introduction\nSynthesis text."}
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	deps.Workspace = ws

	upd, err := deps.DimensionReduction(context.Background(), dimensionReductionState(), "Economic Viability")
	require.NoError(t, err)

	path := upd.DimensionDocs["Economic Viability"]
	require.NotEmpty(t, path)
	content, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Contains(t, string(content), "Synthesis text")
}

func TestDimensionReduction_EmptyAspectsYieldsEmptySentinel(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	deps.Workspace = ws

	s := dimensionReductionState()
	s.AspectsByDim = map[string][]state.Aspect{}

	upd, err := deps.DimensionReduction(context.Background(), s, "Economic Viability")
	require.NoError(t, err)
	assert.Equal(t, "", upd.DimensionDocs["Economic Viability"])
}

func TestDimensionReduction_ModelErrorYieldsEmptySentinelAndDoesNotAbort(t *testing.T) {
	deps, store := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &erroringProvider{err: assertErr{"synthesis backend unavailable"}}
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	deps.Workspace = ws

	upd, err := deps.DimensionReduction(context.Background(), dimensionReductionState(), "Economic Viability")
	require.NoError(t, err, "a per-dimension failure must not error the whole fan-out")
	assert.Equal(t, "", upd.DimensionDocs["Economic Viability"])

	item, found, getErr := store.Get(context.Background(), "session-1")
	require.NoError(t, getErr)
	require.True(t, found)
	assert.True(t, item.DimensionDocuments["Economic Viability"].Failed)
}

func TestDimensionReduction_RejectsNonStringArgument(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	_, err := deps.DimensionReduction(context.Background(), dimensionReductionState(), 7)
	require.Error(t, err)
}

// assertErr is a minimal error type for tests that don't need wrapping.
type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
