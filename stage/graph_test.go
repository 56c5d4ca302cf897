package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimensional-research/orchestrator/config"
	"github.com/dimensional-research/orchestrator/graph"
	"github.com/dimensional-research/orchestrator/state"
)

func TestBuildGraph_ReturnsNonNilGraph(t *testing.T) {
	deps, _ := newTestDeps(nil)
	g := BuildGraph(deps)
	require.NotNil(t, g)
}

func TestRouteFromStart_SendsToReferencePreparationWhenMaterialsPresent(t *testing.T) {
	s := state.WorkflowState{Config: config.ResearchConfig{
		ReferenceMaterials: []config.ReferenceMaterial{{Type: "url", Source: "https://example.invalid"}},
	}}
	sends, err := routeFromStart(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, sends, 1)
	assert.Equal(t, "reference_preparation", sends[0].Target)
}

func TestRouteFromStart_SkipsToTopicAnalysisWhenNoMaterials(t *testing.T) {
	sends, err := routeFromStart(context.Background(), state.WorkflowState{})
	require.NoError(t, err)
	require.Len(t, sends, 1)
	assert.Equal(t, "topic_analysis", sends[0].Target)
}

func TestContinueToAspectAnalysis_OneSendPerDimension(t *testing.T) {
	s := state.WorkflowState{Dimensions: []string{"Economic Viability", "Policy"}}
	sends, err := continueToAspectAnalysis(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, sends, 2)
	assert.Equal(t, "aspect_analysis", sends[0].Target)
	assert.ElementsMatch(t, []string{"Economic Viability", "Policy"}, []string{sends[0].Arg.(string), sends[1].Arg.(string)})
}

func TestContinueToResearch_SkipsCompletedAspects(t *testing.T) {
	s := state.WorkflowState{
		Dimensions: []string{"Economic Viability"},
		AspectsByDim: map[string][]state.Aspect{
			"Economic Viability": {
				{Name: "Grid Costs", Completed: false},
				{Name: "Policy Incentives", Completed: true},
			},
		},
	}
	sends, err := continueToResearch(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, sends, 1)
	arg, ok := sends[0].Arg.(ResearchAspectArg)
	require.True(t, ok)
	assert.Equal(t, "Economic Viability", arg.Dimension)
	assert.Equal(t, "Grid Costs", arg.Aspect.Name)
}

func TestContinueToResearch_AllCompletedRoutesStraightToBarrier(t *testing.T) {
	s := state.WorkflowState{
		Dimensions: []string{"Economic Viability"},
		AspectsByDim: map[string][]state.Aspect{
			"Economic Viability": {{Name: "Grid Costs", Completed: true}},
		},
	}
	sends, err := continueToResearch(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, sends, 1)
	assert.Equal(t, "prepare_dimension_reduction", sends[0].Target)
}

func TestContinueToDimensionReduction_OneSendPerDimensionNoFiltering(t *testing.T) {
	s := state.WorkflowState{Dimensions: []string{"Economic Viability", "Policy"}}
	sends, err := continueToDimensionReduction(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, sends, 2)
	for _, send := range sends {
		assert.Equal(t, "dimension_reduction", send.Target)
	}
}

func TestFixedRoute_AlwaysReturnsSameTarget(t *testing.T) {
	route := fixedRoute("research_planning")
	sends, err := route(context.Background(), state.WorkflowState{})
	require.NoError(t, err)
	assert.Equal(t, []graph.Send{{Target: "research_planning"}}, sends)
}
