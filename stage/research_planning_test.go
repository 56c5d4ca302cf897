package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimensional-research/orchestrator/config"
	"github.com/dimensional-research/orchestrator/state"
	"github.com/dimensional-research/orchestrator/toolclient"
)

func plannerState(original map[string][]state.Aspect) state.WorkflowState {
	s := baseWorkflowState()
	s.OriginalAspectsByDim = original
	return s
}

func TestResearchPlanning_RefinesAndResetsCompletedFlag(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &fakeProvider{text: `{"aspects_by_dimension": {"Economic Viability": [
		{"name": "Grid Costs", "reasoning": "matters", "key_questions": ["Q1?"]},
		{"name": "Incentives", "reasoning": "matters too", "key_questions": ["Q2?"]}
	]}, "summary": "tightened scope"}`}

	original := map[string][]state.Aspect{
		"Economic Viability": {{Name: "Grid Costs", Reasoning: "old", KeyQuestions: []string{"old?"}, Completed: true}},
	}
	upd, err := deps.ResearchPlanning(context.Background(), plannerState(original))
	require.NoError(t, err)
	require.Equal(t, []string{"Economic Viability"}, upd.Dimensions)
	require.Len(t, upd.AspectsByDim["Economic Viability"], 2)
	assert.False(t, upd.AspectsByDim["Economic Viability"][0].Completed)
}

func TestResearchPlanning_AllowsDimensionRename(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &fakeProvider{text: `{"aspects_by_dimension": {"Economics": [
		{"name": "Cost", "reasoning": "r", "key_questions": ["Q?"]}
	]}}`}

	original := map[string][]state.Aspect{
		"Economic Viability": {{Name: "Old Name"}},
	}
	upd, err := deps.ResearchPlanning(context.Background(), plannerState(original))
	require.NoError(t, err)
	assert.Equal(t, []string{"Economics"}, upd.Dimensions)
}

func TestResearchPlanning_FallsBackToOriginalAfterRetriesExhausted(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &fakeProvider{text: "not json, no braces at all"}

	original := map[string][]state.Aspect{
		"Economic Viability": {{Name: "Grid Costs", Reasoning: "r", KeyQuestions: []string{"q?"}, Completed: false}},
	}
	upd, err := deps.ResearchPlanning(context.Background(), plannerState(original))
	require.NoError(t, err)
	assert.Equal(t, original, upd.AspectsByDim)
	assert.Equal(t, []string{"Economic Viability"}, upd.Dimensions)

	item, found, getErr := deps.Status.GetStatus(context.Background())
	require.NoError(t, getErr)
	require.True(t, found)
	require.NotEmpty(t, item.Errors)
	assert.Equal(t, "research_planning", item.Errors[0].Node)
}

func TestResearchPlanning_EmptyResponseFallsBackWithoutRecordingError(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &fakeProvider{text: `{"aspects_by_dimension": {}}`}

	original := map[string][]state.Aspect{
		"Technology": {{Name: "Storage", Reasoning: "r", KeyQuestions: []string{"q?"}}},
	}
	upd, err := deps.ResearchPlanning(context.Background(), plannerState(original))
	require.NoError(t, err)
	assert.Equal(t, original, upd.AspectsByDim)

	item, found, getErr := deps.Status.GetStatus(context.Background())
	require.NoError(t, getErr)
	require.True(t, found)
	assert.Empty(t, item.Errors)
}

func TestResearchPlanning_UsesReferenceIntegratedPromptWhenReferencesPresent(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	provider := &fakeProvider{text: `{"aspects_by_dimension": {"Technology": [{"name": "X", "reasoning": "r", "key_questions": ["q?"]}]}}`}
	deps.Provider = provider

	s := plannerState(map[string][]state.Aspect{"Technology": {{Name: "X"}}})
	s.References = []config.ReferenceMaterial{{Type: "url", Source: "https://example.com", Summary: "background", KeyPoints: []string{"point one"}}}

	_, err := deps.ResearchPlanning(context.Background(), s)
	require.NoError(t, err)
}

func TestResearchPlanning_LogsDimensionsIdentifiedWhenUserIDPresent(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &fakeProvider{text: `{"aspects_by_dimension": {"Technology": [{"name": "X", "reasoning": "r", "key_questions": ["q?"]}]}}`}

	s := plannerState(map[string][]state.Aspect{"Technology": {{Name: "X"}}})
	s.UserID = "user-1"

	upd, err := deps.ResearchPlanning(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []string{"Technology"}, upd.Dimensions)
}
