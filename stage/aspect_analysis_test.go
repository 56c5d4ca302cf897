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

func baseWorkflowState() state.WorkflowState {
	return state.WorkflowState{
		Topic: "renewable energy",
		Config: config.ResearchConfig{
			ResearchType:  config.ResearchBasicWeb,
			ResearchDepth: config.DepthQuick, // 2 aspects/dim
			LLMModel:      "claude_sonnet",
		},
	}
}

func TestAspectAnalysis_ProducesCleanedAspectsForDimension(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &fakeProvider{text: `{"aspects": [
		{"name": "Grid Integration Costs", "reasoning": "Understanding integration costs matters for policy.", "key_questions": ["What is the cost per MW?", "How does storage affect cost?"]},
		{"name": "Policy Incentive Design", "reasoning": "Incentives shape adoption rates.", "key_questions": "What incentives exist?, How effective are they?"}
	]}`}

	upd, err := deps.AspectAnalysis(context.Background(), baseWorkflowState(), "Economic Viability")
	require.NoError(t, err)
	require.Contains(t, upd.OriginalAspectsByDim, "Economic Viability")
	aspects := upd.OriginalAspectsByDim["Economic Viability"]
	require.Len(t, aspects, 2)
	assert.False(t, aspects[0].Completed)
	assert.Len(t, aspects[0].KeyQuestions, 2)
	assert.Len(t, aspects[1].KeyQuestions, 2, "string key_questions should be split into a list")
}

func TestAspectAnalysis_TruncatesToTargetCount(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &fakeProvider{text: `{"aspects": [
		{"name": "A", "reasoning": "r", "key_questions": ["q1"]},
		{"name": "B", "reasoning": "r", "key_questions": ["q1"]},
		{"name": "C", "reasoning": "r", "key_questions": ["q1"]}
	]}`}

	upd, err := deps.AspectAnalysis(context.Background(), baseWorkflowState(), "Technology")
	require.NoError(t, err)
	assert.Len(t, upd.OriginalAspectsByDim["Technology"], 2)
}

func TestAspectAnalysis_DefaultsMissingKeyQuestions(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &fakeProvider{text: `{"aspects": [{"name": "Storage Tech", "reasoning": "r"}]}`}

	upd, err := deps.AspectAnalysis(context.Background(), baseWorkflowState(), "Technology")
	require.NoError(t, err)
	aspects := upd.OriginalAspectsByDim["Technology"]
	require.Len(t, aspects, 1)
	assert.Contains(t, aspects[0].KeyQuestions[0], "Storage Tech")
}

func TestAspectAnalysis_MalformedJSONYieldsNoKeyAndRecordsError(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &fakeProvider{text: "not json at all and no braces"}

	upd, err := deps.AspectAnalysis(context.Background(), baseWorkflowState(), "Technology")
	require.NoError(t, err, "a per-dimension failure must not error the whole fan-out")
	assert.NotContains(t, upd.OriginalAspectsByDim, "Technology")

	item, found, getErr := deps.Status.GetStatus(context.Background())
	require.NoError(t, getErr)
	require.True(t, found)
	require.NotEmpty(t, item.Errors)
	assert.Equal(t, "aspect_analysis", item.Errors[0].Node)
}

func TestAspectAnalysis_RejectsNonStringArgument(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	_, err := deps.AspectAnalysis(context.Background(), baseWorkflowState(), 42)
	require.Error(t, err)
}
