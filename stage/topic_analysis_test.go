package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimensional-research/orchestrator/config"
	"github.com/dimensional-research/orchestrator/llm"
	"github.com/dimensional-research/orchestrator/state"
	"github.com/dimensional-research/orchestrator/toolclient"
)

// sequencedProvider returns each response in turn, repeating the last one
// once exhausted, so a test can script exploration-agent then dimensions-
// call responses separately.
type sequencedProvider struct {
	responses []llm.Response
	calls     int
}

func (p *sequencedProvider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	return p.responses[idx], nil
}

func textResponse(text string) llm.Response {
	return llm.Response{Content: []llm.Message{{Role: llm.RoleAssistant, Parts: []llm.Part{llm.TextPart{Text: text}}}}}
}

func TestTopicAnalysis_IdentifiesDimensionsWithinTarget(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &sequencedProvider{responses: []llm.Response{
		textResponse("background context gathered"),
		textResponse(`{"dimensions": ["Environmental Impact", "Economic Consequences"]}`),
	}}

	upd, err := deps.TopicAnalysis(context.Background(), state.WorkflowState{
		Topic: "climate change impact on society",
		Config: config.ResearchConfig{
			ResearchType:  config.ResearchBasicWeb,
			ResearchDepth: config.DepthQuick,
			LLMModel:      "claude_sonnet",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Environmental Impact", "Economic Consequences"}, upd.Dimensions)
}

func TestTopicAnalysis_TruncatesOverTargetDimensions(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &sequencedProvider{responses: []llm.Response{
		textResponse("background"),
		textResponse(`{"dimensions": ["A", "B", "C", "D", "E"]}`),
	}}

	upd, err := deps.TopicAnalysis(context.Background(), state.WorkflowState{
		Topic: "topic",
		Config: config.ResearchConfig{
			ResearchType:  config.ResearchBasicWeb,
			ResearchDepth: config.DepthQuick, // target 2
			LLMModel:      "claude_sonnet",
		},
	})
	require.NoError(t, err)
	assert.Len(t, upd.Dimensions, 2)
}

func TestTopicAnalysis_FailsWithoutTopic(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &sequencedProvider{responses: []llm.Response{textResponse("{}")}}

	_, err := deps.TopicAnalysis(context.Background(), state.WorkflowState{
		Config: config.ResearchConfig{ResearchType: config.ResearchBasicWeb, ResearchDepth: config.DepthQuick},
	})
	require.Error(t, err)
}
