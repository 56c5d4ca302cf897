package stage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimensional-research/orchestrator/config"
	"github.com/dimensional-research/orchestrator/llm"
	"github.com/dimensional-research/orchestrator/state"
	"github.com/dimensional-research/orchestrator/toolclient"
)

// erroringProvider always fails Complete with the wrapped error, used to
// force the agentdriver loop to surface a specific failure mode.
type erroringProvider struct{ err error }

func (p *erroringProvider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{}, p.err
}

// infiniteToolCallProvider always asks for another tool call, never a
// terminal text response, to drive the agentdriver loop into its iteration
// cap.
type infiniteToolCallProvider struct{}

func (p *infiniteToolCallProvider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{
		Content:   []llm.Message{{Role: llm.RoleAssistant, Parts: []llm.Part{llm.ToolUsePart{ID: "1", Name: "ddg_search", Input: []byte(`{"query":"x"}`)}}}},
		ToolCalls: []llm.ToolUsePart{{ID: "1", Name: "ddg_search", Input: []byte(`{"query":"x"}`)}},
	}, nil
}

func researchState() state.WorkflowState {
	s := baseWorkflowState()
	s.Dimensions = []string{"Economic Viability"}
	s.AspectsByDim = map[string][]state.Aspect{
		"Economic Viability": {{Name: "Grid Costs", Reasoning: "r", KeyQuestions: []string{"q1?"}}},
	}
	return s
}

func TestResearchAgent_ProducesResearchResultOnSuccess(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &fakeProvider{text: "## Overview\nFindings about grid costs [https://example.com]."}

	arg := ResearchAspectArg{Dimension: "Economic Viability", Aspect: state.Aspect{Name: "Grid Costs", Reasoning: "r", KeyQuestions: []string{"q1?"}}}
	upd, err := deps.ResearchAgent(context.Background(), researchState(), arg)
	require.NoError(t, err)

	key := state.AspectKey("Economic Viability", "Grid Costs")
	require.Contains(t, upd.ResearchByAspect, key)
	assert.Contains(t, upd.ResearchByAspect[key].Content, "grid costs")
	assert.Greater(t, upd.ResearchByAspect[key].WordCount, 0)
}

func TestResearchAgent_IterationCapYieldsPlaceholder(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &infiniteToolCallProvider{}

	s := researchState()
	s.Config.ResearchDepth = config.DepthQuick

	arg := ResearchAspectArg{Dimension: "Economic Viability", Aspect: state.Aspect{Name: "Grid Costs", KeyQuestions: []string{"q1?"}}}
	upd, err := deps.ResearchAgent(context.Background(), s, arg)
	require.NoError(t, err, "a recoverable agent failure must not abort the whole fan-out")

	key := state.AspectKey("Economic Viability", "Grid Costs")
	require.Contains(t, upd.ResearchByAspect, key)
	assert.Contains(t, upd.ResearchByAspect[key].Content, "maximum iteration limit")
}

func TestResearchAgent_CancellationYieldsCancelledPlaceholder(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &fakeProvider{text: "irrelevant"}
	deps.CancelCheck = func(ctx context.Context) (bool, error) { return true, nil }

	arg := ResearchAspectArg{Dimension: "Economic Viability", Aspect: state.Aspect{Name: "Grid Costs", KeyQuestions: []string{"q1?"}}}
	upd, err := deps.ResearchAgent(context.Background(), researchState(), arg)
	require.NoError(t, err)

	key := state.AspectKey("Economic Viability", "Grid Costs")
	require.Contains(t, upd.ResearchByAspect, key)
	assert.Contains(t, upd.ResearchByAspect[key].Content, "Research Cancelled")
}

func TestResearchAgent_GenericModelErrorYieldsPlaceholder(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &erroringProvider{err: errors.New("model unavailable: 503")}

	arg := ResearchAspectArg{Dimension: "Economic Viability", Aspect: state.Aspect{Name: "Grid Costs", KeyQuestions: []string{"q1?"}}}
	upd, err := deps.ResearchAgent(context.Background(), researchState(), arg)
	require.NoError(t, err)

	key := state.AspectKey("Economic Viability", "Grid Costs")
	require.Contains(t, upd.ResearchByAspect, key)
	assert.Contains(t, upd.ResearchByAspect[key].Content, "research failed")
}

func TestResearchAgent_TimeoutYieldsPlaceholder(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	deps.Provider = &erroringProvider{err: errors.New("context deadline exceeded")}

	arg := ResearchAspectArg{Dimension: "Economic Viability", Aspect: state.Aspect{Name: "Grid Costs", KeyQuestions: []string{"q1?"}}}
	upd, err := deps.ResearchAgent(context.Background(), researchState(), arg)
	require.NoError(t, err)

	key := state.AspectKey("Economic Viability", "Grid Costs")
	require.Contains(t, upd.ResearchByAspect, key)
	assert.Contains(t, upd.ResearchByAspect[key].Content, "timed out")
}

func TestResearchAgent_RejectsWrongArgType(t *testing.T) {
	deps, _ := newTestDeps(toolclient.NewMockCaller())
	_, err := deps.ResearchAgent(context.Background(), researchState(), "not an arg")
	require.Error(t, err)
}
