package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/dimensional-research/orchestrator/agentdriver"
	"github.com/dimensional-research/orchestrator/config"
	"github.com/dimensional-research/orchestrator/jsonrecovery"
	"github.com/dimensional-research/orchestrator/llm"
	"github.com/dimensional-research/orchestrator/state"
	"github.com/dimensional-research/orchestrator/statusstore"
	"github.com/dimensional-research/orchestrator/telemetry"
	"github.com/dimensional-research/orchestrator/toolclient"
)

// explorationToolNames are the background-search tools the topic-analysis
// exploration sub-agent is allowed to call (spec §4.8, grounded on
// topic_analysis.py's exploration_tools filter).
var explorationToolNames = map[string]bool{
	"wikipedia_search": true,
	"ddg_search":       true,
}

const explorationPrompt = `Understand this research topic and gather basic background information.

Your task:
1. Identify 2-3 key concepts or terms from this topic
2. Search for general information on these concepts (use broader, well-known terms if specific searches fail)
3. After gathering enough context (2-3 searches maximum), summarize what you learned

IMPORTANT:
- Stop searching after 2-3 tool calls - don't try to find every possible detail
- If a search returns no results, try one broader search term and move on
- Provide a brief summary with the information you found, even if incomplete
- You don't need perfect coverage - just understand the general topic area

Keep it simple - just understand the core research areas, not detailed analysis.`

const dimensionsPromptTemplate = `You are a research assistant analyzing a complex topic.

Your task: Identify the %d most important dimensions (major aspects/categories) to investigate for this topic.
%s%s
For example:
- Topic: "Climate change impact on society"
  Dimensions: ["Environmental Impact", "Economic Consequences", "Social Effects"]

- Topic: "Data Quality in RAG Systems"
  Dimensions: ["Content Classification", "Quality Metrics", "Human-in-the-Loop Workflows"]

Topic to analyze:
%s

Background context:
%s

Return up to %d key dimensions that would provide comprehensive coverage of this topic.
Each dimension should be a distinct aspect that can be researched independently.

IMPORTANT:
- Return at most %d dimensions. If you return more, extras will be automatically discarded.
- You MUST respond in JSON format with the following structure:
{"dimensions": ["Dimension 1", "Dimension 2"]}
`

// TopicAnalysis identifies the top-level research dimensions (spec §4.8): an
// exploration sub-agent gathers background context with a handful of search
// tool calls, then a separate plain-LLM JSON-only call derives the
// dimension list from that context, enforcing the profile's target count.
func (d *Deps) TopicAnalysis(ctx context.Context, s state.WorkflowState) (state.Update, error) {
	if err := d.Status.UpdateStage(ctx, "topic_analysis"); err != nil {
		return state.Update{}, fmt.Errorf("topic_analysis: %w", err)
	}
	if s.Topic == "" {
		return state.Update{}, fmt.Errorf("topic_analysis: no topic provided")
	}

	profile, err := d.researchDepthProfile(s)
	if err != nil {
		return state.Update{}, fmt.Errorf("topic_analysis: %w", err)
	}

	descs, err := d.Tools.Discover(ctx, false)
	if err != nil {
		return state.Update{}, fmt.Errorf("topic_analysis: discover tools: %w", err)
	}
	tools := filterToolDefinitions(descs, explorationToolNames)

	driver := newAgentDriver(d)
	exploration, err := driver.Run(ctx, agentdriver.Request{
		Model:         s.Config.LLMModel,
		UserPrompt:    fmt.Sprintf("%s\n\nTopic: %q", explorationPrompt, s.Topic),
		Tools:         tools,
		MaxIterations: iterationCap(profile),
		CancelCheck:   d.CancelCheck,
	})
	if err != nil {
		return state.Update{}, fmt.Errorf("topic_analysis: exploration agent: %w", err)
	}
	searchContext := exploration.FinalText
	if searchContext == "" {
		searchContext = "(no background context gathered)"
	}

	researchContextPrompt := ""
	if s.Config.ResearchContext != "" {
		researchContextPrompt = fmt.Sprintf("\n%s\nRESEARCH CONTEXT\n%s\n%s\n%s\n\nConsider this context when identifying dimensions.\n",
			strings.Repeat("=", 80), strings.Repeat("=", 80), s.Config.ResearchContext, strings.Repeat("=", 80))
	}
	referenceContext := ReferenceContextPrompt(s.References, false)

	prompt := fmt.Sprintf(dimensionsPromptTemplate,
		profile.TargetDimensions, researchContextPrompt, referenceContext, s.Topic, searchContext,
		profile.TargetDimensions, profile.TargetDimensions)

	resp, err := d.Provider.Complete(ctx, llm.Request{
		Model:    s.Config.LLMModel,
		Messages: []llm.Message{{Role: llm.RoleUser, Parts: []llm.Part{llm.TextPart{Text: prompt}}}},
	})
	if err != nil {
		return state.Update{}, fmt.Errorf("topic_analysis: %w", err)
	}

	var parsed struct {
		Dimensions []string `json:"dimensions"`
	}
	if err := jsonrecovery.Parse(firstText(resp), "topic_analysis.dimensions", &parsed); err != nil {
		return state.Update{}, fmt.Errorf("topic_analysis: %w", err)
	}
	if len(parsed.Dimensions) == 0 {
		return state.Update{}, fmt.Errorf("topic_analysis: model returned zero dimensions")
	}

	dimensions := parsed.Dimensions
	if len(dimensions) > profile.TargetDimensions {
		dimensions = dimensions[:profile.TargetDimensions]
	} else if len(dimensions) < profile.TargetDimensions {
		telemetry.FromContext(ctx).Logger.Warn(ctx, "topic_analysis: model returned fewer dimensions than target",
			"returned", len(dimensions), "target", profile.TargetDimensions)
	}

	_ = d.Status.UpdateProgress(ctx, func(st *statusstore.Status) {
		st.Dimensions = dimensions
		st.DimensionCount = len(dimensions)
	})

	return state.Update{Dimensions: dimensions}, nil
}

// filterToolDefinitions converts discovered tool descriptors to
// llm.ToolDefinition, keeping only names present in allow (or all of them
// when allow is nil).
func filterToolDefinitions(descs []toolclient.Descriptor, allow map[string]bool) []llm.ToolDefinition {
	var out []llm.ToolDefinition
	for _, desc := range descs {
		if allow != nil && !allow[desc.Name] {
			continue
		}
		out = append(out, llm.ToolDefinition{
			Name:        desc.Name,
			Description: desc.Description,
			InputSchema: desc.InputSchema,
		})
	}
	return out
}
